package domain

import "time"

// RequestEvent is one ARP who-has request as delivered by a capture source.
// Addresses travel as strings so that live capture, pcap replay, and tests
// share one currency.
type RequestEvent struct {
	SenderIP  string
	SenderMAC string
	TargetIP  string
	At        time.Time
}
