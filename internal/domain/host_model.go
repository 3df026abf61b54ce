package domain

import "time"

// Host is one observed IPv4 address. A row is created the first time any
// transaction references the address, as sender or as target.
type Host struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	// IP holds the dotted-quad IPv4 address string.
	IP string `gorm:"size:15;uniqueIndex;not null"`

	// MACAddress is the last link address seen claiming this IP. For
	// senders it comes from passive capture; for targets it can only be
	// learned through an active ARP probe. Empty means never observed.
	MACAddress string `gorm:"size:17;not null;default:''"`

	// MACSeenAt records when MACAddress was observed. Merges resolve
	// conflicting link addresses by keeping the most recent one.
	MACSeenAt *time.Time

	// PTRName caches the reverse resolution of IP. Empty means unresolved.
	PTRName string `gorm:"size:253;not null;default:''"`

	// ForwardIP caches the forward resolution of PTRName. Empty means the
	// forward step has not succeeded.
	ForwardIP string `gorm:"size:15;not null;default:''"`
}

// NamingMismatch reports whether reverse and forward resolution disagree for
// this host: the PTR name is known but resolves elsewhere, or does not
// resolve at all. With no PTR name the signal is unknown, not anomalous.
func (h *Host) NamingMismatch() bool {
	if h.PTRName == "" {
		return false
	}
	return h.ForwardIP == "" || h.ForwardIP != h.IP
}

// ObserveMAC stores a link address observation, keeping the newest one.
// It reports whether the host record changed. Repeat sightings of the
// same address advance the timestamp so merges can tell which record
// is current.
func (h *Host) ObserveMAC(mac string, at time.Time) bool {
	if mac == "" {
		return false
	}
	if h.MACSeenAt != nil && h.MACSeenAt.After(at) {
		return false
	}
	changed := h.MACAddress != mac || h.MACSeenAt == nil || at.After(*h.MACSeenAt)
	h.MACAddress = mac
	seen := at
	h.MACSeenAt = &seen
	return changed
}
