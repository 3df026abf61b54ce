package sniffer

import (
	"fmt"
	"time"

	"github.com/arch4ngel/eavesarp/internal/domain"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// max packet size: 64K
const snaplen = 65535

// Captured pairs an accepted who-has event with the raw frame it came
// from, so the session capture file can keep everything observed.
type Captured struct {
	Event domain.RequestEvent
	Data  []byte
	Info  gopacket.CaptureInfo
}

// Sniffer drains ARP traffic from a live interface. The underlying
// read blocks without a cancellation hook; Close collapses it by
// closing the handle, which in turn closes Events.
type Sniffer struct {
	handle *pcap.Handle
	events chan Captured
}

// OpenLive opens iface with a kernel-side ARP filter. buffer sizes
// the delivery channel.
func OpenLive(iface string, buffer int, promisc bool) (*Sniffer, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("sniffer: open %s: %w", iface, err)
	}
	if err := handle.SetBPFFilter("arp"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("sniffer: set filter on %s: %w", iface, err)
	}
	return &Sniffer{
		handle: handle,
		events: make(chan Captured, buffer),
	}, nil
}

// Run decodes frames until the handle closes. It is meant for its own
// goroutine; the consumer must drain Events until it closes, or a full
// channel would keep Run alive past Close.
func (s *Sniffer) Run() {
	defer close(s.events)

	source := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	for packet := range source.Packets() {
		ev, ok := requestFromPacket(packet)
		if !ok {
			continue
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		s.events <- Captured{
			Event: ev,
			Data:  packet.Data(),
			Info:  packet.Metadata().CaptureInfo,
		}
	}
}

// Events delivers accepted who-has requests in capture order.
func (s *Sniffer) Events() <-chan Captured {
	return s.events
}

// LinkType exposes the capture link type for output file headers.
func (s *Sniffer) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

// Close terminates the capture; pending undelivered events are
// discarded by the consumer walking away once Events closes.
func (s *Sniffer) Close() {
	s.handle.Close()
}
