package sniffer

import (
	"net"

	"github.com/arch4ngel/eavesarp/internal/domain"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// requestFromPacket pulls a who-has request out of a decoded frame.
// Replies, non-ARP traffic and malformed address sizes are skipped.
func requestFromPacket(packet gopacket.Packet) (domain.RequestEvent, bool) {
	layer := packet.Layer(layers.LayerTypeARP)
	if layer == nil {
		return domain.RequestEvent{}, false
	}
	arp := layer.(*layers.ARP)
	if arp.Operation != layers.ARPRequest {
		return domain.RequestEvent{}, false
	}
	if arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return domain.RequestEvent{}, false
	}

	sender := net.IP(arp.SourceProtAddress).To4()
	target := net.IP(arp.DstProtAddress).To4()
	if sender == nil || target == nil {
		return domain.RequestEvent{}, false
	}

	return domain.RequestEvent{
		SenderIP:  sender.String(),
		SenderMAC: net.HardwareAddr(arp.SourceHwAddress).String(),
		TargetIP:  target.String(),
		At:        packet.Metadata().Timestamp,
	}, true
}
