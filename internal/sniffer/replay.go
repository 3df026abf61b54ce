package sniffer

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// ReadFile extracts every who-has request from a capture file,
// keeping the recorded packet timestamps.
func ReadFile(path string) ([]Captured, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("sniffer: open %s: %w", path, err)
	}
	defer handle.Close()

	var captured []Captured
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		ev, ok := requestFromPacket(packet)
		if !ok {
			continue
		}
		captured = append(captured, Captured{
			Event: ev,
			Data:  packet.Data(),
			Info:  packet.Metadata().CaptureInfo,
		})
	}
	return captured, nil
}
