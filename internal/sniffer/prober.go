package sniffer

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// Prober answers "does anything own this address right now?" with a
// single broadcast who-has and a bounded wait. Each probe runs on its
// own short-lived handle so it never competes with the live sniffer
// for packets.
type Prober struct {
	iface   string
	timeout time.Duration
}

func NewProber(iface string, timeout time.Duration) *Prober {
	return &Prober{iface: iface, timeout: timeout}
}

// Probe broadcasts one who-has for ip and waits for the owner's
// reply. An empty MAC with a nil error means nothing answered within
// the timeout.
func (p *Prober) Probe(ip string) (string, error) {
	target := net.ParseIP(ip).To4()
	if target == nil {
		return "", fmt.Errorf("sniffer: probe %q: not an IPv4 address", ip)
	}

	srcIP, srcMAC, err := interfaceAddress(p.iface)
	if err != nil {
		return "", err
	}

	handle, err := pcap.OpenLive(p.iface, snaplen, false, pcap.BlockForever)
	if err != nil {
		return "", fmt.Errorf("sniffer: open %s: %w", p.iface, err)
	}
	defer handle.Close()
	if err := handle.SetBPFFilter("arp"); err != nil {
		return "", fmt.Errorf("sniffer: set filter on %s: %w", p.iface, err)
	}

	request, err := buildRequest(srcMAC, srcIP, target)
	if err != nil {
		return "", err
	}
	if err := handle.WritePacketData(request); err != nil {
		return "", fmt.Errorf("sniffer: send probe for %s: %w", ip, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := source.Packets()
	deadline := time.After(p.timeout)
	for {
		select {
		case <-deadline:
			return "", nil
		case packet, ok := <-packets:
			if !ok {
				return "", nil
			}
			layer := packet.Layer(layers.LayerTypeARP)
			if layer == nil {
				continue
			}
			arp := layer.(*layers.ARP)
			if arp.Operation != layers.ARPReply {
				continue
			}
			if !net.IP(arp.SourceProtAddress).Equal(target) {
				continue
			}
			return net.HardwareAddr(arp.SourceHwAddress).String(), nil
		}
	}
}

func buildRequest(srcMAC net.HardwareAddr, srcIP, target net.IP) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(srcMAC),
		SourceProtAddress: []byte(srcIP),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(target),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, fmt.Errorf("sniffer: build probe: %w", err)
	}
	return buf.Bytes(), nil
}

func interfaceAddress(name string) (net.IP, net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, nil, fmt.Errorf("sniffer: interface %s: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, nil, fmt.Errorf("sniffer: addresses of %s: %w", name, err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4, iface.HardwareAddr, nil
		}
	}
	return nil, nil, fmt.Errorf("sniffer: interface %s has no IPv4 address", name)
}
