package collector

import (
	"fmt"
	"log"
	"strings"
	"time"

	"netsentry/internal/core/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// Source delivers parsed packets to the collector. Implementations close
// the channel when the underlying source ends.
type Source interface {
	Packets() <-chan *model.PacketInfo
	Close()
}

// SourceFactory opens a source for the named interface.
type SourceFactory func(iface string) (Source, error)

// DefaultSourceFactory opens a live pcap capture, falling back to the
// synthetic generator when capture is unavailable (no privileges, no
// driver, or no such interface). The fallback exercises the identical
// ingest path so the rest of the pipeline stays testable.
func DefaultSourceFactory(iface string) (Source, error) {
	src, err := NewLiveSource(iface, 1600, true, 500*time.Millisecond)
	if err != nil {
		log.Printf("live capture unavailable (%v), using synthetic generator", err)
		return NewGenerator(50), nil
	}
	return src, nil
}

const liveChannelSize = 1024

// LiveSource captures packets from a network interface via libpcap.
type LiveSource struct {
	handle *pcap.Handle
	out    chan *model.PacketInfo
	done   chan struct{}
}

// NewLiveSource opens the device for live capture. The poll timeout bounds
// how long a read blocks so shutdown is observed promptly.
func NewLiveSource(iface string, snaplen int32, promiscuous bool, timeout time.Duration) (*LiveSource, error) {
	if iface == "" {
		return nil, fmt.Errorf("no capture interface configured")
	}
	handle, err := pcap.OpenLive(iface, snaplen, promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", iface, err)
	}

	s := &LiveSource{
		handle: handle,
		out:    make(chan *model.PacketInfo, liveChannelSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *LiveSource) run() {
	defer close(s.out)
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	for packet := range packetSource.Packets() {
		info, err := ParsePacket(packet)
		if err != nil {
			continue // skip non-IP packets
		}
		select {
		case s.out <- info:
		case <-s.done:
			return
		default:
			// Channel full; drop rather than stall the capture thread.
		}
	}
}

func (s *LiveSource) Packets() <-chan *model.PacketInfo {
	return s.out
}

func (s *LiveSource) Close() {
	close(s.done)
	s.handle.Close()
}

// ParsePacket decodes a captured packet into the collector's packet model.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(),
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
	}

	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		eth := l.(*layers.Ethernet)
		info.SrcMAC = eth.SrcMAC
		info.DstMAC = eth.DstMAC
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		info.FiveTuple.SrcIP = ip.SrcIP
		info.FiveTuple.DstIP = ip.DstIP
		info.FiveTuple.Protocol = uint8(ip.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		info.FiveTuple.SrcIP = ip.SrcIP
		info.FiveTuple.DstIP = ip.DstIP
		info.FiveTuple.Protocol = uint8(ip.NextHeader)
	} else {
		return nil, fmt.Errorf("not an IP packet")
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.FiveTuple.SrcPort = uint16(tcp.SrcPort)
		info.FiveTuple.DstPort = uint16(tcp.DstPort)
		info.TCPFlags = tcpFlags(tcp)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		info.FiveTuple.SrcPort = uint16(udp.SrcPort)
		info.FiveTuple.DstPort = uint16(udp.DstPort)
	}
	// ICMP and other transports keep zero ports.

	return info, nil
}

func tcpFlags(tcp *layers.TCP) string {
	var flags []string
	if tcp.SYN {
		flags = append(flags, "SYN")
	}
	if tcp.ACK {
		flags = append(flags, "ACK")
	}
	if tcp.FIN {
		flags = append(flags, "FIN")
	}
	if tcp.RST {
		flags = append(flags, "RST")
	}
	if tcp.PSH {
		flags = append(flags, "PSH")
	}
	if tcp.URG {
		flags = append(flags, "URG")
	}
	return strings.Join(flags, ",")
}
