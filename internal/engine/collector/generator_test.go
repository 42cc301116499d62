package collector

import (
	"testing"
	"time"

	"netsentry/internal/core/model"
)

func TestGeneratorPacketShape(t *testing.T) {
	g := NewGenerator(1000)
	defer g.Close()

	deadline := time.After(10 * time.Second)
	for i := 0; i < 200; i++ {
		var pkt *model.PacketInfo
		select {
		case pkt = <-g.Packets():
		case <-deadline:
			t.Fatalf("only %d packets before the deadline", i)
		}
		if pkt == nil {
			t.Fatal("received nil packet")
		}
		if pkt.Length < 60 || pkt.Length >= 1460 {
			t.Errorf("length = %d, want [60, 1460)", pkt.Length)
		}
		if p := pkt.FiveTuple.Protocol; p != 6 && p != 17 {
			t.Errorf("protocol = %d, want TCP or UDP", p)
		}
		if pkt.FiveTuple.SrcIP == nil || pkt.FiveTuple.DstIP == nil {
			t.Error("packet missing an address")
		}
		// Exactly one side carries the device MAC, matching its direction.
		if (pkt.SrcMAC == nil) == (pkt.DstMAC == nil) {
			t.Errorf("MAC attribution: src=%v dst=%v, want exactly one set", pkt.SrcMAC, pkt.DstMAC)
		}
		if pkt.FiveTuple.Protocol == 6 && pkt.TCPFlags == "" {
			t.Error("TCP packet without flags")
		}
	}
}

func TestGeneratorDelivers(t *testing.T) {
	g := NewGenerator(500)
	defer g.Close()

	select {
	case pkt := <-g.Packets():
		if pkt == nil {
			t.Fatal("received nil packet")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no packet within two seconds")
	}
}
