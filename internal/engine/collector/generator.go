package collector

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"netsentry/internal/core/model"
)

// Generator is the synthetic fallback source. It produces a statistically
// plausible traffic mix through the same ingest path as live capture, so
// the whole pipeline works without capture privileges.
type Generator struct {
	out  chan *model.PacketInfo
	done chan struct{}
	rng  *rand.Rand

	devices []genDevice
}

type genDevice struct {
	mac net.HardwareAddr
	ip  net.IP
}

// NewGenerator starts a generator emitting roughly rate packets per second.
func NewGenerator(rate int) *Generator {
	if rate <= 0 {
		rate = 50
	}
	g := &Generator{
		out:  make(chan *model.PacketInfo, 64),
		done: make(chan struct{}),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := 0; i < 8; i++ {
		g.devices = append(g.devices, genDevice{
			mac: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(i + 1)},
			ip:  net.IPv4(192, 168, 1, byte(i+10)),
		})
	}
	go g.run(rate)
	return g
}

func (g *Generator) run(rate int) {
	defer close(g.out)
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			select {
			case g.out <- g.NextPacket():
			case <-g.done:
				return
			}
		}
	}
}

// NextPacket fabricates one packet with a randomized protocol, size and
// direction across the rotating device set.
func (g *Generator) NextPacket() *model.PacketInfo {
	dev := g.devices[g.rng.Intn(len(g.devices))]
	remote := net.IPv4(
		byte(g.rng.Intn(200)+20), byte(g.rng.Intn(250)),
		byte(g.rng.Intn(250)), byte(g.rng.Intn(250)+1))

	var proto uint8
	var dstPort uint16
	switch g.rng.Intn(10) {
	case 0, 1, 2, 3: // HTTPS
		proto, dstPort = 6, 443
	case 4, 5: // HTTP
		proto, dstPort = 6, 80
	case 6, 7: // DNS
		proto, dstPort = 17, 53
	case 8: // SSH
		proto, dstPort = 6, 22
	default: // plain UDP
		proto, dstPort = 17, uint16(g.rng.Intn(40000)+1024)
	}

	length := g.rng.Intn(1400) + 60
	info := &model.PacketInfo{
		Timestamp: time.Now(),
		FiveTuple: model.FiveTuple{
			SrcIP:    dev.ip,
			DstIP:    remote,
			SrcPort:  uint16(g.rng.Intn(40000) + 1024),
			DstPort:  dstPort,
			Protocol: proto,
		},
		SrcMAC: dev.mac,
		Length: length,
	}
	if proto == 6 {
		info.TCPFlags = "PSH,ACK"
	}

	// Occasionally flip direction so devices accumulate upload too.
	if g.rng.Intn(4) == 0 {
		info.FiveTuple.SrcIP, info.FiveTuple.DstIP = info.FiveTuple.DstIP, info.FiveTuple.SrcIP
		info.FiveTuple.SrcPort, info.FiveTuple.DstPort = info.FiveTuple.DstPort, info.FiveTuple.SrcPort
		info.SrcMAC, info.DstMAC = nil, dev.mac
	}

	return info
}

func (g *Generator) Packets() <-chan *model.PacketInfo {
	return g.out
}

func (g *Generator) Close() {
	close(g.done)
}

// String identifies the generator in startup logs.
func (g *Generator) String() string {
	return fmt.Sprintf("synthetic generator (%d devices)", len(g.devices))
}
