package collector

import (
	"context"
	"sync"
	"testing"

	"netsentry/internal/core/model"
)

type recordingFlusher struct {
	mu       sync.Mutex
	devices  map[string]model.Device
	traffic  map[string]model.TrafficDelta
	counters []model.RawCounter
}

func newRecordingFlusher() *recordingFlusher {
	return &recordingFlusher{
		devices: make(map[string]model.Device),
		traffic: make(map[string]model.TrafficDelta),
	}
}

func (r *recordingFlusher) UpsertDevice(_ context.Context, d model.Device) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, seen := r.devices[d.MAC]
	r.devices[d.MAC] = d
	return !seen, nil
}

func (r *recordingFlusher) AddDeviceTraffic(_ context.Context, mac, date string, upload, download uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delta := r.traffic[mac]
	delta.Upload += upload
	delta.Download += download
	r.traffic[mac] = delta
	return nil
}

func (r *recordingFlusher) InsertRawCounter(_ context.Context, rc model.RawCounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, rc)
	return nil
}

type recordingEvents struct {
	mu         sync.Mutex
	discovered []model.Device
}

func (r *recordingEvents) DeviceDiscovered(d model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = append(r.discovered, d)
}

func TestFlushPersistsDeltas(t *testing.T) {
	store := newRecordingFlusher()
	events := &recordingEvents{}
	c := New(Options{Store: store, Events: events, Interface: "eth0"})
	mac := "02:00:00:00:00:01"

	c.Ingest(mkpkt(t, pktSpec{
		srcMAC: mac, srcIP: "192.168.1.10", dstIP: "8.8.8.8",
		srcPort: 40000, dstPort: 9000, proto: 6, length: 700,
	}))
	c.Ingest(mkpkt(t, pktSpec{
		dstMAC: mac, srcIP: "8.8.8.8", dstIP: "192.168.1.10",
		srcPort: 9000, dstPort: 40000, proto: 6, length: 300,
	}))

	c.flush()

	// 1. The device row is upserted and the first sighting raises an event.
	dev, ok := store.devices[mac]
	if !ok {
		t.Fatal("device not persisted")
	}
	if dev.IP != "192.168.1.10" || !dev.Online {
		t.Errorf("device = %+v, want online with its local IP", dev)
	}
	if len(events.discovered) != 1 || events.discovered[0].MAC != mac {
		t.Errorf("discovery events = %+v, want one for %s", events.discovered, mac)
	}

	// 2. The traffic delta lands under today's date with both directions.
	delta := store.traffic[mac]
	if delta.Download != 700 || delta.Upload != 300 {
		t.Errorf("persisted delta = %+v, want 300 up / 700 down", delta)
	}

	// 3. The interval raw counter reflects the flush window.
	if len(store.counters) != 1 {
		t.Fatalf("raw counters = %d, want 1", len(store.counters))
	}
	rc := store.counters[0]
	if rc.Interface != "eth0" {
		t.Errorf("counter interface = %q, want eth0", rc.Interface)
	}
	if rc.BytesSent != 700 || rc.BytesRecv != 300 {
		t.Errorf("counter bytes = %d/%d, want 700/300", rc.BytesSent, rc.BytesRecv)
	}
	if rc.PacketsSent != 1 || rc.PacketsRecv != 1 {
		t.Errorf("counter packets = %d/%d, want 1/1", rc.PacketsSent, rc.PacketsRecv)
	}
}

func TestFlushClearsDeltas(t *testing.T) {
	store := newRecordingFlusher()
	c := New(Options{Store: store})
	mac := "02:00:00:00:00:02"

	c.Ingest(mkpkt(t, pktSpec{
		srcMAC: mac, srcIP: "192.168.1.11", dstIP: "8.8.8.8",
		srcPort: 40000, dstPort: 9000, proto: 6, length: 100,
	}))
	c.flush()
	c.flush()

	// A second flush with no new traffic must not write another counter or
	// double the delta.
	if len(store.counters) != 1 {
		t.Errorf("raw counters = %d, want 1 after idle flush", len(store.counters))
	}
	if delta := store.traffic[mac]; delta.Download != 100 {
		t.Errorf("delta download = %d, want 100", delta.Download)
	}

	// The device upsert repeats each flush but only counts as discovered
	// once; cumulative device state is intact.
	s := c.AnalyticsSummary()
	if len(s.TopDevices) != 1 || s.TopDevices[0].Download != 100 {
		t.Errorf("cumulative device state = %+v, want 100 down", s.TopDevices)
	}
}

type recordingArchiver struct {
	mu      sync.Mutex
	batches [][]model.PacketLogEntry
}

func (r *recordingArchiver) ArchivePackets(entries []model.PacketLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, entries)
	return nil
}

func TestFlushArchivesPacketBatch(t *testing.T) {
	arch := &recordingArchiver{}
	c := New(Options{Archive: arch})

	for i := 0; i < 5; i++ {
		c.Ingest(mkpkt(t, pktSpec{
			srcIP: "192.168.1.10", dstIP: "8.8.8.8",
			srcPort: uint16(40000 + i), dstPort: 9000, proto: 6, length: 100,
		}))
	}
	c.flush()

	if len(arch.batches) != 1 || len(arch.batches[0]) != 5 {
		t.Fatalf("archived batches = %v, want one batch of 5", len(arch.batches))
	}

	// The batch is handed off, not retained.
	c.flush()
	if len(arch.batches) != 1 {
		t.Errorf("idle flush archived %d batches, want still 1", len(arch.batches))
	}
}
