package collector

import (
	"context"
	"log"
	"time"

	"netsentry/internal/core/model"
)

// Flusher is the slice of the persistence contract the collector needs for
// its periodic flush.
type Flusher interface {
	UpsertDevice(ctx context.Context, d model.Device) (created bool, err error)
	AddDeviceTraffic(ctx context.Context, mac, date string, upload, download uint64) error
	InsertRawCounter(ctx context.Context, rc model.RawCounter) error
}

const flushTimeout = 10 * time.Second

// flushLoop persists device discovery and traffic deltas on a fixed cadence.
func (c *Collector) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

// flush takes the current deltas under the lock, clears them, and performs
// the store writes with the lock released. A write failure is logged and the
// batch is dropped; bounded staleness beats unbounded buffering.
func (c *Collector) flush() {
	now := time.Now()
	date := now.Format("2006-01-02")

	c.mu.Lock()
	devices := make(map[string]deviceState, len(c.devices))
	for mac, dev := range c.devices {
		devices[mac] = *dev
	}
	deltas := c.deltas
	c.deltas = make(map[string]*model.TrafficDelta)

	counter := model.RawCounter{
		Interface:   c.opts.Interface,
		Timestamp:   now,
		BytesSent:   c.flushSent,
		BytesRecv:   c.flushRecv,
		PacketsSent: c.flushPktsSent,
		PacketsRecv: c.flushPktsRecv,
	}
	c.flushSent, c.flushRecv = 0, 0
	c.flushPktsSent, c.flushPktsRecv = 0, 0

	var batch []model.PacketLogEntry
	if c.opts.Archive != nil {
		batch = c.archiveBatch
		c.archiveBatch = nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if c.opts.Store == nil {
		devices = nil
		deltas = nil
		counter.PacketsSent, counter.PacketsRecv = 0, 0
	}

	for mac, dev := range devices {
		created, err := c.opts.Store.UpsertDevice(ctx, model.Device{
			MAC:      mac,
			IP:       dev.ip,
			Online:   now.Sub(dev.lastSeen) <= onlineWindow,
			LastSeen: dev.lastSeen,
			OrgID:    c.opts.OrgID,
		})
		if err != nil {
			log.Printf("flush: upsert device %s: %v", mac, err)
			continue
		}
		if created {
			log.Printf("new device discovered: %s (%s)", mac, dev.ip)
			if c.opts.Events != nil {
				c.opts.Events.DeviceDiscovered(model.Device{
					MAC: mac, IP: dev.ip, Online: true, LastSeen: dev.lastSeen, OrgID: c.opts.OrgID,
				})
			}
		}
	}

	for mac, delta := range deltas {
		if delta.Upload == 0 && delta.Download == 0 {
			continue
		}
		if err := c.opts.Store.AddDeviceTraffic(ctx, mac, date, delta.Upload, delta.Download); err != nil {
			log.Printf("flush: device traffic %s: %v", mac, err)
		}
	}

	if counter.PacketsSent > 0 || counter.PacketsRecv > 0 {
		if err := c.opts.Store.InsertRawCounter(ctx, counter); err != nil {
			log.Printf("flush: raw counter: %v", err)
		}
	}

	if len(batch) > 0 {
		if err := c.opts.Archive.ArchivePackets(batch); err != nil {
			log.Printf("flush: packet archive: %v", err)
		}
	}
}
