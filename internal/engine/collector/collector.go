package collector

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"netsentry/internal/core/model"
	"netsentry/internal/engine/classifier"
)

// GeoResolver resolves a public IP to coarse geolocation. Lookups run off
// the ingest path; failures leave the connection entry unresolved.
type GeoResolver interface {
	Resolve(ip string) (city, country string, lat, lon float64, err error)
}

// EventPublisher receives fire-and-forget notifications from the collector.
type EventPublisher interface {
	DeviceDiscovered(d model.Device)
}

// Archiver receives batches of packet log entries for long-term storage.
type Archiver interface {
	ArchivePackets(entries []model.PacketLogEntry) error
}

// DeviceStat is one row of the top-talkers list.
type DeviceStat struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

// Summary is a consistent point-in-time view of the collector's analytics
// state.
type Summary struct {
	TotalPackets     uint64                    `json:"total_packets"`
	TotalBytes       uint64                    `json:"total_bytes"`
	PacketsPerSec    uint64                    `json:"packets_per_sec"`
	Protocols        map[string]uint64         `json:"protocols"`
	TopDevices       []DeviceStat              `json:"top_devices"`
	PacketLog        []model.PacketLogEntry    `json:"packet_log"`
	BandwidthHistory []model.BandwidthSnapshot `json:"bandwidth_history"`
	PacketSizes      map[string]uint64         `json:"packet_sizes"`
	DNSQueries       uint64                    `json:"dns_queries"`
	HTTPRequests     uint64                    `json:"http_requests"`
	ActiveSessions   int                       `json:"active_sessions"`
	ConnectionTypes  map[string]uint64         `json:"connection_types"`
}

// RateSnapshot carries the consumed-once interval counters.
type RateSnapshot struct {
	UploadBytes   uint64 `json:"upload_bytes"`
	DownloadBytes uint64 `json:"download_bytes"`
	ActiveDevices int    `json:"active_devices"`
}

// LogFilter selects packet log entries. All set fields must match.
type LogFilter struct {
	Limit    int
	Protocol string
	IP       string
	Port     uint16
	Flag     string
}

const (
	topDeviceCount  = 6
	logTailSize     = 50
	ppsWindow       = time.Second
	onlineWindow    = 5 * time.Minute
	geoQueueSize    = 256
	maxArchiveBatch = 16384
)

type deviceState struct {
	ip       string
	lastSeen time.Time
	upload   uint64 // cumulative since process start
	download uint64
}

type sessionKey struct {
	src string
	dst string
}

// Options carries the collector's construction parameters.
type Options struct {
	PacketLogSize      int
	BandwidthHistory   int
	BandwidthInterval  time.Duration
	FlushInterval      time.Duration
	SessionTimeout     time.Duration
	MaxExternalEntries int
	Interface          string
	OrgID              int64

	Store     Flusher
	Geo       GeoResolver
	Events    EventPublisher
	Archive   Archiver
	NewSource SourceFactory
}

// Collector owns every piece of mutable in-memory telemetry state. A single
// coarse mutex guards all of it; every critical section is O(1) amortized so
// the capture path never stalls behind a reader for long.
type Collector struct {
	mu sync.Mutex

	totalPackets uint64
	totalBytes   uint64
	protocols    map[string]uint64
	sizes        map[string]uint64
	connTypes    map[string]uint64
	dnsQueries   uint64
	httpRequests uint64

	// trailing 1s packets/sec window
	windowStart time.Time
	windowCount uint64
	pps         uint64

	// consumed-once rate counters
	rateUp   uint64
	rateDown uint64

	// flush interval accumulators for the raw counter record
	flushSent     uint64
	flushRecv     uint64
	flushPktsSent uint64
	flushPktsRecv uint64

	// bandwidth interval accumulators and history ring
	bwUp      uint64
	bwDown    uint64
	bwHistory []model.BandwidthSnapshot
	bwLimit   int

	packetLog []model.PacketLogEntry
	logLimit  int

	devices map[string]*deviceState
	deltas  map[string]*model.TrafficDelta

	external    map[string]*model.ExternalConnection
	maxExternal int

	sessions       map[sessionKey]time.Time
	sessionTimeout time.Duration
	lastPrune      time.Time

	// unflushed archive batch
	archiveBatch []model.PacketLogEntry

	opts Options

	// lifecycle
	source   Source
	done     chan struct{}
	wg       sync.WaitGroup
	geoQueue chan string
	running  bool
}

// New constructs a collector. Call Start to begin capture and the background
// loops.
func New(opts Options) *Collector {
	if opts.PacketLogSize <= 0 {
		opts.PacketLogSize = 200
	}
	if opts.BandwidthHistory <= 0 {
		opts.BandwidthHistory = 60
	}
	if opts.BandwidthInterval <= 0 {
		opts.BandwidthInterval = 2 * time.Second
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 30 * time.Second
	}
	if opts.MaxExternalEntries <= 0 {
		opts.MaxExternalEntries = 4096
	}
	if opts.NewSource == nil {
		opts.NewSource = DefaultSourceFactory
	}

	return &Collector{
		protocols:      make(map[string]uint64),
		sizes:          make(map[string]uint64),
		connTypes:      make(map[string]uint64),
		windowStart:    time.Now(),
		bwLimit:        opts.BandwidthHistory,
		logLimit:       opts.PacketLogSize,
		devices:        make(map[string]*deviceState),
		deltas:         make(map[string]*model.TrafficDelta),
		external:       make(map[string]*model.ExternalConnection),
		maxExternal:    opts.MaxExternalEntries,
		sessions:       make(map[sessionKey]time.Time),
		sessionTimeout: opts.SessionTimeout,
		lastPrune:      time.Now(),
		opts:           opts,
	}
}

// Start opens the capture source (falling back to the synthetic generator
// when live capture is unavailable) and launches the capture, bandwidth, geo
// and persistence workers. Running state is committed only once the source
// opened, so a failed Start leaves the collector stopped and retryable.
func (c *Collector) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	source, err := c.opts.NewSource(c.opts.Interface)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		// Lost a concurrent Start race; keep the winner's source.
		c.mu.Unlock()
		source.Close()
		return nil
	}
	c.running = true
	c.source = source
	c.done = make(chan struct{})
	c.geoQueue = make(chan string, geoQueueSize)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.captureLoop()

	c.wg.Add(1)
	go c.bandwidthLoop()

	c.wg.Add(1)
	go c.geoLoop()

	if c.opts.Store != nil || c.opts.Archive != nil {
		c.wg.Add(1)
		go c.flushLoop()
	}

	return nil
}

// Stop shuts down the workers and closes the capture source. A final flush
// is attempted so the last delta batch is not lost on clean shutdown.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	source := c.source
	done := c.done
	c.mu.Unlock()

	close(done)
	source.Close()
	c.wg.Wait()

	if c.opts.Store != nil || c.opts.Archive != nil {
		c.flush()
	}
}

func (c *Collector) captureLoop() {
	defer c.wg.Done()
	packets := c.source.Packets()
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-packets:
			if !ok {
				log.Println("capture source closed")
				return
			}
			c.Ingest(pkt)
		}
	}
}

// Ingest records one observed packet. It is the single producer-path entry
// point; everything it touches is guarded by the state mutex and every
// update is O(1) amortized.
func (c *Collector) Ingest(pkt *model.PacketInfo) {
	proto := classifier.Classify(pkt.FiveTuple)
	bucket := classifier.SizeBucket(pkt.Length)
	now := pkt.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	srcLocal := classifier.IsPrivate(pkt.FiveTuple.SrcIP)
	dstPublic := !classifier.IsPrivate(pkt.FiveTuple.DstIP)

	var dispatchGeo string

	c.mu.Lock()

	c.totalPackets++
	c.totalBytes += uint64(pkt.Length)
	c.protocols[proto]++
	c.sizes[bucket]++
	c.connTypes[connType(pkt)]++
	if proto == model.ProtoDNS {
		c.dnsQueries++
	}
	if proto == model.ProtoHTTP {
		c.httpRequests++
	}

	// Trailing one-second packets/sec window.
	if now.Sub(c.windowStart) >= ppsWindow {
		c.pps = c.windowCount
		c.windowCount = 0
		c.windowStart = now
	}
	c.windowCount++

	// Traffic attribution: bytes sent by a local device count as that
	// device's download; inbound bytes from a public source count as the
	// receiving device's upload.
	if srcLocal && pkt.SrcMAC != nil {
		mac := pkt.SrcMAC.String()
		dev := c.devices[mac]
		if dev == nil {
			dev = &deviceState{}
			c.devices[mac] = dev
		}
		dev.ip = pkt.FiveTuple.SrcIP.String()
		dev.lastSeen = now
		dev.download += uint64(pkt.Length)

		delta := c.deltas[mac]
		if delta == nil {
			delta = &model.TrafficDelta{}
			c.deltas[mac] = delta
		}
		delta.Download += uint64(pkt.Length)

		c.rateDown += uint64(pkt.Length)
		c.bwDown += uint64(pkt.Length)
		c.flushSent += uint64(pkt.Length)
		c.flushPktsSent++
	} else if !srcLocal && pkt.DstMAC != nil && classifier.IsPrivate(pkt.FiveTuple.DstIP) {
		mac := pkt.DstMAC.String()
		dev := c.devices[mac]
		if dev == nil {
			dev = &deviceState{}
			c.devices[mac] = dev
		}
		dev.ip = pkt.FiveTuple.DstIP.String()
		dev.lastSeen = now
		dev.upload += uint64(pkt.Length)

		delta := c.deltas[mac]
		if delta == nil {
			delta = &model.TrafficDelta{}
			c.deltas[mac] = delta
		}
		delta.Upload += uint64(pkt.Length)

		c.rateUp += uint64(pkt.Length)
		c.bwUp += uint64(pkt.Length)
		c.flushRecv += uint64(pkt.Length)
		c.flushPktsRecv++
	}

	// Packet log ring.
	entry := model.PacketLogEntry{
		Timestamp: now,
		Protocol:  proto,
		SrcIP:     pkt.FiveTuple.SrcIP.String(),
		SrcPort:   pkt.FiveTuple.SrcPort,
		DstIP:     pkt.FiveTuple.DstIP.String(),
		DstPort:   pkt.FiveTuple.DstPort,
		Flags:     pkt.TCPFlags,
		Length:    pkt.Length,
	}
	c.packetLog = append(c.packetLog, entry)
	if len(c.packetLog) > c.logLimit {
		c.packetLog = c.packetLog[len(c.packetLog)-c.logLimit:]
	}
	if c.opts.Archive != nil && len(c.archiveBatch) < maxArchiveBatch {
		c.archiveBatch = append(c.archiveBatch, entry)
	}

	// External connection tracking for public destinations.
	if dstPublic && pkt.FiveTuple.DstIP != nil {
		ip := pkt.FiveTuple.DstIP.String()
		conn := c.external[ip]
		if conn == nil {
			if len(c.external) >= c.maxExternal {
				c.evictOldestExternalLocked()
			}
			conn = &model.ExternalConnection{IP: ip}
			c.external[ip] = conn
			dispatchGeo = ip
		}
		conn.Bytes += uint64(pkt.Length)
		conn.Hits++
		conn.LastSeen = now
	}

	// Session liveness, pruned lazily on an amortized schedule.
	key := sessionKey{
		src: entry.SrcIP + ":" + itoa(entry.SrcPort),
		dst: entry.DstIP + ":" + itoa(entry.DstPort),
	}
	c.sessions[key] = now
	if now.Sub(c.lastPrune) > c.sessionTimeout {
		c.pruneSessionsLocked(now)
	}

	queue := c.geoQueue
	c.mu.Unlock()

	// Geo resolution is queued outside the lock and never blocks ingest.
	if dispatchGeo != "" && queue != nil {
		select {
		case queue <- dispatchGeo:
		default:
			// Queue full; the entry simply stays unresolved.
		}
	}
}

// evictOldestExternalLocked drops the entry with the oldest last-seen. The
// map is bounded so a linear scan is acceptable.
func (c *Collector) evictOldestExternalLocked() {
	var oldestIP string
	var oldest time.Time
	for ip, conn := range c.external {
		if oldestIP == "" || conn.LastSeen.Before(oldest) {
			oldestIP = ip
			oldest = conn.LastSeen
		}
	}
	if oldestIP != "" {
		delete(c.external, oldestIP)
	}
}

func (c *Collector) pruneSessionsLocked(now time.Time) {
	for k, seen := range c.sessions {
		if now.Sub(seen) > c.sessionTimeout {
			delete(c.sessions, k)
		}
	}
	c.lastPrune = now
}

// bandwidthLoop snapshots the interval accumulators into the bounded
// bandwidth history ring on a fixed cadence.
func (c *Collector) bandwidthLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.BandwidthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case t := <-ticker.C:
			c.recordBandwidthSnapshot(t)
		}
	}
}

// recordBandwidthSnapshot moves the interval accumulators into the history
// ring, trims it to the configured bound and resets the accumulators.
func (c *Collector) recordBandwidthSnapshot(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bwHistory = append(c.bwHistory, model.BandwidthSnapshot{
		Timestamp: t,
		Upload:    c.bwUp,
		Download:  c.bwDown,
	})
	if len(c.bwHistory) > c.bwLimit {
		c.bwHistory = c.bwHistory[len(c.bwHistory)-c.bwLimit:]
	}
	c.bwUp, c.bwDown = 0, 0
}

// geoLoop drains the geo queue, resolving each IP once. The lookup happens
// without holding the state lock; only the commit re-acquires it.
func (c *Collector) geoLoop() {
	defer c.wg.Done()
	if c.opts.Geo == nil {
		return
	}
	for {
		select {
		case <-c.done:
			return
		case ip := <-c.geoQueue:
			city, country, lat, lon, err := c.opts.Geo.Resolve(ip)
			if err != nil {
				log.Printf("geo lookup for %s failed: %v", ip, err)
				continue
			}
			c.mu.Lock()
			if conn, ok := c.external[ip]; ok {
				conn.City = city
				conn.Country = country
				conn.Lat = lat
				conn.Lon = lon
				conn.Resolved = true
			}
			c.mu.Unlock()
		}
	}
}

// Snapshot returns and resets the interval rate counters, plus the count of
// devices seen within the online window.
func (c *Collector) Snapshot() RateSnapshot {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := RateSnapshot{UploadBytes: c.rateUp, DownloadBytes: c.rateDown}
	c.rateUp, c.rateDown = 0, 0
	for _, dev := range c.devices {
		if now.Sub(dev.lastSeen) <= onlineWindow {
			snap.ActiveDevices++
		}
	}
	return snap
}

// AnalyticsSummary returns a consistent snapshot of every derived statistic.
func (c *Collector) AnalyticsSummary() Summary {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneSessionsLocked(now)

	// The gauge decays to zero once no packet has closed a window recently.
	pps := c.pps
	if now.Sub(c.windowStart) > ppsWindow {
		pps = 0
	}

	s := Summary{
		TotalPackets:    c.totalPackets,
		TotalBytes:      c.totalBytes,
		PacketsPerSec:   pps,
		Protocols:       copyCounts(c.protocols),
		PacketSizes:     copyCounts(c.sizes),
		ConnectionTypes: copyCounts(c.connTypes),
		DNSQueries:      c.dnsQueries,
		HTTPRequests:    c.httpRequests,
		ActiveSessions:  len(c.sessions),
	}

	tail := len(c.packetLog)
	if tail > logTailSize {
		tail = logTailSize
	}
	s.PacketLog = append([]model.PacketLogEntry(nil), c.packetLog[len(c.packetLog)-tail:]...)
	s.BandwidthHistory = append([]model.BandwidthSnapshot(nil), c.bwHistory...)

	for mac, dev := range c.devices {
		s.TopDevices = append(s.TopDevices, DeviceStat{
			MAC: mac, IP: dev.ip, Upload: dev.upload, Download: dev.download,
		})
	}
	sort.Slice(s.TopDevices, func(i, j int) bool {
		return s.TopDevices[i].Upload+s.TopDevices[i].Download >
			s.TopDevices[j].Upload+s.TopDevices[j].Download
	})
	if len(s.TopDevices) > topDeviceCount {
		s.TopDevices = s.TopDevices[:topDeviceCount]
	}

	return s
}

// PacketLog returns the log entries matching the filter, newest last. All
// set filter fields are AND-combined and case-normalized.
func (c *Collector) PacketLog(f LogFilter) []model.PacketLogEntry {
	proto := strings.ToUpper(f.Protocol)
	ipSub := strings.ToLower(f.IP)
	flagSub := strings.ToUpper(f.Flag)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.PacketLogEntry, 0, len(c.packetLog))
	for _, e := range c.packetLog {
		if proto != "" && e.Protocol != proto {
			continue
		}
		if ipSub != "" &&
			!strings.Contains(strings.ToLower(e.SrcIP), ipSub) &&
			!strings.Contains(strings.ToLower(e.DstIP), ipSub) {
			continue
		}
		if f.Port != 0 && e.SrcPort != f.Port && e.DstPort != f.Port {
			continue
		}
		if flagSub != "" && !strings.Contains(strings.ToUpper(e.Flags), flagSub) {
			continue
		}
		out = append(out, e)
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// ExternalConnections returns a copy of every geo-resolved external
// connection entry, most recently seen first.
func (c *Collector) ExternalConnections() []model.ExternalConnection {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.ExternalConnection, 0, len(c.external))
	for _, conn := range c.external {
		if !conn.Resolved {
			continue
		}
		out = append(out, *conn)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// ActiveSessionCount prunes expired sessions and returns the live count.
func (c *Collector) ActiveSessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneSessionsLocked(time.Now())
	return len(c.sessions)
}

func connType(pkt *model.PacketInfo) string {
	if pkt.DstMAC != nil && pkt.DstMAC.String() == "ff:ff:ff:ff:ff:ff" {
		return "broadcast"
	}
	if pkt.FiveTuple.DstIP != nil && pkt.FiveTuple.DstIP.IsMulticast() {
		return "multicast"
	}
	return "unicast"
}

func copyCounts(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func itoa(p uint16) string {
	// Small fixed-range conversion, avoids strconv on the hot path.
	var buf [5]byte
	i := len(buf)
	if p == 0 {
		return "0"
	}
	for p > 0 {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
	}
	return string(buf[i:])
}
