package model

import (
	"net"
	"time"
)

// Protocol labels produced by the classifier. TCP and UDP are refined to an
// application label when a well-known port is involved.
const (
	ProtoTCP   = "TCP"
	ProtoUDP   = "UDP"
	ProtoICMP  = "ICMP"
	ProtoOther = "OTHER"
	ProtoHTTP  = "HTTP"
	ProtoHTTPS = "HTTPS"
	ProtoSSH   = "SSH"
	ProtoFTP   = "FTP"
	ProtoDNS   = "DNS"
)

// Packet size buckets for the size histogram.
const (
	SizeTiny   = "tiny"   // < 128 bytes
	SizeSmall  = "small"  // 128-512 bytes
	SizeMedium = "medium" // 512-1024 bytes
	SizeLarge  = "large"  // >= 1024 bytes
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8 // IP protocol number
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	TCPFlags  string // e.g. "SYN,ACK"; empty for non-TCP
	Length    int
}

// PacketLogEntry is one row of the bounded in-memory packet log.
type PacketLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
	SrcIP     string    `json:"src_ip"`
	SrcPort   uint16    `json:"src_port"`
	DstIP     string    `json:"dst_ip"`
	DstPort   uint16    `json:"dst_port"`
	Flags     string    `json:"flags,omitempty"`
	Length    int       `json:"length"`
}

// BandwidthSnapshot is the up/down byte total for one elapsed wall-clock
// interval. A bounded history of these backs the short-horizon charts.
type BandwidthSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Upload    uint64    `json:"upload"`
	Download  uint64    `json:"download"`
}

// Device is a LAN host keyed by its MAC address. The collector creates a
// device on first observation and keeps IP/online/last-seen current; the
// rest of the lifecycle belongs to the surrounding application.
type Device struct {
	MAC      string    `json:"mac"`
	IP       string    `json:"ip"`
	Hostname string    `json:"hostname,omitempty"`
	Vendor   string    `json:"vendor,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
	OrgID    int64     `json:"org_id"`
}

// TrafficDelta is the per-device upload/download byte accumulation since the
// last successful flush. In-memory only; cleared once persisted.
type TrafficDelta struct {
	Upload   uint64
	Download uint64
}

// ExternalConnection tracks cumulative traffic towards one public IP.
// City/Country/Lat/Lon stay zero until the geo lookup completes.
type ExternalConnection struct {
	IP       string    `json:"ip"`
	Bytes    uint64    `json:"bytes"`
	Hits     uint64    `json:"hits"`
	LastSeen time.Time `json:"last_seen"`
	City     string    `json:"city,omitempty"`
	Country  string    `json:"country,omitempty"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Resolved bool      `json:"resolved"`
}

// RawCounter is one persisted per-interval traffic record, the source rows
// for the daily rollup.
type RawCounter struct {
	Interface   string
	Timestamp   time.Time
	BytesSent   uint64
	BytesRecv   uint64
	PacketsSent uint64
	PacketsRecv uint64
}

// DailySummary is the system-wide rollup for one calendar date.
type DailySummary struct {
	Date        string `json:"date"` // YYYY-MM-DD
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// MonthlySummary is the system-wide rollup for one calendar month.
type MonthlySummary struct {
	Month       string `json:"month"` // YYYY-MM
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// YearlySummary is the system-wide rollup for one calendar year.
type YearlySummary struct {
	Year        int    `json:"year"`
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// DeviceDaily is one device's raw traffic record for a calendar date. The
// collector's flush increments it; the per-device rollups read it.
type DeviceDaily struct {
	MAC      string `json:"mac"`
	Date     string `json:"date"` // YYYY-MM-DD
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

// DeviceMonthly is one device's rollup for a calendar month.
type DeviceMonthly struct {
	MAC      string `json:"mac"`
	Month    string `json:"month"` // YYYY-MM
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

// DeviceYearly is one device's rollup for a calendar year.
type DeviceYearly struct {
	MAC      string `json:"mac"`
	Year     int    `json:"year"`
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}
