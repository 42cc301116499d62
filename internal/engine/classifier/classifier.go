package classifier

import (
	"net"

	"netsentry/internal/core/model"
)

// IP protocol numbers we care about.
const (
	protoICMP   = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58
)

// Classify maps raw header fields to a protocol label. TCP and UDP are
// refined by well-known destination or source port; everything else keeps
// its transport label.
func Classify(ft model.FiveTuple) string {
	switch ft.Protocol {
	case protoICMP, protoICMPv6:
		return model.ProtoICMP
	case protoTCP:
		return refine(ft, model.ProtoTCP)
	case protoUDP:
		return refine(ft, model.ProtoUDP)
	default:
		return model.ProtoOther
	}
}

// refine checks both ports so that replies from a well-known service get the
// same label as requests towards it.
func refine(ft model.FiveTuple, fallback string) string {
	for _, port := range [2]uint16{ft.DstPort, ft.SrcPort} {
		switch port {
		case 443:
			return model.ProtoHTTPS
		case 80:
			return model.ProtoHTTP
		case 22:
			return model.ProtoSSH
		case 21:
			return model.ProtoFTP
		case 53:
			return model.ProtoDNS
		}
	}
	return fallback
}

// SizeBucket classifies a packet length into the size histogram buckets.
func SizeBucket(length int) string {
	switch {
	case length < 128:
		return model.SizeTiny
	case length < 512:
		return model.SizeSmall
	case length < 1024:
		return model.SizeMedium
	default:
		return model.SizeLarge
	}
}

// IsPrivate reports whether ip is a non-routable address: RFC1918 ranges,
// loopback, link-local, and their IPv6 equivalents. Packets towards these
// never create an external connection entry.
func IsPrivate(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
