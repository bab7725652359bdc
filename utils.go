package sentinel

import (
	"net/netip"
	"strings"
)

// isPrivateIP reports whether ip should never trigger a remote geolocation
// lookup: private ranges, loopback, link-local, unspecified, and anything
// that does not parse as an address (device IDs, "internal", empty).
func isPrivateIP(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// isExternalIP reports whether ip is a routable public address.
func isExternalIP(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return false
	}
	return !isPrivateIP(ip)
}
