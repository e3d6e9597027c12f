package scanguard

import (
	"net"
	"net/netip"
	"strings"
)

// UnknownAddress is returned for empty or unparseable addresses.
const UnknownAddress = "unknown"

const (
	headerConnectingIP = "CF-Connecting-IP"
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// proxyHeaders are consulted in this order before the socket address.
var proxyHeaders = []string{headerConnectingIP, headerForwardedFor, headerRealIP}

// NormalizeIP rewrites raw into the canonical form used as tracking and ban
// key. IPv4-mapped (::ffff:a.b.c.d) and IPv4-compatible (::a.b.c.d) forms
// become plain IPv4. It never fails: bad input yields UnknownAddress.
func NormalizeIP(raw string) string {
	addr, ok := parseAddr(raw)
	if !ok {
		return UnknownAddress
	}
	return addr.String()
}

// IsValidIP reports whether s is a well-formed IPv4 or IPv6 literal, without
// port or zone.
func IsValidIP(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Zone() == ""
}

// ClientAddress picks the request source address. With trustProxy set the
// proxy headers win in fixed precedence; values that do not parse are
// skipped. The result is always normalized.
func ClientAddress(header func(string) string, remote string, trustProxy bool) string {
	if trustProxy && header != nil {
		for _, name := range proxyHeaders {
			v := header(name)
			if v == "" {
				continue
			}
			if name == headerForwardedFor {
				v = firstHop(v)
			}
			if addr, ok := parseAddr(v); ok {
				return addr.String()
			}
		}
	}
	return NormalizeIP(remote)
}

func parseAddr(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		host, _, splitErr := net.SplitHostPort(s)
		if splitErr != nil {
			return netip.Addr{}, false
		}
		if addr, err = netip.ParseAddr(host); err != nil {
			return netip.Addr{}, false
		}
	}
	addr = addr.WithZone("")
	if addr.Is4In6() {
		return addr.Unmap(), true
	}
	if v4, ok := compatIPv4(addr); ok {
		return v4, true
	}
	return addr, true
}

// compatIPv4 unwraps the deprecated ::a.b.c.d form. :: and ::1 are left alone.
func compatIPv4(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() {
		return netip.Addr{}, false
	}
	b := addr.As16()
	for _, x := range b[:12] {
		if x != 0 {
			return netip.Addr{}, false
		}
	}
	if b[12] == 0 && b[13] == 0 && b[14] == 0 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
}

func firstHop(v string) string {
	if idx := strings.IndexByte(v, ','); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

// parsePrefixes accepts CIDRs and bare addresses; invalid entries are skipped.
func parsePrefixes(cidrs []string) []netip.Prefix {
	var out []netip.Prefix
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if p, err := netip.ParsePrefix(c); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if addr, ok := parseAddr(c); ok {
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return out
}

func addrInPrefixes(address string, prefixes []netip.Prefix) bool {
	addr, ok := parseAddr(address)
	if !ok {
		return false
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
