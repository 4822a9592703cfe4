package datapath

import (
	"fmt"
	"net/netip"
	"strings"
)

// CanonicalKey renders an IP token in the canonical form used for XDP
// IP map comparisons: host routes (v4 /32, v6 /128) are rendered bare,
// everything else keeps its prefix length.
func CanonicalKey(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("datapath: empty ip token")
	}
	if !strings.Contains(token, "/") {
		addr, err := netip.ParseAddr(token)
		if err != nil {
			return "", fmt.Errorf("datapath: parse addr %q: %w", token, err)
		}
		return addr.String(), nil
	}
	prefix, err := netip.ParsePrefix(token)
	if err != nil {
		return "", fmt.Errorf("datapath: parse prefix %q: %w", token, err)
	}
	// The canonical key pairs the literal parsed address with a prefix
	// length; it is never masked to the network base. Masking here
	// would silently retarget a non-network-aligned circuit CIDR
	// (e.g. 10.0.0.3/31) to the wrong address.
	addr, bits := prefix.Addr(), prefix.Bits()
	host := (addr.Is4() && bits == 32) || (!addr.Is4() && bits == 128)
	if host {
		return addr.String(), nil
	}
	return fmt.Sprintf("%s/%d", addr.String(), bits), nil
}

// ToPrefix turns a canonical key back into a netip.Prefix suitable for
// insertion into a longest-prefix-match table, treating a bare address
// as a host route.
func ToPrefix(key string) (netip.Prefix, error) {
	if !strings.Contains(key, "/") {
		addr, err := netip.ParseAddr(key)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("datapath: parse addr %q: %w", key, err)
		}
		bits := 32
		if !addr.Is4() {
			bits = 128
		}
		return netip.PrefixFrom(addr, bits), nil
	}
	p, err := netip.ParsePrefix(key)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("datapath: parse prefix %q: %w", key, err)
	}
	return p.Masked(), nil
}
