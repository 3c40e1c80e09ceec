package map_reduce

import "strings"

// ValidAddress reports whether s is an IPv4 dotted quad or an IPv6 address.
// The caller trims s; surrounding whitespace and zone suffixes are rejected.
func ValidAddress(s string) bool {
	return IsIPv4(s) || IsIPv6(s)
}

// IsIPv4 matches four decimal octets of one to three digits, each at most 255.
// Leading zeros are allowed ("010" is ten).
func IsIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if !isOctet(p, true) {
			return false
		}
	}
	return true
}

// IsIPv6 matches colon separated groups of one to four hex digits with at most
// one "::" run, optionally ending in an embedded dotted quad that stands in for
// the last two groups.
func IsIPv6(s string) bool {
	if s == "" {
		return false
	}

	groups := 8
	if i := strings.LastIndexByte(s, ':'); i >= 0 && strings.IndexByte(s[i+1:], '.') >= 0 {
		if !isEmbeddedIPv4(s[i+1:]) {
			return false
		}
		s = s[:i+1]
		groups = 6
		// "::1.2.3.4" leaves "::"; "ffff:1.2.3.4" leaves "ffff:" which must not end in a lone colon.
		if !strings.HasSuffix(s, "::") {
			s = s[:len(s)-1]
			if s == "" {
				return false
			}
		}
	}

	head, tail, compressed := strings.Cut(s, "::")
	if !compressed {
		n, ok := countGroups(s)
		return ok && n == groups
	}
	if strings.Contains(tail, "::") {
		return false
	}

	n := 0
	for _, part := range []string{head, tail} {
		if part == "" {
			continue
		}
		c, ok := countGroups(part)
		if !ok {
			return false
		}
		n += c
	}
	return n < groups
}

// countGroups validates a "::"-free run of hex groups.
func countGroups(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	for _, p := range parts {
		if !isHexGroup(p) {
			return 0, false
		}
	}
	return len(parts), true
}

func isHexGroup(s string) bool {
	if len(s) == 0 || len(s) > 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// isEmbeddedIPv4 is stricter than IsIPv4: octets inside an IPv6 tail carry no leading zeros.
func isEmbeddedIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if !isOctet(p, false) {
			return false
		}
	}
	return true
}

func isOctet(s string, leadingZeros bool) bool {
	if len(s) == 0 || len(s) > 3 {
		return false
	}
	if !leadingZeros && len(s) > 1 && s[0] == '0' {
		return false
	}
	v := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		v = v*10 + int(c-'0')
	}
	return v <= 255
}
