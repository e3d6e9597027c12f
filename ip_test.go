package scanguard

import "testing"

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"203.0.113.5", "203.0.113.5"},
		{"::ffff:203.0.113.5", "203.0.113.5"},
		{"::203.0.113.5", "203.0.113.5"},
		{"203.0.113.5:443", "203.0.113.5"},
		{"[2001:db8::1]:8080", "2001:db8::1"},
		{"2001:DB8:0:0::1", "2001:db8::1"},
		{"fe80::1%eth0", "fe80::1"},
		{"::1", "::1"},
		{"::", "::"},
		{"  198.51.100.7 ", "198.51.100.7"},
		{"", UnknownAddress},
		{"not-an-ip", UnknownAddress},
		{"999.1.1.1", UnknownAddress},
	}
	for _, tt := range tests {
		if got := NormalizeIP(tt.in); got != tt.want {
			t.Errorf("NormalizeIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidIP(t *testing.T) {
	valid := []string{"192.0.2.1", "2001:db8::1", "::ffff:192.0.2.1", "::1"}
	invalid := []string{"", "192.0.2.1:80", "fe80::1%eth0", "example.com", "1.2.3"}
	for _, s := range valid {
		if !IsValidIP(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if IsValidIP(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func headers(h map[string]string) func(string) string {
	return func(name string) string { return h[name] }
}

func TestClientAddressPrecedence(t *testing.T) {
	h := headers(map[string]string{
		"CF-Connecting-IP": "198.51.100.1",
		"X-Forwarded-For":  "198.51.100.2, 10.0.0.1",
		"X-Real-IP":        "198.51.100.3",
	})
	if got := ClientAddress(h, "10.0.0.9:5555", true); got != "198.51.100.1" {
		t.Fatalf("expected connecting-ip header to win, got %q", got)
	}

	h = headers(map[string]string{
		"X-Forwarded-For": "198.51.100.2, 10.0.0.1",
		"X-Real-IP":       "198.51.100.3",
	})
	if got := ClientAddress(h, "10.0.0.9:5555", true); got != "198.51.100.2" {
		t.Fatalf("expected forwarded-for first hop, got %q", got)
	}

	h = headers(map[string]string{"X-Real-IP": "::ffff:198.51.100.3"})
	if got := ClientAddress(h, "10.0.0.9:5555", true); got != "198.51.100.3" {
		t.Fatalf("expected normalized real-ip, got %q", got)
	}
}

func TestClientAddressSkipsGarbageHeaders(t *testing.T) {
	h := headers(map[string]string{
		"CF-Connecting-IP": "garbage",
		"X-Forwarded-For":  "also garbage",
		"X-Real-IP":        "198.51.100.3",
	})
	if got := ClientAddress(h, "10.0.0.9:5555", true); got != "198.51.100.3" {
		t.Fatalf("expected first parseable header, got %q", got)
	}
}

func TestClientAddressIgnoresHeadersWhenUntrusted(t *testing.T) {
	h := headers(map[string]string{"CF-Connecting-IP": "198.51.100.1"})
	if got := ClientAddress(h, "[::ffff:10.0.0.9]:5555", false); got != "10.0.0.9" {
		t.Fatalf("expected socket address, got %q", got)
	}
	if got := ClientAddress(nil, "", true); got != UnknownAddress {
		t.Fatalf("expected unknown for empty input, got %q", got)
	}
}

func TestAddrInPrefixes(t *testing.T) {
	prefixes := parsePrefixes([]string{"10.0.0.0/8", "2001:db8::/32", "192.0.2.7", "bogus"})
	if len(prefixes) != 3 {
		t.Fatalf("expected 3 prefixes, got %d", len(prefixes))
	}
	cases := map[string]bool{
		"10.1.2.3":           true,
		"::ffff:10.1.2.3":    true,
		"2001:db8::42":       true,
		"192.0.2.7":          true,
		"192.0.2.8":          false,
		UnknownAddress:       false,
		"[2001:db8::1]:8443": true,
	}
	for addr, want := range cases {
		if got := addrInPrefixes(addr, prefixes); got != want {
			t.Errorf("addrInPrefixes(%q) = %v, want %v", addr, got, want)
		}
	}
}
