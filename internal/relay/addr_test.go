package relay

import "testing"

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port int
		ok   bool
	}{
		{"example.com:443", "example.com", 443, true},
		{"[::1]:8443", "::1", 8443, true},
		{"203.0.113.5:80", "203.0.113.5", 80, true},
		{"[2001:db8::1]:65535", "2001:db8::1", 65535, true},
		{"example.com", "", 0, false},
		{"example.com:", "", 0, false},
		{"example.com:http", "", 0, false},
		{"example.com:0", "", 0, false},
		{"example.com:70000", "", 0, false},
		{"example.com:-1", "", 0, false},
		{":443", "", 0, false},
		{"[::1:8443", "", 0, false},
		{"[::1]8443", "", 0, false},
	}
	for _, c := range cases {
		host, port, err := ParseAddr(c.in)
		if c.ok {
			if err != nil {
				t.Errorf("ParseAddr(%q) err = %v", c.in, err)
				continue
			}
			if host != c.host || port != c.port {
				t.Errorf("ParseAddr(%q) = %q, %d; want %q, %d", c.in, host, port, c.host, c.port)
			}
		} else if err == nil {
			t.Errorf("ParseAddr(%q) = %q, %d; want error", c.in, host, port)
		}
	}
}
