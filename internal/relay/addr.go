package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAddr splits a destination address into host and port. Two forms are
// accepted: host:port, where the host is everything before the last colon,
// and [host]:port for hosts that themselves contain colons (IPv6 literals).
func ParseAddr(addr string) (host string, port int, err error) {
	var portStr string
	if strings.HasPrefix(addr, "[") {
		end := strings.Index(addr, "]")
		if end < 0 {
			return "", 0, fmt.Errorf("address %q: missing closing bracket", addr)
		}
		host = addr[1:end]
		rest := addr[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("address %q: missing port", addr)
		}
		portStr = rest[1:]
	} else {
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			return "", 0, fmt.Errorf("address %q: missing port", addr)
		}
		host = addr[:idx]
		portStr = addr[idx+1:]
	}
	if host == "" {
		return "", 0, fmt.Errorf("address %q: empty host", addr)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("address %q: bad port: %w", addr, err)
	}
	if port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("address %q: port %d out of range", addr, port)
	}
	return host, port, nil
}
