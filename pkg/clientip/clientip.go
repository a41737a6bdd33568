// Package clientip resolves the peer address that rate limiting and IP
// blocking key on.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// RealClientIP extracts the peer IP from r.RemoteAddr. Proxy headers are
// ignored on purpose: the limiter must key on the address the connection
// actually came from, not on spoofable client input.
func RealClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, seen with some test servers.
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}
