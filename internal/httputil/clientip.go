package httputil

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP resolves the address a request came from. X-Forwarded-For and
// X-Real-IP are only believed when the direct peer is a trusted proxy, so a
// caller cannot dodge the webhook rate limiter by inventing headers.
type ClientIP struct {
	trusted []netip.Prefix
}

// NewClientIP parses trusted proxy addresses. Entries may be single
// addresses ("10.0.0.5", "::1") or CIDR ranges ("172.16.0.0/12").
func NewClientIP(trustedProxies []string) (*ClientIP, error) {
	c := &ClientIP{}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			c.trusted = append(c.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		c.trusted = append(c.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return c, nil
}

// Resolve returns the client address for r. Without trusted proxies, or on
// a nil receiver, that is always the TCP peer. Behind trusted proxies the
// X-Forwarded-For chain is walked from the right and the first hop that is
// not a trusted proxy wins.
func (c *ClientIP) Resolve(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if c == nil || !c.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !c.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// TrustedCount reports how many proxy ranges are configured.
func (c *ClientIP) TrustedCount() int {
	if c == nil {
		return 0
	}
	return len(c.trusted)
}

func (c *ClientIP) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(strings.Trim(ip, "[]"))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
