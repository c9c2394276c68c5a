package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

// ClientIPResolver finds the originating client address of a request.
// X-Forwarded-For and X-Real-IP are read only when the direct peer falls in
// one of the trusted prefixes.
type ClientIPResolver struct {
	proxies []netip.Prefix
}

// NewClientIPResolver parses trusted proxy entries. An entry is a single
// address or a CIDR prefix; blank entries are skipped.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	proxies := make([]netip.Prefix, 0, len(trustedProxies))
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		proxies = append(proxies, prefix)
	}
	return &ClientIPResolver{proxies: proxies}, nil
}

func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()).Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// IsTrusted reports whether remoteAddr is a trusted proxy.
func (c *ClientIPResolver) IsTrusted(remoteAddr string) bool {
	addr, ok := hostAddr(remoteAddr)
	if !ok {
		return false
	}
	for _, p := range c.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the client address for r. The leftmost X-Forwarded-For
// entry wins over X-Real-IP.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	if c.IsTrusted(r.RemoteAddr) {
		forwarded, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		for _, candidate := range []string{forwarded, r.Header.Get("X-Real-IP")} {
			if addr, ok := hostAddr(candidate); ok {
				return addr.String()
			}
		}
	}
	if addr, ok := hostAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return r.RemoteAddr
}

// hostAddr parses "ip", "ip:port" or "[ipv6]:port".
func hostAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// WebSocketURL derives the websocket endpoint from an HTTP base URL:
// http becomes ws, https becomes wss and "/ws" is appended to the path.
func WebSocketURL(httpURL string) string {
	base := strings.TrimRight(strings.TrimSpace(httpURL), "/")
	if base == "" {
		return "/ws"
	}

	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base + "/ws"
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.RawQuery, u.Fragment = "", ""
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
