package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// Parse proxy addresses. Both single IPs and CIDR blocks are accepted
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var (
		prefixes []netip.Prefix
		errs     []error
	)

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid trusted proxy %q: %w", v, err))
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid trusted proxy %q: %w", v, err))
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, errors.Join(errs...)
}

// RealIP replaces r.RemoteAddr with the client address reported by a trusted proxy
// Forwarded headers of any other peer are ignored: the client must not choose the address it is limited by
func RealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := forwardedIP(r, trusted); ok {
				r.RemoteAddr = ip
			}

			next.ServeHTTP(w, r)
		})
	}
}

func forwardedIP(r *http.Request, trusted []netip.Prefix) (string, bool) {
	if len(trusted) == 0 {
		return "", false
	}

	peer, err := netip.ParseAddr(ClientIP(r))
	if err != nil || !isTrusted(peer, trusted) {
		return "", false
	}

	if values := r.Header.Values(headerForwardedFor); len(values) > 0 {
		hops := strings.Split(strings.Join(values, ","), ",")

		// Nearest hop is the last one. The first untrusted hop is the client
		var client netip.Addr
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return "", false
			}
			client = addr.Unmap()
			if !isTrusted(client, trusted) {
				break
			}
		}
		return client.String(), true
	}

	if v := r.Header.Get(headerRealIP); v != "" {
		addr, err := netip.ParseAddr(strings.TrimSpace(v))
		if err != nil {
			return "", false
		}
		return addr.Unmap().String(), true
	}

	return "", false
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
