package forward

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// defaultTLSPort is the default port for DNS-over-TLS upstreams.
const defaultTLSPort = "853"

// ErrNoUpstreams is returned by [ParseUpstreamList] when the list contains no
// usable entries.
const ErrNoUpstreams errors.Error = "no upstreams in list"

// ParseUpstreamList parses a comma-separated list of upstream addresses.
// Entries are trimmed of whitespace and empty ones are discarded.  timeout
// applies to each resulting upstream, see [NewUpstreamFromAddress].
func ParseUpstreamList(addrs string, timeout time.Duration) (ups []Upstream, err error) {
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		var u Upstream
		u, err = NewUpstreamFromAddress(addr, timeout)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: %w", addr, err)
		}

		ups = append(ups, u)
	}

	if len(ups) == 0 {
		return nil, ErrNoUpstreams
	}

	return ups, nil
}

// NewUpstreamFromAddress creates an upstream from its address.  The scheme
// selects the protocol:
//
//   - "udp://1.2.3.4[:53]", or a bare IP address, means plain DNS over UDP
//     falling back to TCP on truncated responses;
//   - "tcp://1.2.3.4[:53]" means plain DNS over TCP only;
//   - "tls://host[:853]" means DNS-over-TLS;
//   - "https://host/path" means DNS-over-HTTPS.
//
// Plain upstreams require an IP address, while DoT and DoH ones may use
// hostnames, which are then resolved by the system resolver when dialing.
func NewUpstreamFromAddress(addr string, timeout time.Duration) (ups Upstream, err error) {
	switch {
	case strings.HasPrefix(addr, "udp://"):
		return newUpstreamPlainFromAddr(addr[len("udp://"):], NetworkAny, timeout)
	case strings.HasPrefix(addr, "tcp://"):
		return newUpstreamPlainFromAddr(addr[len("tcp://"):], NetworkTCP, timeout)
	case strings.HasPrefix(addr, "tls://"):
		return newUpstreamTLSFromAddr(addr[len("tls://"):], timeout)
	case strings.HasPrefix(addr, "https://"):
		return newUpstreamHTTPSFromAddr(addr, timeout)
	default:
		return newUpstreamPlainFromAddr(addr, NetworkAny, timeout)
	}
}

// newUpstreamPlainFromAddr parses hostPort as an IP address with an optional
// port and creates a plain-DNS upstream from it.
func newUpstreamPlainFromAddr(
	hostPort string,
	network Network,
	timeout time.Duration,
) (ups *UpstreamPlain, err error) {
	addrPort, err := netip.ParseAddrPort(hostPort)
	if err != nil {
		ip, ipErr := netip.ParseAddr(hostPort)
		if ipErr != nil {
			return nil, fmt.Errorf("not an ip:port or ip: %w", err)
		}

		addrPort = netip.AddrPortFrom(ip, 53)
	}

	return NewUpstreamPlain(&UpstreamPlainConfig{
		Network: network,
		Address: addrPort,
		Timeout: timeout,
	}), nil
}

// newUpstreamTLSFromAddr parses hostPort as a hostname or an IP address with
// an optional port and creates a DoT upstream from it.
func newUpstreamTLSFromAddr(hostPort string, timeout time.Duration) (ups *UpstreamTLS, err error) {
	host, port, ok := splitHostPort(hostPort)
	if !ok {
		port = defaultTLSPort
	}

	if host == "" {
		return nil, errors.Error("empty host")
	}

	return NewUpstreamTLS(&UpstreamTLSConfig{
		Address:    joinHostPort(host, port),
		ServerName: host,
		Timeout:    timeout,
	}), nil
}

// newUpstreamHTTPSFromAddr parses addr as a URL and creates a DoH upstream
// from it.
func newUpstreamHTTPSFromAddr(addr string, timeout time.Duration) (ups *UpstreamHTTPS, err error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	if u.Host == "" {
		return nil, errors.Error("empty host")
	}

	return NewUpstreamHTTPS(&UpstreamHTTPSConfig{
		URL:     u,
		Timeout: timeout,
	}), nil
}

// splitHostPort splits hostPort into a host and a port.  Unlike
// [net.SplitHostPort], a missing port is not an error, it's reported through
// ok instead.  IPv6 addresses must be enclosed in square brackets when a port
// is given.
func splitHostPort(hostPort string) (host, port string, ok bool) {
	if strings.HasSuffix(hostPort, "]") {
		// A bracketed IPv6 address without a port.
		return strings.TrimPrefix(strings.TrimSuffix(hostPort, "]"), "["), "", false
	}

	i := strings.LastIndexByte(hostPort, ':')
	if i < 0 {
		return hostPort, "", false
	}

	host, port = hostPort[:i], hostPort[i+1:]
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		// A bare IPv6 address, the last colon isn't a port separator.
		return hostPort, "", false
	}

	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")

	return host, port, true
}

// joinHostPort is like [net.JoinHostPort], but assumes that port is already
// validated.
func joinHostPort(host, port string) (hostPort string) {
	if strings.Contains(host, ":") {
		return "[" + host + "]:" + port
	}

	return host + ":" + port
}
