package transport

import (
	"net"
	"strings"

	"github.com/spscale/spscale/spserr"
)

// EndpointTemplate is spec.md §3's immutable per-endpoint config.
type EndpointTemplate struct {
	Scheme        string
	Addr          string
	LocalProtoID  uint16
	PeerProtoID   uint16
	SendPriority  uint8
	RecvPriority  uint8
	TCPNoDelay    bool
	RecvMaxSize   uint64
}

// Dialer produces one connected net.Conn for the "connect" role.
type Dialer func(addr string) (net.Conn, error)

// ListenerFactory produces a net.Listener for the "bind" role.
type ListenerFactory func(addr string) (net.Listener, error)

// scheme bundles a dialer and listener factory for one URL scheme.
type scheme struct {
	dial   Dialer
	listen ListenerFactory
}

var registry = map[string]scheme{
	"tcp": {
		dial: func(addr string) (net.Conn, error) { return net.Dial("tcp", addr) },
		listen: func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) },
	},
	"ipc": {
		dial: func(addr string) (net.Conn, error) { return net.Dial("unix", addr) },
		listen: func(addr string) (net.Listener, error) { return net.Listen("unix", addr) },
	},
}

// RegisterScheme adds or overrides a URL scheme, per spec.md §6's
// "additional schemes may be registered."
func RegisterScheme(name string, dial Dialer, listen ListenerFactory) {
	registry[name] = scheme{dial: dial, listen: listen}
}

// ParseURL splits a "scheme://address" URL per spec.md §6's grammar.
func ParseURL(raw string) (schemeName, addr string, err error) {
	i := strings.Index(raw, "://")
	if i < 0 {
		return "", "", spserr.New(spserr.InvalidInput, "malformed url %q: missing scheme", raw)
	}
	schemeName = raw[:i]
	addr = raw[i+3:]
	if schemeName == "" || addr == "" {
		return "", "", spserr.New(spserr.InvalidInput, "malformed url %q", raw)
	}
	if schemeName == "tcp" {
		if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
			return "", "", spserr.New(spserr.InvalidInput, "malformed tcp address %q: %v", addr, splitErr)
		}
	}
	return schemeName, addr, nil
}

// Dial connects to url's address using the registered dialer for its
// scheme.
func Dial(rawURL string) (net.Conn, error) {
	s, addr, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	sch, ok := registry[s]
	if !ok {
		return nil, spserr.New(spserr.Other, "unknown scheme %q", s)
	}
	conn, err := sch.dial(addr)
	if err != nil {
		return nil, spserr.New(spserr.Other, "%v", err)
	}
	return conn, nil
}

// Listen binds url's address using the registered listener factory
// for its scheme.
func Listen(rawURL string) (net.Listener, error) {
	s, addr, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	sch, ok := registry[s]
	if !ok {
		return nil, spserr.New(spserr.Other, "unknown scheme %q", s)
	}
	l, err := sch.listen(addr)
	if err != nil {
		return nil, spserr.New(spserr.Other, "%v", err)
	}
	return l, nil
}

// ApplyTCPNoDelay sets TCP_NODELAY when conn is a *net.TCPConn and the
// template requests it; a no-op for ipc (unix) conns.
func ApplyTCPNoDelay(conn net.Conn, noDelay bool) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(noDelay)
	}
}
