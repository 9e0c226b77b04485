package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// UpstreamAddrKind discriminates whether an UpstreamAddr already carries a
// resolved socket address or still needs hostname resolution.
type UpstreamAddrKind uint8

const (
	UpstreamAddrResolved UpstreamAddrKind = iota
	UpstreamAddrUnresolved
)

// UpstreamAddr is an upstream server address that may or may not yet be
// resolved to a concrete IP. Pool construction expands Unresolved addresses
// into one Resolved UpstreamAddr per returned IP (§4.3).
type UpstreamAddr struct {
	Kind     UpstreamAddrKind
	Resolved *net.TCPAddr // valid when Kind == UpstreamAddrResolved; port always set
	Hostname string       // valid when Kind == UpstreamAddrUnresolved
	Port     uint16       // valid when Kind == UpstreamAddrUnresolved
}

// NewResolvedUpstreamAddr builds a resolved UpstreamAddr from a host:port pair.
func NewResolvedUpstreamAddr(addr *net.TCPAddr) UpstreamAddr {
	return UpstreamAddr{Kind: UpstreamAddrResolved, Resolved: addr}
}

// NewUnresolvedUpstreamAddr builds an UpstreamAddr that still needs DNS resolution.
func NewUnresolvedUpstreamAddr(hostname string, port uint16) UpstreamAddr {
	return UpstreamAddr{Kind: UpstreamAddrUnresolved, Hostname: hostname, Port: port}
}

// IsUnresolved reports whether this address still needs resolution.
func (a UpstreamAddr) IsUnresolved() bool { return a.Kind == UpstreamAddrUnresolved }

// PortNum returns the port regardless of resolution state.
func (a UpstreamAddr) PortNum() uint16 {
	if a.Kind == UpstreamAddrResolved && a.Resolved != nil {
		return uint16(a.Resolved.Port)
	}
	return a.Port
}

func (a UpstreamAddr) String() string {
	switch a.Kind {
	case UpstreamAddrResolved:
		if a.Resolved != nil {
			return a.Resolved.String()
		}
		return ""
	default:
		return net.JoinHostPort(a.Hostname, strconv.Itoa(int(a.Port)))
	}
}

// parseHostPort splits "host:port" or "[ipv6]:port" without requiring the
// host portion to itself be a valid IP literal (hostnames are permitted).
func parseHostPort(s string) (host string, port uint16, ok bool) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, false
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, false
	}
	return host, uint16(p), true
}

func parseUpstreamAddr(s string) (UpstreamAddr, error) {
	if tcpAddr, err := net.ResolveTCPAddr("tcp", s); err == nil && tcpAddr != nil {
		// Only accept if the host portion parses as a literal IP; otherwise
		// ResolveTCPAddr would have performed a DNS lookup under the hood.
		if host, _, ok := parseHostPort(s); ok {
			if ip := net.ParseIP(host); ip != nil {
				return NewResolvedUpstreamAddr(tcpAddr), nil
			}
		}
	}
	if host, port, ok := parseHostPort(s); ok {
		return NewUnresolvedUpstreamAddr(host, port), nil
	}
	return UpstreamAddr{}, fmt.Errorf("invalid address %q", s)
}

// DnsProtocolKind is the closed set of upstream transports a DnsProtocol can name.
type DnsProtocolKind uint8

const (
	DnsProtocolUDP DnsProtocolKind = iota
	DnsProtocolTCP
	DnsProtocolTLS
	DnsProtocolHTTPS
	DnsProtocolQUIC
	DnsProtocolH3
)

func (k DnsProtocolKind) String() string {
	switch k {
	case DnsProtocolUDP:
		return "UDP"
	case DnsProtocolTCP:
		return "TCP"
	case DnsProtocolTLS:
		return "TLS"
	case DnsProtocolHTTPS:
		return "HTTPS"
	case DnsProtocolQUIC:
		return "QUIC"
	case DnsProtocolH3:
		return "H3"
	default:
		return fmt.Sprintf("DnsProtocolKind(%d)", uint8(k))
	}
}

// DnsProtocol names an upstream endpoint and the transport used to reach it.
// It is a tagged struct standing in for the sum type a language with native
// variants would use; Kind discriminates which fields are meaningful.
type DnsProtocol struct {
	Kind     DnsProtocolKind
	Addr     UpstreamAddr // UDP, TCP, TLS, QUIC
	Hostname string       // TLS, HTTPS, QUIC, H3 (SNI)
	URL      string       // HTTPS, H3
}

// NeedsResolution reports whether this protocol carries an address that still
// needs DNS resolution before it can be dialed.
func (p DnsProtocol) NeedsResolution() bool {
	switch p.Kind {
	case DnsProtocolUDP, DnsProtocolTCP, DnsProtocolTLS, DnsProtocolQUIC:
		return p.Addr.IsUnresolved()
	default:
		return false
	}
}

// WithResolvedAddr returns a copy of p with its address replaced by a resolved
// one, used by the pool manager to expand a hostname into concrete IPs.
func (p DnsProtocol) WithResolvedAddr(addr *net.TCPAddr) DnsProtocol {
	next := p
	next.Addr = NewResolvedUpstreamAddr(addr)
	return next
}

// String renders the canonical URI form of the protocol, the inverse of
// ParseDnsProtocol modulo default ports.
func (p DnsProtocol) String() string {
	switch p.Kind {
	case DnsProtocolUDP:
		return "udp://" + p.Addr.String()
	case DnsProtocolTCP:
		return "tcp://" + p.Addr.String()
	case DnsProtocolTLS:
		return fmt.Sprintf("tls://%s:%d", p.Hostname, p.Addr.PortNum())
	case DnsProtocolQUIC:
		return fmt.Sprintf("doq://%s:%d", p.Hostname, p.Addr.PortNum())
	case DnsProtocolHTTPS, DnsProtocolH3:
		return p.URL
	default:
		return ""
	}
}

// ParseDnsProtocol parses a transport URI per §6: udp://, tcp://, tls://,
// doq://, h3://, https://, or a bare IP:PORT (defaulting to UDP). Behavior is
// grounded on the original Rust implementation's DnsProtocol::from_str, which
// the distilled spec does not fully pin down.
func ParseDnsProtocol(s string) (DnsProtocol, error) {
	switch {
	case strings.HasPrefix(s, "udp://"):
		addr, err := parseUpstreamAddr(strings.TrimPrefix(s, "udp://"))
		if err != nil {
			return DnsProtocol{}, fmt.Errorf("invalid udp address: %w", err)
		}
		return DnsProtocol{Kind: DnsProtocolUDP, Addr: addr}, nil

	case strings.HasPrefix(s, "tcp://"):
		addr, err := parseUpstreamAddr(strings.TrimPrefix(s, "tcp://"))
		if err != nil {
			return DnsProtocol{}, fmt.Errorf("invalid tcp address: %w", err)
		}
		return DnsProtocol{Kind: DnsProtocolTCP, Addr: addr}, nil

	case strings.HasPrefix(s, "tls://"):
		rest := strings.TrimPrefix(s, "tls://")
		host, port, ok := parseHostPort(rest)
		if !ok {
			return DnsProtocol{}, fmt.Errorf("invalid tls format %q, expected tls://HOST:PORT", s)
		}
		addr, err := parseUpstreamAddr(rest)
		if err != nil {
			return DnsProtocol{}, fmt.Errorf("invalid tls address: %w", err)
		}
		_ = port
		return DnsProtocol{Kind: DnsProtocolTLS, Addr: addr, Hostname: host}, nil

	case strings.HasPrefix(s, "doq://"):
		rest := strings.TrimPrefix(s, "doq://")
		host, _, ok := parseHostPort(rest)
		if !ok {
			return DnsProtocol{}, fmt.Errorf("invalid quic format %q, expected doq://HOST:PORT", s)
		}
		addr, err := parseUpstreamAddr(rest)
		if err != nil {
			return DnsProtocol{}, fmt.Errorf("invalid quic address: %w", err)
		}
		return DnsProtocol{Kind: DnsProtocolQUIC, Addr: addr, Hostname: host}, nil

	case strings.HasPrefix(s, "h3://"):
		rest := strings.TrimPrefix(s, "h3://")
		host := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			host = rest[:i]
		}
		if host == "" {
			return DnsProtocol{}, fmt.Errorf("invalid h3 url %q", s)
		}
		return DnsProtocol{Kind: DnsProtocolH3, URL: s, Hostname: host}, nil

	case strings.HasPrefix(s, "https://"):
		rest := strings.TrimPrefix(s, "https://")
		host := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			host = rest[:i]
		}
		if host == "" {
			return DnsProtocol{}, fmt.Errorf("invalid https url %q", s)
		}
		return DnsProtocol{Kind: DnsProtocolHTTPS, URL: s, Hostname: host}, nil

	default:
		if host, port, ok := parseHostPort(s); ok {
			if ip := net.ParseIP(host); ip != nil {
				return DnsProtocol{Kind: DnsProtocolUDP, Addr: NewResolvedUpstreamAddr(&net.TCPAddr{IP: ip, Port: int(port)})}, nil
			}
		}
		return DnsProtocol{}, fmt.Errorf("invalid dns endpoint format %q: expected udp://IP:PORT, tcp://IP:PORT, tls://HOST:PORT, https://URL, h3://URL, doq://HOST:PORT, or IP:PORT", s)
	}
}
