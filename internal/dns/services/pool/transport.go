package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// DialFunc matches gateways/upstream.DialFunc so the same dependency
// injection pattern (real net.Dialer in production, a fake in tests) works
// here too.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// udpTransport sends a single raw query over a fresh UDP "connection" (UDP
// is connectionless; net.Dial just fixes the destination) and reads one
// reply, grounded on gateways/upstream.Resolver.queryServerWithContext's
// dial/write/read shape but operating on raw bytes instead of
// domain.Question/domain.DNSResponse so it can serve any codec.
type udpTransport struct {
	addr string
	dial DialFunc
}

// NewUDPTransport returns an UpstreamTransport that forwards raw DNS wire
// messages to addr over UDP.
func NewUDPTransport(addr string, dial DialFunc) UpstreamTransport {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	return &udpTransport{addr: addr, dial: dial}
}

func (t *udpTransport) Address() string { return t.addr }

func (t *udpTransport) Send(ctx context.Context, query []byte, timeout time.Duration) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := t.dial(ctx, "udp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return buf[:n], nil
}

// tcpTransport is the length-prefixed TCP/TLS (DoT) sibling of udpTransport:
// DNS-over-TCP prefixes every message with a 2-byte big-endian length
// (RFC 1035 §4.2.2), which DoT reuses verbatim over a TLS-wrapped
// connection (RFC 7858).
type tcpTransport struct {
	addr      string
	dial      DialFunc
	tlsConfig *tls.Config // nil means plain TCP, non-nil means DoT
}

// NewTCPTransport returns an UpstreamTransport that forwards length-prefixed
// DNS messages over plain TCP.
func NewTCPTransport(addr string, dial DialFunc) UpstreamTransport {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	return &tcpTransport{addr: addr, dial: dial}
}

// NewTLSTransport returns an UpstreamTransport implementing DNS-over-TLS:
// the same length-prefixed framing as plain TCP, dialed inside a TLS
// session. cfg.ServerName should be set to the upstream's expected
// certificate name.
func NewTLSTransport(addr string, cfg *tls.Config, dial DialFunc) UpstreamTransport {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &tcpTransport{addr: addr, dial: dial, tlsConfig: cfg}
}

func (t *tcpTransport) Address() string { return t.addr }

func (t *tcpTransport) Send(ctx context.Context, query []byte, timeout time.Duration) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := t.dial(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	if t.tlsConfig != nil {
		tlsConn := tls.Client(conn, t.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	framed := make([]byte, 2+len(query))
	framed[0] = byte(len(query) >> 8)
	framed[1] = byte(len(query))
	copy(framed[2:], query)

	if _, err := conn.Write(framed); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	var lenBuf [2]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	replyLen := int(lenBuf[0])<<8 | int(lenBuf[1])

	reply := make([]byte, replyLen)
	if _, err := readFull(conn, reply); err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
