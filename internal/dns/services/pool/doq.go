package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
)

// doqTransport implements DNS-over-QUIC (RFC 9250): one bidirectional
// stream per query, length-prefixed the same way as DoT/TCP, the peer
// closes its write side after the reply.
type doqTransport struct {
	addr      string
	tlsConfig *tls.Config
}

// NewDoQTransport returns an UpstreamTransport that opens a new QUIC stream
// per query against addr, using the "doq" ALPN token per RFC 9250 §4.1.1.
func NewDoQTransport(addr string, tlsConfig *tls.Config) UpstreamTransport {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	cfg := tlsConfig.Clone()
	cfg.NextProtos = []string{"doq"}
	return &doqTransport{addr: addr, tlsConfig: cfg}
}

func (t *doqTransport) Address() string { return t.addr }

func (t *doqTransport) Send(ctx context.Context, query []byte, timeout time.Duration) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := quic.DialAddr(ctx, t.addr, t.tlsConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", t.addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	framed := make([]byte, 2+len(query))
	framed[0] = byte(len(query) >> 8)
	framed[1] = byte(len(query))
	copy(framed[2:], query)

	if _, err := stream.Write(framed); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("close write side: %w", err)
	}

	var lenBuf [2]byte
	if _, err := readFull(stream, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	replyLen := int(lenBuf[0])<<8 | int(lenBuf[1])

	reply := make([]byte, replyLen)
	if _, err := readFull(stream, reply); err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
