package pool

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// dohTransport implements DNS-over-HTTPS (RFC 8484), POSTing the raw wire
// message with content-type application/dns-message and reading the reply
// body back verbatim. Forces HTTP/2 via golang.org/x/net/http2 rather than
// letting net/http negotiate, since several public DoH resolvers require
// it.
type dohTransport struct {
	url    string
	client *http.Client
}

// NewDoHTransport returns an UpstreamTransport that POSTs DNS wire messages
// to url (e.g. "https://dns.google/dns-query").
func NewDoHTransport(url string, tlsConfig *tls.Config) (UpstreamTransport, error) {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	transport := &http2.Transport{TLSClientConfig: tlsConfig}
	return &dohTransport{
		url:    url,
		client: &http.Client{Transport: transport},
	}, nil
}

func (t *dohTransport) Address() string { return t.url }

func (t *dohTransport) Send(ctx context.Context, query []byte, timeout time.Duration) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read doh body: %w", err)
	}
	return body, nil
}
