package blocklist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// HTTPFileFetcher retrieves a blocklist source's raw text from either the
// local filesystem (Locator is a path) or an HTTP(S) URL (Locator starts
// with "http://" or "https://"). Both forms appear in practice: operator
// supplied files under the configured blocklist directory, and third-party
// feeds fetched by URL.
type HTTPFileFetcher struct {
	Client *http.Client
}

// NewHTTPFileFetcher constructs a HTTPFileFetcher with a bounded default
// client timeout; per-fetch deadlines still come from CompileOptions.FetchTimeout
// via ctx.
func NewHTTPFileFetcher() *HTTPFileFetcher {
	return &HTTPFileFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

var _ SourceFetcher = (*HTTPFileFetcher)(nil)

// Fetch implements SourceFetcher.
func (f *HTTPFileFetcher) Fetch(ctx context.Context, source SourceDescriptor) (string, error) {
	locator := source.Locator
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return f.fetchHTTP(ctx, locator)
	}
	return f.fetchFile(locator)
}

func (f *HTTPFileFetcher) fetchFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read blocklist file %s: %w", path, err)
	}
	return string(data), nil
}

func (f *HTTPFileFetcher) fetchHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body from %s: %w", url, err)
	}
	return string(body), nil
}
