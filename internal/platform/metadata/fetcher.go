// Package metadata fetches off-chain token metadata documents.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/valyala/fasthttp"
)

const (
	defaultTimeout = 10 * time.Second
	maxRedirects   = 5
	maxBodySize    = 1 << 20
)

// Fetcher retrieves metadata documents over HTTP.
type Fetcher struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// NewFetcher creates a Fetcher with a per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		client: &fasthttp.Client{
			Name:                "nftmarket/1.0",
			MaxResponseBodySize: maxBodySize,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		timeout: timeout,
	}
}

// Fetch downloads and decodes the document at url. Every failure wraps
// domain.ErrMetadataUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*domain.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("metadata: fetch: %w: %w", domain.ErrMetadataUnavailable, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	req.SetTimeout(f.requestTimeout(ctx))

	if err := f.client.DoRedirects(req, resp, maxRedirects); err != nil {
		return nil, fmt.Errorf("metadata: fetch %s: %w: %w", url, domain.ErrMetadataUnavailable, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("metadata: fetch %s: %w: status %d", url, domain.ErrMetadataUnavailable, resp.StatusCode())
	}

	md, err := Decode(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch %s: %w", url, err)
	}
	return md, nil
}

// requestTimeout honours the tighter of the configured timeout and the
// context deadline.
func (f *Fetcher) requestTimeout(ctx context.Context) time.Duration {
	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = max(left, time.Millisecond)
		}
	}
	return timeout
}

// Decode parses a metadata document.
func Decode(body []byte) (*domain.Metadata, error) {
	var md domain.Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", domain.ErrMetadataUnavailable, err)
	}
	return &md, nil
}
