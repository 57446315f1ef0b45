package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const sendTimeout = 10 * time.Second

func newHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		Name:         "nftmarket-notify/1.0",
		ReadTimeout:  sendTimeout,
		WriteTimeout: sendTimeout,
	}
}

// postJSON sends payload and fails on any non-2xx status.
func postJSON(ctx context.Context, client *fasthttp.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := sendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, max(time.Until(deadline), time.Millisecond))
	}
	req.SetTimeout(timeout)

	if err := client.Do(req, resp); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		snippet := resp.Body()
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return fmt.Errorf("unexpected status %d: %s", code, snippet)
	}
	return nil
}
