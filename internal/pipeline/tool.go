package pipeline

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ordinaut/ordinaut/internal/requestid"
)

// ToolInvoker resolves a tool reference and runs it with the rendered
// input, returning raw output bytes or an error the caller classifies into
// an Outcome. The tool catalog itself is an external collaborator; this
// interface is the seam it plugs into.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, input json.RawMessage, timeout time.Duration) (json.RawMessage, error)
}

// HTTPToolInvoker treats a tool reference as a literal URL and POSTs the
// rendered input to it as JSON, using a shared client with bounded
// redirects and a TLS floor, and a reusable per-step call with a
// caller-supplied timeout.
type HTTPToolInvoker struct {
	client *http.Client
}

func NewHTTPToolInvoker() *HTTPToolInvoker {
	return &HTTPToolInvoker{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
	}
}

// RetryableHTTPError marks a tool invocation that failed in a way the
// worker should retry (timeout, connection reset, 5xx); anything else is
// treated as terminal by the caller.
type RetryableHTTPError struct {
	Err error
}

func (e *RetryableHTTPError) Error() string { return e.Err.Error() }
func (e *RetryableHTTPError) Unwrap() error { return e.Err }

func (i *HTTPToolInvoker) Invoke(ctx context.Context, tool string, input json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool, strings.NewReader(string(input)))
	if err != nil {
		return nil, fmt.Errorf("build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	reqID := requestid.New()
	req.Header.Set("X-Request-ID", reqID)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &RetryableHTTPError{Err: fmt.Errorf("invoke tool %s: %w", tool, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &RetryableHTTPError{Err: fmt.Errorf("read tool response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, &RetryableHTTPError{Err: fmt.Errorf("tool %s returned %d", tool, resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tool %s returned %d: %s", tool, resp.StatusCode, body)
	}

	return body, nil
}
