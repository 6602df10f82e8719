package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// UserAgent identifies this server to upstream caches, mirroring the
// teacher's habit of a fixed, descriptive user-agent for outbound requests.
const UserAgent = "nix-serve-proxy (pull-through cache; +https://github.com/lckrlabs-forks/nix-serve)"

// Client is a stateless wrapper around a shared *http.Client, used by the
// Pull-Through Fetcher to probe and download from upstream caches (spec.md
// §4.2). It is safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
}

// New builds a Client around an already-configured *http.Client (timeouts,
// transport pooling are the caller's responsibility; see
// internal/server.NewUpstreamClient).
func New(httpClient *http.Client) *Client {
	return &Client{http: httpClient, userAgent: UserAgent}
}

// Normalize strips a single trailing slash from an upstream base URL, per
// spec.md §4.5 step 1.1.
func Normalize(base string) string {
	return strings.TrimSuffix(base, "/")
}

// FetchBytes issues a GET against base+path and returns the full response
// body. Used for narinfo fetches, which are small (spec.md §4.2).
func (c *Client) FetchBytes(ctx context.Context, base, path string) ([]byte, error) {
	resp, err := c.do(ctx, base, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyErr(err)
	}
	return body, nil
}

// FetchToFile issues a GET against base+path and streams the response body
// into dest without buffering the whole archive in memory (spec.md §4.4,
// §5). It returns the number of bytes written.
func (c *Client) FetchToFile(ctx context.Context, base, path string, dest *os.File) (int64, error) {
	resp, err := c.do(ctx, base, path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	written, err := io.Copy(dest, resp.Body)
	if err != nil {
		return written, classifyErr(err)
	}
	return written, nil
}

func (c *Client) do(ctx context.Context, base, path string) (*http.Response, error) {
	target, err := joinURL(base, path)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyErr(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return resp, nil
}

func joinURL(base, path string) (string, error) {
	base = Normalize(base)
	path = strings.TrimPrefix(path, "/")
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	return u.String(), nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if os.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
