// Package gemini implements the vendor adapter: signing-key fetch and token
// mint, session creation, file upload/metadata/download, the streamed assist
// call and the aggregator that folds its envelope stream into a ChatResult.
package gemini

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/observability"
	"github.com/nanlv11/business-gemini-pool/internal/config"
	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// Client talks to the vendor backend. Call classes use dedicated HTTP
// clients so the fixed timeouts (30s auth/session/metadata, 60s upload,
// 120s stream and download) stay independent.
type Client struct {
	cfg      config.Config
	authHC   *http.Client
	uploadHC *http.Client
	streamHC *http.Client
}

// New constructs a vendor client. proxyURL, when non-empty, routes all
// outbound calls through the given forward proxy.
func New(cfg config.Config, proxyURL string) *Client {
	transport := newTransport(proxyURL)
	return &Client{
		cfg:      cfg,
		authHC:   &http.Client{Timeout: cfg.AuthTimeout, Transport: transport},
		uploadHC: &http.Client{Timeout: cfg.UploadTimeout, Transport: transport},
		streamHC: &http.Client{Timeout: cfg.StreamTimeout, Transport: transport},
	}
}

func newTransport(proxyURL string) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			t.Proxy = http.ProxyURL(u)
		} else {
			slog.Warn("invalid proxy url ignored", slog.String("proxy", proxyURL), slog.Any("error", err))
		}
	}
	return t
}

// SetProxy swaps the outbound proxy on all call classes. Used when the
// admin API updates the stored proxy setting.
func (c *Client) SetProxy(proxyURL string) {
	transport := newTransport(proxyURL)
	c.authHC.Transport = transport
	c.uploadHC.Transport = transport
	c.streamHC.Transport = transport
}

// setAuthHeaders applies the fixed header set every authenticated vendor
// call carries.
func (c *Client) setAuthHeaders(r *http.Request, token string) {
	r.Header.Set("accept", "*/*")
	r.Header.Set("authorization", "Bearer "+token)
	r.Header.Set("content-type", "application/json")
	r.Header.Set("origin", tokenIssuer)
	r.Header.Set("referer", tokenIssuer+"/")
	r.Header.Set("user-agent", c.cfg.VendorUserAgent)
	r.Header.Set("x-server-timeout", "1800")
}

// CheckProxy probes reachability of a forward proxy by fetching a known
// origin through it.
func CheckProxy(proxyURL string, timeout time.Duration) bool {
	if proxyURL == "" {
		return false
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return false
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyURL(u)
	hc := &http.Client{Timeout: timeout, Transport: t}
	resp, err := hc.Get("https://www.google.com")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// FetchImage downloads an inbound image referenced by URL so it can be
// inlined into the query parts. Returns the bytes and the main mime type.
func (c *Client) FetchImage(ctx domain.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("op=gemini.FetchImage: %w", err)
	}
	start := time.Now()
	resp, err := c.uploadHC.Do(req)
	observe("image_fetch", start, err)
	if err != nil {
		return nil, "", fmt.Errorf("%w: image fetch: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", statusErr("image fetch", resp.StatusCode, "")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: image fetch read: %v", domain.ErrUpstream, err)
	}
	mimeType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if mimeType == "" {
		mimeType = "image/png"
	}
	return data, mimeType, nil
}

func readSnippet(body io.Reader, n int) string {
	b, _ := io.ReadAll(io.LimitReader(body, int64(n)))
	return strings.TrimSpace(string(b))
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.VendorRequestsTotal.WithLabelValues(op, status).Inc()
	observability.VendorRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// statusErr maps a non-2xx vendor status onto the domain taxonomy: 401/403
// become auth failures, 429 a rate limit, everything else an upstream error.
func statusErr(op string, code int, snippet string) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrAuth, op, code, snippet)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrRateLimited, op, code, snippet)
	}
	return fmt.Errorf("%w: %s status %d: %s", domain.ErrUpstream, op, code, snippet)
}
