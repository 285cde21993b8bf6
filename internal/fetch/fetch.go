package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JHill6253/snapchat-export/internal/bundle"
	"github.com/JHill6253/snapchat-export/internal/catalog"
	"github.com/JHill6253/snapchat-export/internal/retry"
)

// zipMagic is the leading byte signature of a zip container.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Options configures the fetch client.
type Options struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 5
	MaxRetries int

	// Backoff is the base delay fed into the backoff policy.
	// Default: 1s
	Backoff time.Duration

	// Timeout bounds a single HTTP request, zero means no limit.
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// DisableBundles forces plain fetches even for items that carry a
	// bundle link. Set when the batch's bundle links are detected as
	// expired.
	DisableBundles bool

	// OnRetry, if set, is invoked once per scheduled retry before the
	// backoff sleep. Observability only.
	OnRetry func(item catalog.Item, attempt int, delay time.Duration, err error)
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:          5,
		Backoff:             time.Second,
		MaxIdleConnsPerHost: 16,
	}
}

// Result is the final payload for one item. Exactly one of the producing
// paths fills it: a direct fetch yields Data with Overlay nil, a bundle
// fetch may add the Overlay layer.
type Result struct {
	Data        []byte
	ContentType string
	Ext         string
	Kind        catalog.MediaKind
	Overlay     []byte
	FromBundle  bool

	// Attempts is the number of attempts actually made, at least 1.
	Attempts int
}

// ExhaustedError wraps the last retryable failure after the retry budget
// ran out.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch: exhausted %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// FatalError wraps a non-retryable failure, carrying how many attempts
// ran before it surfaced so callers can still count the retries that
// preceded it.
type FatalError struct {
	Attempts int
	Err      error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fetch: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// Client executes the two-step exchange for items: the signed descriptor
// URL is posted back to its own endpoint to obtain a short-lived payload
// URL, which is then fetched directly.
type Client struct {
	hc   *http.Client
	opts Options
}

// NewClient creates a fetch client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 16
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// Fetch retrieves the payload for item, retrying transient failures per
// the backoff policy. Fatal failures (malformed descriptor, non-URL
// exchange response, empty payload, unusable bundle) surface immediately.
func (c *Client) Fetch(ctx context.Context, item catalog.Item) (*Result, error) {
	link := item.DownloadLink
	fromBundle := false
	if item.ZipDownloadLink != "" && !c.opts.DisableBundles {
		link = item.ZipDownloadLink
		fromBundle = true
	}

	endpoint, query, ok := strings.Cut(link, "?")
	if !ok || query == "" {
		return nil, fmt.Errorf("fetch: item %s: descriptor URL has no query payload", item.ID)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retry.DelayFor(attempt-1, c.opts.Backoff)
			if c.opts.OnRetry != nil {
				c.opts.OnRetry(item, attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		attempts++
		res, err := c.fetchOnce(ctx, item, endpoint, query, fromBundle)
		if err == nil {
			res.Attempts = attempts
			return res, nil
		}
		if !retry.IsRetryable(err) {
			return nil, &FatalError{Attempts: attempts, Err: fmt.Errorf("item %s: %w", item.ID, err)}
		}
		lastErr = err
	}

	return nil, &ExhaustedError{Attempts: attempts, Err: fmt.Errorf("item %s: %w", item.ID, lastErr)}
}

// fetchOnce runs one exchange-then-download round trip.
func (c *Client) fetchOnce(ctx context.Context, item catalog.Item, endpoint, query string, fromBundle bool) (*Result, error) {
	signedURL, err := c.exchange(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}

	data, contentType, err := c.download(ctx, signedURL)
	if err != nil {
		return nil, err
	}

	if fromBundle && isContainer(data, contentType) {
		contents, err := bundle.Extract(data, item.Kind)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:        contents.Base,
			ContentType: contentTypeFor(contents.Ext),
			Ext:         contents.Ext,
			Kind:        contents.Kind,
			Overlay:     contents.Overlay,
			FromBundle:  true,
		}, nil
	}

	return &Result{
		Data:        data,
		ContentType: contentType,
		Ext:         extensionFor(contentType, item.Kind),
		Kind:        item.Kind,
		FromBundle:  fromBundle,
	}, nil
}

// exchange posts the descriptor's query payload to its endpoint and
// returns the payload URL from the response body.
func (c *Client) exchange(ctx context.Context, endpoint, query string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(query))
	if err != nil {
		return "", fmt.Errorf("create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("exchange: %w", &retry.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read exchange response: %w", err)
	}

	signedURL := strings.TrimSpace(string(body))
	if signedURL == "" || !(strings.HasPrefix(signedURL, "http://") || strings.HasPrefix(signedURL, "https://")) {
		return "", fmt.Errorf("exchange returned a malformed payload URL %q", truncate(signedURL, 80))
	}

	return signedURL, nil
}

// download GETs the payload URL and returns its body and content type.
func (c *Client) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download: %w", &retry.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read payload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("download returned an empty payload")
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// isContainer reports whether the payload is a zip container, by declared
// content type or by magic signature.
func isContainer(data []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "zip") {
		return true
	}
	return bytes.HasPrefix(data, zipMagic)
}

// extensionFor maps a declared content type to a file extension, falling
// back to the item kind when the type is unrecognized.
func extensionFor(contentType string, kind catalog.MediaKind) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "jpeg"):
		return ".jpg"
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "mp4"):
		return ".mp4"
	case strings.Contains(ct, "quicktime"):
		return ".mov"
	case strings.Contains(ct, "webm"):
		return ".webm"
	}

	if kind == catalog.KindClip {
		return ".mp4"
	}
	return ".jpg"
}

// contentTypeFor maps a file extension back to a content type.
func contentTypeFor(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
