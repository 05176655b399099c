package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	perr "leasesync/internal/errors"
	"leasesync/internal/logger"
)

// ErrFetchFailed matches every error a URL produces once the retry budget is
// spent or the failure is not retryable. Callers skip the URL for this run.
var ErrFetchFailed = errors.New("fetch failed")

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxAttempts  = 4
	defaultMaxBodyBytes = 8 << 20
)

// DefaultBackoff is the wait before the 2nd, 3rd, 4th and later attempts.
var DefaultBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second}

// ClientOptions configures a Client
type ClientOptions struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	Referer        string

	Timeout      time.Duration
	MaxAttempts  int
	Backoff      []time.Duration
	MaxBodyBytes int64

	// OnRetry is called before each backoff sleep with the reason
	// ("status_403", "status_429", "transport").
	OnRetry func(reason string)
}

// Page is a fetched response. Any status is possible; only 403 and 429 are
// retried by the client.
type Page struct {
	URL    string
	Status int
	Body   []byte
}

// OK reports a 2xx status
func (p *Page) OK() bool { return p.Status >= 200 && p.Status < 300 }

// FetchError describes a URL that was given up on.
type FetchError struct {
	URL      string
	Attempts int
	Status   int // last HTTP status, 0 for transport errors
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.Status, e.Attempts)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// Client issues GETs with a fixed identity and retries rate limiting and
// transport failures. A Client owns its transport; give each worker its own
// and Close it when the worker stops.
type Client struct {
	http      *http.Client
	transport *http.Transport
	opts      ClientOptions
	log       *logger.Logger
	sleep     func(context.Context, time.Duration) error
}

func NewClient(o ClientOptions) *Client {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if len(o.Backoff) == 0 {
		o.Backoff = DefaultBackoff
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0"
	}
	if o.Accept == "" {
		o.Accept = "*/*"
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		http:      &http.Client{Timeout: o.Timeout, Transport: tr},
		transport: tr,
		opts:      o,
		log:       logger.Named("fetch"),
		sleep:     sleepCtx,
	}
}

// Close releases idle connections held by the client's transport
func (c *Client) Close() { c.transport.CloseIdleConnections() }

// Fetch GETs url. 403/429 and transport failures are retried up to
// MaxAttempts with the backoff schedule; any other status is returned as is.
func (c *Client) Fetch(ctx context.Context, url string) (*Page, error) {
	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.delay(attempt - 1)
			c.log.Warn().
				Str("url", url).
				Int("attempt", attempt+1).
				Int("status", lastStatus).
				Dur("wait", wait).
				Msg("backing off")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		page, err := c.do(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !retryable(err) {
				return nil, &FetchError{URL: url, Attempts: attempt + 1, Err: err}
			}
			lastErr, lastStatus = err, 0
			c.retried(attempt, "transport")
			continue
		}

		if page.Status == http.StatusForbidden || page.Status == http.StatusTooManyRequests {
			lastStatus = page.Status
			lastErr = perr.Newf(perr.ErrorCodeTooManyRequests, "status %d", page.Status)
			c.retried(attempt, fmt.Sprintf("status_%d", page.Status))
			continue
		}
		return page, nil
	}

	c.log.Warn().Str("url", url).Int("attempts", c.opts.MaxAttempts).Err(lastErr).Msg("giving up")
	return nil, &FetchError{URL: url, Attempts: c.opts.MaxAttempts, Status: lastStatus, Err: lastErr}
}

// retried is only counted when another attempt will follow
func (c *Client) retried(attempt int, reason string) {
	if c.opts.OnRetry != nil && attempt+1 < c.opts.MaxAttempts {
		c.opts.OnRetry(reason)
	}
}

// delay returns the wait after the given zero-based failed attempt. The
// schedule's last entry repeats once it runs out.
func (c *Client) delay(failed int) time.Duration {
	if failed >= len(c.opts.Backoff) {
		return c.opts.Backoff[len(c.opts.Backoff)-1]
	}
	return c.opts.Backoff[failed]
}

func (c *Client) do(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", c.opts.Accept)
	if c.opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", c.opts.AcceptLanguage)
	}
	if c.opts.Referer != "" {
		req.Header.Set("Referer", c.opts.Referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, perr.Newf(perr.ErrorCodeInvalidArgument, "body exceeds %d bytes", c.opts.MaxBodyBytes)
	}
	return &Page{URL: resp.Request.URL.String(), Status: resp.StatusCode, Body: body}, nil
}

// retryable reports timeouts and connection-level failures
func retryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
