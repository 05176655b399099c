package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordSleeps swaps the client's sleep for one that returns at once and
// remembers the requested waits
func recordSleeps(c *Client) *[]time.Duration {
	var (
		mu    sync.Mutex
		waits []time.Duration
	)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return ctx.Err()
	}
	return &waits
}

func TestFetchGivesUpAfterMaxAttemptsOn429(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var retries atomic.Int32
	c := NewClient(ClientOptions{MaxAttempts: 4, OnRetry: func(string) { retries.Add(1) }})
	defer c.Close()
	waits := recordSleeps(c)

	page, err := c.Fetch(context.Background(), srv.URL)
	if page != nil {
		t.Fatalf("expected no page, got status %d", page.Status)
	}
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Attempts != 4 || fe.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected fetch error %+v", fe)
	}
	if hits.Load() != 4 {
		t.Fatalf("hits = %d, want exactly 4", hits.Load())
	}
	if retries.Load() != 3 {
		t.Fatalf("retries = %d, want 3", retries.Load())
	}

	want := []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	var total time.Duration
	for i, w := range want {
		if (*waits)[i] != w {
			t.Fatalf("wait[%d] = %v, want %v", i, (*waits)[i], w)
		}
		total += (*waits)[i]
	}
	if total != 100*time.Second {
		t.Fatalf("total wait = %v", total)
	}
}

func TestFetchReturnsOtherStatusesWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{})
	defer c.Close()
	waits := recordSleeps(c)

	page, err := c.Fetch(context.Background(), srv.URL+"/gone")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Status != http.StatusNotFound || page.OK() {
		t.Fatalf("status = %d", page.Status)
	}
	if hits.Load() != 1 || len(*waits) != 0 {
		t.Fatalf("404 must not be retried: hits=%d waits=%v", hits.Load(), *waits)
	}
}

func TestFetchRecoversAfter403(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Backoff: []time.Duration{time.Second}})
	defer c.Close()
	waits := recordSleeps(c)

	page, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != "<html>ok</html>" {
		t.Fatalf("body = %q", page.Body)
	}
	if len(*waits) != 1 || (*waits)[0] != time.Second {
		t.Fatalf("waits = %v", *waits)
	}
}

func TestFetchSendsIdentityHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		UserAgent:      "leasesync-test",
		Accept:         "text/html",
		AcceptLanguage: "nl",
		Referer:        "https://example.test/",
	})
	defer c.Close()

	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for k, want := range map[string]string{
		"User-Agent":      "leasesync-test",
		"Accept":          "text/html",
		"Accept-Language": "nl",
		"Referer":         "https://example.test/",
	} {
		if got.Get(k) != want {
			t.Fatalf("%s = %q, want %q", k, got.Get(k), want)
		}
	}
}

func TestFetchRetriesTimeouts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Timeout: 50 * time.Millisecond, MaxAttempts: 2})
	defer c.Close()
	recordSleeps(c)

	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestFetchRetriesRefusedConnections(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewClient(ClientOptions{MaxAttempts: 3})
	defer c.Close()
	waits := recordSleeps(c)

	_, err := c.Fetch(context.Background(), addr)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if len(*waits) != 2 {
		t.Fatalf("refused connections should be retried, waits = %v", *waits)
	}
}

func TestFetchStopsWhenContextEnds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{MaxAttempts: 4})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	_, err := c.Fetch(ctx, srv.URL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchRejectsOversizedBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{MaxBodyBytes: 16})
	defer c.Close()
	waits := recordSleeps(c)

	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if len(*waits) != 0 {
		t.Fatalf("oversized bodies are not retried")
	}
}

func TestDelayRepeatsLastStep(t *testing.T) {
	c := NewClient(ClientOptions{Backoff: []time.Duration{time.Second, 5 * time.Second}})
	defer c.Close()

	want := []time.Duration{time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := c.delay(i); got != w {
			t.Fatalf("delay(%d) = %v, want %v", i, got, w)
		}
	}
}
