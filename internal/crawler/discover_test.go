package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	perr "leasesync/internal/errors"
)

// catalog is a fake site: an index of sections and paginated result pages
type catalog struct {
	mu      sync.Mutex
	fetched map[string][]int // section slug -> pages in fetch order
}

func (c *catalog) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/merken", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><main><ul>
			<li><a href="/bmw/x1">BMW X1</a></li>
			<li><a href="/audi/a3">Audi A3</a></li>
			<li><a href="/vw/golf">VW Golf</a></li>
			<li><a href="/opel/corsa">Opel Corsa</a></li>
			<li><a href="/kia/ceed">Kia Ceed</a></li>
			<li><a href="/bmw/x1">BMW X1 again</a></li>
		</ul></main></body></html>`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		slug := strings.Trim(r.URL.Path, "/")
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			page, _ = strconv.Atoi(p)
		}
		if r.URL.Query().Get("lease_type") != "financial" {
			http.Error(w, "missing section query", http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.fetched[slug] = append(c.fetched[slug], page)
		c.mu.Unlock()

		switch {
		case slug == "vw/golf":
			w.WriteHeader(http.StatusInternalServerError)
			return
		case slug == "opel/corsa" && page > 1:
			w.WriteHeader(http.StatusTooManyRequests)
			return
		case slug == "audi/a3" && page > 2:
			fmt.Fprint(w, `<html><body><p>Geen resultaten</p></body></html>`)
			return
		}

		var b strings.Builder
		b.WriteString("<html><body>")
		if slug == "bmw/x1" {
			b.WriteString(`<button><span>Toon resultaten (5)</span></button>`)
		}
		for i := 0; i < 3; i++ {
			href := fmt.Sprintf("/lease/%s-%d-%d", strings.ReplaceAll(slug, "/", "-"), page, i)
			if page == 1 && i == 0 && (slug == "bmw/x1" || slug == "audi/a3") {
				href = "/lease/shared"
			}
			fmt.Fprintf(&b, `<a data-testid="product-result-%d" href="%s">car</a>`, i, href)
		}
		b.WriteString("</body></html>")
		fmt.Fprint(w, b.String())
	})
	return mux
}

func newTestDiscoverer(t *testing.T, baseURL string, workers int) *Discoverer {
	t.Helper()
	d, err := NewDiscoverer(DiscoverOptions{
		BaseURL:      baseURL,
		IndexPath:    "/merken",
		SectionQuery: "lease_type=financial",
		PerPage:      2,
		MaxPages:     4,
		PageDelay:    time.Millisecond,
		Workers:      workers,
	}, func() *Client {
		c := NewClient(ClientOptions{MaxAttempts: 1})
		recordSleeps(c)
		return c
	})
	if err != nil {
		t.Fatalf("NewDiscoverer: %v", err)
	}
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func TestDiscoverWalksEverySection(t *testing.T) {
	cat := &catalog{fetched: map[string][]int{}}
	srv := httptest.NewServer(cat.handler())
	defer srv.Close()

	d := newTestDiscoverer(t, srv.URL, 2)
	urls, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	// bmw 3 pages (advertised 5 results / 2 per page), audi 2 pages until
	// the empty page, vw nothing, opel page 1 only, kia capped at 4 pages.
	// The shared link collapses to one entry.
	if len(urls) != 6+4-1+0+2+8 {
		t.Fatalf("discovered %d urls: %v", len(urls), urls.Sorted())
	}
	for _, u := range urls.Sorted() {
		if !strings.HasPrefix(u, srv.URL+"/lease/") {
			t.Fatalf("url not absolute: %s", u)
		}
		if strings.HasSuffix(u, "-2") {
			t.Fatalf("per-page cap exceeded: %s", u)
		}
	}
	if !urls.Has(srv.URL + "/lease/shared") {
		t.Fatalf("shared link missing")
	}
	if !urls.Has(srv.URL + "/lease/opel-corsa-1-1") {
		t.Fatalf("partial results of a failing section must be kept")
	}

	wantPages := map[string][]int{
		"bmw/x1":     {1, 2, 3},
		"audi/a3":    {1, 2, 3},
		"vw/golf":    {1},
		"opel/corsa": {1, 2},
		"kia/ceed":   {1, 2, 3, 4},
	}
	cat.mu.Lock()
	defer cat.mu.Unlock()
	for slug, want := range wantPages {
		got := cat.fetched[slug]
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("%s fetched pages %v, want %v", slug, got, want)
		}
	}
}

func TestDiscoverIsIndependentOfWorkerCount(t *testing.T) {
	var sizes []int
	for _, workers := range []int{1, 3, 10} {
		cat := &catalog{fetched: map[string][]int{}}
		srv := httptest.NewServer(cat.handler())
		urls, err := newTestDiscoverer(t, srv.URL, workers).Discover(context.Background())
		srv.Close()
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		sizes = append(sizes, len(urls))
	}
	if sizes[0] != sizes[1] || sizes[1] != sizes[2] {
		t.Fatalf("result depends on worker count: %v", sizes)
	}
}

func TestDiscoverFailsWithoutIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestDiscoverer(t, srv.URL, 2).Discover(context.Background())
	if err == nil {
		t.Fatalf("expected an error when the index is unavailable")
	}
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("code = %v", perr.CodeOf(err))
	}
}

func TestNewDiscovererRejectsBadBaseURL(t *testing.T) {
	if _, err := NewDiscoverer(DiscoverOptions{BaseURL: "not a url"}, nil); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestPageURL(t *testing.T) {
	d := &Discoverer{opts: DiscoverOptions{SectionQuery: "lease_type=financial&entity=business"}}
	if got := d.pageURL("https://x/bmw", 1); got != "https://x/bmw?lease_type=financial&entity=business" {
		t.Fatalf("page 1 = %s", got)
	}
	if got := d.pageURL("https://x/bmw", 3); got != "https://x/bmw?lease_type=financial&entity=business&page=3" {
		t.Fatalf("page 3 = %s", got)
	}
	d.opts.SectionQuery = ""
	if got := d.pageURL("https://x/bmw", 2); got != "https://x/bmw?page=2" {
		t.Fatalf("bare page 2 = %s", got)
	}
}

func TestPartition(t *testing.T) {
	cases := []struct {
		n, shards int
		want      []int
	}{
		{10, 4, []int{3, 3, 3, 1}},
		{10, 10, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
		{3, 10, []int{1, 1, 1}},
		{7, 1, []int{7}},
		{5, 0, []int{5}},
	}
	for _, c := range cases {
		xs := make([]int, c.n)
		for i := range xs {
			xs[i] = i
		}
		got := Partition(xs, c.shards)
		if len(got) != len(c.want) {
			t.Fatalf("Partition(%d, %d) gave %d shards", c.n, c.shards, len(got))
		}
		next := 0
		for i, shard := range got {
			if len(shard) != c.want[i] {
				t.Fatalf("Partition(%d, %d) shard %d has %d items, want %d", c.n, c.shards, i, len(shard), c.want[i])
			}
			for _, v := range shard {
				if v != next {
					t.Fatalf("shards not disjoint/contiguous")
				}
				next++
			}
		}
	}
	if Partition([]string{}, 3) != nil {
		t.Fatalf("empty input gives no shards")
	}
}
