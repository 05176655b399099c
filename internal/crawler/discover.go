package crawler

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	perr "leasesync/internal/errors"
	"leasesync/internal/logger"
	"leasesync/internal/model"
)

// DiscoverOptions describes the catalog navigation.
type DiscoverOptions struct {
	BaseURL      string
	IndexPath    string
	SectionQuery string

	// SectionSelector picks section links on the index page.
	SectionSelector string
	// DetailSelector picks detail links on a results page.
	DetailSelector string
	// TotalSelector picks the element advertising the result count.
	TotalSelector string

	PerPage   int // detail links kept per results page
	MaxPages  int // hard cap per section
	PageDelay time.Duration
	Workers   int
}

func (o *DiscoverOptions) defaults() {
	if o.IndexPath == "" {
		o.IndexPath = "/merken"
	}
	if o.SectionSelector == "" {
		o.SectionSelector = "main ul li a[href]"
	}
	if o.DetailSelector == "" {
		o.DetailSelector = `a[data-testid^="product-result-"]`
	}
	if o.TotalSelector == "" {
		o.TotalSelector = `span:contains("Toon resultaten")`
	}
	if o.PerPage <= 0 {
		o.PerPage = 16
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 250
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
}

var totalRe = regexp.MustCompile(`\((\d+)\)`)

// Discoverer enumerates every live detail URL by walking the section index
// and each section's result pages.
type Discoverer struct {
	opts      DiscoverOptions
	base      *url.URL
	newClient func() *Client
	log       *logger.Logger
	sleep     func(context.Context, time.Duration) error
}

func NewDiscoverer(opts DiscoverOptions, newClient func() *Client) (*Discoverer, error) {
	opts.defaults()
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, perr.Configf("invalid base url %q", opts.BaseURL)
	}
	return &Discoverer{
		opts:      opts,
		base:      base,
		newClient: newClient,
		log:       logger.Named("discover"),
		sleep:     sleepCtx,
	}, nil
}

// Discover returns the union of detail URLs across all sections. Only a
// failure to load the section index is an error; a failing section just
// contributes what it found before the failure.
func (d *Discoverer) Discover(ctx context.Context) (model.URLSet, error) {
	c := d.newClient()
	sections, err := d.sections(ctx, c)
	c.Close()
	if err != nil {
		return nil, err
	}
	d.log.Info().Int("sections", len(sections)).Msg("section index loaded")

	shards := Partition(sections, d.opts.Workers)
	found := make([]model.URLSet, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		g.Go(func() error {
			found[i] = d.walkShard(gctx, i+1, shard)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := model.NewURLSet()
	for _, s := range found {
		all.Union(s)
	}
	d.log.Info().Int("urls", len(all)).Msg("discovery done")
	return all, nil
}

func (d *Discoverer) sections(ctx context.Context, c *Client) ([]string, error) {
	indexURL, _ := resolve(d.base, d.opts.IndexPath)
	page, err := c.Fetch(ctx, indexURL)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "fetch section index %s", indexURL)
	}
	if !page.OK() {
		return nil, perr.Unavailablef("section index %s returned status %d", indexURL, page.Status)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnknown, "parse section index")
	}

	seen := model.NewURLSet()
	var out []string
	doc.Find(d.opts.SectionSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, ok := resolve(d.base, href)
		if !ok || seen.Has(u) {
			return
		}
		seen.Add(u)
		out = append(out, u)
	})
	return out, nil
}

// walkShard walks its sections one after another with a shard-owned client
func (d *Discoverer) walkShard(ctx context.Context, idx int, sections []string) model.URLSet {
	c := d.newClient()
	defer c.Close()

	urls := model.NewURLSet()
	for _, section := range sections {
		if ctx.Err() != nil {
			break
		}
		pages, links := d.walkSection(ctx, c, section, urls)
		d.log.Debug().Int("shard", idx).Str("section", section).Int("pages", pages).Int("links", links).Msg("section walked")
	}
	d.log.Info().Int("shard", idx).Int("sections", len(sections)).Int("urls", len(urls)).Msg("shard done")
	return urls
}

// walkSection fetches page 1, 2, ... in order until a page has no detail
// links, the advertised total is reached, MaxPages is hit, or a fetch fails.
func (d *Discoverer) walkSection(ctx context.Context, c *Client, section string, into model.URLSet) (pages, links int) {
	limit := d.opts.MaxPages
	for p := 1; p <= limit; p++ {
		if p > 1 {
			if err := d.sleep(ctx, d.opts.PageDelay); err != nil {
				return pages, links
			}
		}
		pageURL := d.pageURL(section, p)
		page, err := c.Fetch(ctx, pageURL)
		if err != nil {
			d.log.Warn().Err(err).Str("url", pageURL).Msg("section walk cut short")
			return pages, links
		}
		if !page.OK() {
			d.log.Warn().Int("status", page.Status).Str("url", pageURL).Msg("section walk cut short")
			return pages, links
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if err != nil {
			return pages, links
		}

		found := d.detailLinks(doc)
		if len(found) == 0 {
			return pages, links
		}
		if p == 1 {
			if total, ok := d.totalResults(doc); ok {
				limit = min(limit, (total+d.opts.PerPage-1)/d.opts.PerPage)
			}
		}
		for _, u := range found {
			into.Add(u)
		}
		pages++
		links += len(found)
	}
	return pages, links
}

func (d *Discoverer) pageURL(section string, p int) string {
	u := withQuery(section, d.opts.SectionQuery)
	if p == 1 {
		return u
	}
	return withQuery(u, "page="+strconv.Itoa(p))
}

func (d *Discoverer) detailLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find(d.opts.DetailSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if u, ok := resolve(d.base, href); ok {
			out = append(out, u)
		}
		return len(out) < d.opts.PerPage
	})
	return out
}

func (d *Discoverer) totalResults(doc *goquery.Document) (int, bool) {
	text := doc.Find(d.opts.TotalSelector).First().Text()
	m := totalRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Partition splits xs into at most n contiguous, disjoint shards of
// ceil(len(xs)/n) items; the last shard may be shorter.
func Partition[T any](xs []T, n int) [][]T {
	if len(xs) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	size := (len(xs) + n - 1) / n
	out := make([][]T, 0, n)
	for i := 0; i < len(xs); i += size {
		out = append(out, xs[i:min(i+size, len(xs))])
	}
	return out
}
