package crawler

import (
	"context"
	"errors"
	"strings"

	perr "leasesync/internal/errors"
	"leasesync/internal/model"
)

// ErrNoImages marks a page that parsed but carried no images. Such pages are
// rejected, never stored as listings without photos.
var ErrNoImages = errors.New("listing has no images")

// Mapper turns a fetched detail body into a record. Implementations hold the
// site-specific field rules; fields a page lacks stay nil.
type Mapper interface {
	// Endpoint returns the URL to fetch for the detail page at pageURL.
	Endpoint(pageURL string) string
	Map(pageURL string, body []byte) (*model.ListingRecord, error)
}

// Detail fetches one detail page and maps it.
type Detail struct {
	mapper Mapper
}

func NewDetail(m Mapper) *Detail { return &Detail{mapper: m} }

// Extract returns the record for pageURL. Errors match ErrFetchFailed when the
// page could not be fetched (including non-2xx), ErrNoImages when the page has
// no images, anything else when the body could not be decoded.
func (d *Detail) Extract(ctx context.Context, c *Client, pageURL string) (*model.ListingRecord, error) {
	endpoint := d.mapper.Endpoint(pageURL)
	page, err := c.Fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if !page.OK() {
		return nil, &FetchError{URL: endpoint, Attempts: 1, Status: page.Status}
	}

	rec, err := d.mapper.Map(pageURL, page.Body)
	if err != nil {
		return nil, err
	}
	rec.URL = pageURL
	if len(rec.Images) == 0 {
		return nil, ErrNoImages
	}
	return rec, nil
}

// OutcomeKind classifies what happened to one detail URL
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeFetchFailed
	OutcomeNoImages
	OutcomeParseFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeFetchFailed:
		return "fetch_failed"
	case OutcomeNoImages:
		return "no_images"
	default:
		return "parse_failed"
	}
}

// Outcome is the result of extracting one URL
type Outcome struct {
	URL    string
	Kind   OutcomeKind
	Record *model.ListingRecord
	Err    error
}

func outcomeOf(url string, rec *model.ListingRecord, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{URL: url, Kind: OutcomeOK, Record: rec}
	case errors.Is(err, ErrNoImages):
		return Outcome{URL: url, Kind: OutcomeNoImages, Err: err}
	case errors.Is(err, ErrFetchFailed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{URL: url, Kind: OutcomeFetchFailed, Err: err}
	default:
		return Outcome{URL: url, Kind: OutcomeParseFailed, Err: err}
	}
}

// NewMapper returns the extraction backend named kind: "html" or "json".
func NewMapper(kind, jsonSuffix string) (Mapper, error) {
	switch strings.ToLower(kind) {
	case "", "html":
		return NewHTMLMapper(), nil
	case "json":
		return NewJSONMapper(jsonSuffix), nil
	default:
		return nil, perr.Configf("unknown extractor %q", kind)
	}
}
