package model

import "sort"

// ScalarColumns lists the listing columns after url, in insert order.
// ListingRecord.Scalars returns its values in the same order.
var ScalarColumns = []string{
	"title",
	"subtitle",
	"financial_lease_price",
	"financial_lease_term",
	"advertentienummer",
	"merk",
	"model",
	"bouwjaar",
	"km_stand",
	"transmissie",
	"prijs",
	"brandstof",
	"btw_marge",
	"opties_accessoires",
	"address",
}

// ListingRecord is one parsed detail page. Every scalar is optional; a nil
// pointer is stored as NULL.
type ListingRecord struct {
	URL          string
	Title        *string
	Subtitle     *string
	LeasePrice   *string
	LeaseTerm    *string
	AdNumber     *string
	Make         *string
	Model        *string
	Year         *string
	Mileage      *string
	Transmission *string
	Price        *string
	Fuel         *string
	VATMargin    *string
	Options      *string
	Address      *string

	// Images holds absolute, de-duplicated image URLs in page order.
	Images []string
}

// Scalars returns the scalar fields in ScalarColumns order.
func (r *ListingRecord) Scalars() []*string {
	return []*string{
		r.Title,
		r.Subtitle,
		r.LeasePrice,
		r.LeaseTerm,
		r.AdNumber,
		r.Make,
		r.Model,
		r.Year,
		r.Mileage,
		r.Transmission,
		r.Price,
		r.Fuel,
		r.VATMargin,
		r.Options,
		r.Address,
	}
}

// StoredListing is a listing row as persisted.
type StoredListing struct {
	ID      int64
	URL     string
	Scalars []*string
}

// StoredImage is one image row owned by a listing.
type StoredImage struct {
	ImageURL  string
	ListingID int64
}

// URLSet is a set of absolute listing URLs.
type URLSet map[string]struct{}

func NewURLSet(urls ...string) URLSet {
	s := make(URLSet, len(urls))
	for _, u := range urls {
		s[u] = struct{}{}
	}
	return s
}

func (s URLSet) Add(u string) { s[u] = struct{}{} }

func (s URLSet) Has(u string) bool {
	_, ok := s[u]
	return ok
}

// Union adds every URL of o to s.
func (s URLSet) Union(o URLSet) {
	for u := range o {
		s[u] = struct{}{}
	}
}

// Sorted returns the members in lexical order.
func (s URLSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Str returns a pointer to v, or nil when v is empty.
func Str(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
