package repository

import (
	"unicode/utf8"

	"leasesync/internal/model"
)

// Clipper truncates listing values to per-column character limits.
// Truncation is lossy and silent apart from the clipped count.
type Clipper struct {
	limits []int // by model.ScalarColumns index, 0 = unlimited
}

// NewClipper builds a Clipper from column -> limit. Unknown columns and
// url are ignored: url is the listing key and is stored as is.
func NewClipper(limits map[string]int) *Clipper {
	c := &Clipper{limits: make([]int, len(model.ScalarColumns))}
	for i, col := range model.ScalarColumns {
		if n, ok := limits[col]; ok && n > 0 {
			c.limits[i] = n
		}
	}
	return c
}

// Row converts rec into an insert row and reports how many values were cut.
func (c *Clipper) Row(rec *model.ListingRecord) (ListingRow, int) {
	values := rec.Scalars()
	clipped := 0
	for i, v := range values {
		if v == nil || c.limits[i] == 0 {
			continue
		}
		if s, cut := clip(*v, c.limits[i]); cut {
			values[i] = &s
			clipped++
		}
	}
	return ListingRow{URL: rec.URL, Values: values}, clipped
}

func clip(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
