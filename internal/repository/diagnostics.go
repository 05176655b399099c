package repository

import (
	"sync"

	perr "leasesync/internal/errors"
)

// SkipKind tells what a Skip refers to
type SkipKind string

const (
	SkipListing SkipKind = "listing"
	SkipImage   SkipKind = "image"
)

// Skip describes one row the writer gave up on.
type Skip struct {
	Kind     SkipKind
	URL      string
	ImageURL string
	Column   string
	SQLState string
	Message  string
}

// Diagnostics collects skipped rows during a run. Safe for concurrent use.
type Diagnostics struct {
	mu    sync.Mutex
	skips []Skip
}

func (d *Diagnostics) record(kind SkipKind, url, imageURL string, err error) Skip {
	s := Skip{
		Kind:     kind,
		URL:      url,
		ImageURL: imageURL,
		SQLState: perr.SQLState(err),
		Column:   perr.FieldOf(err),
		Message:  err.Error(),
	}
	if pg, ok := perr.ExtractPgError(err); ok {
		s.Message = pg.Message
		if s.Column == "" {
			s.Column = pg.ColumnName
		}
	}
	d.mu.Lock()
	d.skips = append(d.skips, s)
	d.mu.Unlock()
	return s
}

// Skips returns a copy of everything recorded so far
func (d *Diagnostics) Skips() []Skip {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Skip, len(d.skips))
	copy(out, d.skips)
	return out
}

// Count returns the number of skips of kind
func (d *Diagnostics) Count(kind SkipKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.skips {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
