package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"

	"leasesync/internal/model"
)

// MemoryStore is an in-process Store used for dry runs. It enforces the
// same rules as the bootstrap schema: unique url, column character limits
// and the image foreign key, reporting violations as Postgres errors.
type MemoryStore struct {
	mu       sync.Mutex
	limits   map[string]int
	nextID   int64
	listings map[int64]model.StoredListing
	byURL    map[string]int64
	images   []model.StoredImage

	// failWith, when set, is returned by the next InsertListings call
	failWith error
}

// NewMemoryStore returns an empty store. nil limits means SchemaLimits.
func NewMemoryStore(limits map[string]int) *MemoryStore {
	if limits == nil {
		limits = SchemaLimits
	}
	return &MemoryStore{
		limits:   limits,
		listings: map[int64]model.StoredListing{},
		byURL:    map[string]int64{},
	}
}

func (m *MemoryStore) StoredURLs(context.Context) (model.URLSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.NewURLSet()
	for u := range m.byURL {
		s.Add(u)
	}
	return s, nil
}

// WithTx runs fn against a working copy that replaces the store state only
// when fn succeeds.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(WriteTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, state: m.snapshot()}
	if err := fn(tx); err != nil {
		return err
	}
	m.restore(tx.state)
	return nil
}

func (m *MemoryStore) RemoveObsolete(_ context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	gone := map[int64]bool{}
	for _, u := range urls {
		if id, ok := m.byURL[u]; ok {
			gone[id] = true
		}
	}
	kept := m.images[:0]
	for _, img := range m.images {
		if !gone[img.ListingID] {
			kept = append(kept, img)
		}
	}
	m.images = kept
	for id := range gone {
		delete(m.byURL, m.listings[id].URL)
		delete(m.listings, id)
	}
	return len(gone), nil
}

// Listings returns the stored listings ordered by id
func (m *MemoryStore) Listings() []model.StoredListing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.StoredListing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Images returns every stored image row in insert order
func (m *MemoryStore) Images() []model.StoredImage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StoredImage(nil), m.images...)
}

// ID returns the id stored for url
func (m *MemoryStore) ID(url string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byURL[url]
	return id, ok
}

type memState struct {
	nextID   int64
	listings map[int64]model.StoredListing
	byURL    map[string]int64
	images   []model.StoredImage
}

func (m *MemoryStore) snapshot() *memState {
	s := &memState{
		nextID:   m.nextID,
		listings: make(map[int64]model.StoredListing, len(m.listings)),
		byURL:    make(map[string]int64, len(m.byURL)),
		images:   append([]model.StoredImage(nil), m.images...),
	}
	for k, v := range m.listings {
		s.listings[k] = v
	}
	for k, v := range m.byURL {
		s.byURL[k] = v
	}
	return s
}

func (m *MemoryStore) restore(s *memState) {
	m.nextID = s.nextID
	m.listings = s.listings
	m.byURL = s.byURL
	m.images = s.images
}

type memTx struct {
	store *MemoryStore
	state *memState
}

func (t *memTx) InsertListings(_ context.Context, rows []ListingRow) ([]InsertedID, error) {
	if err := t.store.failWith; err != nil {
		t.store.failWith = nil
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if _, dup := t.state.byURL[row.URL]; dup || seen[row.URL] {
			return nil, &pgconn.PgError{
				Code:           "23505",
				Message:        fmt.Sprintf("duplicate key value violates unique constraint %q", ListingsTable+"_url_key"),
				ConstraintName: ListingsTable + "_url_key",
			}
		}
		seen[row.URL] = true
		for i, v := range row.Values {
			col := model.ScalarColumns[i]
			if n, ok := t.store.limits[col]; ok && v != nil && utf8.RuneCountInString(*v) > n {
				return nil, &pgconn.PgError{
					Code:       "22001",
					Message:    fmt.Sprintf("value too long for type character varying(%d)", n),
					ColumnName: col,
				}
			}
		}
	}

	out := make([]InsertedID, 0, len(rows))
	for _, row := range rows {
		t.state.nextID++
		id := t.state.nextID
		t.state.listings[id] = model.StoredListing{ID: id, URL: row.URL, Scalars: row.Values}
		t.state.byURL[row.URL] = id
		out = append(out, InsertedID{URL: row.URL, ID: id})
	}
	return out, nil
}

func (t *memTx) InsertImages(_ context.Context, images []model.StoredImage) error {
	for _, img := range images {
		if img.ImageURL == "" {
			return &pgconn.PgError{Code: "23502", Message: "null value in column \"image_url\"", ColumnName: "image_url"}
		}
		if _, ok := t.state.listings[img.ListingID]; !ok {
			return &pgconn.PgError{
				Code:    "23503",
				Message: fmt.Sprintf("insert or update on table %q violates foreign key constraint", ImagesTable),
			}
		}
	}
	t.state.images = append(t.state.images, images...)
	return nil
}
