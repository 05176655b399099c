// Package repository persists listings and their images.
package repository

import (
	"context"

	"leasesync/internal/model"
)

const (
	ListingsTable = "car_listings"
	ImagesTable   = "car_images"
	ImageFKColumn = "car_listing_id"
)

// SchemaLimits are the character limits of the bounded listing columns in
// the bootstrap schema. Columns not listed are unbounded text.
var SchemaLimits = map[string]int{
	"title":    160,
	"subtitle": 240,
	"address":  240,
}

// ListingRow is one listing ready for insert. Values follow
// model.ScalarColumns; nil is NULL.
type ListingRow struct {
	URL    string
	Values []*string
}

// InsertedID pairs a store-assigned id with the url it was assigned to.
type InsertedID struct {
	URL string
	ID  int64
}

// WriteTx is the write side of one open transaction. Each call is atomic:
// it either applies every row it was given or none of them, leaving the
// transaction usable for the next call.
type WriteTx interface {
	InsertListings(ctx context.Context, rows []ListingRow) ([]InsertedID, error)
	InsertImages(ctx context.Context, images []model.StoredImage) error
}

// TxRunner runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(WriteTx) error) error
}

// Store is everything a sync run needs from persistence.
type Store interface {
	TxRunner
	StoredURLs(ctx context.Context) (model.URLSet, error)
	RemoveObsolete(ctx context.Context, urls []string) (int, error)
}
