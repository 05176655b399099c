package repository

import (
	"context"
	"runtime"

	perr "leasesync/internal/errors"
	"leasesync/internal/logger"
	"leasesync/internal/model"
)

// WriterOptions sizes the writer's batches
type WriterOptions struct {
	ListingBatch int // listings per transaction
	ImageBatch   int // image rows per insert
	ClipLimits   map[string]int
}

// BatchResult summarizes one Write call. IDs is parallel to the records
// passed to Write; 0 marks a record that was skipped.
type BatchResult struct {
	IDs            []int64
	Batches        int
	Inserted       int
	Skipped        int
	ImagesInserted int
	ImagesSkipped  int
	Clipped        int
}

func (r *BatchResult) add(o BatchResult) {
	r.IDs = append(r.IDs, o.IDs...)
	r.Batches += o.Batches
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.ImagesInserted += o.ImagesInserted
	r.ImagesSkipped += o.ImagesSkipped
	r.Clipped += o.Clipped
}

// BulkWriter inserts listing records with their images, one transaction
// per listing batch. Rows the store rejects for their data are skipped one
// at a time; every other store error aborts the Write.
type BulkWriter struct {
	runner TxRunner
	opts   WriterOptions
	clip   *Clipper
	diag   *Diagnostics
	log    *logger.Logger
}

func NewBulkWriter(runner TxRunner, o WriterOptions) *BulkWriter {
	if o.ListingBatch < 1 {
		o.ListingBatch = 2000
	}
	if o.ImageBatch < 1 {
		o.ImageBatch = 10000
	}
	return &BulkWriter{
		runner: runner,
		opts:   o,
		clip:   NewClipper(o.ClipLimits),
		diag:   &Diagnostics{},
		log:    logger.Named("writer"),
	}
}

// Diagnostics returns the writer's skip collector
func (w *BulkWriter) Diagnostics() *Diagnostics { return w.diag }

// Write stores records. Batches committed before an error stay committed;
// the returned result covers them.
func (w *BulkWriter) Write(ctx context.Context, records []*model.ListingRecord) (BatchResult, error) {
	var total BatchResult
	for start := 0; start < len(records); start += w.opts.ListingBatch {
		end := min(start+w.opts.ListingBatch, len(records))
		batch := records[start:end]

		var res BatchResult
		err := w.runner.WithTx(ctx, func(tx WriteTx) error {
			var err error
			res, err = w.writeBatch(ctx, tx, batch)
			return err
		})
		if err != nil {
			return total, perr.Wrapf(err, perr.CodeOf(err), "write batch %d", total.Batches+1)
		}
		res.Batches = 1
		total.add(res)

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		w.log.Info().
			Int("batch", total.Batches).
			Int("records", len(batch)).
			Int("inserted", res.Inserted).
			Int("skipped", res.Skipped).
			Int("images", res.ImagesInserted).
			Int("images_skipped", res.ImagesSkipped).
			Int("clipped", res.Clipped).
			Uint64("heap_inuse_mb", mem.HeapInuse>>20).
			Msg("batch committed")
	}
	return total, nil
}

func (w *BulkWriter) writeBatch(ctx context.Context, tx WriteTx, batch []*model.ListingRecord) (BatchResult, error) {
	res := BatchResult{IDs: make([]int64, len(batch))}

	rows := make([]ListingRow, len(batch))
	for i, rec := range batch {
		var n int
		rows[i], n = w.clip.Row(rec)
		res.Clipped += n
	}

	ids, err := w.insertListings(ctx, tx, rows)
	if err != nil {
		return res, err
	}

	// images follow the records that received an id, matched by url
	var images []model.StoredImage
	var owners []string
	claimed := make(map[string]bool, len(batch))
	for i, rec := range batch {
		id, ok := ids[rec.URL]
		if !ok || claimed[rec.URL] {
			res.Skipped++
			continue
		}
		claimed[rec.URL] = true
		res.IDs[i] = id
		res.Inserted++
		for _, img := range rec.Images {
			images = append(images, model.StoredImage{ImageURL: img, ListingID: id})
			owners = append(owners, rec.URL)
		}
	}

	for start := 0; start < len(images); start += w.opts.ImageBatch {
		end := min(start+w.opts.ImageBatch, len(images))
		ok, skipped, err := w.insertImages(ctx, tx, images[start:end], owners[start:end])
		if err != nil {
			return res, err
		}
		res.ImagesInserted += ok
		res.ImagesSkipped += skipped
	}
	return res, nil
}

// insertListings tries the whole batch at once and falls back to one row
// at a time when the store rejects the data. It returns url -> id for the
// rows that made it.
func (w *BulkWriter) insertListings(ctx context.Context, tx WriteTx, rows []ListingRow) (map[string]int64, error) {
	ids := make(map[string]int64, len(rows))
	got, err := tx.InsertListings(ctx, rows)
	if err == nil {
		for _, g := range got {
			ids[g.URL] = g.ID
		}
		return ids, nil
	}
	if !perr.IsDataError(err) {
		return nil, err
	}

	w.log.Warn().Err(err).Int("rows", len(rows)).Msg("batch insert rejected, salvaging row by row")
	for _, row := range rows {
		got, err := tx.InsertListings(ctx, []ListingRow{row})
		if err != nil {
			if !perr.IsDataError(err) {
				return nil, err
			}
			s := w.diag.record(SkipListing, row.URL, "", err)
			w.log.Warn().Str("url", row.URL).Str("sqlstate", s.SQLState).Str("column", s.Column).Msg("listing skipped")
			continue
		}
		for _, g := range got {
			ids[g.URL] = g.ID
		}
	}
	return ids, nil
}

func (w *BulkWriter) insertImages(ctx context.Context, tx WriteTx, images []model.StoredImage, owners []string) (int, int, error) {
	err := tx.InsertImages(ctx, images)
	if err == nil {
		return len(images), 0, nil
	}
	if !perr.IsDataError(err) {
		return 0, 0, err
	}

	ok, skipped := 0, 0
	for i, img := range images {
		if err := tx.InsertImages(ctx, []model.StoredImage{img}); err != nil {
			if !perr.IsDataError(err) {
				return ok, skipped, err
			}
			w.diag.record(SkipImage, owners[i], img.ImageURL, err)
			skipped++
			continue
		}
		ok++
	}
	return ok, skipped, nil
}
