package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	perr "leasesync/internal/errors"
	"leasesync/internal/logger"
	"leasesync/internal/model"
)

// ListingRepository is the Postgres store. It is used from one goroutine.
type ListingRepository struct {
	DB *pgxpool.Pool
	// StatementRows caps the rows of one multi-row INSERT.
	StatementRows int
	log           *logger.Logger
}

func NewListingRepository(pool *pgxpool.Pool, statementRows int) *ListingRepository {
	if statementRows < 1 {
		statementRows = 500
	}
	return &ListingRepository{DB: pool, StatementRows: statementRows, log: logger.Named("repository")}
}

func (r *ListingRepository) StoredURLs(ctx context.Context) (model.URLSet, error) {
	rows, err := r.DB.Query(ctx, `SELECT url FROM `+ListingsTable)
	if err != nil {
		return nil, perr.FromPostgres(err, "select stored urls")
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, perr.FromPostgres(err, "scan stored urls")
	}
	return model.NewURLSet(urls...), nil
}

func (r *ListingRepository) WithTx(ctx context.Context, fn func(WriteTx) error) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return perr.FromPostgres(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgWriteTx{tx: tx, statementRows: r.StatementRows}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return perr.FromPostgres(err, "commit")
	}
	return nil
}

// RemoveObsolete deletes the listings stored under urls together with their
// images, images first, in one transaction.
func (r *ListingRepository) RemoveObsolete(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return 0, perr.FromPostgres(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT id FROM `+ListingsTable+` WHERE url = ANY($1)`, urls)
	if err != nil {
		return 0, perr.FromPostgres(err, "select obsolete ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, perr.FromPostgres(err, "scan obsolete ids")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := tx.Exec(ctx, `DELETE FROM `+ImagesTable+` WHERE `+ImageFKColumn+` = ANY($1)`, ids)
	if err != nil {
		return 0, perr.FromPostgres(err, "delete obsolete images")
	}
	images := tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM `+ListingsTable+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, perr.FromPostgres(err, "delete obsolete listings")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, perr.FromPostgres(err, "commit")
	}
	r.log.Info().Int64("listings", tag.RowsAffected()).Int64("images", images).Msg("obsolete removed")
	return int(tag.RowsAffected()), nil
}

type pgWriteTx struct {
	tx            pgx.Tx
	statementRows int
}

// InsertListings runs under a savepoint so a rejected statement leaves the
// outer transaction usable.
func (t *pgWriteTx) InsertListings(ctx context.Context, rows []ListingRow) ([]InsertedID, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, perr.FromPostgres(err, "savepoint")
	}
	defer func() { _ = sp.Rollback(ctx) }()

	out := make([]InsertedID, 0, len(rows))
	for start := 0; start < len(rows); start += t.statementRows {
		chunk := rows[start:min(start+t.statementRows, len(rows))]
		sql, args := insertListingsSQL(chunk)
		res, err := sp.Query(ctx, sql, args...)
		if err != nil {
			return nil, perr.FromPostgres(err, "insert listings")
		}
		got, err := pgx.CollectRows(res, func(row pgx.CollectableRow) (InsertedID, error) {
			var id InsertedID
			err := row.Scan(&id.ID, &id.URL)
			return id, err
		})
		if err != nil {
			return nil, perr.FromPostgres(err, "insert listings")
		}
		out = append(out, got...)
	}
	if err := sp.Commit(ctx); err != nil {
		return nil, perr.FromPostgres(err, "release savepoint")
	}
	return out, nil
}

// InsertImages copies images in one COPY under a savepoint
func (t *pgWriteTx) InsertImages(ctx context.Context, images []model.StoredImage) error {
	if len(images) == 0 {
		return nil
	}
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return perr.FromPostgres(err, "savepoint")
	}
	defer func() { _ = sp.Rollback(ctx) }()

	_, err = sp.CopyFrom(ctx,
		pgx.Identifier{ImagesTable},
		[]string{"image_url", ImageFKColumn},
		pgx.CopyFromSlice(len(images), func(i int) ([]any, error) {
			return []any{images[i].ImageURL, images[i].ListingID}, nil
		}),
	)
	if err != nil {
		return perr.FromPostgres(err, "copy images")
	}
	if err := sp.Commit(ctx); err != nil {
		return perr.FromPostgres(err, "release savepoint")
	}
	return nil
}

// insertListingsSQL builds one multi-row INSERT ... RETURNING id, url
func insertListingsSQL(rows []ListingRow) (string, []any) {
	cols := append([]string{"url"}, model.ScalarColumns...)
	width := len(cols)

	var b strings.Builder
	b.WriteString("INSERT INTO " + ListingsTable + " (" + strings.Join(cols, ", ") + ") VALUES ")
	args := make([]any, 0, len(rows)*width)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < width; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*width+j+1)
		}
		b.WriteByte(')')
		args = append(args, row.URL)
		for _, v := range row.Values {
			args = append(args, v)
		}
	}
	b.WriteString(" RETURNING id, url")
	return b.String(), args
}
