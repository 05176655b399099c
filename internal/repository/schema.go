package repository

import (
	"context"
	"fmt"
	"strings"

	perr "leasesync/internal/errors"
	"leasesync/internal/model"
)

// SchemaDDL returns the bootstrap DDL for the listing and image tables
func SchemaDDL() string {
	var cols []string
	for _, c := range model.ScalarColumns {
		typ := "TEXT"
		if n, ok := SchemaLimits[c]; ok {
			typ = fmt.Sprintf("VARCHAR(%d)", n)
		}
		cols = append(cols, fmt.Sprintf("    %s %s", c, typ))
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    id BIGSERIAL PRIMARY KEY,
    url TEXT NOT NULL UNIQUE,
%[2]s
);
CREATE TABLE IF NOT EXISTS %[3]s (
    id BIGSERIAL PRIMARY KEY,
    image_url TEXT NOT NULL,
    %[4]s BIGINT NOT NULL REFERENCES %[1]s(id)
);
CREATE INDEX IF NOT EXISTS %[3]s_%[4]s_idx ON %[3]s (%[4]s);`,
		ListingsTable, strings.Join(cols, ",\n"), ImagesTable, ImageFKColumn)
}

// EnsureSchema creates the tables when they do not exist yet
func (r *ListingRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.Exec(ctx, SchemaDDL()); err != nil {
		return perr.FromPostgres(err, "ensure schema")
	}
	return nil
}
