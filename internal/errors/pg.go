package errors

// Postgres helpers: map pgx errors to ErrorCode and decide which write
// failures the bulk writer may salvage row by row.

import (
	stderrs "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation           = "23505"
	pgErrForeignKeyViolation       = "23503"
	pgErrNotNullViolation          = "23502"
	pgErrCheckViolation            = "23514"
	pgErrStringDataRightTruncation = "22001"
	pgErrInvalidTextRepresentation = "22P02"
	pgErrCannotConnectNow          = "57P03"
)

// ExtractPgError returns (*pgconn.PgError, true) if the root cause is a PgError.
func ExtractPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if stderrs.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// SQLState returns the SQLSTATE of err, or "" when err is not a PgError
func SQLState(err error) string {
	if pgErr, ok := ExtractPgError(err); ok {
		return pgErr.Code
	}
	return ""
}

// IsSQLState reports whether the error is a Postgres error with the given SQLSTATE code
func IsSQLState(err error, code string) bool { return SQLState(err) == code }

// IsDuplicateKey reports whether the error is a unique constraint violation
func IsDuplicateKey(err error) bool { return IsSQLState(err, pgErrUniqueViolation) }

// IsStringTooLong reports whether a value exceeded a column's length limit
func IsStringTooLong(err error) bool { return IsSQLState(err, pgErrStringDataRightTruncation) }

// IsDataError reports whether the statement failed because of the row data
// itself: SQLSTATE class 22 (data exception) or 23 (integrity constraint).
// These are the failures a row-by-row retry can isolate.
func IsDataError(err error) bool {
	s := SQLState(err)
	return strings.HasPrefix(s, "22") || strings.HasPrefix(s, "23")
}

// DBErrorCode maps a Postgres error to an ErrorCode with an ok flag
// !ok means err wasn't a PgError
func DBErrorCode(err error) (ErrorCode, bool) {
	pgErr, ok := ExtractPgError(err)
	if !ok {
		return ErrorCodeUnknown, false
	}

	switch pgErr.Code {
	case pgErrUniqueViolation:
		return ErrorCodeDuplicateKey, true
	case pgErrForeignKeyViolation, pgErrStringDataRightTruncation, pgErrInvalidTextRepresentation:
		return ErrorCodeInvalidArgument, true
	case pgErrNotNullViolation, pgErrCheckViolation:
		return ErrorCodeValidation, true
	case pgErrCannotConnectNow:
		return ErrorCodeUnavailable, true
	}
	if strings.HasPrefix(pgErr.Code, "22") {
		return ErrorCodeInvalidArgument, true
	}
	return ErrorCodeDB, true
}

// FromPostgres wraps a pg error with a mapped ErrorCode and message and
// attaches the column name when Postgres reported one. nil stays nil.
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	code, ok := DBErrorCode(err)
	if !ok {
		code = ErrorCodeDB
	}
	out := Wrap(err, code, msg)
	if pgErr, ok := ExtractPgError(err); ok {
		if col := strings.TrimSpace(pgErr.ColumnName); col != "" {
			out = WithField(out, col)
		}
	}
	return out
}

// FromPostgresf is the formatted variant of FromPostgres
func FromPostgresf(err error, format string, a ...any) error {
	return FromPostgres(err, fmt.Sprintf(format, a...))
}
