package store

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateKey is returned when a license key string already exists.
var ErrDuplicateKey = errors.New("duplicate license key")

type scanner interface{ Scan(...any) error }

// isUniqueViolation reports whether err is SQLite's UNIQUE constraint error
// for the given table.column.
func isUniqueViolation(err error, column string) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) || serr.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return false
	}
	return strings.Contains(serr.Error(), "UNIQUE constraint failed: "+column)
}
