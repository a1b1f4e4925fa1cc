package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	// Check constraints and foreign keys also mention "constraint"; only
	// uniqueness failures are retried, so match on the narrower wording.
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") || strings.Contains(lower, "duplicate")
}

// violatesUniqueOn reports whether err is a uniqueness violation on an index
// or column whose name contains column.
//
// postgres exposes the constraint name; mysql and sqlite only mention the
// index or column in the message text.
func violatesUniqueOn(err error, column string) bool {
	if !isUniqueConstraintError(err) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		return strings.Contains(pgErr.ConstraintName, column)
	}
	return strings.Contains(strings.ToLower(err.Error()), column)
}
