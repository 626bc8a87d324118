package store

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// transientSQLStates are PostgreSQL codes worth retrying:
// admin/crash shutdown, cannot connect now, too many connections.
var transientSQLStates = map[string]bool{
	"57P01": true,
	"57P02": true,
	"57P03": true,
	"53300": true,
}

// IsTransient reports whether err is a connectivity or timeout failure
// expected to clear on retry. Logical errors (not found, constraint
// violations, validation) are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isTransientSQLState(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientSQLState(pgErr.Code)
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"sql: database is closed",
		"database is locked",
		"sqlite_busy",
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint failure
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isTransientSQLState(code string) bool {
	// Class 08: connection exception
	if strings.HasPrefix(code, "08") {
		return true
	}
	return transientSQLStates[code]
}
