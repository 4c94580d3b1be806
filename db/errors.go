package db

import (
	"strings"

	"github.com/teranos/brandguard/errors"
)

// ErrDatabaseClosed is returned when the ledger is used after shutdown closed it
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is closed.
// The driver returns its own error values, so its message is matched too.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
