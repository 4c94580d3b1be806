package commands

import (
	"database/sql"

	"github.com/teranos/brandguard/am"
	"github.com/teranos/brandguard/db"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/logger"
)

// openLedgerDB opens and migrates the ledger database. An explicit path
// wins over database.path.
func openLedgerDB(cfg *am.Config, path string) (*sql.DB, string, error) {
	if path == "" {
		path = cfg.Database.Path
	}
	if path == "" {
		path = am.DefaultDatabasePath
	}
	database, err := db.OpenWithMigrations(path, logger.ComponentLogger("db"))
	if err != nil {
		return nil, path, errors.Wrapf(err, "failed to open ledger at %s", path)
	}
	return database, path, nil
}
