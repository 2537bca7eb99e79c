// Package database provides the SQLite connection used by the Dobiss bridge.
//
// The bridge keeps the last known state of every output here, restored
// into the driver at startup. It also keeps a tally of bus frames it could
// not handle and the audit trail of API commands. Schema changes are
// additive migrations embedded from the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
