// Package database provides the bridge's SQLite store.
//
// It owns connection setup (WAL mode, busy timeout, single writer) and
// versioned schema migrations. Migration files are supplied by the caller
// as an fs.FS, normally the embedded set in the top-level migrations
// package:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migrations are additive; MigrateDown exists for development only.
package database
