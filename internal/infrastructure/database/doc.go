// Package database provides SQLite connectivity for the AutoTouch run archive.
//
// This package manages:
//   - Database connection with WAL mode so status reads don't block archive writes
//   - Schema migrations read from an fs.FS (the embedded migrations package)
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql, and are additive: new columns must be nullable or carry a default.
package database
