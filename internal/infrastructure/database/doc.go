// Package database provides SQLite connectivity for the delivery journal.
//
// This package manages:
//   - Database connection with WAL mode and a busy timeout
//   - Schema migrations from an fs.FS (usually the embedded migrations package)
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Journal.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: each file pair is named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
