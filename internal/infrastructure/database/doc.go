// Package database provides SQLite connectivity for the myQ bridge.
//
// The bridge keeps two small tables in SQLite: the key-value settings
// used for token state and configuration flags, and the paired device
// records. This package owns the connection and applies the embedded
// schema migrations.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and are
// applied once each, in version order, inside their own transaction.
package database
