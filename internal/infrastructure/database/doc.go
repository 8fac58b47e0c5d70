// Package database opens the controller's SQLite store and applies its
// schema migrations.
//
// The store holds the start sequence run log and the relay session event
// log. It is opened in WAL mode with a single connection, which matches
// SQLite's single-writer model.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS()); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Migrations are additive: new columns must be
// nullable or carry a default.
package database
