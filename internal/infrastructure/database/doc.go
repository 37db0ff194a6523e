// Package database provides the SQLite connection that stores camera
// devices and their synthesized commands.
//
// Open configures the go-sqlite3 driver with foreign keys, an optional WAL
// journal and a busy timeout, and limits the pool to the single writer SQLite
// supports. Migrate applies the embedded schema (see the top-level migrations
// package) one transaction per file.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
