// Package database opens the hub's SQLite file and keeps its schema current.
//
// The schema is three migrations, embedded by the migrations package:
//
//	devices                   catalogue: stable ids per (adapter, reference)
//	device_{kind}_history     raw values, numeric kinds merged per bucket
//	device_{counter,level}_trends   hourly aggregates of history
//
// Migrate applies pending steps one transaction each; MigrateDown rolls back
// the latest. HealthCheck fails with ErrSchemaOutdated while any step is
// pending, and TableStats reports row counts by table group for the
// "grayhub migrate status" command.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
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
