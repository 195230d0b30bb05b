// Package database holds the SQLite file behind the bus recorder.
//
// Open creates the file (mode 0600) and its directory, switches to WAL
// when configured and limits the pool to one connection. Schema changes
// live in the top-level migrations package, which registers its embedded
// files with RegisterMigrations:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql, with an
// optional matching .down.sql. MigrationStatus and Rollback back the
// `knxnetip db` command.
package database
