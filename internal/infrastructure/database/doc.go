// Package database opens the SQLite file that holds the bridge's reading
// log and keeps its schema current.
//
// Open creates missing directories, restricts the file to 0600 and pins the
// pool to one connection. Migrations are read from an fs.FS, normally the
// embedded migrations.FS, and applied oldest first:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_name.up.sql with an optional
// matching .down.sql. Anything else in the directory is ignored.
//
// After retention pruning deletes many rows, Checkpoint truncates the WAL so
// the file on disk shrinks back.
package database
