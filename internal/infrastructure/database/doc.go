// Package database opens the SQLite file behind the bridge journal and
// keeps its schema current.
//
// Open creates the parent directory, tightens the file to 0600 and limits
// the pool to one connection; WAL mode is optional. Migrate applies the
// pending files from MigrationsFS in version order and MigrateDown undoes
// the newest one:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx)
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// .down.sql twin. Importing the migrations package registers the journal
// schema.
package database
