// Package database provides the SQLite store behind the device inventory
// and the control audit trail.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Applying versioned up/down migrations from an fs.FS
//   - Health checks and transaction helpers
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
