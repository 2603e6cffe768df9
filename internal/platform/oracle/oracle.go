// Package oracle opens database/sql handles against the MiddleCare Oracle
// instances.
package oracle

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/godror/godror"
)

// Open connects to the Oracle instance behind dsn (godror connection string,
// e.g. `user/pass@host:1521/service`) and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("godror", dsn)
	if err != nil {
		return nil, fmt.Errorf("open oracle: %w", err)
	}
	// Extraction is strictly sequential; one connection is enough and avoids
	// piling sessions onto the clinical database.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping oracle: %w", err)
	}
	return db, nil
}
