// internal/database/database.go
//
// sqlx pool bootstrap.
//
// Context
// -------
// One process-wide pool backs every repository; the entity layer routes
// individual queries through it (or through an open transaction carried
// in the request context).  MySQL wire protocol; the DSN arrives from
// config with its password already resolved.
package database

import (
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

const (
	defaultMaxOpen = 15
	defaultMaxIdle = 5
	connLifetime   = 30 * time.Minute
)

// Open connects with the pool sizes the web binary runs on.  The pool
// is pinged before returning so a bad DSN fails at boot, not on the
// first request.
func Open(dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(dsn, defaultMaxOpen, defaultMaxIdle)
}

// OpenWithOptions tunes maxOpen and maxIdle per pool.
func OpenWithOptions(dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLifetime)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}
