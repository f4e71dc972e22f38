// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// enable the pq driver
	_ "github.com/lib/pq"
	// enable the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore abstracts access to the database.
//
// A sqlite store is a single-writer local store; a postgres store may be
// shared by many bus processes, with concurrency enforced by the atomic
// delivery claim.
type SQLStore struct {
	db     *sqlx.DB
	dsn    string
	logger logrus.FieldLogger
}

// New constructs a new instance of SQLStore.
func New(dsn string, logger logrus.FieldLogger) (*SQLStore, error) {
	scheme, source, found := strings.Cut(dsn, "://")
	if !found {
		return nil, errors.Errorf("failed to parse dsn scheme from %s", dsn)
	}

	var db *sqlx.DB
	var err error

	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		// sqlite sources aren't URLs: a file: prefix and query options
		// such as mode=memory must reach the driver untouched.
		db, err = sqlx.Connect("sqlite3", source)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to sqlite database")
		}

		// Override the default mapper to use the field names "as-is".
		db.MapperFunc(func(s string) string { return s })

		// The sqlite store is a single-writer local store, and cascade
		// deletes require foreign keys on for every connection.
		db.SetMaxOpenConns(1)
		if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, errors.Wrap(err, "failed to enable sqlite foreign keys")
		}

	case "postgres", "postgresql":
		parsed, parseErr := url.Parse(dsn)
		if parseErr != nil {
			return nil, errors.Wrap(parseErr, "failed to parse dsn as an url")
		}

		parsed.Scheme = "postgres"
		db, err = sqlx.Connect("postgres", parsed.String())
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to postgres database")
		}

		// Leave the default mapper as strings.ToLower.

	default:
		return nil, errors.Errorf("unsupported dsn scheme %s", scheme)
	}

	return &SQLStore{
		db:     db,
		dsn:    dsn,
		logger: logger,
	}, nil
}

// DriverName exposes the underlying sql driver, allowing the notify layer
// to detect whether server-side notifications are available.
func (sqlStore *SQLStore) DriverName() string {
	return sqlStore.db.DriverName()
}

// DSN returns the data source name the store was opened with.
func (sqlStore *SQLStore) DSN() string {
	return sqlStore.dsn
}

// Close closes the underlying database connection.
func (sqlStore *SQLStore) Close() error {
	return sqlStore.db.Close()
}

// queryer is an interface describing a resource that can query.
//
// It exactly matches sqlx.Queryer, existing simply to constrain sqlx usage to this file.
type queryer interface {
	sqlx.Queryer
}

// get queries for a single row, writing the result into dest.
//
// Use this to simplify querying for a single row or column. Dest may be a pointer to a simple
// type, or a struct with fields to be populated from the returned columns.
func (sqlStore *SQLStore) get(q sqlx.Queryer, dest interface{}, query string, args ...interface{}) error {
	query = sqlStore.db.Rebind(query)

	return sqlx.Get(q, dest, query, args...)
}

// builder is an interface describing a resource that can construct SQL and arguments.
//
// It exists to allow consuming any squirrel.*Builder type.
type builder interface {
	ToSql() (string, []interface{}, error)
}

// getBuilder queries for a single row, building the sql, and writing the result into dest.
//
// Use this to simplify querying for a single row or column. Dest may be a pointer to a simple
// type, or a struct with fields to be populated from the returned columns.
func (sqlStore *SQLStore) getBuilder(q sqlx.Queryer, dest interface{}, b builder) error {
	sqlString, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build sql")
	}

	sqlString = sqlStore.db.Rebind(sqlString)

	err = sqlx.Get(q, dest, sqlString, args...)
	if err != nil {
		return err
	}

	return nil
}

// selectBuilder queries for one or more rows, building the sql, and writing the result into dest.
//
// Use this to simplify querying for multiple rows (and possibly columns). Dest may be a slice of
// a simple, or a slice of a struct with fields to be populated from the returned columns.
func (sqlStore *SQLStore) selectBuilder(q sqlx.Queryer, dest interface{}, b builder) error {
	sqlString, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build sql")
	}

	sqlString = sqlStore.db.Rebind(sqlString)

	err = sqlx.Select(q, dest, sqlString, args...)
	if err != nil {
		return err
	}

	return nil
}

// execer is an interface describing a resource that can execute write queries.
//
// It allows the use of *sqlx.Db and *sqlx.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	DriverName() string
}

// exec executes the given query using positional arguments, automatically rebinding for the db.
func (sqlStore *SQLStore) exec(e execer, sqlString string, args ...interface{}) (sql.Result, error) {
	sqlString = sqlStore.db.Rebind(sqlString)
	return e.Exec(sqlString, args...)
}

// execBuilder executes the given query, building the necessary sql.
func (sqlStore *SQLStore) execBuilder(e execer, b builder) (sql.Result, error) {
	sqlString, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build sql")
	}

	return sqlStore.exec(e, sqlString, args...)
}
