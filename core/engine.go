package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// EmbeddedSQL is the analytical engine capability. One instance is opened per
// request and closed on every exit path; writes from distinct model nodes are
// serialized while reads may proceed in parallel.
type EmbeddedSQL interface {
	// Register materializes a dataframe as a named relation.
	Register(ctx context.Context, name string, df *DataFrame) error

	// Exec runs a DDL/DML statement such as CREATE TABLE ... AS.
	Exec(ctx context.Context, query string, placeholders map[string]any) error

	// Query runs a select and returns the full result.
	Query(ctx context.Context, query string, placeholders map[string]any) (*DataFrame, error)

	Close() error
}

// EngineOpener produces a fresh engine per request.
type EngineOpener func() (EmbeddedSQL, error)

// sqliteEngine backs the EmbeddedSQL capability with an in-memory SQLite
// database scoped to one request.
type sqliteEngine struct {
	db *sql.DB

	// serializes writes; SQLite tolerates concurrent readers on one handle
	wmu sync.Mutex
}

// OpenSQLiteEngine opens a private in-memory engine instance.
func OpenSQLiteEngine() (EmbeddedSQL, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "opening embedded engine")
	}
	// a single connection keeps every relation visible to every statement
	db.SetMaxOpenConns(1)
	return &sqliteEngine{db: db}, nil
}

func (e *sqliteEngine) Close() error {
	return e.db.Close()
}

func (e *sqliteEngine) Register(ctx context.Context, name string, df *DataFrame) (err error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	cols := make([]string, len(df.Columns))
	for i, c := range df.Columns {
		cols[i] = quoteIdent(c.Name) + " " + sqliteType(c.Type)
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err = e.db.ExecContext(ctx, create); err != nil {
		return errors.Wrapf(err, "creating relation %q", name)
	}
	if len(df.Rows) == 0 {
		return nil
	}

	marks := strings.TrimSuffix(strings.Repeat("?,", len(df.Columns)), ",")
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), marks)
	stmt, err := e.db.PrepareContext(ctx, insert)
	if err != nil {
		return errors.Wrapf(err, "preparing insert for %q", name)
	}
	defer stmt.Close()

	for _, row := range df.Rows {
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return errors.Wrapf(err, "loading relation %q", name)
		}
	}
	return nil
}

func (e *sqliteEngine) Exec(ctx context.Context, query string, placeholders map[string]any) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	_, err := e.db.ExecContext(ctx, query, namedArgs(placeholders)...)
	return err
}

func (e *sqliteEngine) Query(ctx context.Context, query string, placeholders map[string]any) (*DataFrame, error) {
	rows, err := e.db.QueryContext(ctx, query, namedArgs(placeholders)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// namedArgs converts the placeholder store into driver named arguments so
// user-entered values are never spliced into SQL text.
func namedArgs(placeholders map[string]any) []any {
	args := make([]any, 0, len(placeholders))
	for name, value := range placeholders {
		args = append(args, sql.Named(name, value))
	}
	return args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteType(t string) string {
	switch strings.ToLower(t) {
	case "integer", "int", "bigint", "boolean":
		return "INTEGER"
	case "float", "double", "real", "decimal", "number":
		return "REAL"
	default:
		return "TEXT"
	}
}

// scanRows drains a sql.Rows into a DataFrame.
func scanRows(rows *sql.Rows) (*DataFrame, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	df := &DataFrame{Columns: make([]Column, len(colTypes))}
	for i, ct := range colTypes {
		df.Columns[i] = Column{Name: ct.Name(), Type: strings.ToLower(ct.DatabaseTypeName())}
		if df.Columns[i].Type == "" {
			df.Columns[i].Type = "string"
		}
	}

	for rows.Next() {
		vals := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		df.Rows = append(df.Rows, vals)
	}
	return df, rows.Err()
}

// ConnectionSet holds the pooled external database connections declared by
// the project. Pools are shared across requests and closed on shutdown.
type ConnectionSet struct {
	pools map[string]*sql.DB
}

func NewConnectionSet(conns []ConnectionConfig) (*ConnectionSet, error) {
	cs := &ConnectionSet{pools: make(map[string]*sql.DB, len(conns))}
	for _, c := range conns {
		if _, ok := cs.pools[c.Name]; ok {
			cs.Close()
			return nil, cerr.Config("duplicate connection name %q", c.Name)
		}
		db, err := sql.Open(c.Driver, c.DSN)
		if err != nil {
			cs.Close()
			return nil, errors.Wrapf(err, "opening connection %q", c.Name)
		}
		cs.pools[c.Name] = db
	}
	return cs, nil
}

func (cs *ConnectionSet) Get(name string) (*sql.DB, error) {
	db, ok := cs.pools[name]
	if !ok {
		return nil, cerr.Config("unknown connection %q", name)
	}
	return db, nil
}

func (cs *ConnectionSet) Close() {
	for _, db := range cs.pools {
		db.Close() //nolint:errcheck
	}
}

// queryExternal pushes a query to an external connection and returns the
// full result for import into the engine.
func queryExternal(ctx context.Context, db *sql.DB, query string, placeholders map[string]any) (*DataFrame, error) {
	rows, err := db.QueryContext(ctx, query, namedArgs(placeholders)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}
