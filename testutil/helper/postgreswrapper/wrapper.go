// Package postgreswrapper runs ORM tests against the store selected by the ADAPTER_TYPE environment variable.
//
// Without ADAPTER_TYPE, or with "memory", tests run against in-memory SQLite.
// The PostgreSQL adapter types (pgxpool, sqldb, sqlx) read the DSN from ORM_TEST_POSTGRES_DSN
// and skip the test when it is not set.
package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/unit-of-work-orm-go/config"
	. "github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine" //nolint:revive
)

// Adapter type constants
const (
	typeMemory  = "memory"
	typePGXPool = "pgxpool"
	typeSQLDB   = "sqldb"
	typeSQLX    = "sqlx"

	envAdapterType = "ADAPTER_TYPE"
	envPostgresDSN = "ORM_TEST_POSTGRES_DSN"
)

// Wrapper interface to abstract over different adapter types
type Wrapper interface {
	GetORM() *ORM
	Close()
}

// MemoryWrapper wraps in-memory SQLite testing
type MemoryWrapper struct {
	orm *ORM
}

func (w *MemoryWrapper) GetORM() *ORM {
	return w.orm
}

func (w *MemoryWrapper) Close() {
	_ = w.orm.Close() // ignore error
}

// PGXPoolWrapper wraps pgxpool-based testing
type PGXPoolWrapper struct {
	pool *pgxpool.Pool
	orm  *ORM
}

func (w *PGXPoolWrapper) GetORM() *ORM {
	return w.orm
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing
type SQLDBWrapper struct {
	db  *sql.DB
	orm *ORM
}

func (w *SQLDBWrapper) GetORM() *ORM {
	return w.orm
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx.DB-based testing
type SQLXWrapper struct {
	db  *sqlx.DB
	orm *ORM
}

func (w *SQLXWrapper) GetORM() *ORM {
	return w.orm
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// AdapterType returns the adapter type selected by the environment.
func AdapterType() string {
	adapterType := strings.ToLower(os.Getenv(envAdapterType))
	if adapterType == "" {
		return typeMemory
	}

	return adapterType
}

// IsPostgres reports whether the selected adapter type talks to PostgreSQL.
func IsPostgres() bool {
	return AdapterType() != typeMemory
}

// CreateWrapperWithTestConfig creates the appropriate wrapper based on the environment variable.
// The options must register the entities the test uses.
func CreateWrapperWithTestConfig(t testing.TB, options ...Option) Wrapper {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapterType := AdapterType()
	if adapterType == typeMemory {
		o, err := OpenInMemory(ctx, options...)
		require.NoError(t, err, "error opening the in-memory ORM in test setup")

		return &MemoryWrapper{orm: o}
	}

	cfg := postgresTestConfig(t)

	switch adapterType {
	case typePGXPool:
		pool, err := config.OpenPGXPool(ctx, cfg)
		require.NoError(t, err, "error connecting to DB pool in test setup")
		o, err := NewORMFromPGXPool(pool, options...)
		require.NoError(t, err, "error creating the ORM in test setup")

		return &PGXPoolWrapper{pool: pool, orm: o}

	case typeSQLDB:
		db, err := config.OpenSQLDB(ctx, cfg)
		require.NoError(t, err, "error connecting to DB in test setup")
		o, err := NewORMFromSQLDB(db, options...)
		require.NoError(t, err, "error creating the ORM in test setup")

		return &SQLDBWrapper{db: db, orm: o}

	case typeSQLX:
		db, err := config.OpenSQLX(ctx, cfg)
		require.NoError(t, err, "error connecting to DB in test setup")
		o, err := NewORMFromSQLX(db, options...)
		require.NoError(t, err, "error creating the ORM in test setup")

		return &SQLXWrapper{db: db, orm: o}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterType))
	}
}

// CleanUp drops and recreates the tables of the registered entities for the given wrapper
func CleanUp(t testing.TB, wrapper Wrapper) {
	err := wrapper.GetORM().Schema().RefreshDatabase(context.Background())
	assert.NoError(t, err, "error refreshing the database")
}

// CountRows counts the rows of table with a raw statement, bypassing the ORM
func CountRows(t testing.TB, wrapper Wrapper, table string) int64 {
	query := fmt.Sprintf(`SELECT count(*) FROM %q`, table)

	var cnt int64
	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		err = w.pool.QueryRow(context.Background(), query).Scan(&cnt)

	case *SQLDBWrapper:
		err = w.db.QueryRow(query).Scan(&cnt)

	case *SQLXWrapper:
		err = w.db.Get(&cnt, query)

	case *MemoryWrapper:
		cnt, err = w.orm.Fork().CountAll(context.Background(), tableEntity(t, w.orm, table), nil)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	assert.NoError(t, err, "error counting rows")

	return cnt
}

// the in-memory database is owned by the ORM, so its rows are counted through it
func tableEntity(t testing.TB, o *ORM, table string) any {
	for _, meta := range o.Registry().Entities() {
		if meta.Table == table {
			return meta.New()
		}
	}

	require.Failf(t, "unknown table", "no registered entity is stored in %q", table)

	return nil
}

func postgresTestConfig(t testing.TB) *config.Config {
	dsn := os.Getenv(envPostgresDSN)
	if dsn == "" {
		t.Skipf("%s is not set", envPostgresDSN)
	}

	cfg := config.DefaultConfig()
	cfg.Database = config.DatabaseConfig{Dialect: "postgres", Driver: config.DriverSQL, DSN: dsn}
	cfg.Pool.MaxOpenConns = 10
	cfg.Pool.MinConns = 1

	return cfg
}
