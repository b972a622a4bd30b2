package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // driver import

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine/internal/adapters"
)

const (
	sqliteDriverName = "sqlite"
	inMemoryDSN      = ":memory:?_pragma=foreign_keys(1)"
)

// ORM owns the connection to the store and the entity metadata.
// It is safe for concurrent use, the units of work it forks are not.
type ORM struct {
	db       adapters.DBAdapter
	closer   func() error
	registry *orm.Registry
	dialect  Dialect
	observer *observer
}

// NewORMFromPGXPool creates a new ORM using a pgx Pool with optional configuration.
// The dialect is PostgreSQL.
func NewORMFromPGXPool(db *pgxpool.Pool, options ...Option) (*ORM, error) {
	if db == nil {
		return nil, orm.ErrNilDatabaseConnection
	}

	o, err := newORM(adapters.NewPGXAdapter(db), DialectPostgres, options...)
	if err != nil {
		return nil, err
	}

	if o.dialect != DialectPostgres {
		return nil, fmt.Errorf("%w: pgx connections require %q", ErrUnsupportedDialect, DialectPostgres)
	}

	return o, nil
}

// NewORMFromSQLDB creates a new ORM using a sql.DB with optional configuration.
// The dialect defaults to PostgreSQL, use WithDialect for SQLite.
func NewORMFromSQLDB(db *sql.DB, options ...Option) (*ORM, error) {
	if db == nil {
		return nil, orm.ErrNilDatabaseConnection
	}

	return newORM(adapters.NewSQLAdapter(db), DialectPostgres, options...)
}

// NewORMFromSQLX creates a new ORM using a sqlx.DB with optional configuration.
// The dialect defaults to PostgreSQL, use WithDialect for SQLite.
func NewORMFromSQLX(db *sqlx.DB, options ...Option) (*ORM, error) {
	if db == nil {
		return nil, orm.ErrNilDatabaseConnection
	}

	return newORM(adapters.NewSQLXAdapter(db), DialectPostgres, options...)
}

// OpenInMemory opens a fresh in-memory SQLite database and creates an ORM that owns it.
// The database lives as long as the ORM, Close releases it.
func OpenInMemory(ctx context.Context, options ...Option) (*ORM, error) {
	db, err := sql.Open(sqliteDriverName, inMemoryDSN)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verifying in-memory database: %w", pingErr)
	}

	options = append([]Option{WithDialect(DialectSQLite)}, options...)

	o, err := newORM(adapters.NewSQLAdapter(db), DialectSQLite, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if o.dialect != DialectSQLite {
		_ = db.Close()
		return nil, fmt.Errorf("%w: in-memory databases require %q", ErrUnsupportedDialect, DialectSQLite)
	}

	o.closer = db.Close

	return o, nil
}

func newORM(db adapters.DBAdapter, dialect Dialect, options ...Option) (*ORM, error) {
	registry, _ := orm.NewRegistry()

	o := &ORM{
		db:       db,
		registry: registry,
		dialect:  dialect,
		observer: &observer{},
	}

	for _, option := range options {
		if err := option(o); err != nil {
			return nil, err
		}
	}

	if len(o.registry.Entities()) == 0 {
		return nil, orm.ErrNoEntitiesRegistered
	}

	return o, nil
}

// Fork returns a new entity manager with an empty identity map.
// Each logical unit of work should use its own entity manager.
func (o *ORM) Fork() *EntityManager {
	return newEntityManager(o)
}

// Schema returns the schema manager for the registered entities.
func (o *ORM) Schema() *SchemaManager {
	return &SchemaManager{orm: o}
}

// Registry returns the entity metadata registry.
func (o *ORM) Registry() *orm.Registry {
	return o.registry
}

// Dialect returns the SQL dialect.
func (o *ORM) Dialect() Dialect {
	return o.dialect
}

// Close releases the database if the ORM opened it, connections passed in by the caller stay open.
func (o *ORM) Close() error {
	if o.closer == nil {
		return nil
	}

	closer := o.closer
	o.closer = nil

	if err := closer(); err != nil {
		o.observer.logWarn(context.Background(), logMsgCloseFailed, err)
		return errors.Join(ErrClosingDatabaseFailed, err)
	}

	return nil
}
