package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"
)

// Store is an ORM together with the connection it was opened on.
type Store struct {
	ORM   *sqlengine.ORM
	close func() error
}

// Close closes the ORM and the underlying connection.
func (s *Store) Close() error {
	if err := s.ORM.Close(); err != nil {
		return err
	}

	if s.close != nil {
		return s.close()
	}

	return nil
}

// Open connects to the configured store and creates an ORM on it.
// Logging options derived from cfg.Log are prepended, so options can override them.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, options ...sqlengine.Option) (*Store, error) {
	dialect, err := sqlengine.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}

	options = append([]sqlengine.Option{sqlengine.WithDialect(dialect)}, append(loggingOptions(cfg, logger), options...)...)

	switch cfg.Database.Driver {
	case DriverMemory:
		o, openErr := sqlengine.OpenInMemory(ctx, options...)
		if openErr != nil {
			return nil, openErr
		}

		return &Store{ORM: o}, nil

	case DriverPGXPool:
		pool, openErr := OpenPGXPool(ctx, cfg)
		if openErr != nil {
			return nil, openErr
		}

		o, ormErr := sqlengine.NewORMFromPGXPool(pool, options...)
		if ormErr != nil {
			pool.Close()
			return nil, ormErr
		}

		return &Store{ORM: o, close: func() error { pool.Close(); return nil }}, nil

	case DriverSQL:
		db, openErr := OpenSQLDB(ctx, cfg)
		if openErr != nil {
			return nil, openErr
		}

		o, ormErr := sqlengine.NewORMFromSQLDB(db, options...)
		if ormErr != nil {
			_ = db.Close()
			return nil, ormErr
		}

		return &Store{ORM: o, close: db.Close}, nil

	case DriverSQLX:
		db, openErr := OpenSQLX(ctx, cfg)
		if openErr != nil {
			return nil, openErr
		}

		o, ormErr := sqlengine.NewORMFromSQLX(db, options...)
		if ormErr != nil {
			_ = db.Close()
			return nil, ormErr
		}

		return &Store{ORM: o, close: db.Close}, nil

	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Database.Driver)
	}
}

// OpenPGXPool opens and pings a pgx pool configured from cfg.
func OpenPGXPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	poolConfig.MaxConns = int32(cfg.Pool.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Pool.MinConns)
	poolConfig.MaxConnLifetime = cfg.Pool.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Pool.ConnMaxIdleTime
	poolConfig.HealthCheckPeriod = cfg.Pool.HealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = cfg.Pool.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// OpenSQLDB opens and pings a database/sql connection pool configured from cfg.
func OpenSQLDB(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := sql.Open(driverName(cfg), cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	configurePool(db, cfg)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// OpenSQLX opens and pings a sqlx connection pool configured from cfg.
func OpenSQLX(ctx context.Context, cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName(cfg), cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	configurePool(db.DB, cfg)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// NewLogger creates the slog logger described by cfg.Log, writing to stderr.
func NewLogger(cfg *Config) *slog.Logger {
	options := &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}

	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

func loggingOptions(cfg *Config, logger *slog.Logger) []sqlengine.Option {
	if logger == nil {
		return nil
	}

	options := []sqlengine.Option{sqlengine.WithContextualLogger(logger)}
	if cfg.Log.QueryParams {
		options = append(options, sqlengine.WithQueryParamsLogging(true))
	}

	// SQL statements are logged at debug level, without query logging the logger is kept above it
	if !cfg.Log.Queries && logLevel(cfg.Log.Level) == slog.LevelDebug {
		options[0] = sqlengine.WithContextualLogger(slog.New(&minLevelHandler{
			Handler: logger.Handler(),
			min:     slog.LevelInfo,
		}))
	}

	return options
}

func driverName(cfg *Config) string {
	switch strings.ToLower(cfg.Database.Dialect) {
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return "postgres"
	}
}

func configurePool(db *sql.DB, cfg *Config) {
	db.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.Pool.ConnMaxIdleTime)
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// minLevelHandler drops records below min.
type minLevelHandler struct {
	slog.Handler
	min slog.Level
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.Handler.Enabled(ctx, level)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{Handler: h.Handler.WithGroup(name), min: h.min}
}
