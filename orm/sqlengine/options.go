package sqlengine

import (
	"fmt"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// Option defines a functional option for configuring the ORM.
type Option func(*ORM) error

// WithEntities registers the entity types the ORM maps. Related entity types are discovered.
func WithEntities(entities ...any) Option {
	return func(o *ORM) error {
		return o.registry.Register(entities...)
	}
}

// WithDialect sets the SQL dialect. Connections opened with pgx are always PostgreSQL.
func WithDialect(dialect Dialect) Option {
	return func(o *ORM) error {
		if !dialect.valid() {
			return fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
		}

		o.dialect = dialect

		return nil
	}
}

// WithLogger sets the logger for the ORM and all entity managers it forks.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: flush summaries, entity counts, durations (production-safe)
// Warn level: Non-critical issues like rollback or cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger orm.Logger) Option {
	return func(o *ORM) error {
		o.observer.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the ORM.
// The contextual logger receives the same messages as the Logger, together with the operation's context,
// which enables trace correlation when tracing is enabled.
func WithContextualLogger(logger orm.ContextualLogger) Option {
	return func(o *ORM) error {
		o.observer.contextualLogger = logger
		return nil
	}
}

// WithQueryParamsLogging adds the bound statement arguments to the debug log of each SQL statement.
func WithQueryParamsLogging(enabled bool) Option {
	return func(o *ORM) error {
		o.observer.logQueryParams = enabled
		return nil
	}
}

// WithMetrics sets the metrics collector for the ORM.
// It receives flush/query/count durations, entity counts, database errors and constraint violations.
func WithMetrics(collector orm.MetricsCollector) Option {
	return func(o *ORM) error {
		o.observer.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the ORM.
// It receives one span per flush, find and count operation.
func WithTracing(collector orm.TracingCollector) Option {
	return func(o *ORM) error {
		o.observer.tracingCollector = collector
		return nil
	}
}
