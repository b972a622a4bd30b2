package sqlengine

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

var (
	// ErrUnsupportedDialect is returned for dialects the engine can not generate SQL for.
	ErrUnsupportedDialect = errors.New("unsupported dialect")

	// ErrEncodingValueFailed is returned when a field value can not be bound as a statement argument.
	ErrEncodingValueFailed = errors.New("encoding field value failed")

	// ErrClosingDatabaseFailed is returned when an owned database could not be closed.
	ErrClosingDatabaseFailed = errors.New("closing database failed")

	// ErrTransactionFailed wraps failures to begin, commit or roll back a transaction.
	ErrTransactionFailed = errors.New("transaction failed")
)

const (
	pgCodeUniqueViolation     = "23505"
	pgCodeNotNullViolation    = "23502"
	pgCodeForeignKeyViolation = "23503"
	pgClassIntegrity          = "23"
)

type constraintKind int

const (
	noConstraint constraintKind = iota
	uniqueConstraint
	notNullConstraint
	foreignKeyConstraint
	otherConstraint
)

// classifyConstraintError joins err with the orm sentinel for the violated constraint.
// Errors that are not constraint violations are returned unchanged.
func classifyConstraintError(err error) error {
	switch constraintKindOf(err) {
	case uniqueConstraint:
		return errors.Join(orm.ErrConstraintViolation, orm.ErrUniqueConstraintViolation, err)
	case notNullConstraint, foreignKeyConstraint:
		return errors.Join(orm.ErrConstraintViolation, orm.ErrMandatoryRelationMissing, err)
	case otherConstraint:
		return errors.Join(orm.ErrConstraintViolation, err)
	default:
		return err
	}
}

func constraintKindOf(err error) constraintKind {
	if err == nil {
		return noConstraint
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return uniqueConstraint
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return notNullConstraint
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return foreignKeyConstraint
		}

		if sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return otherConstraint
		}

		return noConstraint
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return constraintKindOfSQLState(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return constraintKindOfSQLState(string(pqErr.Code))
	}

	// other drivers, e.g. mattn/go-sqlite3, only expose the message reliably
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "unique constraint"):
		return uniqueConstraint
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return notNullConstraint
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return foreignKeyConstraint
	default:
		return noConstraint
	}
}

func constraintKindOfSQLState(code string) constraintKind {
	switch {
	case code == pgCodeUniqueViolation:
		return uniqueConstraint
	case code == pgCodeNotNullViolation:
		return notNullConstraint
	case code == pgCodeForeignKeyViolation:
		return foreignKeyConstraint
	case strings.HasPrefix(code, pgClassIntegrity):
		return otherConstraint
	default:
		return noConstraint
	}
}
