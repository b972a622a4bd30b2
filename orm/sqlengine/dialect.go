package sqlengine

import (
	"fmt"
	"math"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // driver import

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// Dialect selects the SQL flavour the engine generates.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a dialect name (as used in configuration) to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
}

func (d Dialect) valid() bool {
	return d == DialectSQLite || d == DialectPostgres
}

func (d Dialect) builder() goqu.DialectWrapper {
	return goqu.Dialect(string(d))
}

// supportsReturning reports whether identities are read with INSERT ... RETURNING,
// otherwise the driver's last insert id is used.
func (d Dialect) supportsReturning() bool {
	return d == DialectPostgres
}

// offsetOnlyLimit returns the LIMIT that has to accompany an OFFSET without a limit.
// SQLite only accepts OFFSET after LIMIT, PostgreSQL needs none.
func (d Dialect) offsetOnlyLimit() (uint, bool) {
	if d == DialectSQLite {
		return math.MaxInt, true
	}

	return 0, false
}

func (d Dialect) quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func (d Dialect) primaryKeyDefinition() string {
	if d == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}

	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (d Dialect) columnType(field *orm.FieldMeta) string {
	switch field.ColumnType {
	case orm.ColumnInteger:
		if d == DialectPostgres {
			return "BIGINT"
		}
		return "INTEGER"
	case orm.ColumnReal:
		if d == DialectPostgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case orm.ColumnBoolean:
		return "BOOLEAN"
	case orm.ColumnTimestamp:
		if d == DialectPostgres {
			return "TIMESTAMPTZ"
		}
		// RFC 3339 text keeps the sub-second precision and the ordering
		return "TEXT"
	case orm.ColumnUUID:
		if d == DialectPostgres {
			return "UUID"
		}
		return "TEXT"
	case orm.ColumnJSON:
		if d == DialectPostgres {
			return "JSONB"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

func (d Dialect) dropTableSuffix() string {
	if d == DialectPostgres {
		return " CASCADE"
	}

	return ""
}
