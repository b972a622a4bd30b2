package sqlengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// SchemaManager generates and applies the DDL of the registered entities.
type SchemaManager struct {
	orm *ORM
}

// CreateSchemaSQL returns the CREATE TABLE statements of all registered entities,
// relation targets first.
func (s *SchemaManager) CreateSchemaSQL() []string {
	return s.createStatements(false)
}

// DropSchemaSQL returns the DROP TABLE statements of all registered entities, owners first.
func (s *SchemaManager) DropSchemaSQL() []string {
	entities := s.orm.registry.Entities()
	statements := make([]string, 0, len(entities))

	for i := len(entities) - 1; i >= 0; i-- {
		statements = append(statements, fmt.Sprintf(
			"DROP TABLE IF EXISTS %s%s",
			s.orm.dialect.quote(entities[i].Table),
			s.orm.dialect.dropTableSuffix(),
		))
	}

	return statements
}

// CreateSchema creates the tables of all registered entities. It fails if a table exists.
func (s *SchemaManager) CreateSchema(ctx context.Context) error {
	return s.run(ctx, s.createStatements(false))
}

// EnsureSchema creates the tables that do not exist yet, existing tables are left alone.
func (s *SchemaManager) EnsureSchema(ctx context.Context) error {
	return s.run(ctx, s.createStatements(true))
}

// DropSchema drops the tables of all registered entities.
func (s *SchemaManager) DropSchema(ctx context.Context) error {
	return s.run(ctx, s.DropSchemaSQL())
}

// RefreshDatabase drops and recreates the tables of all registered entities.
func (s *SchemaManager) RefreshDatabase(ctx context.Context) error {
	statements := append(s.DropSchemaSQL(), s.createStatements(false)...)

	return s.run(ctx, statements)
}

// ClearDatabase deletes all rows of the registered entities and keeps the tables.
func (s *SchemaManager) ClearDatabase(ctx context.Context) error {
	entities := s.orm.registry.Entities()
	statements := make([]string, 0, len(entities))

	for i := len(entities) - 1; i >= 0; i-- {
		statements = append(statements, "DELETE FROM "+s.orm.dialect.quote(entities[i].Table))
	}

	return s.run(ctx, statements)
}

func (s *SchemaManager) createStatements(ifNotExists bool) []string {
	entities := s.orm.registry.Entities()
	statements := make([]string, 0, len(entities))

	for _, meta := range entities {
		statements = append(statements, s.createTable(meta, ifNotExists))
	}

	return statements
}

func (s *SchemaManager) createTable(meta *orm.EntityMeta, ifNotExists bool) string {
	d := s.orm.dialect

	definitions := make([]string, 0, len(meta.Fields))
	for _, field := range meta.Fields {
		definitions = append(definitions, s.columnDefinition(field))
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(d.quote(meta.Table))
	sb.WriteString(" (\n\t")
	sb.WriteString(strings.Join(definitions, ",\n\t"))
	sb.WriteString("\n)")

	return sb.String()
}

func (s *SchemaManager) columnDefinition(field *orm.FieldMeta) string {
	d := s.orm.dialect

	if field.Primary {
		return d.quote(field.Column) + " " + d.primaryKeyDefinition()
	}

	definition := d.quote(field.Column) + " " + d.columnType(field)

	if !field.Nullable {
		definition += " NOT NULL"
	}

	if field.Unique {
		definition += " UNIQUE"
	}

	if field.IsRelation() {
		target := field.Relation.Target
		definition += fmt.Sprintf(" REFERENCES %s (%s)", d.quote(target.Table), d.quote(target.Primary.Column))
	}

	return definition
}

// run executes statements in one transaction.
func (s *SchemaManager) run(ctx context.Context, statements []string) error {
	tx, err := s.orm.db.Begin(ctx)
	if err != nil {
		return errors.Join(orm.ErrSchemaFailed, ErrTransactionFailed, err)
	}

	for _, statement := range statements {
		if _, execErr := s.orm.exec(ctx, tx, statement, nil, logActionSchema); execErr != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				s.orm.observer.logWarn(ctx, logMsgRollbackFailed, rollbackErr)
			}

			return errors.Join(orm.ErrSchemaFailed, execErr)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return errors.Join(orm.ErrSchemaFailed, ErrTransactionFailed, err)
	}

	s.orm.observer.logOperation(ctx, logMsgSchemaStatement, logAttrCount, len(statements))

	return nil
}
