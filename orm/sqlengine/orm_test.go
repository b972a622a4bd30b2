package sqlengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	. "github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"     //nolint:revive
	. "github.com/AntonStoeckl/unit-of-work-orm-go/testutil/fixtures" //nolint:revive
	. "github.com/AntonStoeckl/unit-of-work-orm-go/testutil/helper"   //nolint:revive
)

func Test_NewORM_RejectsNilConnections(t *testing.T) {
	// act
	_, pgxErr := NewORMFromPGXPool(nil, WithEntities(Entities()...))
	_, sqlErr := NewORMFromSQLDB(nil, WithEntities(Entities()...))
	_, sqlxErr := NewORMFromSQLX(nil, WithEntities(Entities()...))

	// assert
	assert.ErrorIs(t, pgxErr, orm.ErrNilDatabaseConnection)
	assert.ErrorIs(t, sqlErr, orm.ErrNilDatabaseConnection)
	assert.ErrorIs(t, sqlxErr, orm.ErrNilDatabaseConnection)
}

func Test_OpenInMemory_RequiresEntities(t *testing.T) {
	// setup
	ctx := TestContext(t)

	// act
	o, err := OpenInMemory(ctx)

	// assert
	assert.ErrorIs(t, err, orm.ErrNoEntitiesRegistered)
	assert.Nil(t, o)
}

func Test_OpenInMemory_RejectsOtherDialects(t *testing.T) {
	// setup
	ctx := TestContext(t)

	// act
	_, postgresErr := OpenInMemory(ctx, WithEntities(Entities()...), WithDialect(DialectPostgres))
	_, unknownErr := OpenInMemory(ctx, WithEntities(Entities()...), WithDialect("oracle"))

	// assert
	assert.ErrorIs(t, postgresErr, ErrUnsupportedDialect)
	assert.ErrorIs(t, unknownErr, ErrUnsupportedDialect)
}

func Test_OpenInMemory_RejectsInvalidEntities(t *testing.T) {
	// setup
	ctx := TestContext(t)

	type withoutIdentity struct {
		Name string
	}

	// act
	_, err := OpenInMemory(ctx, WithEntities(withoutIdentity{}))

	// assert
	assert.ErrorIs(t, err, orm.ErrMissingPrimaryKey)
	assert.True(t, orm.IsRegistrationError(err))
}

func Test_ORM_Close_IsIdempotent(t *testing.T) {
	// setup
	o, err := OpenInMemory(context.Background(), WithEntities(Entities()...))
	require.NoError(t, err)

	// act + assert
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
}

func Test_ORM_Fork_ReturnsIndependentEntityManagers(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	reader := FixtureReader("Jane", fakeClock)
	em := GivenFlushed(t, ctx, o, reader)

	// act
	other := o.Fork()
	found, err := FindByID[Reader](ctx, other, reader.ID)

	// assert
	require.NoError(t, err)
	assert.NotSame(t, reader, found)
	assert.Equal(t, orm.Managed, em.State(reader))
	assert.Equal(t, orm.Detached, other.State(reader))
	assert.Same(t, o, other.ORM())
	assert.Equal(t, DialectSQLite, o.Dialect())
}

func Test_ParseDialect(t *testing.T) {
	testCases := []struct {
		name     string
		expected Dialect
	}{
		{name: "sqlite", expected: DialectSQLite},
		{name: "SQLite3", expected: DialectSQLite},
		{name: "postgres", expected: DialectPostgres},
		{name: " postgresql ", expected: DialectPostgres},
		{name: "pg", expected: DialectPostgres},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			dialect, err := ParseDialect(tc.name)

			// assert
			require.NoError(t, err)
			assert.Equal(t, tc.expected, dialect)
		})
	}

	_, err := ParseDialect("oracle")
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}
