package orm_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/AntonStoeckl/unit-of-work-orm-go/orm"               //nolint:revive
	. "github.com/AntonStoeckl/unit-of-work-orm-go/testutil/fixtures" //nolint:revive
)

type address struct {
	ID     int64
	Street string
}

type customer struct {
	CustomerNo int64 `orm:"primary"`
	FullName   string
	Nickname   *string
	Photo      []byte `orm:"json"`
	Secret     string `orm:"-"`
	internal   string //nolint:unused
	Billing    Ref[address] `orm:"many_to_one;nullable;column=billing_address"`
	Home       Ref[address]
}

type renamed struct {
	ID int64
}

func (renamed) TableName() string {
	return "legacy_renamed"
}

func Test_Registry_ParsesFieldsFromTags(t *testing.T) {
	// act
	registry, err := NewRegistry(customer{})

	// assert
	require.NoError(t, err)
	meta, err := registry.MetaOf(customer{})
	require.NoError(t, err)

	assert.Equal(t, "customer", meta.Table)
	assert.Equal(t, []string{"customer_no", "full_name", "nickname", "photo", "billing_address", "home_id"}, meta.Columns())
	assert.Equal(t, "CustomerNo", meta.Primary.Name)

	nickname, ok := meta.Field("nickname")
	require.True(t, ok)
	assert.True(t, nickname.Nullable, "pointer fields are nullable")
	assert.Equal(t, ColumnText, nickname.ColumnType)

	photo, ok := meta.Field("Photo")
	require.True(t, ok)
	assert.True(t, photo.JSON)
	assert.True(t, photo.Nullable, "JSON slices are nullable")

	billing, ok := meta.Field("billing_address")
	require.True(t, ok)
	assert.Equal(t, ManyToOne, billing.Relation.Kind)
	assert.True(t, billing.Nullable)
	assert.False(t, billing.Unique)

	home, ok := meta.Field("home")
	require.True(t, ok)
	assert.Equal(t, OneToOne, home.Relation.Kind, "relations without a kind are one to one")
	assert.True(t, home.Unique, "one to one relations hold a unique foreign key")
	assert.False(t, home.Nullable)
	assert.Equal(t, "address", home.Relation.Target.Table, "relation targets are registered implicitly")

	_, ok = meta.Field("Secret")
	assert.False(t, ok, "skipped fields are not mapped")
	_, ok = meta.Field("internal")
	assert.False(t, ok, "unexported fields are not mapped")
}

func Test_Registry_MapsColumnTypes(t *testing.T) {
	// setup
	registry, err := NewRegistry(Reader{}, BookCopy{})
	require.NoError(t, err)
	reader, err := registry.MetaOf(&Reader{})
	require.NoError(t, err)
	bookCopy, err := registry.MetaOf(BookCopy{})
	require.NoError(t, err)

	testCases := []struct {
		meta     *EntityMeta
		field    string
		expected ColumnType
	}{
		{meta: reader, field: "ID", expected: ColumnInteger},
		{meta: reader, field: "CardID", expected: ColumnUUID},
		{meta: reader, field: "Name", expected: ColumnText},
		{meta: reader, field: "Active", expected: ColumnBoolean},
		{meta: reader, field: "Preferences", expected: ColumnJSON},
		{meta: reader, field: "RegisteredAt", expected: ColumnTimestamp},
		{meta: bookCopy, field: "Price", expected: ColumnReal},
		{meta: bookCopy, field: "RemovedAt", expected: ColumnTimestamp},
		{meta: bookCopy, field: "Reader", expected: ColumnInteger},
	}

	for _, tc := range testCases {
		t.Run(tc.meta.Name+"."+tc.field, func(t *testing.T) {
			field, ok := tc.meta.Field(tc.field)
			require.True(t, ok)
			assert.Equal(t, tc.expected, field.ColumnType)
		})
	}
}

func Test_Registry_UsesTheTableNamer(t *testing.T) {
	// act
	registry, err := NewRegistry(&renamed{})

	// assert
	require.NoError(t, err)
	meta, err := registry.MetaOf(renamed{})
	require.NoError(t, err)
	assert.Equal(t, "legacy_renamed", meta.Table)
}

func Test_Registry_OrdersRelationTargetsFirst(t *testing.T) {
	// act
	registry, err := NewRegistry(Lending{}, BookCopy{}, Reader{})

	// assert
	require.NoError(t, err)

	names := make([]string, 0)
	for _, meta := range registry.Entities() {
		names = append(names, meta.Name)
	}
	assert.Equal(t, []string{"Reader", "BookCopy", "Lending"}, names)
}

func Test_Registry_RejectsInvalidDeclarations(t *testing.T) {
	type withoutPrimaryKey struct {
		Name string
	}

	type withStringID struct {
		ID string
	}

	type withUnknownOption struct {
		ID   int64
		Name string `orm:"indexed"`
	}

	type withUnsupportedType struct {
		ID     int64
		Labels map[string]string
	}

	type withRelationTagOnScalar struct {
		ID      int64
		OwnerID int64 `orm:"many_to_one"`
	}

	type withDuplicateColumn struct {
		ID    int64
		Name  string
		Alias string `orm:"column=name"`
	}

	type withTwoPrimaryKeys struct {
		ID    int64 `orm:"primary"`
		Other int64 `orm:"primary"`
	}

	testCases := []struct {
		description string
		entity      any
		expected    error
	}{
		{description: "no primary key", entity: withoutPrimaryKey{}, expected: ErrMissingPrimaryKey},
		{description: "ID that is no int64", entity: withStringID{}, expected: ErrMissingPrimaryKey},
		{description: "unknown tag option", entity: withUnknownOption{}, expected: ErrInvalidTag},
		{description: "unsupported field type", entity: withUnsupportedType{}, expected: ErrUnsupportedFieldType},
		{description: "relation tag on a scalar", entity: withRelationTagOnScalar{}, expected: ErrInvalidTag},
		{description: "duplicate column", entity: withDuplicateColumn{}, expected: ErrInvalidTag},
		{description: "two primary keys", entity: withTwoPrimaryKeys{}, expected: ErrInvalidTag},
		{description: "not a struct", entity: 42, expected: ErrNotAStruct},
		{description: "nil", entity: nil, expected: ErrNotAStruct},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// act
			_, err := NewRegistry(tc.entity)

			// assert
			assert.ErrorIs(t, err, tc.expected)
			assert.True(t, IsRegistrationError(err))
		})
	}
}

type cycleA struct {
	ID int64
	B  Ref[cycleB]
}

type cycleB struct {
	ID int64
	A  Ref[cycleA] `orm:"nullable"`
}

func Test_Registry_RejectsRelationCycles_AndRollsBack(t *testing.T) {
	// setup
	registry, err := NewRegistry(Reader{})
	require.NoError(t, err)

	// act
	err = registry.Register(cycleA{})

	// assert
	assert.ErrorIs(t, err, ErrRelationCycle)
	assert.Len(t, registry.Entities(), 1, "a failed registration leaves the registry unchanged")
	_, err = registry.MetaOf(cycleB{})
	assert.ErrorIs(t, err, ErrEntityNotRegistered)
}

func Test_EntityMeta_PrimaryKeyAccess(t *testing.T) {
	// setup
	registry, err := NewRegistry(Reader{})
	require.NoError(t, err)
	meta, err := registry.MetaOf(Reader{})
	require.NoError(t, err)
	reader := FixtureReader("Jane", time.Now())

	// act
	meta.SetPrimaryKey(reader, 42)

	// assert
	assert.Equal(t, PrimaryKey(42), reader.ID)
	assert.Equal(t, PrimaryKey(42), meta.PrimaryKeyOf(reader))
	assert.Equal(t, PrimaryKey(42), meta.PrimaryKeyOf(*reader))

	created, ok := meta.New().(*Reader)
	require.True(t, ok)
	assert.Zero(t, created.ID)
	assert.Equal(t, uuid.Nil, created.CardID)
}

func Test_EntityMeta_Field_LooksUpByNameColumnOrCaseInsensitiveName(t *testing.T) {
	// setup
	registry, err := NewRegistry(Reader{})
	require.NoError(t, err)
	meta, err := registry.MetaOf(Reader{})
	require.NoError(t, err)

	for _, key := range []string{"RegisteredAt", "registered_at", "registeredAt"} {
		t.Run(key, func(t *testing.T) {
			field, ok := meta.Field(key)
			require.True(t, ok)
			assert.Equal(t, "RegisteredAt", field.Name)
		})
	}

	_, ok := meta.Field("registered")
	assert.False(t, ok)
}
