package sqlengine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	. "github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"     //nolint:revive
	. "github.com/AntonStoeckl/unit-of-work-orm-go/testutil/fixtures" //nolint:revive
	. "github.com/AntonStoeckl/unit-of-work-orm-go/testutil/helper"   //nolint:revive
)

var fakeClock = time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC)

func Test_EntityManager_Lifecycle(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	em := o.Fork()
	reader := FixtureReader("Jane", fakeClock)

	// transient
	assert.Equal(t, orm.Transient, em.State(reader))
	assert.False(t, em.Contains(reader))

	// pending
	require.NoError(t, em.Persist(reader))
	assert.Equal(t, orm.Pending, em.State(reader))
	assert.True(t, em.Contains(reader))

	// managed
	require.NoError(t, em.Flush(ctx))
	assert.Equal(t, orm.Managed, em.State(reader))

	// dirty
	require.NoError(t, em.MarkDirty(reader))
	assert.Equal(t, orm.Dirty, em.State(reader))
	require.NoError(t, em.Flush(ctx))
	assert.Equal(t, orm.Managed, em.State(reader))

	// removed
	require.NoError(t, em.Remove(reader))
	assert.Equal(t, orm.Removed, em.State(reader))

	// detached once deleted
	require.NoError(t, em.Flush(ctx))
	assert.Equal(t, orm.Detached, em.State(reader))
	assert.False(t, em.Contains(reader))
	assert.NotZero(t, reader.ID, "a deleted entity keeps its former identity")
}

func Test_EntityManager_Clear_DetachesEverything(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	reader := FixtureReader("Jane", fakeClock)
	em := GivenFlushed(t, ctx, o, reader)

	// act
	em.Clear()

	// assert
	assert.Equal(t, orm.Detached, em.State(reader))
	assert.ErrorIs(t, em.MarkDirty(reader), orm.ErrEntityNotManaged)
	assert.ErrorIs(t, em.Remove(reader), orm.ErrEntityNotManaged)
	assert.Equal(t, int64(1), CountStored(t, ctx, o, Reader{}, nil), "clear never touches the storage")
}

func Test_EntityManager_Persist_RejectsDetachedEntities(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	reader := FixtureReader("Jane", fakeClock)
	em := GivenFlushed(t, ctx, o, reader)
	em.Clear()

	// act
	err := em.Persist(reader)

	// assert
	assert.ErrorIs(t, err, orm.ErrEntityDetached)
}

func Test_EntityManager_Persist_RejectsNonPointers(t *testing.T) {
	// setup
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	em := o.Fork()

	// act + assert
	assert.ErrorIs(t, em.Persist(Reader{}), orm.ErrNotAPointer)
	assert.ErrorIs(t, em.Persist(nil), orm.ErrNotAPointer)
	assert.ErrorIs(t, em.Persist((*Reader)(nil)), orm.ErrNotAPointer)
}

func Test_EntityManager_Persist_RejectsUnregisteredTypes(t *testing.T) {
	// setup
	type unregistered struct {
		ID int64
	}
	o := GivenInMemoryORM(t, WithEntities(Entities()...))

	// act
	err := o.Fork().Persist(&unregistered{})

	// assert
	assert.ErrorIs(t, err, orm.ErrEntityNotRegistered)
}

func Test_EntityManager_Persist_CascadesToRelatedEntities(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	em := o.Fork()
	reader := FixtureReader("Jane", fakeClock)
	bookCopy := FixtureBookCopy("Learning Domain-Driven Design", 2021)
	lending := FixtureLending(bookCopy, reader, fakeClock)

	// act
	require.NoError(t, em.Persist(lending))

	// assert
	assert.Equal(t, orm.Pending, em.State(reader))
	assert.Equal(t, orm.Pending, em.State(bookCopy))

	require.NoError(t, em.Flush(ctx))
	assert.NotZero(t, reader.ID)
	assert.NotZero(t, bookCopy.ID)
	assert.Equal(t, reader.ID, lending.Reader.ID())
	assert.Equal(t, bookCopy.ID, lending.BookCopy.ID())
}

func Test_EntityManager_Persist_CancelsARemoval(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	reader := FixtureReader("Jane", fakeClock)
	em := GivenFlushed(t, ctx, o, reader)
	require.NoError(t, em.Remove(reader))

	// act
	require.NoError(t, em.Persist(reader))
	require.NoError(t, em.Flush(ctx))

	// assert
	assert.Equal(t, orm.Managed, em.State(reader))
	assert.Equal(t, int64(1), CountStored(t, ctx, o, Reader{}, nil))
}

func Test_EntityManager_Remove_UnregistersPendingEntities(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	em := o.Fork()
	reader := FixtureReader("Jane", fakeClock)
	require.NoError(t, em.Persist(reader))

	// act
	require.NoError(t, em.Remove(reader))
	require.NoError(t, em.Flush(ctx))

	// assert
	assert.Equal(t, orm.Transient, em.State(reader))
	assert.Equal(t, int64(0), CountStored(t, ctx, o, Reader{}, nil))
}

func Test_EntityManager_MarkDirty_RejectsRemovedEntities(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	reader := FixtureReader("Jane", fakeClock)
	em := GivenFlushed(t, ctx, o, reader)
	require.NoError(t, em.Remove(reader))

	// act
	err := em.MarkDirty(reader)

	// assert
	assert.ErrorIs(t, err, orm.ErrEntityNotManaged)
	assert.Equal(t, orm.Removed, em.State(reader))
}

func Test_EntityManager_Merge_AttachesADetachedEntity(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	reader := FixtureReader("Jane", fakeClock)
	GivenFlushed(t, ctx, o, reader)
	em := o.Fork()

	// act
	require.NoError(t, em.Merge(reader))

	// assert
	assert.Equal(t, orm.Managed, em.State(reader))

	found, err := FindByID[Reader](ctx, em, reader.ID)
	require.NoError(t, err)
	assert.Same(t, reader, found, "the merged instance is the one in the identity map")

	reader.Name = "Jane Doe"
	require.NoError(t, em.MarkDirty(reader))
	require.NoError(t, em.Flush(ctx))

	stored, err := FindByID[Reader](ctx, o.Fork(), reader.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", stored.Name)
}

func Test_EntityManager_Merge_RejectsAConflictingInstance(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	reader := FixtureReader("Jane", fakeClock)
	em := GivenFlushed(t, ctx, o, reader)

	copied := *reader

	// act
	err := em.Merge(&copied)

	// assert
	assert.ErrorIs(t, err, ErrIdentityConflict)
}

func Test_EntityManager_Detach_StopsTrackingOneEntity(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	jane := FixtureReader("Jane", fakeClock)
	john := FixtureReader("John", fakeClock)
	em := GivenFlushed(t, ctx, o, jane, john)

	// act
	em.Detach(jane)

	// assert
	assert.Equal(t, orm.Detached, em.State(jane))
	assert.Equal(t, orm.Managed, em.State(john))

	found, err := FindByID[Reader](ctx, em, jane.ID)
	require.NoError(t, err)
	assert.NotSame(t, jane, found, "a detached entity is loaded as a fresh instance")
}

func Test_Create_BuildsAndRegistersTheEntity(t *testing.T) {
	// setup
	ctx := TestContext(t)
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	em := o.Fork()
	reader := FixtureReader("Jane", fakeClock)

	// act
	bookCopy, err := Create[BookCopy](em, orm.Fields{
		"title":           "Learning Domain-Driven Design",
		"book_id":         GivenUniqueID(t),
		"PublicationYear": 2021,
		"price":           39.99,
		"reader":          reader,
		"isbn":            "978-1-098-10013-1",
		"authors":         "Vlad Khononov",
		"removed_at":      nil,
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, orm.Pending, em.State(bookCopy))
	assert.Equal(t, orm.Pending, em.State(reader), "the referenced reader is persisted as well")

	lentTo, loaded := bookCopy.Reader.Get()
	assert.True(t, loaded)
	assert.Same(t, reader, lentTo)

	require.NoError(t, em.Flush(ctx))
	assert.Equal(t, reader.ID, bookCopy.Reader.ID())
}

func Test_Create_RejectsUnknownFieldsAndInvalidValues(t *testing.T) {
	// setup
	o := GivenInMemoryORM(t, WithEntities(Entities()...))
	em := o.Fork()

	// act
	_, unknownErr := Create[Reader](em, orm.Fields{"nickname": "JJ"})
	_, invalidErr := Create[Reader](em, orm.Fields{"name": 42})
	_, nilErr := Create[Reader](em, orm.Fields{"registered_at": nil})

	// assert
	assert.ErrorIs(t, unknownErr, orm.ErrUnknownField)
	assert.ErrorIs(t, invalidErr, orm.ErrInvalidFieldValue)
	assert.ErrorIs(t, nilErr, orm.ErrInvalidFieldValue)
}
