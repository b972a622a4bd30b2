package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/unit-of-work-orm-go/example/core"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	. "github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"                   //nolint:revive
	. "github.com/AntonStoeckl/unit-of-work-orm-go/testutil/helper"                 //nolint:revive
	. "github.com/AntonStoeckl/unit-of-work-orm-go/testutil/helper/postgreswrapper" //nolint:revive
)

func Test_User_BasicCRUD(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)
	em := o.Fork()

	// create a user with an inline location
	user, err := Create[core.User](em, orm.Fields{
		"name":     "Foo",
		"email":    "foo",
		"location": orm.Fields{"name": "home", "address": "123 Main St"},
	})
	require.NoError(t, err)
	assert.Equal(t, orm.Pending, em.State(user))
	assert.Zero(t, user.ID, "nothing is written before the flush")

	require.NoError(t, em.Flush(ctx))
	assert.NotZero(t, user.ID, "flush assigns the identity")
	assert.NotZero(t, user.Location.ID(), "flush binds the identity of the related location")
	assert.Equal(t, orm.Managed, em.State(user))

	em.Clear()
	assert.Equal(t, orm.Detached, em.State(user))

	// read
	found, err := FindOneOrFail[core.User](ctx, em, orm.Criteria{"email": "foo"})
	require.NoError(t, err)
	assert.Equal(t, "Foo", found.Name)
	assert.Equal(t, user.ID, found.ID)
	assert.NotSame(t, user, found, "a cleared entity manager builds a fresh instance")

	// update
	found.Rename("Bar")
	require.NoError(t, em.MarkDirty(found))

	unflushed, err := FindOneOrFail[core.User](ctx, o.Fork(), orm.Criteria{"email": "foo"})
	require.NoError(t, err)
	assert.Equal(t, "Foo", unflushed.Name, "an unflushed change is invisible to another entity manager")

	require.NoError(t, em.Flush(ctx))

	flushed, err := FindOneOrFail[core.User](ctx, o.Fork(), orm.Criteria{"email": "foo"})
	require.NoError(t, err)
	assert.Equal(t, "Bar", flushed.Name)

	// delete
	require.NoError(t, em.Remove(found))
	require.NoError(t, em.Flush(ctx))

	count, err := Count[core.User](ctx, em, orm.Criteria{"email": "foo"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(1), CountRows(t, wrapper, "location"), "removing a user keeps its location")
}

func Test_User_RelationIsAStub_UnlessPopulated(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)

	// arrange
	em := GivenFlushed(t, ctx, o, core.NewUser("Foo", "foo", core.NewLocation("home", "123 Main St")))
	em.Clear()

	// act
	user, err := FindOneOrFail[core.User](ctx, em, orm.Criteria{"email": "foo"})

	// assert
	require.NoError(t, err)
	assert.False(t, user.Location.IsLoaded(), "the location was not requested, so it must be a stub")
	assert.NotZero(t, user.Location.ID(), "a stub knows the identity of the location")
	location, loaded := user.Location.Get()
	assert.False(t, loaded)
	assert.Nil(t, location)

	// act
	em.Clear()
	populated, err := FindOneOrFail[core.User](ctx, em, orm.Criteria{"email": "foo"}, orm.Populate("location"))

	// assert
	require.NoError(t, err)
	require.True(t, populated.Location.IsLoaded())
	location, loaded = populated.Location.Get()
	assert.True(t, loaded)
	assert.Equal(t, "home", location.Name)
	assert.Equal(t, "123 Main St", location.Address)
}

func Test_User_PopulateLoadsAStubOnDemand(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)

	// arrange
	GivenFlushed(t, ctx, o, core.NewUser("Foo", "foo", core.NewLocation("home", "123 Main St")))
	em := o.Fork()
	user, err := FindOneOrFail[core.User](ctx, em, orm.Criteria{"email": "foo"})
	require.NoError(t, err)
	require.False(t, user.Location.IsLoaded())

	// act
	err = em.Populate(ctx, user, "location")

	// assert
	require.NoError(t, err)
	location, loaded := user.Location.Get()
	require.True(t, loaded)
	assert.Equal(t, "home", location.Name)
	assert.Equal(t, orm.Managed, em.State(location))
}

func Test_User_DuplicateEmail_FailsTheFlush(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)
	em := o.Fork()

	// arrange
	first := core.NewUser("Foo", "foo", core.NewLocation("home", "123 Main St"))
	second := core.NewUser("Other Foo", "foo", core.NewLocation("work", "1 Office Park"))
	require.NoError(t, em.Persist(first))
	require.NoError(t, em.Persist(second))

	// act
	err := em.Flush(ctx)

	// assert
	assert.ErrorIs(t, err, orm.ErrFlushFailed)
	assert.ErrorIs(t, err, orm.ErrConstraintViolation)
	assert.ErrorIs(t, err, orm.ErrUniqueConstraintViolation)
	assert.NotErrorIs(t, err, orm.ErrNotFound)

	assert.Zero(t, first.ID, "identities assigned by the failed batch are reset")
	assert.Zero(t, second.ID)
	assert.Equal(t, orm.Pending, em.State(first), "the pending state survives a failed flush")
	assert.Equal(t, int64(0), CountRows(t, wrapper, "user"), "the failed batch leaves the store unchanged")
	assert.Equal(t, int64(0), CountRows(t, wrapper, "location"))
}

func Test_User_FlushCanBeRetried_AfterFixingTheCause(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)
	em := o.Fork()

	// arrange
	first := core.NewUser("Foo", "foo", core.NewLocation("home", "123 Main St"))
	second := core.NewUser("Other Foo", "foo", core.NewLocation("work", "1 Office Park"))
	require.NoError(t, em.Persist(first))
	require.NoError(t, em.Persist(second))
	require.Error(t, em.Flush(ctx))

	// act
	second.Email = "other-foo"
	err := em.Flush(ctx)

	// assert
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.NotZero(t, second.ID)
	assert.Equal(t, int64(2), CountRows(t, wrapper, "user"))
}

func Test_User_WithoutLocation_FailsTheFlush(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)
	em := o.Fork()

	// arrange
	_, err := Create[core.User](em, orm.Fields{"name": "Foo", "email": "foo"})
	require.NoError(t, err)

	// act
	err = em.Flush(ctx)

	// assert
	assert.ErrorIs(t, err, orm.ErrFlushFailed)
	assert.ErrorIs(t, err, orm.ErrMandatoryRelationMissing)
	assert.Equal(t, int64(0), CountRows(t, wrapper, "user"))
}

func Test_User_SharingALocation_ViolatesTheOneToOneRelation(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)

	// arrange
	home := core.NewLocation("home", "123 Main St")
	em := GivenFlushed(t, ctx, o, core.NewUser("Foo", "foo", home))

	// act
	require.NoError(t, em.Persist(core.NewUser("Bar", "bar", home)))
	err := em.Flush(ctx)

	// assert
	assert.ErrorIs(t, err, orm.ErrUniqueConstraintViolation)
	assert.Equal(t, int64(1), CountRows(t, wrapper, "user"))
}

func Test_User_FindOneOrFail_WithoutMatch_ReturnsNotFound(t *testing.T) {
	// setup
	ctx := TestContext(t)
	wrapper := CreateWrapperWithTestConfig(t, WithEntities(core.Entities()...))
	defer wrapper.Close()
	o := wrapper.GetORM()
	CleanUp(t, wrapper)

	// act
	user, err := FindOneOrFail[core.User](ctx, o.Fork(), orm.Criteria{"email": "nobody"})

	// assert
	assert.ErrorIs(t, err, orm.ErrNotFound)
	assert.NotErrorIs(t, err, orm.ErrConstraintViolation)
	assert.Nil(t, user)
}
