package helper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"
)

// TestContext returns a context that times out after 5 seconds and is canceled when the test ends.
func TestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

// GivenUniqueID returns a time-ordered UUID for test data that must not collide.
func GivenUniqueID(t testing.TB) uuid.UUID {
	id, err := uuid.NewV7()
	assert.NoError(t, err, "error in arranging test data")

	return id
}

// GivenUniqueEmail returns an email address no other test uses.
func GivenUniqueEmail(t testing.TB) string {
	return GivenUniqueID(t).String() + "@example.com"
}

// GivenInMemoryORM opens a fresh in-memory ORM with the schema of the given entities created.
// It is closed when the test ends.
func GivenInMemoryORM(t testing.TB, options ...sqlengine.Option) *sqlengine.ORM {
	ctx := TestContext(t)

	o, err := sqlengine.OpenInMemory(ctx, options...)
	require.NoError(t, err, "error opening the in-memory ORM in test setup")
	t.Cleanup(func() { _ = o.Close() })

	require.NoError(t, o.Schema().RefreshDatabase(ctx), "error creating the schema in test setup")

	return o
}

// GivenFlushed persists the entities in a fresh entity manager and flushes them.
// The returned entity manager still tracks them.
func GivenFlushed(t testing.TB, ctx context.Context, o *sqlengine.ORM, entities ...any) *sqlengine.EntityManager {
	em := o.Fork()

	for _, entity := range entities {
		require.NoError(t, em.Persist(entity), "error in arranging test data")
	}
	require.NoError(t, em.Flush(ctx), "error in arranging test data")

	return em
}

// CountStored counts the stored rows of entityType in a fresh entity manager, bypassing any identity map.
func CountStored(t testing.TB, ctx context.Context, o *sqlengine.ORM, entityType any, criteria orm.Criteria) int64 {
	count, err := o.Fork().CountAll(ctx, entityType, criteria)
	require.NoError(t, err, "error counting stored entities")

	return count
}
