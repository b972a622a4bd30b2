// Package sqlengine persists orm entities in SQL databases.
//
// An ORM holds the connection and the entity metadata, it is opened once per process:
//
//	o, err := sqlengine.OpenInMemory(ctx, sqlengine.WithEntities(User{}))
//	if err != nil { ... }
//	defer o.Close()
//
//	if err = o.Schema().RefreshDatabase(ctx); err != nil { ... }
//
// Units of work are forked from it. Each EntityManager tracks the entities it loaded or
// persisted in an identity map, and writes all changes in one transaction on Flush:
//
//	em := o.Fork()
//	user, err := sqlengine.Create[User](em, orm.Fields{"name": "Foo Bar", "location": orm.Fields{"name": "home"}})
//	err = em.Flush(ctx)
//
//	found, err := sqlengine.FindOneOrFail[User](ctx, o.Fork(), orm.Criteria{"email": "foo"}, orm.Populate("location"))
//
// Supported dialects are SQLite (database/sql with modernc.org/sqlite) and PostgreSQL
// (pgx pool, database/sql with lib/pq or pgx stdlib, or sqlx). SQL is generated with goqu
// in prepared mode, so all values are bound as arguments.
package sqlengine
