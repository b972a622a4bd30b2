// Package orm provides the core abstractions of a data-mapper persistence layer
// with entity identity, relation declaration and a unit-of-work.
//
// This package is storage agnostic. It derives entity metadata (the schema source of truth)
// from plain Go structs, and defines relation references, query criteria, find options,
// lifecycle states and the common error definitions used by the engines.
//
// Entities are declared with struct tags:
//
//	type Location struct {
//		ID      int64 `orm:"primary"`
//		Name    string
//		Address string
//	}
//
//	type User struct {
//		ID       int64 `orm:"primary"`
//		Name     string
//		Email    string             `orm:"unique"`
//		Location orm.Ref[Location] `orm:"one_to_one"`
//	}
//
// Supported tag options:
//   - primary: the system-assigned int64 identity (a field named ID is primary by default)
//   - unique: a uniqueness constraint on the column
//   - nullable: the column accepts NULL (pointer fields are always nullable)
//   - column=<name>: overrides the snake_case column name
//   - json: the value is stored as JSON text
//   - one_to_one, many_to_one: the field is a relation, it must be of type Ref[T]
//   - "-": the field is not mapped
//
// Relations are never populated silently. A Ref[T] returned by a query is either loaded
// (IsLoaded reports true and Get returns the entity) or a stub that only knows the identity
// of the related entity:
//
//	user, err := sqlengine.FindOneOrFail[User](ctx, em, orm.Criteria{"email": "foo"})
//	if location, loaded := user.Location.Get(); loaded {
//		fmt.Println(location.Name)
//	}
//
//	user, err = sqlengine.FindOneOrFail[User](ctx, em, orm.Criteria{"email": "foo"}, orm.Populate("location"))
package orm
