package orm

import (
	"reflect"
)

// Ref is a reference to a related entity of type T.
//
// A Ref is in one of three states:
//   - empty: neither an identity nor an entity is known (IsZero reports true)
//   - stub: only the identity of the related entity is known, its fields were not loaded
//   - loaded: the related entity is available through Get
//
// The loaded state is explicit on purpose: a stub never pretends to be a populated entity.
type Ref[T any] struct {
	id     PrimaryKey
	entity *T
}

// RefTo returns a loaded reference to entity.
// The identity of a transient entity is bound by the engine once the entity was flushed.
func RefTo[T any](entity *T) Ref[T] {
	return Ref[T]{entity: entity}
}

// StubRef returns a reference that only knows the identity of the related entity.
func StubRef[T any](id PrimaryKey) Ref[T] {
	return Ref[T]{id: id}
}

// ID returns the identity of the related entity, 0 if it is not known (yet).
func (r Ref[T]) ID() PrimaryKey {
	return r.id
}

// IsLoaded reports whether the related entity is available.
func (r Ref[T]) IsLoaded() bool {
	return r.entity != nil
}

// IsZero reports whether the reference neither knows an identity nor an entity.
func (r Ref[T]) IsZero() bool {
	return r.id == 0 && r.entity == nil
}

// Get returns the related entity and true if the reference is loaded,
// nil and false if it is a stub or empty.
func (r Ref[T]) Get() (*T, bool) {
	return r.entity, r.entity != nil
}

// Set points the reference at entity.
func (r *Ref[T]) Set(entity *T) {
	r.entity = entity
	r.id = 0
}

// RefID implements RelationRef.
func (r *Ref[T]) RefID() PrimaryKey {
	return r.id
}

// RefTarget implements RelationRef.
func (r *Ref[T]) RefTarget() any {
	if r.entity == nil {
		return nil
	}

	return r.entity
}

// TargetType implements RelationRef.
func (r *Ref[T]) TargetType() reflect.Type {
	return reflect.TypeFor[T]()
}

// BindID implements RelationRef.
func (r *Ref[T]) BindID(id PrimaryKey) {
	r.id = id
}

// BindStub implements RelationRef.
func (r *Ref[T]) BindStub(id PrimaryKey) {
	r.id = id
	r.entity = nil
}

// BindLoaded implements RelationRef.
func (r *Ref[T]) BindLoaded(target any, id PrimaryKey) {
	if entity, ok := target.(*T); ok {
		r.entity = entity
		r.id = id
	}
}

// RelationRef is the type-erased view on a *Ref[T] used by persistence engines.
type RelationRef interface {
	RefID() PrimaryKey
	RefTarget() any
	TargetType() reflect.Type
	BindID(id PrimaryKey)
	BindStub(id PrimaryKey)
	BindLoaded(target any, id PrimaryKey)
}

var relationRefType = reflect.TypeFor[RelationRef]()

// AsRelationRef returns the RelationRef behind an addressable struct field of type Ref[T].
func AsRelationRef(field reflect.Value) (RelationRef, bool) {
	if !field.CanAddr() {
		return nil, false
	}

	ref, ok := field.Addr().Interface().(RelationRef)

	return ref, ok
}

func isRefType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(relationRefType)
}

func refTargetType(t reflect.Type) reflect.Type {
	ref, _ := reflect.New(t).Interface().(RelationRef)

	return ref.TargetType()
}
