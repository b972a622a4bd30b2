package sqlengine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// Create builds a new T from fields and registers it for insertion on the next flush.
// Relation fields accept a related entity, a nested orm.Fields value, or an identity.
func Create[T any](em *EntityManager, fields orm.Fields) (*T, error) {
	meta, err := em.orm.registry.Meta(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	built, err := meta.Build(fields)
	if err != nil {
		return nil, err
	}

	entity, _ := built.(*T)
	if err = em.Persist(entity); err != nil {
		return nil, err
	}

	return entity, nil
}

// Find returns all T matching criteria, ordered by primary key unless orm.OrderBy is given.
func Find[T any](
	ctx context.Context,
	em *EntityManager,
	criteria orm.Criteria,
	options ...orm.FindOption,
) ([]*T, error) {
	meta, err := em.orm.registry.Meta(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	found, err := em.find(ctx, meta, criteria, orm.BuildFindOptions(options...))
	if err != nil {
		return nil, err
	}

	entities := make([]*T, 0, len(found))
	for _, entity := range found {
		entities = append(entities, entity.(*T))
	}

	return entities, nil
}

// FindOne returns the first T matching criteria, found reports false if there is none.
func FindOne[T any](
	ctx context.Context,
	em *EntityManager,
	criteria orm.Criteria,
	options ...orm.FindOption,
) (entity *T, found bool, err error) {
	meta, err := em.orm.registry.Meta(reflect.TypeFor[T]())
	if err != nil {
		return nil, false, err
	}

	fo := orm.BuildFindOptions(options...)
	fo.Limit = 1

	entities, err := em.find(ctx, meta, criteria, fo)
	if err != nil {
		return nil, false, err
	}

	if len(entities) == 0 {
		return nil, false, nil
	}

	return entities[0].(*T), true, nil
}

// FindOneOrFail returns the first T matching criteria, or an error matching orm.ErrNotFound.
// With several matches the one with the lowest primary key is returned, unless orm.OrderBy is given.
func FindOneOrFail[T any](
	ctx context.Context,
	em *EntityManager,
	criteria orm.Criteria,
	options ...orm.FindOption,
) (*T, error) {
	entity, found, err := FindOne[T](ctx, em, criteria, options...)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s matching %v", orm.ErrNotFound, reflect.TypeFor[T]().Name(), criteria)
	}

	return entity, nil
}

// FindByID returns the T with the given identity. The identity map is consulted first,
// so a tracked instance is returned without a query. Like every query it ignores unflushed changes,
// an instance scheduled for removal is still returned until the removal is flushed.
func FindByID[T any](ctx context.Context, em *EntityManager, id orm.PrimaryKey, options ...orm.FindOption) (*T, error) {
	meta, err := em.orm.registry.Meta(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	if e, tracked := em.lookup(meta, id); tracked {
		fo := orm.BuildFindOptions(options...)

		relations, relationsErr := fo.PopulateRelations(meta)
		if relationsErr != nil {
			return nil, relationsErr
		}

		if populateErr := em.populate(ctx, meta, []any{e.entity}, relations); populateErr != nil {
			return nil, populateErr
		}

		return e.entity.(*T), nil
	}

	return FindOneOrFail[T](ctx, em, orm.Criteria{meta.Primary.Name: id}, options...)
}

// Count returns the number of stored T matching criteria.
// Pending changes of the entity manager are not visible to it.
func Count[T any](ctx context.Context, em *EntityManager, criteria orm.Criteria) (int64, error) {
	meta, err := em.orm.registry.Meta(reflect.TypeFor[T]())
	if err != nil {
		return 0, err
	}

	return em.count(ctx, meta, criteria)
}
