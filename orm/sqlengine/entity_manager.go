package sqlengine

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// ErrIdentityConflict is returned when merging an entity whose identity is already tracked by another instance.
var ErrIdentityConflict = errors.New("another instance with the same identity is already managed")

// entry is the unit-of-work bookkeeping for one tracked entity.
type entry struct {
	meta     *orm.EntityMeta
	entity   any
	state    orm.EntityState
	snapshot map[string]any
	seq      uint64
	// id is the identity the entry is stored under, assigned once by a flush or a load
	id orm.PrimaryKey
}

// EntityManager is a unit of work with an identity map.
//
// Create, Persist, MarkDirty and Remove only change the in-memory tracking state,
// Flush writes all pending changes in one transaction. Queries never flush implicitly,
// so unflushed changes are invisible to queries and to other entity managers.
//
// An EntityManager is not safe for concurrent use, each logical unit of work should fork its own.
type EntityManager struct {
	orm      *ORM
	entries  map[any]*entry
	identity map[*orm.EntityMeta]map[orm.PrimaryKey]*entry
	seq      uint64
}

func newEntityManager(o *ORM) *EntityManager {
	return &EntityManager{
		orm:      o,
		entries:  make(map[any]*entry),
		identity: make(map[*orm.EntityMeta]map[orm.PrimaryKey]*entry),
	}
}

// Persist registers entity (a pointer to a registered struct) for insertion on the next flush.
// Transient entities referenced through relations are registered as well.
// Persisting an entity scheduled for removal cancels the removal.
func (em *EntityManager) Persist(entity any) error {
	meta, err := em.metaOfEntity(entity)
	if err != nil {
		return err
	}

	if e, tracked := em.entries[entity]; tracked {
		if e.state == orm.Removed {
			e.state = orm.Managed
		}
		return nil
	}

	if meta.PrimaryKeyOf(entity) != 0 {
		return fmt.Errorf("%w: %s", orm.ErrEntityDetached, meta.Name)
	}

	e := em.track(meta, entity, orm.Pending)

	return em.cascadePersist(e)
}

// Merge attaches a detached entity, one that already has an identity, as managed.
// Its current field values are taken as the persistent state.
func (em *EntityManager) Merge(entity any) error {
	meta, err := em.metaOfEntity(entity)
	if err != nil {
		return err
	}

	if _, tracked := em.entries[entity]; tracked {
		return nil
	}

	id := meta.PrimaryKeyOf(entity)
	if id == 0 {
		return em.Persist(entity)
	}

	if _, conflict := em.identity[meta][id]; conflict {
		return fmt.Errorf("%w: %s %d", ErrIdentityConflict, meta.Name, id)
	}

	snapshot, err := em.columnValues(meta, entity)
	if err != nil {
		return err
	}

	e := em.track(meta, entity, orm.Managed)
	e.snapshot = snapshot
	em.addToIdentityMap(e, id)

	return nil
}

// MarkDirty schedules an update of a managed entity on the next flush.
// Only columns that changed since the entity was loaded or last flushed are written.
func (em *EntityManager) MarkDirty(entity any) error {
	e, err := em.trackedEntry(entity)
	if err != nil {
		return err
	}

	switch e.state {
	case orm.Managed:
		e.state = orm.Dirty
	case orm.Removed:
		return fmt.Errorf("%w: %s is scheduled for removal", orm.ErrEntityNotManaged, e.meta.Name)
	}

	return nil
}

// Remove schedules a managed entity for deletion on the next flush.
// A pending entity that was never flushed is simply unregistered.
func (em *EntityManager) Remove(entity any) error {
	e, err := em.trackedEntry(entity)
	if err != nil {
		return err
	}

	switch e.state {
	case orm.Pending:
		em.untrack(e)
	case orm.Managed, orm.Dirty:
		e.state = orm.Removed
	}

	return nil
}

// Clear detaches all tracked entities without touching the storage.
// Later queries build fresh instances from the stored state.
func (em *EntityManager) Clear() {
	em.entries = make(map[any]*entry)
	em.identity = make(map[*orm.EntityMeta]map[orm.PrimaryKey]*entry)
}

// Detach stops tracking a single entity.
func (em *EntityManager) Detach(entity any) {
	if e, tracked := em.entries[entity]; tracked {
		em.untrack(e)
	}
}

// State returns the lifecycle state of entity with respect to this entity manager.
func (em *EntityManager) State(entity any) orm.EntityState {
	if e, tracked := em.entries[entity]; tracked {
		return e.state
	}

	meta, err := em.metaOfEntity(entity)
	if err != nil {
		return orm.Transient
	}

	if meta.PrimaryKeyOf(entity) != 0 {
		return orm.Detached
	}

	return orm.Transient
}

// Contains reports whether entity is tracked by this entity manager.
func (em *EntityManager) Contains(entity any) bool {
	_, tracked := em.entries[entity]

	return tracked
}

// ORM returns the ORM the entity manager was forked from.
func (em *EntityManager) ORM() *ORM {
	return em.orm
}

func (em *EntityManager) metaOfEntity(entity any) (*orm.EntityMeta, error) {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %T", orm.ErrNotAPointer, entity)
	}

	return em.orm.registry.MetaOf(entity)
}

func (em *EntityManager) trackedEntry(entity any) (*entry, error) {
	meta, err := em.metaOfEntity(entity)
	if err != nil {
		return nil, err
	}

	e, tracked := em.entries[entity]
	if !tracked {
		return nil, fmt.Errorf("%w: %s", orm.ErrEntityNotManaged, meta.Name)
	}

	return e, nil
}

func (em *EntityManager) track(meta *orm.EntityMeta, entity any, state orm.EntityState) *entry {
	em.seq++
	e := &entry{
		meta:   meta,
		entity: entity,
		state:  state,
		seq:    em.seq,
	}
	em.entries[entity] = e

	return e
}

func (em *EntityManager) untrack(e *entry) {
	delete(em.entries, e.entity)

	if byID, ok := em.identity[e.meta]; ok && byID[e.id] == e {
		delete(byID, e.id)
	}
}

func (em *EntityManager) addToIdentityMap(e *entry, id orm.PrimaryKey) {
	byID, ok := em.identity[e.meta]
	if !ok {
		byID = make(map[orm.PrimaryKey]*entry)
		em.identity[e.meta] = byID
	}
	byID[id] = e
	e.id = id
}

func (em *EntityManager) lookup(meta *orm.EntityMeta, id orm.PrimaryKey) (*entry, bool) {
	e, ok := em.identity[meta][id]

	return e, ok
}

// cascadePersist registers transient relation targets of e and binds known target identities.
func (em *EntityManager) cascadePersist(e *entry) error {
	value := reflect.ValueOf(e.entity).Elem()

	for _, field := range e.meta.Relations() {
		ref, ok := orm.AsRelationRef(value.FieldByIndex(field.Index))
		if !ok {
			continue
		}

		target := ref.RefTarget()
		if target == nil {
			continue
		}

		targetMeta := field.Relation.Target
		if id := targetMeta.PrimaryKeyOf(target); id != 0 {
			ref.BindID(id)
			continue
		}

		if _, tracked := em.entries[target]; tracked {
			continue
		}

		if err := em.Persist(target); err != nil {
			return fmt.Errorf("cascading persist of %s.%s: %w", e.meta.Name, field.Name, err)
		}
	}

	return nil
}

// columnValues returns the statement arguments of all mapped columns of entity, keyed by column.
func (em *EntityManager) columnValues(meta *orm.EntityMeta, entity any) (map[string]any, error) {
	value := reflect.ValueOf(entity).Elem()
	values := make(map[string]any, len(meta.Fields))

	for _, field := range meta.Fields {
		fieldValue := value.FieldByIndex(field.Index)

		if field.IsRelation() {
			id := relationID(field, fieldValue)
			if id == 0 {
				values[field.Column] = nil
			} else {
				values[field.Column] = id
			}
			continue
		}

		dbValue, err := em.orm.dialect.toDB(field, fieldValue)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", meta.Name, field.Name, err)
		}
		values[field.Column] = dbValue
	}

	return values, nil
}

// relationID resolves the identity a relation field currently points at, 0 if none is known.
func relationID(field *orm.FieldMeta, fieldValue reflect.Value) orm.PrimaryKey {
	ref, ok := orm.AsRelationRef(fieldValue)
	if !ok {
		return 0
	}

	if target := ref.RefTarget(); target != nil {
		return field.Relation.Target.PrimaryKeyOf(target)
	}

	return ref.RefID()
}
