package sqlengine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine/internal/adapters"
)

// flushPlan is the ordered change set of one flush.
type flushPlan struct {
	inserts []*entry
	updates []*entry
	deletes []*entry
}

func (p flushPlan) empty() bool {
	return len(p.inserts) == 0 && len(p.updates) == 0 && len(p.deletes) == 0
}

func (p flushPlan) size() int {
	return len(p.inserts) + len(p.updates) + len(p.deletes)
}

// flushProgress records what a running flush changed, so it can be applied or reverted.
type flushProgress struct {
	assigned  []*entry
	snapshots map[*entry]map[string]any
	updated   int
}

// Flush writes all pending inserts, updates and deletes in a single transaction.
//
// Inserts run in relation order, so referenced entities get their identity before the rows that
// reference them. Updates write only the columns that changed since the entity was loaded.
// Deletes run in reverse relation order.
//
// If any statement fails, the transaction is rolled back, identities assigned during the flush are
// reset, and all entities keep their pending state, so the flush can be retried after fixing the cause.
// Constraint violations can be matched with errors.Is against orm.ErrConstraintViolation,
// orm.ErrUniqueConstraintViolation and orm.ErrMandatoryRelationMissing.
func (em *EntityManager) Flush(ctx context.Context) error {
	start := time.Now()
	ctx, span := em.orm.observer.startSpan(ctx, spanNameFlush, operationFlush, "")

	plan, err := em.planFlush()
	if err != nil {
		return em.flushFailed(ctx, span, start, err)
	}

	if plan.empty() {
		em.orm.observer.logOperation(ctx, logMsgNothingToFlush)
		em.orm.observer.finishSpanSuccess(span, time.Since(start), nil)

		return nil
	}

	progress, err := em.executeFlush(ctx, plan)
	if err != nil {
		em.revert(progress)
		return em.flushFailed(ctx, span, start, err)
	}

	em.apply(plan, progress)

	duration := time.Since(start)
	em.orm.observer.logOperation(
		ctx,
		logMsgFlushCompleted,
		logAttrInserted, len(plan.inserts),
		logAttrUpdated, progress.updated,
		logAttrDeleted, len(plan.deletes),
		logAttrDurationMS, toMilliseconds(duration),
	)
	em.orm.observer.recordDurationMetrics(ctx, metricFlushDuration, duration, operationFlush, statusSuccess)
	em.orm.observer.recordValueMetrics(ctx, metricFlushedEntities, float64(plan.size()), operationFlush)
	em.orm.observer.finishSpanSuccess(span, duration, map[string]string{
		spanAttrInserted: strconv.Itoa(len(plan.inserts)),
		spanAttrUpdated:  strconv.Itoa(progress.updated),
		spanAttrDeleted:  strconv.Itoa(len(plan.deletes)),
	})

	return nil
}

func (em *EntityManager) flushFailed(ctx context.Context, span orm.SpanContext, start time.Time, err error) error {
	duration := time.Since(start)
	status := statusError

	if errors.Is(err, orm.ErrConstraintViolation) {
		status = statusConflict
		em.orm.observer.logOperation(ctx, logMsgConstraintViolation, logAttrError, err.Error())
		em.orm.observer.recordConstraintViolationMetrics(ctx, operationFlush)
	}

	em.orm.observer.logError(ctx, logMsgFlushRolledBack, err, logAttrDurationMS, toMilliseconds(duration))
	em.orm.observer.recordErrorMetrics(ctx, operationFlush, errorTypeOf(err))
	em.orm.observer.recordDurationMetrics(ctx, metricFlushDuration, duration, operationFlush, status)
	em.orm.observer.finishSpanError(span, duration, err)

	return errors.Join(orm.ErrFlushFailed, err)
}

// planFlush cascades persist to newly referenced entities, orders the change set and validates it.
func (em *EntityManager) planFlush() (flushPlan, error) {
	// relations may have been pointed at new entities after they were persisted
	for _, e := range em.sortedEntries() {
		if e.state == orm.Pending || e.state == orm.Dirty {
			if err := em.cascadePersist(e); err != nil {
				return flushPlan{}, err
			}
		}
	}

	plan := flushPlan{}
	for _, e := range em.sortedEntries() {
		switch e.state {
		case orm.Pending:
			plan.inserts = append(plan.inserts, e)
		case orm.Dirty:
			plan.updates = append(plan.updates, e)
		case orm.Removed:
			plan.deletes = append(plan.deletes, e)
		}
	}

	position := em.relationOrder()
	sort.SliceStable(plan.inserts, func(i, j int) bool {
		return position[plan.inserts[i].meta] < position[plan.inserts[j].meta]
	})
	sort.SliceStable(plan.deletes, func(i, j int) bool {
		return position[plan.deletes[i].meta] > position[plan.deletes[j].meta]
	})

	for _, e := range append(append([]*entry{}, plan.inserts...), plan.updates...) {
		if err := em.validateRelations(e); err != nil {
			return flushPlan{}, err
		}
	}

	for _, e := range append(append([]*entry{}, plan.updates...), plan.deletes...) {
		if err := validateIdentity(e); err != nil {
			return flushPlan{}, err
		}
	}

	return plan, nil
}

// validateIdentity rejects entities whose primary key field was changed after they got their identity.
func validateIdentity(e *entry) error {
	if current := e.meta.PrimaryKeyOf(e.entity); current != e.id {
		return fmt.Errorf(
			"%w: identity of %s %d must not change, found %d",
			orm.ErrInvalidFieldValue, e.meta.Name, e.id, current,
		)
	}

	return nil
}

// sortedEntries returns the tracked entries in the order they were registered.
func (em *EntityManager) sortedEntries() []*entry {
	entries := make([]*entry, 0, len(em.entries))
	for _, e := range em.entries {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	return entries
}

// relationOrder maps each entity type to its position, relation targets come first.
func (em *EntityManager) relationOrder() map[*orm.EntityMeta]int {
	position := make(map[*orm.EntityMeta]int)
	for i, meta := range em.orm.registry.Entities() {
		position[meta] = i
	}

	return position
}

// validateRelations rejects mandatory relations that reference nothing.
func (em *EntityManager) validateRelations(e *entry) error {
	value := reflect.ValueOf(e.entity).Elem()

	for _, field := range e.meta.Relations() {
		if field.Nullable {
			continue
		}

		ref, ok := orm.AsRelationRef(value.FieldByIndex(field.Index))
		if !ok {
			continue
		}

		if target := ref.RefTarget(); target != nil {
			if field.Relation.Target.PrimaryKeyOf(target) != 0 {
				continue
			}

			if targetEntry, tracked := em.entries[target]; tracked && targetEntry.state == orm.Pending {
				continue
			}
		} else if ref.RefID() != 0 {
			continue
		}

		return fmt.Errorf("%w: %s.%s", orm.ErrMandatoryRelationMissing, e.meta.Name, field.Name)
	}

	return nil
}

func (em *EntityManager) executeFlush(ctx context.Context, plan flushPlan) (*flushProgress, error) {
	progress := &flushProgress{snapshots: make(map[*entry]map[string]any)}

	tx, err := em.orm.db.Begin(ctx)
	if err != nil {
		return progress, errors.Join(ErrTransactionFailed, err)
	}

	if err = em.executePlan(ctx, tx, plan, progress); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			em.orm.observer.logWarn(ctx, logMsgRollbackFailed, rollbackErr)
		}

		return progress, err
	}

	if err = tx.Commit(ctx); err != nil {
		return progress, errors.Join(ErrTransactionFailed, classifyConstraintError(err))
	}

	return progress, nil
}

func (em *EntityManager) executePlan(
	ctx context.Context,
	tx adapters.DBTx,
	plan flushPlan,
	progress *flushProgress,
) error {
	for _, e := range plan.inserts {
		id, err := em.insert(ctx, tx, e)
		if err != nil {
			return err
		}

		e.meta.SetPrimaryKey(e.entity, id)
		progress.assigned = append(progress.assigned, e)
	}

	for _, e := range plan.updates {
		written, err := em.update(ctx, tx, e, progress)
		if err != nil {
			return err
		}

		if written {
			progress.updated++
		}
	}

	for _, e := range plan.deletes {
		if err := em.delete(ctx, tx, e); err != nil {
			return err
		}
	}

	return nil
}

func (em *EntityManager) insert(ctx context.Context, tx adapters.DBTx, e *entry) (orm.PrimaryKey, error) {
	values, err := em.columnValues(e.meta, e.entity)
	if err != nil {
		return 0, err
	}
	delete(values, e.meta.Primary.Column)

	ds := em.orm.dialect.builder().
		Insert(e.meta.Table).
		Prepared(true).
		Rows(goqu.Record(values))

	if em.orm.dialect.supportsReturning() {
		ds = ds.Returning(goqu.C(e.meta.Primary.Column))
	}

	sqlQuery, args, err := ds.ToSQL()
	if err != nil {
		return 0, errors.Join(orm.ErrBuildingQueryFailed, err)
	}

	if !em.orm.dialect.supportsReturning() {
		result, execErr := em.orm.exec(ctx, tx, sqlQuery, args, logActionInsert)
		if execErr != nil {
			return 0, fmt.Errorf("inserting %s: %w", e.meta.Name, execErr)
		}

		id, idErr := result.LastInsertId()
		if idErr != nil {
			return 0, fmt.Errorf("reading identity of %s: %w", e.meta.Name, idErr)
		}

		return id, nil
	}

	rows, err := em.orm.query(ctx, tx, sqlQuery, args, logActionInsert)
	if err != nil {
		return 0, fmt.Errorf("inserting %s: %w", e.meta.Name, err)
	}
	defer em.orm.closeRows(ctx, rows)

	var id orm.PrimaryKey
	if rows.Next() {
		if scanErr := rows.Scan(&id); scanErr != nil {
			return 0, errors.Join(orm.ErrScanningRowFailed, scanErr)
		}
	}

	// some drivers only report statement errors once the rows are consumed
	if rowsErr := rows.Err(); rowsErr != nil {
		return 0, fmt.Errorf("inserting %s: %w", e.meta.Name, classifyConstraintError(rowsErr))
	}

	if id == 0 {
		return 0, fmt.Errorf("%w: no identity returned for %s", orm.ErrQueryFailed, e.meta.Name)
	}

	return id, nil
}

// update writes the changed columns of e, it reports false if nothing changed.
func (em *EntityManager) update(
	ctx context.Context,
	tx adapters.DBTx,
	e *entry,
	progress *flushProgress,
) (bool, error) {
	current, err := em.columnValues(e.meta, e.entity)
	if err != nil {
		return false, err
	}
	progress.snapshots[e] = current

	changed := goqu.Record{}
	for column, value := range current {
		if column == e.meta.Primary.Column {
			continue
		}

		if previous, known := e.snapshot[column]; !known || !sameValue(previous, value) {
			changed[column] = value
		}
	}

	if len(changed) == 0 {
		return false, nil
	}

	id := e.id
	sqlQuery, args, err := em.orm.dialect.builder().
		Update(e.meta.Table).
		Prepared(true).
		Set(changed).
		Where(goqu.C(e.meta.Primary.Column).Eq(id)).
		ToSQL()
	if err != nil {
		return false, errors.Join(orm.ErrBuildingQueryFailed, err)
	}

	result, err := em.orm.exec(ctx, tx, sqlQuery, args, logActionUpdate)
	if err != nil {
		return false, fmt.Errorf("updating %s %d: %w", e.meta.Name, id, err)
	}

	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return false, fmt.Errorf("%w: %s %d was deleted concurrently", orm.ErrNotFound, e.meta.Name, id)
	}

	return true, nil
}

func (em *EntityManager) delete(ctx context.Context, tx adapters.DBTx, e *entry) error {
	id := e.id

	sqlQuery, args, err := em.orm.dialect.builder().
		Delete(e.meta.Table).
		Prepared(true).
		Where(goqu.C(e.meta.Primary.Column).Eq(id)).
		ToSQL()
	if err != nil {
		return errors.Join(orm.ErrBuildingQueryFailed, err)
	}

	if _, err = em.orm.exec(ctx, tx, sqlQuery, args, logActionDelete); err != nil {
		return fmt.Errorf("deleting %s %d: %w", e.meta.Name, id, err)
	}

	return nil
}

// revert resets the identities a failed flush assigned, the entities stay pending.
func (em *EntityManager) revert(progress *flushProgress) {
	if progress == nil {
		return
	}

	for _, e := range progress.assigned {
		e.meta.SetPrimaryKey(e.entity, 0)
	}
}

// apply moves the flushed entities to their new states after the commit.
func (em *EntityManager) apply(plan flushPlan, progress *flushProgress) {
	for _, e := range plan.inserts {
		e.state = orm.Managed
		em.addToIdentityMap(e, e.meta.PrimaryKeyOf(e.entity))
		em.bindRelationIDs(e)

		// identities of relation targets are known now
		if snapshot, err := em.columnValues(e.meta, e.entity); err == nil {
			e.snapshot = snapshot
		}
	}

	for _, e := range plan.updates {
		e.state = orm.Managed
		em.bindRelationIDs(e)

		if snapshot, ok := progress.snapshots[e]; ok {
			e.snapshot = snapshot
		}
	}

	for _, e := range plan.deletes {
		em.untrack(e)
	}
}

func (em *EntityManager) bindRelationIDs(e *entry) {
	value := reflect.ValueOf(e.entity).Elem()

	for _, field := range e.meta.Relations() {
		ref, ok := orm.AsRelationRef(value.FieldByIndex(field.Index))
		if !ok {
			continue
		}

		if target := ref.RefTarget(); target != nil {
			ref.BindID(field.Relation.Target.PrimaryKeyOf(target))
		}
	}
}
