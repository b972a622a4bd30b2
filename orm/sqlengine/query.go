package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine/internal/adapters"
)

// FindAll returns the entities of the given type matching criteria.
// entityType is a value or pointer of a registered entity type, the results are pointers to it.
// Entities already tracked by the entity manager are returned as the tracked instances.
func (em *EntityManager) FindAll(
	ctx context.Context,
	entityType any,
	criteria orm.Criteria,
	options ...orm.FindOption,
) ([]any, error) {
	meta, err := em.orm.registry.MetaOf(entityType)
	if err != nil {
		return nil, err
	}

	return em.find(ctx, meta, criteria, orm.BuildFindOptions(options...))
}

// CountAll counts the stored entities of the given type matching criteria.
// Pending changes of the entity manager are not taken into account.
func (em *EntityManager) CountAll(ctx context.Context, entityType any, criteria orm.Criteria) (int64, error) {
	meta, err := em.orm.registry.MetaOf(entityType)
	if err != nil {
		return 0, err
	}

	return em.count(ctx, meta, criteria)
}

// Populate loads the named relations of entity, orm.PopulateAll loads all of them.
// Relations that are loaded already stay as they are.
func (em *EntityManager) Populate(ctx context.Context, entity any, relations ...string) error {
	meta, err := em.metaOfEntity(entity)
	if err != nil {
		return err
	}

	fields, err := orm.FindOptions{Populate: relations}.PopulateRelations(meta)
	if err != nil {
		return err
	}

	return em.populate(ctx, meta, []any{entity}, fields)
}

func (em *EntityManager) find(
	ctx context.Context,
	meta *orm.EntityMeta,
	criteria orm.Criteria,
	fo orm.FindOptions,
) ([]any, error) {
	start := time.Now()
	ctx, span := em.orm.observer.startSpan(ctx, spanNameFind, operationFind, meta.Name)

	entities, err := em.findUnobserved(ctx, meta, criteria, fo)
	duration := time.Since(start)

	if err != nil {
		em.orm.observer.recordErrorMetrics(ctx, operationFind, errorTypeOf(err))
		em.orm.observer.recordDurationMetrics(ctx, metricQueryDuration, duration, operationFind, statusError)
		em.orm.observer.finishSpanError(span, duration, err)

		return nil, err
	}

	em.orm.observer.logOperation(
		ctx,
		logMsgQueryCompleted,
		logAttrEntity, meta.Name,
		logAttrEntityCount, len(entities),
		logAttrDurationMS, toMilliseconds(duration),
	)
	em.orm.observer.recordDurationMetrics(ctx, metricQueryDuration, duration, operationFind, statusSuccess)
	em.orm.observer.recordValueMetrics(ctx, metricQueriedEntities, float64(len(entities)), operationFind)
	em.orm.observer.finishSpanSuccess(span, duration, map[string]string{
		spanAttrResultCount: strconv.Itoa(len(entities)),
	})

	return entities, nil
}

func (em *EntityManager) findUnobserved(
	ctx context.Context,
	meta *orm.EntityMeta,
	criteria orm.Criteria,
	fo orm.FindOptions,
) ([]any, error) {
	populate, err := fo.PopulateRelations(meta)
	if err != nil {
		return nil, err
	}

	entities, err := em.selectEntities(ctx, meta, criteria, fo)
	if err != nil {
		return nil, err
	}

	if err = em.populate(ctx, meta, entities, populate); err != nil {
		return nil, err
	}

	return entities, nil
}

// selectEntities runs the select and merges the rows into the identity map.
// The rows are closed before any further statement runs, a single-connection pool would block otherwise.
func (em *EntityManager) selectEntities(
	ctx context.Context,
	meta *orm.EntityMeta,
	criteria orm.Criteria,
	fo orm.FindOptions,
) ([]any, error) {
	where, err := em.compileCriteria(meta, criteria)
	if err != nil {
		return nil, err
	}

	order, err := orderExpressions(meta, fo.OrderBy)
	if err != nil {
		return nil, err
	}

	columns := make([]any, 0, len(meta.Fields))
	for _, column := range meta.Columns() {
		columns = append(columns, goqu.C(column))
	}

	ds := em.orm.dialect.builder().
		From(meta.Table).
		Prepared(true).
		Select(columns...).
		Where(where...).
		Order(order...)

	if fo.Limit > 0 {
		ds = ds.Limit(fo.Limit)
	}

	if fo.Offset > 0 {
		if limit, needed := em.orm.dialect.offsetOnlyLimit(); needed && fo.Limit == 0 {
			ds = ds.Limit(limit)
		}
		ds = ds.Offset(fo.Offset)
	}

	sqlQuery, args, err := ds.ToSQL()
	if err != nil {
		em.orm.observer.logError(ctx, logMsgBuildQueryFailed, err)
		return nil, errors.Join(orm.ErrBuildingQueryFailed, err)
	}

	rows, err := em.orm.query(ctx, em.orm.db, sqlQuery, args, logActionQuery)
	if err != nil {
		return nil, err
	}

	loaded, err := em.hydrateRows(ctx, meta, rows)
	if err != nil {
		return nil, err
	}

	entities := make([]any, 0, len(loaded))
	for _, entity := range loaded {
		entities = append(entities, em.merge(meta, entity))
	}

	return entities, nil
}

func (em *EntityManager) hydrateRows(ctx context.Context, meta *orm.EntityMeta, rows adapters.DBRows) ([]any, error) {
	defer em.orm.closeRows(ctx, rows)

	loaded := make([]any, 0)
	for rows.Next() {
		entity, err := em.hydrate(meta, rows)
		if err != nil {
			em.orm.observer.logError(ctx, logMsgScanRowFailed, err, logAttrEntity, meta.Name)
			return nil, errors.Join(orm.ErrScanningRowFailed, err)
		}

		loaded = append(loaded, entity)
	}

	if err := rows.Err(); err != nil {
		em.orm.observer.logError(ctx, logMsgDBQueryFailed, err, logAttrEntity, meta.Name)
		return nil, errors.Join(orm.ErrQueryFailed, err)
	}

	return loaded, nil
}

// hydrate scans the current row into a new entity, relations become stubs.
func (em *EntityManager) hydrate(meta *orm.EntityMeta, rows adapters.DBRows) (any, error) {
	entity := meta.New()
	value := reflect.ValueOf(entity).Elem()

	dest := make([]any, 0, len(meta.Fields))
	finishers := make([]func() error, 0)

	for _, field := range meta.Fields {
		fieldValue := value.FieldByIndex(field.Index)

		if field.IsRelation() {
			var foreignKey sql.NullInt64
			dest = append(dest, &foreignKey)
			finishers = append(finishers, func() error {
				if ref, ok := orm.AsRelationRef(fieldValue); ok {
					ref.BindStub(foreignKey.Int64)
				}
				return nil
			})
			continue
		}

		target, finish := em.orm.dialect.scanTarget(field, fieldValue)
		dest = append(dest, target)
		if finish != nil {
			finishers = append(finishers, finish)
		}
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	for _, finish := range finishers {
		if err := finish(); err != nil {
			return nil, err
		}
	}

	return entity, nil
}

// merge returns the tracked instance for a loaded entity, or starts tracking the loaded one.
func (em *EntityManager) merge(meta *orm.EntityMeta, loaded any) any {
	id := meta.PrimaryKeyOf(loaded)
	if e, tracked := em.lookup(meta, id); tracked {
		return e.entity
	}

	em.bindTrackedTargets(meta, loaded)

	e := em.track(meta, loaded, orm.Managed)
	if snapshot, err := em.columnValues(meta, loaded); err == nil {
		e.snapshot = snapshot
	}
	em.addToIdentityMap(e, id)

	return loaded
}

// bindTrackedTargets loads stubs whose target instance is already in the identity map.
func (em *EntityManager) bindTrackedTargets(meta *orm.EntityMeta, entity any) {
	value := reflect.ValueOf(entity).Elem()

	for _, field := range meta.Relations() {
		ref, ok := orm.AsRelationRef(value.FieldByIndex(field.Index))
		if !ok || ref.RefTarget() != nil || ref.RefID() == 0 {
			continue
		}

		if target, tracked := em.lookup(field.Relation.Target, ref.RefID()); tracked {
			ref.BindLoaded(target.entity, ref.RefID())
		}
	}
}

// populate loads the given relations of entities with one select per relation.
func (em *EntityManager) populate(
	ctx context.Context,
	meta *orm.EntityMeta,
	entities []any,
	relations []*orm.FieldMeta,
) error {
	for _, field := range relations {
		refs := make([]orm.RelationRef, 0, len(entities))
		missing := make([]any, 0)
		seen := make(map[orm.PrimaryKey]bool)

		for _, entity := range entities {
			ref, ok := orm.AsRelationRef(reflect.ValueOf(entity).Elem().FieldByIndex(field.Index))
			if !ok || ref.RefTarget() != nil || ref.RefID() == 0 {
				continue
			}

			refs = append(refs, ref)

			id := ref.RefID()
			if _, tracked := em.lookup(field.Relation.Target, id); !tracked && !seen[id] {
				seen[id] = true
				missing = append(missing, id)
			}
		}

		if len(missing) > 0 {
			criteria := orm.Criteria{field.Relation.Target.Primary.Name: orm.In(missing...)}
			if _, err := em.selectEntities(ctx, field.Relation.Target, criteria, orm.FindOptions{}); err != nil {
				return fmt.Errorf("populating %s.%s: %w", meta.Name, field.Name, err)
			}
		}

		for _, ref := range refs {
			if target, tracked := em.lookup(field.Relation.Target, ref.RefID()); tracked {
				ref.BindLoaded(target.entity, ref.RefID())
			}
		}
	}

	return nil
}

func (em *EntityManager) count(ctx context.Context, meta *orm.EntityMeta, criteria orm.Criteria) (int64, error) {
	start := time.Now()
	ctx, span := em.orm.observer.startSpan(ctx, spanNameCount, operationCount, meta.Name)

	count, err := em.countUnobserved(ctx, meta, criteria)
	duration := time.Since(start)

	if err != nil {
		em.orm.observer.recordErrorMetrics(ctx, operationCount, errorTypeOf(err))
		em.orm.observer.recordDurationMetrics(ctx, metricCountDuration, duration, operationCount, statusError)
		em.orm.observer.finishSpanError(span, duration, err)

		return 0, err
	}

	em.orm.observer.logOperation(
		ctx,
		logMsgCountCompleted,
		logAttrEntity, meta.Name,
		logAttrCount, count,
		logAttrDurationMS, toMilliseconds(duration),
	)
	em.orm.observer.recordDurationMetrics(ctx, metricCountDuration, duration, operationCount, statusSuccess)
	em.orm.observer.finishSpanSuccess(span, duration, map[string]string{
		spanAttrResultCount: strconv.FormatInt(count, 10),
	})

	return count, nil
}

func (em *EntityManager) countUnobserved(ctx context.Context, meta *orm.EntityMeta, criteria orm.Criteria) (int64, error) {
	where, err := em.compileCriteria(meta, criteria)
	if err != nil {
		return 0, err
	}

	sqlQuery, args, err := em.orm.dialect.builder().
		From(meta.Table).
		Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		ToSQL()
	if err != nil {
		em.orm.observer.logError(ctx, logMsgBuildQueryFailed, err)
		return 0, errors.Join(orm.ErrBuildingQueryFailed, err)
	}

	rows, err := em.orm.query(ctx, em.orm.db, sqlQuery, args, logActionCount)
	if err != nil {
		return 0, err
	}
	defer em.orm.closeRows(ctx, rows)

	var count int64
	if rows.Next() {
		if scanErr := rows.Scan(&count); scanErr != nil {
			return 0, errors.Join(orm.ErrScanningRowFailed, scanErr)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return 0, errors.Join(orm.ErrQueryFailed, rowsErr)
	}

	return count, nil
}

// compileCriteria translates criteria into where expressions, keys are processed in sorted order
// so equal criteria always produce the same statement.
func (em *EntityManager) compileCriteria(meta *orm.EntityMeta, criteria orm.Criteria) ([]exp.Expression, error) {
	keys := make([]string, 0, len(criteria))
	for key := range criteria {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	expressions := make([]exp.Expression, 0, len(keys))
	for _, key := range keys {
		field, ok := meta.Field(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", orm.ErrUnknownField, meta.Name, key)
		}

		if field.JSON {
			return nil, fmt.Errorf("%w: %s.%s is stored as JSON and can not be compared", orm.ErrInvalidFieldValue, meta.Name, field.Name)
		}

		expression, err := em.criterion(field, criteria[key])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", meta.Name, field.Name, err)
		}

		expressions = append(expressions, expression)
	}

	return expressions, nil
}

func (em *EntityManager) criterion(field *orm.FieldMeta, value any) (exp.Expression, error) {
	column := goqu.C(field.Column)

	operator, isOperator := value.(orm.Operator)
	if !isOperator {
		operator = orm.Operator{Op: orm.OpEq, Value: value}
	}

	if operator.Op == orm.OpIn || operator.Op == orm.OpNotIn {
		values, err := em.criterionValues(field, operator.Value)
		if err != nil {
			return nil, err
		}

		if len(values) == 0 {
			// IN () is not valid SQL, an empty set matches nothing
			if operator.Op == orm.OpIn {
				return goqu.L("1 = 0"), nil
			}
			return goqu.L("1 = 1"), nil
		}

		if operator.Op == orm.OpIn {
			return column.In(values...), nil
		}
		return column.NotIn(values...), nil
	}

	bound, err := em.criterionValue(field, operator.Value)
	if err != nil {
		return nil, err
	}

	switch operator.Op {
	case orm.OpEq:
		if bound == nil {
			return column.IsNull(), nil
		}
		return column.Eq(bound), nil
	case orm.OpNeq:
		if bound == nil {
			return column.IsNotNull(), nil
		}
		return column.Neq(bound), nil
	case orm.OpGt:
		return column.Gt(bound), nil
	case orm.OpGte:
		return column.Gte(bound), nil
	case orm.OpLt:
		return column.Lt(bound), nil
	case orm.OpLte:
		return column.Lte(bound), nil
	case orm.OpLike:
		return column.Like(bound), nil
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", orm.ErrInvalidFieldValue, operator.Op)
	}
}

func (em *EntityManager) criterionValues(field *orm.FieldMeta, value any) ([]any, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, nil
	}

	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		bound, err := em.criterionValue(field, value)
		if err != nil {
			return nil, err
		}
		return []any{bound}, nil
	}

	values := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		bound, err := em.criterionValue(field, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		values = append(values, bound)
	}

	return values, nil
}

// criterionValue converts a criterion value to a statement argument.
func (em *EntityManager) criterionValue(field *orm.FieldMeta, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	if field.IsRelation() {
		return relationCriterionValue(field, value)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	scalarType := field.Type
	if scalarType.Kind() == reflect.Pointer {
		scalarType = scalarType.Elem()
	}

	if rv.Type() == scalarType {
		return em.orm.dialect.toDB(field, rv)
	}

	return rv.Interface(), nil
}

// relationCriterionValue accepts a related entity, a reference or an identity.
func relationCriterionValue(field *orm.FieldMeta, value any) (any, error) {
	target := field.Relation.Target

	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case orm.RelationRef:
		if t := v.RefTarget(); t != nil {
			return target.PrimaryKeyOf(t), nil
		}
		return v.RefID(), nil
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Kind() == reflect.Pointer && rv.IsNil():
		return nil, nil
	case rv.Type() == reflect.PointerTo(target.Type):
		return target.PrimaryKeyOf(value), nil
	case rv.Type() == target.Type:
		return target.PrimaryKeyOf(value), nil
	case rv.Type() == field.Type:
		ref := reflect.New(field.Type)
		ref.Elem().Set(rv)
		return relationCriterionValue(field, ref.Interface())
	default:
		return nil, fmt.Errorf("%w: %T can not reference %s", orm.ErrInvalidFieldValue, value, target.Name)
	}
}

func orderExpressions(meta *orm.EntityMeta, orderBy []orm.Order) ([]exp.OrderedExpression, error) {
	if len(orderBy) == 0 {
		return []exp.OrderedExpression{goqu.C(meta.Primary.Column).Asc()}, nil
	}

	order := make([]exp.OrderedExpression, 0, len(orderBy)+1)
	for _, o := range orderBy {
		field, ok := meta.Field(o.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", orm.ErrUnknownField, meta.Name, o.Field)
		}

		if o.Direction == orm.Desc {
			order = append(order, goqu.C(field.Column).Desc())
		} else {
			order = append(order, goqu.C(field.Column).Asc())
		}
	}

	// primary key as tie breaker keeps paging stable
	order = append(order, goqu.C(meta.Primary.Column).Asc())

	return order, nil
}
