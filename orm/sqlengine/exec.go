package sqlengine

import (
	"context"
	"errors"
	"time"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine/internal/adapters"
)

// query executes a query and returns rows with timing information logged at debug level.
func (o *ORM) query(
	ctx context.Context,
	q adapters.Querier,
	sqlQuery string,
	args []any,
	action string,
) (adapters.DBRows, error) {
	start := time.Now()
	rows, queryErr := q.Query(ctx, sqlQuery, args...)
	o.observer.logQueryWithDuration(ctx, sqlQuery, args, action, time.Since(start))

	if queryErr != nil {
		o.observer.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return nil, errors.Join(orm.ErrQueryFailed, classifyConstraintError(queryErr))
	}

	return rows, nil
}

// exec executes a statement with timing information logged at debug level.
// Constraint violations are classified, so callers can match them with errors.Is.
func (o *ORM) exec(
	ctx context.Context,
	q adapters.Querier,
	sqlQuery string,
	args []any,
	action string,
) (adapters.DBResult, error) {
	start := time.Now()
	result, execErr := q.Exec(ctx, sqlQuery, args...)
	o.observer.logQueryWithDuration(ctx, sqlQuery, args, action, time.Since(start))

	if execErr != nil {
		o.observer.logError(ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)
		return nil, classifyConstraintError(execErr)
	}

	return result, nil
}

// closeRows safely closes database rows and logs any errors.
func (o *ORM) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		o.observer.logWarn(ctx, logMsgCloseRowsFailed, closeErr)
	}
}
