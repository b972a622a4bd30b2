package sqlengine

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

const (
	logMsgSQLExecuted          = "executed sql for: "
	logMsgOperation            = "entity manager operation: "
	logMsgFlushCompleted       = "flush completed"
	logMsgFlushRolledBack      = "flush rolled back"
	logMsgRollbackFailed       = "rollback failed"
	logMsgNothingToFlush       = "nothing to flush"
	logMsgQueryCompleted       = "query completed"
	logMsgCountCompleted       = "count completed"
	logMsgBuildQueryFailed     = "failed to build query"
	logMsgDBQueryFailed        = "database query execution failed"
	logMsgDBExecFailed         = "database execution failed"
	logMsgScanRowFailed        = "failed to scan database row"
	logMsgCloseRowsFailed      = "failed to close database rows"
	logMsgConstraintViolation  = "constraint violation detected"
	logMsgSchemaStatement      = "schema statement executed"
	logMsgCloseFailed          = "failed to close database"
	logAttrError               = "error"
	logAttrQuery               = "query"
	logAttrParams              = "params"
	logAttrEntity              = "entity"
	logAttrEntityCount         = "entity_count"
	logAttrInserted            = "inserted"
	logAttrUpdated             = "updated"
	logAttrDeleted             = "deleted"
	logAttrCount               = "count"
	logAttrDurationMS          = "duration_ms"
	logActionQuery             = "query"
	logActionCount             = "count"
	logActionInsert            = "insert"
	logActionUpdate            = "update"
	logActionDelete            = "delete"
	logActionSchema            = "schema"
	operationFlush             = "flush"
	operationFind              = "find"
	operationCount             = "count"
	spanNameFlush              = "orm.flush"
	spanNameFind               = "orm.find"
	spanNameCount              = "orm.count"
	spanAttrOperation          = "operation"
	spanAttrEntity             = "entity"
	spanAttrErrorType          = "error_type"
	spanAttrDurationMS         = "duration_ms"
	spanAttrResultCount        = "result_count"
	spanAttrInserted           = "inserted"
	spanAttrUpdated            = "updated"
	spanAttrDeleted            = "deleted"
	metricFlushDuration        = "orm_flush_duration_seconds"
	metricQueryDuration        = "orm_query_duration_seconds"
	metricCountDuration        = "orm_count_duration_seconds"
	metricFlushedEntities      = "orm_flushed_entities"
	metricQueriedEntities      = "orm_queried_entities"
	metricDatabaseErrors       = "orm_database_errors_total"
	metricConstraintViolations = "orm_constraint_violations_total"
	statusSuccess              = "success"
	statusError                = "error"
	statusConflict             = "conflict"
	errorTypeQuery             = "query"
	errorTypeBuild             = "build_query"
	errorTypeScan              = "scan"
	errorTypeExec              = "exec"
	errorTypeTransaction       = "transaction"
	errorTypeConstraint        = "constraint"
	errorTypeValidation        = "validation"
	errorTypeNotFound          = "not_found"
)

// observer bundles the optional logging, metrics and tracing sinks of an ORM.
type observer struct {
	logger           orm.Logger
	contextualLogger orm.ContextualLogger
	metricsCollector orm.MetricsCollector
	tracingCollector orm.TracingCollector
	logQueryParams   bool
}

// logQueryWithDuration logs SQL statements with execution time at debug level if a logger is configured.
func (o *observer) logQueryWithDuration(
	ctx context.Context,
	sqlQuery string,
	params []any,
	action string,
	duration time.Duration,
) {
	args := []any{logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery}
	if o.logQueryParams {
		args = append(args, logAttrParams, params)
	}

	if o.logger != nil {
		o.logger.Debug(logMsgSQLExecuted+action, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, args...)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (o *observer) logOperation(ctx context.Context, action string, args ...any) {
	if o.logger != nil {
		o.logger.Info(logMsgOperation+action, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarn logs non-critical failures at warn level if a logger is configured.
func (o *observer) logWarn(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if o.logger != nil {
		o.logger.Warn(message, allArgs...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.WarnContext(ctx, message, allArgs...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (o *observer) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if o.logger != nil {
		o.logger.Error(message, allArgs...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// recordErrorMetrics records error metrics if the metrics collector is configured.
func (o *observer) recordErrorMetrics(ctx context.Context, operation, errorType string) {
	if o.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          statusError,
		spanAttrErrorType: errorType,
	}

	if contextualCollector, ok := o.metricsCollector.(orm.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricDatabaseErrors, labels)
		return
	}

	o.metricsCollector.IncrementCounter(metricDatabaseErrors, labels)
}

// recordConstraintViolationMetrics records constraint violations if the metrics collector is configured.
func (o *observer) recordConstraintViolationMetrics(ctx context.Context, operation string) {
	if o.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"conflict_type":   "constraint",
	}

	if contextualCollector, ok := o.metricsCollector.(orm.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricConstraintViolations, labels)
		return
	}

	o.metricsCollector.IncrementCounter(metricConstraintViolations, labels)
}

// recordDurationMetrics records duration metrics if the metrics collector is configured.
func (o *observer) recordDurationMetrics(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	operation, status string,
) {
	if o.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          status,
	}

	if contextualCollector, ok := o.metricsCollector.(orm.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricName, duration, labels)
		return
	}

	o.metricsCollector.RecordDuration(metricName, duration, labels)
}

// recordValueMetrics records value metrics if the metrics collector is configured.
func (o *observer) recordValueMetrics(
	ctx context.Context,
	metricName string,
	value float64,
	operation string,
) {
	if o.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          statusSuccess,
	}

	if contextualCollector, ok := o.metricsCollector.(orm.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metricName, value, labels)
		return
	}

	o.metricsCollector.RecordValue(metricName, value, labels)
}

// startSpan starts a tracing span if the tracing collector is configured.
func (o *observer) startSpan(ctx context.Context, name, operation, entity string) (context.Context, orm.SpanContext) {
	if o.tracingCollector == nil {
		return ctx, nil
	}

	attrs := map[string]string{
		spanAttrOperation: operation,
	}
	if entity != "" {
		attrs[spanAttrEntity] = entity
	}

	return o.tracingCollector.StartSpan(ctx, name, attrs)
}

// finishSpanSuccess finishes a span with the given result attributes.
func (o *observer) finishSpanSuccess(span orm.SpanContext, duration time.Duration, attrs map[string]string) {
	if o.tracingCollector == nil || span == nil {
		return
	}

	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs[spanAttrDurationMS] = strconv.FormatFloat(toMilliseconds(duration), 'f', 3, 64)

	span.SetStatus(statusSuccess)
	o.tracingCollector.FinishSpan(span, statusSuccess, attrs)
}

// finishSpanError finishes a span with error details.
func (o *observer) finishSpanError(span orm.SpanContext, duration time.Duration, err error) {
	if o.tracingCollector == nil || span == nil {
		return
	}

	status := statusError
	if errors.Is(err, orm.ErrConstraintViolation) {
		status = statusConflict
	}

	attrs := map[string]string{
		spanAttrErrorType:  errorTypeOf(err),
		spanAttrDurationMS: strconv.FormatFloat(toMilliseconds(duration), 'f', 3, 64),
	}

	span.SetStatus(status)
	o.tracingCollector.FinishSpan(span, status, attrs)
}

// errorTypeOf maps an error to the error_type label used in metrics and spans.
func errorTypeOf(err error) string {
	switch {
	case errors.Is(err, orm.ErrConstraintViolation), errors.Is(err, orm.ErrUniqueConstraintViolation):
		return errorTypeConstraint
	case errors.Is(err, orm.ErrMandatoryRelationMissing):
		return errorTypeValidation
	case errors.Is(err, orm.ErrNotFound):
		return errorTypeNotFound
	case errors.Is(err, orm.ErrBuildingQueryFailed):
		return errorTypeBuild
	case errors.Is(err, orm.ErrScanningRowFailed):
		return errorTypeScan
	case errors.Is(err, ErrTransactionFailed):
		return errorTypeTransaction
	case errors.Is(err, orm.ErrQueryFailed):
		return errorTypeQuery
	default:
		return errorTypeExec
	}
}
