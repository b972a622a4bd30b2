package orm

import (
	"errors"
)

var (
	// ErrNotFound is returned when a lookup that requires a result matched no record.
	ErrNotFound = errors.New("entity not found")

	// ErrConstraintViolation is returned when the storage rejected a flush because of a constraint.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrUniqueConstraintViolation is returned when a flush would store a duplicate value in a unique column.
	ErrUniqueConstraintViolation = errors.New("unique constraint violation")

	// ErrMandatoryRelationMissing is returned when a flush would store an entity without its mandatory relation.
	ErrMandatoryRelationMissing = errors.New("mandatory relation missing")

	// ErrFlushFailed wraps every failure of a flush, the batch was rolled back.
	ErrFlushFailed = errors.New("flush failed")

	// ErrQueryFailed wraps failures while querying the storage.
	ErrQueryFailed = errors.New("query failed")

	// ErrBuildingQueryFailed is returned when a SQL statement could not be built.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrScanningRowFailed is returned when a database row could not be mapped onto an entity.
	ErrScanningRowFailed = errors.New("scanning db row failed")

	// ErrSchemaFailed wraps failures while creating or dropping the schema.
	ErrSchemaFailed = errors.New("schema operation failed")

	// ErrEntityNotManaged is returned for operations on entities the entity manager does not track.
	ErrEntityNotManaged = errors.New("entity is not managed by this entity manager")

	// ErrEntityDetached is returned when persisting an entity that already has an identity but is not tracked.
	ErrEntityDetached = errors.New("entity already has an identity, use Merge to attach it")

	// ErrEntityNotRegistered is returned for entity types that were not registered.
	ErrEntityNotRegistered = errors.New("entity type is not registered")

	// ErrUnknownField is returned for criteria, fields or populate hints naming a field the entity does not have.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidFieldValue is returned when a value can not be assigned to an entity field.
	ErrInvalidFieldValue = errors.New("invalid field value")

	// ErrNotAStruct is returned when registering something that is not a struct or a pointer to one.
	ErrNotAStruct = errors.New("entity must be a struct or a pointer to a struct")

	// ErrNotAPointer is returned when an entity manager operation receives an entity by value.
	ErrNotAPointer = errors.New("entity must be passed as a pointer to a struct")

	// ErrMissingPrimaryKey is returned when an entity declares no int64 primary key.
	ErrMissingPrimaryKey = errors.New("entity has no int64 primary key")

	// ErrUnsupportedFieldType is returned for struct fields whose type can not be mapped to a column.
	ErrUnsupportedFieldType = errors.New("unsupported field type")

	// ErrInvalidTag is returned for malformed orm struct tags.
	ErrInvalidTag = errors.New("invalid orm tag")

	// ErrRelationCycle is returned when entity relations form a cycle.
	ErrRelationCycle = errors.New("entity relations form a cycle")

	// ErrNilDatabaseConnection is returned when an engine is constructed without a database.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrNoEntitiesRegistered is returned when an engine is constructed without any entity.
	ErrNoEntitiesRegistered = errors.New("no entities registered")
)

// PrimaryKey is the type of system-assigned entity identities.
type PrimaryKey = int64
