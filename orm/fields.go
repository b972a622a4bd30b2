package orm

import (
	"fmt"
	"math"
	"reflect"
)

// Fields maps field names (Go or column names) to values and is used to construct entities.
//
// A relation field accepts a *T, a T, a Ref[T], an identity of the related entity,
// or a nested Fields value from which the related entity is constructed.
type Fields map[string]any

// Build allocates an entity of this type and assigns fields to it. It returns the *T.
// Nested entities constructed for relations are returned as loaded references.
func (m *EntityMeta) Build(fields Fields) (any, error) {
	entity := m.New()

	if err := m.Assign(entity, fields); err != nil {
		return nil, err
	}

	return entity, nil
}

// Assign writes fields onto entity, which must be a *T of this entity type.
func (m *EntityMeta) Assign(entity any, fields Fields) error {
	target := reflect.ValueOf(entity)
	if target.Kind() != reflect.Pointer || target.Elem().Type() != m.Type {
		return fmt.Errorf("%w: expected *%s, got %T", ErrNotAPointer, m.Name, entity)
	}

	for key, value := range fields {
		field, ok := m.Field(key)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, m.Name, key)
		}

		fieldValue := target.Elem().FieldByIndex(field.Index)

		var err error
		if field.IsRelation() {
			err = assignRelation(field, fieldValue, value)
		} else {
			err = assignScalar(field, fieldValue, value)
		}

		if err != nil {
			return fmt.Errorf("%s.%s: %w", m.Name, field.Name, err)
		}
	}

	return nil
}

func assignRelation(field *FieldMeta, fieldValue reflect.Value, value any) error {
	ref, ok := AsRelationRef(fieldValue)
	if !ok {
		return fmt.Errorf("%w: field is not addressable", ErrInvalidFieldValue)
	}

	target := field.Relation.Target

	switch v := value.(type) {
	case nil:
		ref.BindStub(0)
		return nil
	case Fields:
		nested, err := target.Build(v)
		if err != nil {
			return err
		}
		ref.BindLoaded(nested, target.PrimaryKeyOf(nested))
		return nil
	case map[string]any:
		return assignRelation(field, fieldValue, Fields(v))
	case int:
		ref.BindStub(PrimaryKey(v))
		return nil
	case int64:
		ref.BindStub(v)
		return nil
	}

	rv := reflect.ValueOf(value)

	switch {
	case rv.Type() == reflect.PointerTo(target.Type):
		if rv.IsNil() {
			ref.BindStub(0)
			return nil
		}
		ref.BindLoaded(value, target.PrimaryKeyOf(value))
		return nil

	case rv.Type() == target.Type:
		copied := reflect.New(target.Type)
		copied.Elem().Set(rv)
		ref.BindLoaded(copied.Interface(), target.PrimaryKeyOf(copied.Interface()))
		return nil

	case rv.Type() == field.Type:
		fieldValue.Set(rv)
		return nil
	}

	return fmt.Errorf("%w: %T can not reference %s", ErrInvalidFieldValue, value, target.Name)
}

func assignScalar(field *FieldMeta, fieldValue reflect.Value, value any) error {
	if value == nil {
		if !field.Nullable {
			return fmt.Errorf("%w: nil for a non nullable field", ErrInvalidFieldValue)
		}
		fieldValue.Set(reflect.Zero(field.Type))
		return nil
	}

	rv := reflect.ValueOf(value)
	ft := field.Type

	if rv.Type().AssignableTo(ft) {
		fieldValue.Set(rv)
		return nil
	}

	// a plain value for a pointer field
	if ft.Kind() == reflect.Pointer {
		converted, ok := convertValue(rv, ft.Elem())
		if !ok {
			return fmt.Errorf("%w: %T is not assignable to %s", ErrInvalidFieldValue, value, ft.String())
		}
		ptr := reflect.New(ft.Elem())
		ptr.Elem().Set(converted)
		fieldValue.Set(ptr)
		return nil
	}

	converted, ok := convertValue(rv, ft)
	if !ok {
		return fmt.Errorf("%w: %T is not assignable to %s", ErrInvalidFieldValue, value, ft.String())
	}
	fieldValue.Set(converted)

	return nil
}

// convertValue only converts between numeric kinds and between string kinds,
// so 65 never silently becomes "A". Numeric conversions must keep the value: 1.9 is no int
// and 300 is no int8.
func convertValue(rv reflect.Value, to reflect.Type) (reflect.Value, bool) {
	if rv.Type().AssignableTo(to) {
		return rv, true
	}

	if isNumeric(rv.Kind()) && isNumeric(to.Kind()) {
		converted := rv.Convert(to)
		if !keepsValue(rv, converted) {
			return reflect.Value{}, false
		}

		return converted, true
	}

	if rv.Kind() == reflect.String && to.Kind() == reflect.String {
		return rv.Convert(to), true
	}

	return reflect.Value{}, false
}

// keepsValue reports whether converted holds the same number as original.
func keepsValue(original, converted reflect.Value) bool {
	if isNegative(original) != isNegative(converted) {
		return false
	}

	if isFloat(original.Kind()) && math.IsNaN(original.Float()) {
		return isFloat(converted.Kind())
	}

	return converted.Convert(original.Type()).Interface() == original.Interface()
}

func isNegative(v reflect.Value) bool {
	switch {
	case v.CanInt():
		return v.Int() < 0
	case v.CanFloat():
		return v.Float() < 0
	default:
		return false
	}
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
