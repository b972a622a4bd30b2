package sqlengine

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// sorted map keys keep the JSON of equal values identical, which the dirty check relies on
var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// fixed width, so stored timestamps compare correctly as text
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// toDB converts a scalar field value to the value bound as a statement argument.
func (d Dialect) toDB(field *orm.FieldMeta, v reflect.Value) (any, error) {
	if field.JSON {
		if isNilable(v.Kind()) && v.IsNil() {
			return nil, nil
		}

		encoded, err := jsonCodec.Marshal(v.Interface())
		if err != nil {
			return nil, errors.Join(ErrEncodingValueFailed, err)
		}

		return string(encoded), nil
	}

	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	switch field.ColumnType {
	case orm.ColumnTimestamp:
		t, _ := v.Interface().(time.Time)
		if d == DialectSQLite {
			return t.UTC().Format(sqliteTimeLayout), nil
		}
		return t, nil
	case orm.ColumnUUID:
		u, _ := v.Interface().(uuid.UUID)
		return u.String(), nil
	case orm.ColumnInteger:
		return v.Int(), nil
	case orm.ColumnReal:
		return v.Float(), nil
	case orm.ColumnBoolean:
		return v.Bool(), nil
	case orm.ColumnText:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncodingValueFailed, field.Name)
	}
}

// scanTarget returns the scan destination for a scalar field and a func that moves the scanned
// value into the field, nil if the destination is the field itself.
func (d Dialect) scanTarget(field *orm.FieldMeta, v reflect.Value) (any, func() error) {
	switch {
	case field.JSON:
		var raw sql.NullString
		return &raw, func() error {
			if !raw.Valid {
				v.Set(reflect.Zero(v.Type()))
				return nil
			}
			return jsonCodec.UnmarshalFromString(raw.String, v.Addr().Interface())
		}

	case field.ColumnType == orm.ColumnTimestamp && d == DialectSQLite:
		var raw sql.NullString
		return &raw, func() error {
			if !raw.Valid {
				v.Set(reflect.Zero(v.Type()))
				return nil
			}
			t, err := time.Parse(time.RFC3339Nano, raw.String)
			if err != nil {
				return err
			}
			setScalar(v, reflect.ValueOf(t))
			return nil
		}

	case field.ColumnType == orm.ColumnTimestamp:
		var raw sql.NullTime
		return &raw, func() error {
			if !raw.Valid {
				v.Set(reflect.Zero(v.Type()))
				return nil
			}
			setScalar(v, reflect.ValueOf(raw.Time))
			return nil
		}

	case field.ColumnType == orm.ColumnUUID:
		var raw sql.NullString
		return &raw, func() error {
			if !raw.Valid {
				v.Set(reflect.Zero(v.Type()))
				return nil
			}
			u, err := uuid.Parse(raw.String)
			if err != nil {
				return err
			}
			setScalar(v, reflect.ValueOf(u))
			return nil
		}

	default:
		return v.Addr().Interface(), nil
	}
}

// setScalar sets a plain value onto a field that is either of that type or a pointer to it.
func setScalar(field reflect.Value, value reflect.Value) {
	if field.Kind() == reflect.Pointer {
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(value)
		field.Set(ptr)
		return
	}

	field.Set(value)
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return true
	default:
		return false
	}
}

// sameValue compares two statement arguments as produced by toDB.
func sameValue(a, b any) bool {
	ta, aIsTime := a.(time.Time)
	tb, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		return aIsTime && bIsTime && ta.Equal(tb)
	}

	return reflect.DeepEqual(a, b)
}
