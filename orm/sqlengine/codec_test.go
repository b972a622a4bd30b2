package sqlengine

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

type codecSample struct {
	At     time.Time
	Maybe  *time.Time
	Card   uuid.UUID
	Labels map[string]int
}

func codecField(
	t *testing.T,
	sample *codecSample,
	name string,
	columnType orm.ColumnType,
	asJSON bool,
) (*orm.FieldMeta, reflect.Value) {
	structField, ok := reflect.TypeFor[codecSample]().FieldByName(name)
	require.True(t, ok)

	field := &orm.FieldMeta{
		Name:       name,
		Column:     orm.SnakeCase(name),
		Index:      structField.Index,
		Type:       structField.Type,
		ColumnType: columnType,
		JSON:       asJSON,
	}

	return field, reflect.ValueOf(sample).Elem().FieldByIndex(structField.Index)
}

func Test_toDB_Timestamps(t *testing.T) {
	// setup
	sample := &codecSample{}
	field, value := codecField(t, sample, "At", orm.ColumnTimestamp, false)
	sample.At = time.Date(2025, 3, 1, 11, 0, 0, 5, time.FixedZone("CET", 60*60))

	// act
	sqliteValue, sqliteErr := DialectSQLite.toDB(field, value)
	postgresValue, postgresErr := DialectPostgres.toDB(field, value)

	// assert
	require.NoError(t, sqliteErr)
	require.NoError(t, postgresErr)
	assert.Equal(t, "2025-03-01T10:00:00.000000005Z", sqliteValue, "stored in UTC with fixed width")
	assert.Equal(t, sample.At, postgresValue)
}

func Test_toDB_NilPointerAndJSON(t *testing.T) {
	// setup
	sample := &codecSample{}
	maybeField, maybeValue := codecField(t, sample, "Maybe", orm.ColumnTimestamp, false)
	labelsField, labelsValue := codecField(t, sample, "Labels", orm.ColumnJSON, true)

	// act
	nilTime, err := DialectSQLite.toDB(maybeField, maybeValue)
	require.NoError(t, err)
	nilJSON, err := DialectSQLite.toDB(labelsField, labelsValue)
	require.NoError(t, err)

	sample.Labels = map[string]int{"b": 2, "a": 1}
	encoded, err := DialectSQLite.toDB(labelsField, labelsValue)
	require.NoError(t, err)

	// assert
	assert.Nil(t, nilTime)
	assert.Nil(t, nilJSON)
	assert.Equal(t, `{"a":1,"b":2}`, encoded, "map keys are sorted")
}

func Test_scanTarget_RoundTripsUUIDsAndTimestamps(t *testing.T) {
	// setup
	sample := &codecSample{}
	cardField, cardValue := codecField(t, sample, "Card", orm.ColumnUUID, false)
	maybeField, maybeValue := codecField(t, sample, "Maybe", orm.ColumnTimestamp, false)
	card := uuid.MustParse("0190f7a4-7b55-7c4e-9d5b-3f0c4f8a1e2d")

	// act
	cardTarget, finishCard := DialectSQLite.scanTarget(cardField, cardValue)
	*(cardTarget.(*sql.NullString)) = sql.NullString{String: card.String(), Valid: true}
	require.NoError(t, finishCard())

	maybeTarget, finishMaybe := DialectSQLite.scanTarget(maybeField, maybeValue)
	*(maybeTarget.(*sql.NullString)) = sql.NullString{String: "2025-03-01T10:00:00.123456000Z", Valid: true}
	require.NoError(t, finishMaybe())

	// assert
	assert.Equal(t, card, sample.Card)
	require.NotNil(t, sample.Maybe)
	assert.True(t, time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC).Equal(*sample.Maybe))
}

func Test_sameValue(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, sameValue(at, at.In(time.FixedZone("CET", 60*60))), "equal instants in other zones")
	assert.False(t, sameValue(at, at.Add(time.Nanosecond)))
	assert.False(t, sameValue(at, "2025-03-01T10:00:00Z"))
	assert.True(t, sameValue(int64(1), int64(1)))
	assert.False(t, sameValue(int64(1), nil))
	assert.True(t, sameValue(nil, nil))
	assert.True(t, sameValue(`{"a":1}`, `{"a":1}`))
}

func Test_columnType(t *testing.T) {
	testCases := []struct {
		columnType orm.ColumnType
		sqlite     string
		postgres   string
	}{
		{columnType: orm.ColumnInteger, sqlite: "INTEGER", postgres: "BIGINT"},
		{columnType: orm.ColumnText, sqlite: "TEXT", postgres: "TEXT"},
		{columnType: orm.ColumnReal, sqlite: "REAL", postgres: "DOUBLE PRECISION"},
		{columnType: orm.ColumnBoolean, sqlite: "BOOLEAN", postgres: "BOOLEAN"},
		{columnType: orm.ColumnTimestamp, sqlite: "TEXT", postgres: "TIMESTAMPTZ"},
		{columnType: orm.ColumnUUID, sqlite: "TEXT", postgres: "UUID"},
		{columnType: orm.ColumnJSON, sqlite: "TEXT", postgres: "JSONB"},
	}

	for _, tc := range testCases {
		t.Run(tc.postgres, func(t *testing.T) {
			field := &orm.FieldMeta{ColumnType: tc.columnType}

			assert.Equal(t, tc.sqlite, DialectSQLite.columnType(field))
			assert.Equal(t, tc.postgres, DialectPostgres.columnType(field))
		})
	}
}
