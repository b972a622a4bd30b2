package orm

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	tagName            = "orm"
	tagSkip            = "-"
	tagOptPrimary      = "primary"
	tagOptUnique       = "unique"
	tagOptNullable     = "nullable"
	tagOptJSON         = "json"
	tagOptOneToOne     = "one_to_one"
	tagOptManyToOne    = "many_to_one"
	tagOptColumnPrefix = "column="
	defaultPrimaryName = "ID"
	relationColSuffix  = "_id"
)

// ColumnType is the semantic type of a mapped column, engines translate it to their SQL types.
type ColumnType int

// Semantic column types.
const (
	ColumnInteger ColumnType = iota + 1
	ColumnText
	ColumnReal
	ColumnBoolean
	ColumnTimestamp
	ColumnUUID
	ColumnJSON
)

// RelationKind is the cardinality of a relation, seen from the owning side.
type RelationKind string

// Relation kinds.
const (
	OneToOne  RelationKind = "one_to_one"
	ManyToOne RelationKind = "many_to_one"
)

// TableNamer can be implemented by entities to override the derived table name.
type TableNamer interface {
	TableName() string
}

// RelationMeta describes the relation a field declares.
type RelationMeta struct {
	Kind       RelationKind
	TargetType reflect.Type
	Target     *EntityMeta
}

// FieldMeta describes one mapped struct field and its column.
type FieldMeta struct {
	Name       string
	Column     string
	Index      []int
	Type       reflect.Type
	ColumnType ColumnType
	Primary    bool
	Unique     bool
	Nullable   bool
	JSON       bool
	Relation   *RelationMeta
}

// IsRelation reports whether the field is a relation reference.
func (f *FieldMeta) IsRelation() bool {
	return f.Relation != nil
}

// EntityMeta describes a registered entity type.
type EntityMeta struct {
	Name     string
	Table    string
	Type     reflect.Type
	Fields   []*FieldMeta
	Primary  *FieldMeta
	byName   map[string]*FieldMeta
	byColumn map[string]*FieldMeta
}

// Field looks a field up by its Go name or its column name.
func (m *EntityMeta) Field(key string) (*FieldMeta, bool) {
	if f, ok := m.byName[key]; ok {
		return f, true
	}

	if f, ok := m.byColumn[key]; ok {
		return f, true
	}

	// lower camel case keys, e.g. "email" for Email
	for name, f := range m.byName {
		if strings.EqualFold(name, key) {
			return f, true
		}
	}

	return nil, false
}

// Relations returns the relation fields in declaration order.
func (m *EntityMeta) Relations() []*FieldMeta {
	relations := make([]*FieldMeta, 0)
	for _, f := range m.Fields {
		if f.IsRelation() {
			relations = append(relations, f)
		}
	}

	return relations
}

// Columns returns all column names in declaration order.
func (m *EntityMeta) Columns() []string {
	columns := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		columns = append(columns, f.Column)
	}

	return columns
}

// PrimaryKeyOf reads the identity of entity, which must be a *T of this entity type.
func (m *EntityMeta) PrimaryKeyOf(entity any) PrimaryKey {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	return v.FieldByIndex(m.Primary.Index).Int()
}

// SetPrimaryKey writes the identity of entity, which must be a *T of this entity type.
func (m *EntityMeta) SetPrimaryKey(entity any, id PrimaryKey) {
	reflect.ValueOf(entity).Elem().FieldByIndex(m.Primary.Index).SetInt(id)
}

// New allocates a zero entity of this type and returns the *T.
func (m *EntityMeta) New() any {
	return reflect.New(m.Type).Interface()
}

// Registry holds the metadata of all registered entity types.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*EntityMeta
	order  []*EntityMeta
}

// NewRegistry creates a Registry and registers the given entities (values or pointers).
func NewRegistry(entities ...any) (*Registry, error) {
	r := &Registry{
		byType: make(map[reflect.Type]*EntityMeta),
	}

	if err := r.Register(entities...); err != nil {
		return nil, err
	}

	return r, nil
}

// Register derives and stores the metadata of the given entities.
// Entity types reachable through relations are registered as well.
func (r *Registry) Register(entities ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	registeredBefore := len(r.order)

	for _, entity := range entities {
		t := reflect.TypeOf(entity)
		if t == nil {
			r.rollback(registeredBefore)
			return ErrNotAStruct
		}

		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}

		if _, err := r.register(t); err != nil {
			r.rollback(registeredBefore)
			return err
		}
	}

	if _, err := r.sortByDependencies(); err != nil {
		r.rollback(registeredBefore)
		return err
	}

	return nil
}

// rollback forgets every entity registered after the first n. Callers must hold the lock.
func (r *Registry) rollback(n int) {
	for _, meta := range r.order[n:] {
		delete(r.byType, meta.Type)
	}
	r.order = r.order[:n]
}

// Meta returns the metadata of entity type t (struct or pointer to struct).
func (r *Registry) Meta(t reflect.Type) (*EntityMeta, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotRegistered, t.String())
	}

	return meta, nil
}

// MetaOf returns the metadata of the type of entity.
func (r *Registry) MetaOf(entity any) (*EntityMeta, error) {
	t := reflect.TypeOf(entity)
	if t == nil {
		return nil, ErrNotAStruct
	}

	return r.Meta(t)
}

// Entities returns the registered entities ordered so that relation targets come before their owners.
func (r *Registry) Entities() []*EntityMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered, _ := r.sortByDependencies()

	return ordered
}

func (r *Registry) register(t reflect.Type) (*EntityMeta, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotAStruct, t.String())
	}

	if meta, ok := r.byType[t]; ok {
		return meta, nil
	}

	meta := &EntityMeta{
		Name:     t.Name(),
		Table:    tableNameOf(t),
		Type:     t,
		byName:   make(map[string]*FieldMeta),
		byColumn: make(map[string]*FieldMeta),
	}

	// registered before the fields are parsed, so relation cycles terminate
	r.byType[t] = meta
	r.order = append(r.order, meta)

	if err := r.parseFields(meta); err != nil {
		return nil, err
	}

	return meta, nil
}

func (r *Registry) parseFields(meta *EntityMeta) error {
	for i := 0; i < meta.Type.NumField(); i++ {
		sf := meta.Type.Field(i)
		if !sf.IsExported() {
			continue
		}

		tag, hasTag := sf.Tag.Lookup(tagName)
		if tag == tagSkip {
			continue
		}

		field, err := parseField(sf, tag, hasTag)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", meta.Name, sf.Name, err)
		}

		if field.IsRelation() {
			target, registerErr := r.register(field.Relation.TargetType)
			if registerErr != nil {
				return fmt.Errorf("%s.%s: %w", meta.Name, sf.Name, registerErr)
			}
			field.Relation.Target = target
		}

		if field.Primary {
			if meta.Primary != nil {
				return fmt.Errorf("%s: %w: more than one primary key", meta.Name, ErrInvalidTag)
			}
			meta.Primary = field
		}

		if _, duplicate := meta.byColumn[field.Column]; duplicate {
			return fmt.Errorf("%s.%s: %w: duplicate column %q", meta.Name, sf.Name, ErrInvalidTag, field.Column)
		}

		meta.Fields = append(meta.Fields, field)
		meta.byName[field.Name] = field
		meta.byColumn[field.Column] = field
	}

	if meta.Primary == nil {
		if candidate, ok := meta.byName[defaultPrimaryName]; ok && candidate.ColumnType == ColumnInteger && candidate.Type.Kind() == reflect.Int64 {
			candidate.Primary = true
			meta.Primary = candidate
		}
	}

	if meta.Primary == nil {
		return fmt.Errorf("%s: %w", meta.Name, ErrMissingPrimaryKey)
	}

	return nil
}

func parseField(sf reflect.StructField, tag string, hasTag bool) (*FieldMeta, error) {
	field := &FieldMeta{
		Name:   sf.Name,
		Column: SnakeCase(sf.Name),
		Index:  sf.Index,
		Type:   sf.Type,
	}

	var relationKind RelationKind

	if hasTag && tag != "" {
		for _, opt := range strings.Split(tag, ";") {
			opt = strings.TrimSpace(opt)
			switch {
			case opt == "":
				continue
			case opt == tagOptPrimary:
				field.Primary = true
			case opt == tagOptUnique:
				field.Unique = true
			case opt == tagOptNullable:
				field.Nullable = true
			case opt == tagOptJSON:
				field.JSON = true
			case opt == tagOptOneToOne:
				relationKind = OneToOne
			case opt == tagOptManyToOne:
				relationKind = ManyToOne
			case strings.HasPrefix(opt, tagOptColumnPrefix):
				field.Column = strings.TrimPrefix(opt, tagOptColumnPrefix)
				if field.Column == "" {
					return nil, fmt.Errorf("%w: empty column name", ErrInvalidTag)
				}
			default:
				return nil, fmt.Errorf("%w: unknown option %q", ErrInvalidTag, opt)
			}
		}
	}

	if isRefType(sf.Type) {
		if relationKind == "" {
			relationKind = OneToOne
		}

		if field.Column == SnakeCase(sf.Name) {
			field.Column += relationColSuffix
		}

		field.ColumnType = ColumnInteger
		field.Relation = &RelationMeta{
			Kind:       relationKind,
			TargetType: refTargetType(sf.Type),
		}
		// one-to-one owners hold a unique foreign key
		field.Unique = field.Unique || relationKind == OneToOne

		return field, nil
	}

	if relationKind != "" {
		return nil, fmt.Errorf("%w: %s requires a field of type orm.Ref[T]", ErrInvalidTag, relationKind)
	}

	columnType, nullable, err := columnTypeOf(sf.Type, field.JSON)
	if err != nil {
		return nil, err
	}

	field.ColumnType = columnType
	field.Nullable = field.Nullable || nullable

	if field.Primary {
		if sf.Type.Kind() != reflect.Int64 {
			return nil, fmt.Errorf("%w: primary key must be int64", ErrMissingPrimaryKey)
		}
		field.Nullable = false
	}

	return field, nil
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
)

func columnTypeOf(t reflect.Type, asJSON bool) (ColumnType, bool, error) {
	if asJSON {
		return ColumnJSON, t.Kind() == reflect.Pointer || t.Kind() == reflect.Map || t.Kind() == reflect.Slice, nil
	}

	nullable := false
	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}

	switch {
	case t == timeType:
		return ColumnTimestamp, nullable, nil
	case t == uuidType:
		return ColumnUUID, nullable, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ColumnInteger, nullable, nil
	case reflect.String:
		return ColumnText, nullable, nil
	case reflect.Float32, reflect.Float64:
		return ColumnReal, nullable, nil
	case reflect.Bool:
		return ColumnBoolean, nullable, nil
	default:
		return 0, false, fmt.Errorf("%w: %s (tag it with json to store it as JSON)", ErrUnsupportedFieldType, t.String())
	}
}

func tableNameOf(t reflect.Type) string {
	if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
		return namer.TableName()
	}

	if namer, ok := reflect.Zero(t).Interface().(TableNamer); ok {
		return namer.TableName()
	}

	return SnakeCase(t.Name())
}

// sortByDependencies orders the registered entities so that relation targets come first.
// Callers must hold the lock.
func (r *Registry) sortByDependencies() ([]*EntityMeta, error) {
	const (
		unvisited = iota
		visiting
		visited
	)

	marks := make(map[*EntityMeta]int, len(r.order))
	ordered := make([]*EntityMeta, 0, len(r.order))

	var visit func(meta *EntityMeta) error
	visit = func(meta *EntityMeta) error {
		switch marks[meta] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrRelationCycle, meta.Name)
		}

		marks[meta] = visiting
		for _, relation := range meta.Relations() {
			if err := visit(relation.Relation.Target); err != nil {
				return err
			}
		}
		marks[meta] = visited
		ordered = append(ordered, meta)

		return nil
	}

	for _, meta := range r.order {
		if err := visit(meta); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}

// IsRegistrationError reports whether err was caused by an invalid entity declaration.
func IsRegistrationError(err error) bool {
	return errors.Is(err, ErrNotAStruct) ||
		errors.Is(err, ErrMissingPrimaryKey) ||
		errors.Is(err, ErrUnsupportedFieldType) ||
		errors.Is(err, ErrInvalidTag) ||
		errors.Is(err, ErrRelationCycle)
}
