package orm

// Direction is the sort direction of an order clause.
type Direction string

// Sort directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// PopulateAll requests every relation of the queried entity to be loaded.
const PopulateAll = "*"

// Order is one order clause of a query.
type Order struct {
	Field     string
	Direction Direction
}

// FindOptions controls relation population, ordering and paging of queries.
type FindOptions struct {
	Populate []string
	OrderBy  []Order
	Limit    uint
	Offset   uint
}

// FindOption configures FindOptions.
type FindOption func(*FindOptions)

// BuildFindOptions applies options onto empty FindOptions.
func BuildFindOptions(options ...FindOption) FindOptions {
	fo := FindOptions{}
	for _, option := range options {
		option(&fo)
	}

	return fo
}

// Populate requests the named relations to be loaded, PopulateAll loads all of them.
// Without it, queries return relation references as stubs.
func Populate(relations ...string) FindOption {
	return func(fo *FindOptions) {
		fo.Populate = append(fo.Populate, relations...)
	}
}

// OrderBy appends an order clause. Results are ordered by primary key when no order is given.
func OrderBy(field string, direction Direction) FindOption {
	return func(fo *FindOptions) {
		fo.OrderBy = append(fo.OrderBy, Order{Field: field, Direction: direction})
	}
}

// Limit caps the number of results.
func Limit(n uint) FindOption {
	return func(fo *FindOptions) {
		fo.Limit = n
	}
}

// Offset skips the first n results.
func Offset(n uint) FindOption {
	return func(fo *FindOptions) {
		fo.Offset = n
	}
}

// PopulateRelations resolves the populate hints against the relations of meta.
func (fo FindOptions) PopulateRelations(meta *EntityMeta) ([]*FieldMeta, error) {
	relations := make([]*FieldMeta, 0, len(fo.Populate))
	seen := make(map[*FieldMeta]bool)

	for _, hint := range fo.Populate {
		if hint == PopulateAll {
			for _, relation := range meta.Relations() {
				if !seen[relation] {
					seen[relation] = true
					relations = append(relations, relation)
				}
			}
			continue
		}

		field, ok := meta.Field(hint)
		if !ok || !field.IsRelation() {
			return nil, errUnknownRelation(meta, hint)
		}

		if !seen[field] {
			seen[field] = true
			relations = append(relations, field)
		}
	}

	return relations, nil
}
