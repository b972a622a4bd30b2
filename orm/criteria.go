package orm

// Criteria selects entities. Keys are Go field names or column names, values are either
// plain values (equality), nil (IS NULL), related entities or identities for relation fields,
// or an Operator built with Gt, Gte, Lt, Lte, Neq, In, NotIn or Like.
//
//	orm.Criteria{"email": "foo"}
//	orm.Criteria{"name": orm.Like("F%"), "location": location}
type Criteria map[string]any

// Op names a comparison operator of a criterion.
type Op string

// Supported comparison operators.
const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpNotIn Op = "notIn"
	OpLike  Op = "like"
)

// Operator is a comparison of a field against a value.
type Operator struct {
	Op    Op
	Value any
}

// Neq matches values different from v.
func Neq(v any) Operator { return Operator{Op: OpNeq, Value: v} }

// Gt matches values greater than v.
func Gt(v any) Operator { return Operator{Op: OpGt, Value: v} }

// Gte matches values greater than or equal to v.
func Gte(v any) Operator { return Operator{Op: OpGte, Value: v} }

// Lt matches values less than v.
func Lt(v any) Operator { return Operator{Op: OpLt, Value: v} }

// Lte matches values less than or equal to v.
func Lte(v any) Operator { return Operator{Op: OpLte, Value: v} }

// In matches any of vs.
func In(vs ...any) Operator { return Operator{Op: OpIn, Value: vs} }

// NotIn matches none of vs.
func NotIn(vs ...any) Operator { return Operator{Op: OpNotIn, Value: vs} }

// Like matches a SQL LIKE pattern.
func Like(pattern string) Operator { return Operator{Op: OpLike, Value: pattern} }
