package filter

// Operator identifies the comparison a FilterRule applies to a row value.
type Operator string

const (
	OpEquals          Operator = "equals"
	OpNotEquals       Operator = "not_equals"
	OpGT              Operator = "gt"
	OpGTE             Operator = "gte"
	OpLT              Operator = "lt"
	OpLTE             Operator = "lte"
	OpBetween         Operator = "between"
	OpIn              Operator = "in"
	OpNotIn           Operator = "not_in"
	OpContains        Operator = "contains"
	OpBelongsToCohort Operator = "belongs_to_cohort"
)

// ValidOperators returns all supported operators.
func ValidOperators() []Operator {
	return []Operator{
		OpEquals, OpNotEquals, OpGT, OpGTE, OpLT, OpLTE,
		OpBetween, OpIn, OpNotIn, OpContains, OpBelongsToCohort,
	}
}

// IsValid reports whether the operator is supported.
func (op Operator) IsValid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGT, OpGTE, OpLT, OpLTE,
		OpBetween, OpIn, OpNotIn, OpContains, OpBelongsToCohort:
		return true
	}
	return false
}

// RequiresNumber reports whether the operator only makes sense on a number
// column.  Used by schema validation; the gt-on-categorical case is rejected
// there rather than coerced at evaluation time.
func (op Operator) RequiresNumber() bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE, OpBetween:
		return true
	}
	return false
}

// RequiresList reports whether the operator's value must be a list.
func (op Operator) RequiresList() bool {
	return op == OpIn || op == OpNotIn
}

// RequiresSecondValue reports whether the operator needs value2.
func (op Operator) RequiresSecondValue() bool {
	return op == OpBetween
}
