package filter

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Row is one record of a master dataset, keyed by column name.  Values come
// from CSV parsing or JSON decoding, so numbers may arrive as float64, int,
// or numeric strings; the evaluator coerces per the column schema.
type Row map[string]any

// EvalContext carries everything a tree needs to evaluate one row.  It is
// prepared once per materialization and shared across all rows.
type EvalContext struct {
	// Schema is the dataset's column type map; it decides comparison
	// semantics per field.
	Schema Schema

	// CohortMembers maps cohort IDs to their patient-ID sets, pre-resolved
	// for belongs_to_cohort rules so evaluation stays free of I/O.
	CohortMembers map[string]map[string]struct{}
}

// Matches reports whether the row satisfies the group: AND requires every
// child to match, OR requires at least one, and Negate complements the
// combined result.
func (g *Group) Matches(row Row, ec EvalContext) bool {
	var matched bool
	switch g.Logic {
	case LogicAnd:
		matched = true
		for _, n := range g.Rules {
			if !n.Matches(row, ec) {
				matched = false
				break
			}
		}
	case LogicOr:
		matched = false
		for _, n := range g.Rules {
			if n.Matches(row, ec) {
				matched = true
				break
			}
		}
	default:
		// Validate rejects unknown logic before evaluation.
		matched = false
	}
	if g.Negate {
		return !matched
	}
	return matched
}

// Matches evaluates the leaf predicate against the row.  A missing field
// value never matches, regardless of operator polarity, and a value that
// cannot be interpreted under the column type makes the row non-matching
// rather than raising an error.
func (r *Rule) Matches(row Row, ec EvalContext) bool {
	raw, ok := row[r.Field]
	if !ok || raw == nil {
		return false
	}

	if r.Operator == OpBelongsToCohort {
		id, _ := r.Value.(string)
		members := ec.CohortMembers[id]
		if members == nil {
			return false
		}
		_, in := members[stringify(raw)]
		return in
	}

	typ := ec.Schema[r.Field]

	switch r.Operator {
	case OpEquals:
		return valuesEqual(raw, r.Value, typ)
	case OpNotEquals:
		if typ == ColumnNumber {
			x, ok1 := toNumber(raw)
			y, ok2 := toNumber(r.Value)
			return ok1 && ok2 && x != y
		}
		return stringify(raw) != stringify(r.Value)
	case OpGT, OpGTE, OpLT, OpLTE:
		x, ok1 := toNumber(raw)
		y, ok2 := toNumber(r.Value)
		if !ok1 || !ok2 {
			return false
		}
		switch r.Operator {
		case OpGT:
			return x > y
		case OpGTE:
			return x >= y
		case OpLT:
			return x < y
		default:
			return x <= y
		}
	case OpBetween:
		// Inclusive on both bounds.
		x, ok1 := toNumber(raw)
		lo, ok2 := toNumber(r.Value)
		hi, ok3 := toNumber(r.Value2)
		return ok1 && ok2 && ok3 && x >= lo && x <= hi
	case OpIn, OpNotIn:
		list, ok := r.Value.([]any)
		if !ok {
			return false
		}
		if typ == ColumnNumber {
			if _, interpretable := toNumber(raw); !interpretable {
				return false
			}
		}
		found := false
		for _, el := range list {
			if valuesEqual(raw, el, typ) {
				found = true
				break
			}
		}
		if r.Operator == OpIn {
			return found
		}
		return !found
	case OpContains:
		needle, ok := r.Value.(string)
		if !ok {
			return false
		}
		return strings.Contains(stringify(raw), needle)
	}
	return false
}

// valuesEqual compares a row value with a filter value under the column
// type: numeric equality for number columns, exact string equality
// otherwise.
func valuesEqual(raw, candidate any, typ ColumnType) bool {
	if typ == ColumnNumber {
		x, ok1 := toNumber(raw)
		y, ok2 := toNumber(candidate)
		return ok1 && ok2 && x == y
	}
	return stringify(raw) == stringify(candidate)
}

// toNumber coerces the common decoded representations to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// stringify renders a value in its canonical string form; integral floats
// print without a trailing ".0" so CSV "20" and JSON 20 compare equal.
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
