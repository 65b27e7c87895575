// Package filter defines the recursive boolean expression tree used to
// express patient inclusion/exclusion criteria, its JSON wire format, and a
// pure evaluator over tabular rows.
//
// The wire format is a tagged union: a JSON object carrying a "logic" key is
// a group, anything else is a rule.  Decoding produces concrete *Rule and
// *Group values so evaluation never inspects raw JSON.
package filter

import (
	"encoding/json"

	"github.com/clinforge/cohortd/pkg/errors"
)

// Logic combines the results of a group's children.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Node is a single element of a filter tree: either a *Rule leaf or a
// nested *Group.
type Node interface {
	// Validate checks the node's structural invariants, recursively.
	Validate() error

	// Matches evaluates the node against one row.  It is pure: no I/O and
	// no mutation of the receiver, the row, or the context.
	Matches(row Row, ec EvalContext) bool

	isNode()
}

// Rule is a leaf predicate over a single column.
type Rule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	Value2   any      `json:"value2,omitempty"`
}

func (*Rule) isNode() {}

// Validate checks the rule's shape: field present, operator known, and the
// value arity the operator demands.
func (r *Rule) Validate() error {
	if r.Field == "" {
		return errors.New(errors.ErrCodeFilterInvalidTree, "rule field must not be empty")
	}
	if !r.Operator.IsValid() {
		return errors.Newf(errors.ErrCodeFilterUnknownOp, "unknown operator %q", r.Operator)
	}
	if r.Operator.RequiresSecondValue() && r.Value2 == nil {
		return errors.Newf(errors.ErrCodeFilterInvalidTree,
			"operator %q requires value2 on field %q", r.Operator, r.Field)
	}
	if r.Operator.RequiresList() {
		list, ok := r.Value.([]any)
		if !ok || len(list) == 0 {
			return errors.Newf(errors.ErrCodeFilterInvalidTree,
				"operator %q requires a non-empty list value on field %q", r.Operator, r.Field)
		}
	}
	if r.Operator == OpBelongsToCohort {
		id, ok := r.Value.(string)
		if !ok || id == "" {
			return errors.Newf(errors.ErrCodeFilterInvalidTree,
				"operator %q requires a cohort ID string value", r.Operator)
		}
	}
	return nil
}

// Group combines child nodes with AND/OR logic and an optional negation
// applied to the combined result.
type Group struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Logic  Logic  `json:"logic"`
	Negate bool   `json:"negate,omitempty"`
	Rules  []Node `json:"rules"`
}

func (*Group) isNode() {}

// Validate checks the group invariants: known logic, a non-empty rules
// array, and valid children, recursively.  An empty group is rejected here
// so it can never reach the evaluator.
func (g *Group) Validate() error {
	switch g.Logic {
	case LogicAnd, LogicOr:
	default:
		return errors.Newf(errors.ErrCodeFilterInvalidTree, "group logic %q is not AND or OR", g.Logic)
	}
	if len(g.Rules) == 0 {
		return errors.New(errors.ErrCodeFilterEmptyGroup, "filter group has no rules")
	}
	for _, n := range g.Rules {
		if n == nil {
			return errors.New(errors.ErrCodeFilterInvalidTree, "filter group contains a null node")
		}
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAgainstSchema validates the tree structurally and then checks each
// rule against the dataset's column schema: the column must exist and the
// operator must be compatible with its type.  Operator/type mismatches (e.g.
// gt on a categorical column) are rejected here, never coerced later.
func (g *Group) ValidateAgainstSchema(s Schema) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return g.checkSchema(s)
}

func (g *Group) checkSchema(s Schema) error {
	for _, n := range g.Rules {
		switch node := n.(type) {
		case *Group:
			if err := node.checkSchema(s); err != nil {
				return err
			}
		case *Rule:
			typ, ok := s[node.Field]
			if !ok {
				return errors.Newf(errors.ErrCodeDatasetUnknownColumn,
					"filter references unknown column %q", node.Field)
			}
			if node.Operator.RequiresNumber() && typ != ColumnNumber {
				return errors.Newf(errors.ErrCodeFilterTypeMismatch,
					"operator %q requires a number column, %q is %s", node.Operator, node.Field, typ)
			}
			if node.Operator == OpContains && typ == ColumnNumber {
				return errors.Newf(errors.ErrCodeFilterTypeMismatch,
					"operator %q requires a text column, %q is %s", node.Operator, node.Field, typ)
			}
		}
	}
	return nil
}

// CohortRefs returns the cohort IDs referenced by belongs_to_cohort rules
// anywhere in the tree.  The materializer resolves these into membership
// sets before evaluation.
func (g *Group) CohortRefs() []string {
	var refs []string
	g.walkRules(func(r *Rule) {
		if r.Operator == OpBelongsToCohort {
			if id, ok := r.Value.(string); ok && id != "" {
				refs = append(refs, id)
			}
		}
	})
	return refs
}

func (g *Group) walkRules(fn func(*Rule)) {
	for _, n := range g.Rules {
		switch node := n.(type) {
		case *Group:
			node.walkRules(fn)
		case *Rule:
			fn(node)
		}
	}
}

// UnmarshalJSON decodes a group, dispatching each element of "rules" to
// either *Rule or *Group based on the presence of a "logic" key.
func (g *Group) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string            `json:"id"`
		Name   string            `json:"name"`
		Logic  Logic             `json:"logic"`
		Negate bool              `json:"negate"`
		Rules  []json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeFilterInvalidTree, "failed to decode filter group")
	}
	g.ID = raw.ID
	g.Name = raw.Name
	g.Logic = raw.Logic
	g.Negate = raw.Negate
	g.Rules = make([]Node, 0, len(raw.Rules))
	for _, msg := range raw.Rules {
		node, err := decodeNode(msg)
		if err != nil {
			return err
		}
		g.Rules = append(g.Rules, node)
	}
	return nil
}

// decodeNode probes the raw object for a "logic" key to decide the variant.
func decodeNode(data []byte) (Node, error) {
	var probe struct {
		Logic *Logic `json:"logic"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFilterInvalidTree, "failed to decode filter node")
	}
	if probe.Logic != nil {
		grp := &Group{}
		if err := json.Unmarshal(data, grp); err != nil {
			return nil, err
		}
		return grp, nil
	}
	rule := &Rule{}
	if err := json.Unmarshal(data, rule); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFilterInvalidTree, "failed to decode filter rule")
	}
	return rule, nil
}

// Decode parses a top-level filter group from JSON and validates it.
func Decode(data []byte) (*Group, error) {
	g := &Group{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Encode serialises the group to its canonical JSON wire form.
func Encode(g *Group) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode filter group")
	}
	return data, nil
}
