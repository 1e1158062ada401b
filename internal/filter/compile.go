package filter

import (
	"fmt"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// Compiler turns filter expressions into queries over the fields of its
// registry.
type Compiler struct {
	Registry *Registry
}

func NewCompiler(r *Registry) *Compiler {
	if r == nil {
		r = DefaultRegistry()
	}
	return &Compiler{Registry: r}
}

var defaultCompiler = NewCompiler(nil)

// Compile compiles expr against the built-in fields.
func Compile(expr Expression) (Query, error) {
	return defaultCompiler.Compile(expr)
}

// Compile is deterministic and never drops a criterion: the first bad
// criterion aborts compilation with its error.
func (c *Compiler) Compile(expr Expression) (Query, error) {
	if len(expr.Conditions) == 0 {
		return nil, appErrors.NewInvalidFilterValue("", "", "expression has no condition groups")
	}
	top, err := combinator(expr.LogicalOperator)
	if err != nil {
		return nil, err
	}

	groups := make([]Query, 0, len(expr.Conditions))
	for i, g := range expr.Conditions {
		q, err := c.compileGroup(g)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		groups = append(groups, q)
	}
	if len(groups) == 1 {
		return groups[0], nil
	}
	return top(groups), nil
}

func (c *Compiler) compileGroup(g Group) (Query, error) {
	if len(g.Criteria) == 0 {
		return nil, appErrors.NewInvalidFilterValue("", "", "condition group has no criteria")
	}
	join, err := combinator(g.GroupOperator)
	if err != nil {
		return nil, err
	}
	terms := make([]Query, 0, len(g.Criteria))
	for _, cr := range g.Criteria {
		q, err := c.compileCriterion(cr)
		if err != nil {
			return nil, err
		}
		terms = append(terms, q)
	}
	return join(terms), nil
}

func (c *Compiler) compileCriterion(cr Criterion) (Query, error) {
	build, ok := operatorTable[cr.Operator]
	if !ok {
		return nil, appErrors.NewUnsupportedOperator(cr.Operator, cr.Field, "")
	}
	def, ok := c.Registry.Lookup(cr.Field)
	if !ok {
		return nil, appErrors.NewUnknownField(cr.Field)
	}
	if !def.Allows(cr.Operator) {
		return nil, appErrors.NewUnsupportedOperator(cr.Operator, cr.Field, string(def.Type))
	}
	return build(def, cr.Operator, cr.Value)
}

// combinator maps a group or top-level operator to its node constructor. An
// empty operator means AND.
func combinator(op LogicalOperator) (func([]Query) Query, error) {
	switch op {
	case AND, "":
		return func(terms []Query) Query { return And{Terms: terms} }, nil
	case OR:
		return func(terms []Query) Query { return Or{Terms: terms} }, nil
	}
	return nil, appErrors.NewInvalidFilterValue("", "", fmt.Sprintf("unknown logical operator %q", op))
}
