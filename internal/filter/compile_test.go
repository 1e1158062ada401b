package filter_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
)

// record is a flat path -> value map.
type record map[string]any

func (r record) Lookup(path string) (any, bool) {
	v, ok := r[path]
	return v, ok
}

func group(op filter.LogicalOperator, criteria ...filter.Criterion) filter.Group {
	return filter.Group{GroupOperator: op, Criteria: criteria}
}

func TestCompile_SingleGroupIsNotWrapped(t *testing.T) {
	expr := filter.Expression{
		LogicalOperator: filter.AND,
		Conditions: []filter.Group{group(filter.OR,
			filter.Criterion{Field: "age", Operator: "greaterThan", Value: 30.0},
			filter.Criterion{Field: "city", Operator: "equals", Value: "Nairobi"},
		)},
	}

	q, err := filter.Compile(expr)
	require.NoError(t, err)

	or, ok := q.(filter.Or)
	require.True(t, ok, "expected the group's Or node at the root, got %T", q)
	require.Len(t, or.Terms, 2)
	assert.Equal(t, filter.Compare{
		Field: filter.FieldDef{Key: "age", Path: "age", Type: filter.TypeNumber},
		Op:    filter.Gt,
		Value: 30.0,
	}, or.Terms[0])
}

func TestCompile_MultipleGroupsUseTopLevelOperator(t *testing.T) {
	expr := filter.Expression{
		LogicalOperator: filter.OR,
		Conditions: []filter.Group{
			group(filter.AND, filter.Criterion{Field: "age", Operator: "lessThan", Value: 20}),
			group(filter.AND, filter.Criterion{Field: "age", Operator: "greaterThan", Value: 60}),
		},
	}

	q, err := filter.Compile(expr)
	require.NoError(t, err)

	or, ok := q.(filter.Or)
	require.True(t, ok)
	assert.Len(t, or.Terms, 2)
	assert.IsType(t, filter.And{}, or.Terms[0])

	assert.True(t, q.Match(record{"age": 18}))
	assert.True(t, q.Match(record{"age": 70}))
	assert.False(t, q.Match(record{"age": 40}))
}

func TestCompile_UnknownOperatorAlwaysErrors(t *testing.T) {
	for _, field := range []string{"age", "email", "createdAt", "doesNotExist"} {
		expr := filter.Expression{Conditions: []filter.Group{group(filter.AND,
			filter.Criterion{Field: "name", Operator: "equals", Value: "x"},
			filter.Criterion{Field: field, Operator: "fuzzyMatch", Value: "x"},
		)}}

		q, err := filter.Compile(expr)
		assert.Nil(t, q)

		var unsupported *appErrors.UnsupportedOperatorError
		require.True(t, errors.As(err, &unsupported), "field %s: got %v", field, err)
		assert.Equal(t, "fuzzyMatch", unsupported.Operator)
	}
}

func TestCompile_OperatorNotAllowedForType(t *testing.T) {
	cases := []struct {
		field string
		op    string
		value any
	}{
		{"age", "contains", "3"},
		{"email", "greaterThan", "a"},
		{"createdAt", "in", []any{"2024-01-01"}},
		{"name", "before", "2024-01-01"},
	}
	for _, tc := range cases {
		expr := filter.Expression{Conditions: []filter.Group{group(filter.AND,
			filter.Criterion{Field: tc.field, Operator: tc.op, Value: tc.value})}}

		_, err := filter.Compile(expr)
		var unsupported *appErrors.UnsupportedOperatorError
		require.True(t, errors.As(err, &unsupported), "%s %s: got %v", tc.field, tc.op, err)
		assert.NotEmpty(t, unsupported.ValueType)
	}
}

func TestCompile_UnknownField(t *testing.T) {
	expr := filter.Expression{Conditions: []filter.Group{group(filter.AND,
		filter.Criterion{Field: "shoeSize", Operator: "equals", Value: "42"})}}

	_, err := filter.Compile(expr)
	var unknown *appErrors.UnknownFieldError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "shoeSize", unknown.Field)
}

func TestCompile_InvalidValues(t *testing.T) {
	cases := map[string]filter.Expression{
		"no groups": {},
		"empty group": {Conditions: []filter.Group{group(filter.AND)}},
		"bad group operator": {Conditions: []filter.Group{group("XOR",
			filter.Criterion{Field: "age", Operator: "equals", Value: 1})}},
		"between needs two values": {Conditions: []filter.Group{group(filter.AND,
			filter.Criterion{Field: "age", Operator: "between", Value: []any{1}})}},
		"number expected": {Conditions: []filter.Group{group(filter.AND,
			filter.Criterion{Field: "age", Operator: "equals", Value: "old"})}},
		"in needs a list": {Conditions: []filter.Group{group(filter.AND,
			filter.Criterion{Field: "city", Operator: "in", Value: "Nairobi"})}},
		"bad date": {Conditions: []filter.Group{group(filter.AND,
			filter.Criterion{Field: "createdAt", Operator: "after", Value: "yesterday"})}},
	}
	for name, expr := range cases {
		_, err := filter.Compile(expr)
		assert.True(t, appErrors.IsValidation(err), "%s: got %v", name, err)
	}
}

func TestCompile_IsDeterministic(t *testing.T) {
	raw := `{"conditions":[{"groupOperator":"AND","criteria":[
		{"field":"age","operator":"between","value":[18,30]},
		{"field":"tags","operator":"in","value":["vip","beta"]}]}],"logicalOperator":"AND"}`
	expr, err := filter.Parse([]byte(raw))
	require.NoError(t, err)

	a, err := filter.Compile(expr)
	require.NoError(t, err)
	b, err := filter.Compile(expr)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, filter.Hash(expr), filter.Hash(expr))
}

func TestMatch_Operators(t *testing.T) {
	alice := record{
		"email":         "alice@example.com",
		"name":          "Alice Wanjiru",
		"age":           35,
		"location.city": "Nairobi",
		"tags":          []string{"vip", "beta"},
		"createdAt":     "2024-03-10T08:00:00Z",
	}

	cases := []struct {
		field string
		op    string
		value any
		want  bool
	}{
		{"name", "contains", "WANJ", true},
		{"name", "notContains", "bob", true},
		{"email", "startsWith", "alice@", true},
		{"email", "endsWith", "@example.org", false},
		{"age", "equals", 35, true},
		{"age", "notEquals", 35, false},
		{"age", "greaterThanOrEqual", 35, true},
		{"age", "lessThan", 35, false},
		{"age", "between", []any{30, 40}, true},
		{"age", "notBetween", []any{30, 40}, false},
		{"age", "in", []any{25, 35}, true},
		{"city", "notIn", []any{"Mombasa"}, true},
		{"city", "isNotEmpty", nil, true},
		{"country", "isEmpty", nil, true},
		{"country", "notEquals", "Kenya", true},
		{"tags", "equals", "vip", true},
		{"tags", "in", []any{"alpha", "beta"}, true},
		{"tags", "notIn", []any{"vip"}, false},
		{"createdAt", "after", "2024-01-01", true},
		{"createdAt", "onOrBefore", "2024-03-10T08:00:00Z", true},
		{"createdAt", "before", "2024-03-01", false},
	}
	for _, tc := range cases {
		expr := filter.Expression{Conditions: []filter.Group{group(filter.AND,
			filter.Criterion{Field: tc.field, Operator: tc.op, Value: tc.value})}}
		q, err := filter.Compile(expr)
		require.NoError(t, err, "%s %s", tc.field, tc.op)
		assert.Equal(t, tc.want, q.Match(alice), "%s %s %v", tc.field, tc.op, tc.value)
	}
}

func TestParse_OriginalShape(t *testing.T) {
	raw := `{"conditions":[{"groupOperator":"AND","criteria":[{"field":"age","operator":"greaterThan","value":30}]}],"logicalOperator":"AND"}`
	expr, err := filter.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, expr.Conditions, 1)
	assert.Equal(t, 30.0, expr.Conditions[0].Criteria[0].Value)

	out, err := json.Marshal(expr)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), `"groupOperator":"AND"`))

	_, err = filter.Parse([]byte("{"))
	assert.Error(t, err)
}
