package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/filter"
)

func compileOne(t *testing.T, field, op string, value any) filter.Query {
	t.Helper()
	q, err := filter.Compile(filter.Expression{Conditions: []filter.Group{{
		Criteria: []filter.Criterion{{Field: field, Operator: op, Value: value}},
	}}})
	require.NoError(t, err)
	return q
}

func TestQueryBuilder_Scalars(t *testing.T) {
	cases := []struct {
		field, op string
		value     any
		sql       string
		args      []any
	}{
		{"age", "greaterThan", 30, `("age" > $1::numeric)`, []any{30.0}},
		{"age", "notEquals", 30, `("age" IS NULL OR "age" <> $1::numeric)`, []any{30.0}},
		{"age", "between", []any{18, 30}, `("age" BETWEEN $1::numeric AND $2::numeric)`, []any{18.0, 30.0}},
		{"name", "startsWith", "50%_off", `("name" ILIKE $1)`, []any{`50\%\_off%`}},
		{"city", "contains", "nai", `(("location"->>'city') ILIKE $1)`, []any{"%nai%"}},
		{"email", "isEmpty", nil, `(NOT ("email" IS NOT NULL AND "email" <> ''))`, nil},
		{"plan", "isNotEmpty", nil, `((("attributes"->>'plan') IS NOT NULL AND ("attributes"->>'plan') <> ''))`, nil},
	}
	for _, tc := range cases {
		qb := NewQueryBuilder()
		sql, err := qb.Where(compileOne(t, tc.field, tc.op, tc.value))
		require.NoError(t, err)
		assert.Equal(t, tc.sql, sql, "%s %s", tc.field, tc.op)
		assert.Equal(t, tc.args, qb.Args(), "%s %s", tc.field, tc.op)
	}
}

func TestQueryBuilder_ArrayField(t *testing.T) {
	qb := NewQueryBuilder()
	sql, err := qb.Where(compileOne(t, "tags", "notIn", []any{"churned"}))
	require.NoError(t, err)
	assert.Equal(t, `(NOT EXISTS (SELECT 1 FROM unnest("tags") AS t(v) WHERE t.v = ANY($1::text[])))`, sql)
	assert.Len(t, qb.Args(), 1)

	qb = NewQueryBuilder()
	sql, err = qb.Where(compileOne(t, "tags", "isEmpty", nil))
	require.NoError(t, err)
	assert.Equal(t, `(NOT (COALESCE(cardinality("tags"), 0) > 0))`, sql)
}

func TestQueryBuilder_GroupsAndPlaceholders(t *testing.T) {
	q, err := filter.Compile(filter.Expression{
		LogicalOperator: filter.OR,
		Conditions: []filter.Group{
			{GroupOperator: filter.AND, Criteria: []filter.Criterion{
				{Field: "age", Operator: "greaterThanOrEqual", Value: 18},
				{Field: "country", Operator: "equals", Value: "Kenya"},
			}},
			{Criteria: []filter.Criterion{
				{Field: "createdAt", Operator: "after", Value: "2024-01-01"},
			}},
		},
	})
	require.NoError(t, err)

	qb := NewQueryBuilder()
	sql, err := qb.Where(q)
	require.NoError(t, err)
	assert.Equal(t,
		`(("age" >= $1::numeric) AND (("location"->>'country') = $2)) OR (("created_at" > $3::timestamptz))`,
		sql)
	require.Len(t, qb.Args(), 3)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), qb.Args()[2])
}

func TestQueryBuilder_NilAndEmpty(t *testing.T) {
	qb := NewQueryBuilder()
	sql, err := qb.Where(nil)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)

	sql, err = qb.Where(filter.Or{})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)
}

func TestQueryBuilder_NumericAttribute(t *testing.T) {
	r := filter.DefaultRegistry()
	require.NoError(t, r.Declare("attributes.score", filter.TypeNumber, nil))
	q, err := filter.NewCompiler(r).Compile(filter.Expression{Conditions: []filter.Group{{
		Criteria: []filter.Criterion{{Field: "attributes.score", Operator: "lessThan", Value: 10}},
	}}})
	require.NoError(t, err)

	qb := NewQueryBuilder()
	sql, err := qb.Where(q)
	require.NoError(t, err)
	assert.Equal(t, `(NULLIF("attributes"->>'score', '')::numeric < $1::numeric)`, sql)
}

func TestQueryBuilder_FractionalBoundsOnIntegerColumn(t *testing.T) {
	qb := NewQueryBuilder()
	sql, err := qb.Where(compileOne(t, "age", "greaterThan", 30.5))
	require.NoError(t, err)
	assert.Equal(t, `("age" > $1::numeric)`, sql)
	assert.Equal(t, []any{30.5}, qb.Args())

	qb = NewQueryBuilder()
	sql, err = qb.Where(compileOne(t, "age", "notBetween", []any{20.5, 40}))
	require.NoError(t, err)
	assert.Equal(t, `("age" IS NULL OR "age" NOT BETWEEN $1::numeric AND $2::numeric)`, sql)
	assert.Equal(t, []any{20.5, 40.0}, qb.Args())
}
