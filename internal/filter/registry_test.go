package filter_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
)

func TestRegistry_LookupByKeyOrPath(t *testing.T) {
	r := filter.DefaultRegistry()

	byKey, ok := r.Lookup("city")
	require.True(t, ok)
	byPath, ok := r.Lookup("location.city")
	require.True(t, ok)
	assert.Equal(t, byKey, byPath)
}

func TestRegistry_DeclareAttribute(t *testing.T) {
	r := filter.DefaultRegistry()
	require.NoError(t, r.Declare("attributes.loyaltyPoints", filter.TypeNumber, []string{"greaterThan", "lessThan"}))

	c := filter.NewCompiler(r)
	ok := filter.Expression{Conditions: []filter.Group{{Criteria: []filter.Criterion{
		{Field: "attributes.loyaltyPoints", Operator: "greaterThan", Value: 100},
	}}}}
	q, err := c.Compile(ok)
	require.NoError(t, err)
	assert.True(t, q.Match(record{"attributes.loyaltyPoints": 150}))

	narrowed := filter.Expression{Conditions: []filter.Group{{Criteria: []filter.Criterion{
		{Field: "attributes.loyaltyPoints", Operator: "equals", Value: 100},
	}}}}
	_, err = c.Compile(narrowed)
	var unsupported *appErrors.UnsupportedOperatorError
	assert.True(t, errors.As(err, &unsupported))
}

func TestRegistry_DeclareRejectsFreeFormKeys(t *testing.T) {
	r := filter.DefaultRegistry()

	err := r.Declare("shoeSize", filter.TypeNumber, nil)
	var unknown *appErrors.UnknownFieldError
	assert.True(t, errors.As(err, &unknown))

	err = r.Declare("age", filter.TypeString, nil)
	assert.True(t, appErrors.IsValidation(err))
}

func TestAllowedOperators(t *testing.T) {
	assert.Contains(t, filter.AllowedOperators(filter.TypeDate), "onOrAfter")
	assert.NotContains(t, filter.AllowedOperators(filter.TypeString), "between")
	assert.Nil(t, filter.AllowedOperators("bool"))
	assert.True(t, filter.Supported("isEmpty"))
	assert.False(t, filter.Supported("regex"))
}
