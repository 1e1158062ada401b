package filter

import (
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

const (
	OpEquals             = "equals"
	OpNotEquals          = "notEquals"
	OpContains           = "contains"
	OpNotContains        = "notContains"
	OpStartsWith         = "startsWith"
	OpEndsWith           = "endsWith"
	OpGreaterThan        = "greaterThan"
	OpGreaterThanOrEqual = "greaterThanOrEqual"
	OpLessThan           = "lessThan"
	OpLessThanOrEqual    = "lessThanOrEqual"
	OpBetween            = "between"
	OpNotBetween         = "notBetween"
	OpIn                 = "in"
	OpNotIn              = "notIn"
	OpIsEmpty            = "isEmpty"
	OpIsNotEmpty         = "isNotEmpty"
	OpBefore             = "before"
	OpAfter              = "after"
	OpOnOrBefore         = "onOrBefore"
	OpOnOrAfter          = "onOrAfter"
)

var allowedByType = map[ValueType][]string{
	TypeString: {
		OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpIn, OpNotIn, OpIsEmpty, OpIsNotEmpty,
	},
	TypeNumber: {
		OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual,
		OpBetween, OpNotBetween, OpIn, OpNotIn, OpIsEmpty, OpIsNotEmpty,
	},
	TypeDate: {
		OpEquals, OpNotEquals, OpBefore, OpAfter, OpOnOrBefore, OpOnOrAfter,
		OpBetween, OpNotBetween, OpIsEmpty, OpIsNotEmpty,
	},
}

// AllowedOperators returns the operators usable with a value type, or nil for
// an unknown type.
func AllowedOperators(t ValueType) []string {
	return allowedByType[t]
}

// ValidType reports whether t is one of the declared value types.
func ValidType(t ValueType) bool {
	_, ok := allowedByType[t]
	return ok
}

type builder func(f FieldDef, op string, v any) (Query, error)

var operatorTable = map[string]builder{
	OpEquals:             compareWith(Eq),
	OpNotEquals:          compareWith(Ne),
	OpGreaterThan:        compareWith(Gt),
	OpGreaterThanOrEqual: compareWith(Gte),
	OpLessThan:           compareWith(Lt),
	OpLessThanOrEqual:    compareWith(Lte),
	OpBefore:             compareWith(Lt),
	OpAfter:              compareWith(Gt),
	OpOnOrBefore:         compareWith(Lte),
	OpOnOrAfter:          compareWith(Gte),
	OpContains:           patternWith(Contains, false),
	OpNotContains:        patternWith(Contains, true),
	OpStartsWith:         patternWith(Prefix, false),
	OpEndsWith:           patternWith(Suffix, false),
	OpBetween:            rangeWith(false),
	OpNotBetween:         rangeWith(true),
	OpIn:                 membershipWith(false),
	OpNotIn:              membershipWith(true),
	OpIsEmpty:            existsWith(false),
	OpIsNotEmpty:         existsWith(true),
}

// Supported reports whether op has an entry in the operator table.
func Supported(op string) bool {
	_, ok := operatorTable[op]
	return ok
}

func compareWith(cmp CompareOp) builder {
	return func(f FieldDef, op string, v any) (Query, error) {
		val, err := scalar(f, op, v)
		if err != nil {
			return nil, err
		}
		return Compare{Field: f, Op: cmp, Value: val}, nil
	}
}

func patternWith(kind PatternKind, negate bool) builder {
	return func(f FieldDef, op string, v any) (Query, error) {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, appErrors.NewInvalidFilterValue(f.Key, op, "expected a non-empty string")
		}
		return Pattern{Field: f, Kind: kind, Value: s, Negate: negate}, nil
	}
}

func rangeWith(negate bool) builder {
	return func(f FieldDef, op string, v any) (Query, error) {
		list, ok := asList(v)
		if !ok || len(list) != 2 {
			return nil, appErrors.NewInvalidFilterValue(f.Key, op, "expected a two-element list")
		}
		lo, err := scalar(f, op, list[0])
		if err != nil {
			return nil, err
		}
		hi, err := scalar(f, op, list[1])
		if err != nil {
			return nil, err
		}
		return Range{Field: f, Min: lo, Max: hi, Negate: negate}, nil
	}
}

func membershipWith(negate bool) builder {
	return func(f FieldDef, op string, v any) (Query, error) {
		list, ok := asList(v)
		if !ok || len(list) == 0 {
			return nil, appErrors.NewInvalidFilterValue(f.Key, op, "expected a non-empty list")
		}
		values := make([]any, 0, len(list))
		for _, item := range list {
			val, err := scalar(f, op, item)
			if err != nil {
				return nil, err
			}
			values = append(values, val)
		}
		return Membership{Field: f, Values: values, Negate: negate}, nil
	}
}

func existsWith(present bool) builder {
	return func(f FieldDef, _ string, _ any) (Query, error) {
		return Exists{Field: f, Present: present}, nil
	}
}

func scalar(f FieldDef, op string, v any) (any, error) {
	if v == nil {
		return nil, appErrors.NewInvalidFilterValue(f.Key, op, "value is required")
	}
	val, ok := normalize(v, f.Type)
	if !ok {
		return nil, appErrors.NewInvalidFilterValue(f.Key, op, "expected a "+string(f.Type))
	}
	return val, nil
}
