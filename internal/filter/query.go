package filter

import (
	"strings"
)

// Record is anything a compiled query can be evaluated against in memory.
type Record interface {
	Lookup(path string) (any, bool)
}

// Query is a compiled predicate tree. Storage backends translate it into
// their own query language; Match evaluates it directly.
type Query interface {
	Match(r Record) bool
}

type CompareOp string

const (
	Eq  CompareOp = "="
	Ne  CompareOp = "<>"
	Gt  CompareOp = ">"
	Gte CompareOp = ">="
	Lt  CompareOp = "<"
	Lte CompareOp = "<="
)

type PatternKind string

const (
	Contains PatternKind = "contains"
	Prefix   PatternKind = "prefix"
	Suffix   PatternKind = "suffix"
)

type And struct {
	Terms []Query
}

type Or struct {
	Terms []Query
}

// Compare tests the field against a single value. Ne also matches records
// where the field is missing.
type Compare struct {
	Field FieldDef
	Op    CompareOp
	Value any
}

// Pattern is a case-insensitive substring, prefix or suffix test.
type Pattern struct {
	Field  FieldDef
	Kind   PatternKind
	Value  string
	Negate bool
}

// Range is an inclusive [Min, Max] test.
type Range struct {
	Field  FieldDef
	Min    any
	Max    any
	Negate bool
}

// Membership tests the field against a set of values.
type Membership struct {
	Field  FieldDef
	Values []any
	Negate bool
}

// Exists is a field presence test. Empty strings and empty lists count as absent.
type Exists struct {
	Field   FieldDef
	Present bool
}

func (q And) Match(r Record) bool {
	for _, t := range q.Terms {
		if !t.Match(r) {
			return false
		}
	}
	return true
}

func (q Or) Match(r Record) bool {
	for _, t := range q.Terms {
		if t.Match(r) {
			return true
		}
	}
	return false
}

func (q Compare) Match(r Record) bool {
	vals, ok := lookup(r, q.Field)
	if !ok {
		return q.Op == Ne
	}
	if q.Op == Ne {
		return !anyOf(vals, func(v any) bool { return equal(v, q.Value, q.Field.Type) })
	}
	return anyOf(vals, func(v any) bool {
		c, ok := compare(v, q.Value, q.Field.Type)
		if !ok {
			return false
		}
		switch q.Op {
		case Eq:
			return c == 0
		case Gt:
			return c > 0
		case Gte:
			return c >= 0
		case Lt:
			return c < 0
		case Lte:
			return c <= 0
		}
		return false
	})
}

func (q Pattern) Match(r Record) bool {
	vals, ok := lookup(r, q.Field)
	if !ok {
		return q.Negate
	}
	needle := strings.ToLower(q.Value)
	hit := anyOf(vals, func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		s = strings.ToLower(s)
		switch q.Kind {
		case Prefix:
			return strings.HasPrefix(s, needle)
		case Suffix:
			return strings.HasSuffix(s, needle)
		default:
			return strings.Contains(s, needle)
		}
	})
	return hit != q.Negate
}

func (q Range) Match(r Record) bool {
	vals, ok := lookup(r, q.Field)
	if !ok {
		return q.Negate
	}
	hit := anyOf(vals, func(v any) bool {
		lo, ok1 := compare(v, q.Min, q.Field.Type)
		hi, ok2 := compare(v, q.Max, q.Field.Type)
		return ok1 && ok2 && lo >= 0 && hi <= 0
	})
	return hit != q.Negate
}

func (q Membership) Match(r Record) bool {
	vals, ok := lookup(r, q.Field)
	if !ok {
		return q.Negate
	}
	hit := anyOf(vals, func(v any) bool {
		for _, want := range q.Values {
			if equal(v, want, q.Field.Type) {
				return true
			}
		}
		return false
	})
	return hit != q.Negate
}

func (q Exists) Match(r Record) bool {
	_, ok := lookup(r, q.Field)
	return ok == q.Present
}

// lookup returns the field's values as a list, flattening array fields.
// Blank values are reported as missing.
func lookup(r Record, f FieldDef) ([]any, bool) {
	v, ok := r.Lookup(f.Path)
	if !ok || isBlank(v) {
		return nil, false
	}
	if list, ok := asList(v); ok {
		return list, true
	}
	return []any{v}, true
}

func anyOf(vals []any, fn func(any) bool) bool {
	for _, v := range vals {
		if fn(v) {
			return true
		}
	}
	return false
}
