package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
)

// QueryBuilder renders a compiled filter into a parameterised WHERE clause
// over the audience_members table.
type QueryBuilder struct {
	args       []any
	argCounter int
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{argCounter: 1}
}

// nextArg returns the next argument placeholder
func (qb *QueryBuilder) nextArg(value any) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

// valueArg is nextArg with an explicit cast for number and date fields.
// Without it PostgreSQL types the parameter after the column, so 30.5
// against the integer age column fails to parse.
func (qb *QueryBuilder) valueArg(f filter.FieldDef, value any) string {
	placeholder := qb.nextArg(sqlValue(value))
	switch f.Type {
	case filter.TypeNumber:
		return placeholder + "::numeric"
	case filter.TypeDate:
		return placeholder + "::timestamptz"
	}
	return placeholder
}

// Args returns the arguments collected so far, in placeholder order.
func (qb *QueryBuilder) Args() []any {
	return qb.args
}

// Where renders q. A nil query matches everything.
func (qb *QueryBuilder) Where(q filter.Query) (string, error) {
	if q == nil {
		return "TRUE", nil
	}
	switch n := q.(type) {
	case filter.And:
		return qb.join(n.Terms, " AND ", "TRUE")
	case filter.Or:
		return qb.join(n.Terms, " OR ", "FALSE")
	case filter.Compare, filter.Pattern, filter.Range, filter.Membership, filter.Exists:
		return qb.leaf(n)
	}
	return "", fmt.Errorf("unsupported query node %T", q)
}

func (qb *QueryBuilder) join(terms []filter.Query, sep, empty string) (string, error) {
	if len(terms) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		sql, err := qb.Where(t)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+sql+")")
	}
	return strings.Join(parts, sep), nil
}

// leaf renders a single predicate. Array fields are tested element-wise
// inside EXISTS over unnest; negated predicates become NOT EXISTS so that a
// member with no elements still matches, as it does in memory.
func (qb *QueryBuilder) leaf(q filter.Query) (string, error) {
	field := fieldOf(q)
	if field.Multi {
		col, err := columnFor(field.Path)
		if err != nil {
			return "", err
		}
		if ex, ok := q.(filter.Exists); ok {
			present := fmt.Sprintf("COALESCE(cardinality(%s), 0) > 0", col)
			if ex.Present {
				return present, nil
			}
			return "NOT (" + present + ")", nil
		}
		positive, negated := positiveForm(q)
		inner, err := qb.predicate(positive, "t.v", false)
		if err != nil {
			return "", err
		}
		sql := fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS t(v) WHERE %s)", col, inner)
		if negated {
			return "NOT " + sql, nil
		}
		return sql, nil
	}

	col, err := valueExpr(field)
	if err != nil {
		return "", err
	}
	return qb.predicate(q, col, true)
}

// predicate renders q against the SQL expression col. With nullable set,
// negated predicates also accept NULL.
func (qb *QueryBuilder) predicate(q filter.Query, col string, nullable bool) (string, error) {
	orNull := func(sql string) string {
		if !nullable {
			return sql
		}
		return fmt.Sprintf("%s IS NULL OR %s", col, sql)
	}

	switch n := q.(type) {
	case filter.Compare:
		if n.Op == filter.Ne {
			return orNull(fmt.Sprintf("%s <> %s", col, qb.valueArg(n.Field, n.Value))), nil
		}
		return fmt.Sprintf("%s %s %s", col, n.Op, qb.valueArg(n.Field, n.Value)), nil

	case filter.Pattern:
		like := likePattern(n.Kind, n.Value)
		if n.Negate {
			return orNull(fmt.Sprintf("%s NOT ILIKE %s", col, qb.nextArg(like))), nil
		}
		return fmt.Sprintf("%s ILIKE %s", col, qb.nextArg(like)), nil

	case filter.Range:
		lo, hi := qb.valueArg(n.Field, n.Min), qb.valueArg(n.Field, n.Max)
		if n.Negate {
			return orNull(fmt.Sprintf("%s NOT BETWEEN %s AND %s", col, lo, hi)), nil
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi), nil

	case filter.Membership:
		arr, cast := arrayArg(n.Field.Type, n.Values)
		sql := fmt.Sprintf("%s = ANY(%s::%s)", col, qb.nextArg(arr), cast)
		if n.Negate {
			return orNull("NOT (" + sql + ")"), nil
		}
		return sql, nil

	case filter.Exists:
		present := fmt.Sprintf("%s IS NOT NULL", col)
		if n.Field.Type == filter.TypeString {
			present = fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", col, col)
		}
		if n.Present {
			return present, nil
		}
		return "NOT " + present, nil
	}
	return "", fmt.Errorf("unsupported query node %T", q)
}

func fieldOf(q filter.Query) filter.FieldDef {
	switch n := q.(type) {
	case filter.Compare:
		return n.Field
	case filter.Pattern:
		return n.Field
	case filter.Range:
		return n.Field
	case filter.Membership:
		return n.Field
	case filter.Exists:
		return n.Field
	}
	return filter.FieldDef{}
}

// positiveForm strips the negation off q, reporting whether there was one.
func positiveForm(q filter.Query) (filter.Query, bool) {
	switch n := q.(type) {
	case filter.Compare:
		if n.Op == filter.Ne {
			n.Op = filter.Eq
			return n, true
		}
	case filter.Pattern:
		if n.Negate {
			n.Negate = false
			return n, true
		}
	case filter.Range:
		if n.Negate {
			n.Negate = false
			return n, true
		}
	case filter.Membership:
		if n.Negate {
			n.Negate = false
			return n, true
		}
	}
	return q, false
}

var topLevelColumns = map[string]string{
	"id":        "id",
	"email":     "email",
	"name":      "name",
	"age":       "age",
	"tags":      "tags",
	"createdAt": "created_at",
}

// columnFor maps a field path onto a column or a JSONB text extraction.
func columnFor(path string) (string, error) {
	if col, ok := topLevelColumns[path]; ok {
		return pq.QuoteIdentifier(col), nil
	}
	head, key, ok := strings.Cut(path, ".")
	if ok && key != "" && (head == "location" || head == "attributes") {
		return fmt.Sprintf("%s->>%s", pq.QuoteIdentifier(head), pq.QuoteLiteral(key)), nil
	}
	return "", appErrors.NewUnknownField(path)
}

// valueExpr is columnFor with JSONB text cast to the field's type.
func valueExpr(f filter.FieldDef) (string, error) {
	col, err := columnFor(f.Path)
	if err != nil {
		return "", err
	}
	if _, native := topLevelColumns[f.Path]; native {
		return col, nil
	}
	switch f.Type {
	case filter.TypeNumber:
		return fmt.Sprintf("NULLIF(%s, '')::numeric", col), nil
	case filter.TypeDate:
		return fmt.Sprintf("NULLIF(%s, '')::timestamptz", col), nil
	}
	return "(" + col + ")", nil
}

func likePattern(kind filter.PatternKind, v string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(v)
	switch kind {
	case filter.Prefix:
		return escaped + "%"
	case filter.Suffix:
		return "%" + escaped
	}
	return "%" + escaped + "%"
}

func sqlValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

func arrayArg(t filter.ValueType, values []any) (any, string) {
	switch t {
	case filter.TypeNumber:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			f, _ := v.(float64)
			out = append(out, f)
		}
		return pq.Array(out), "numeric[]"
	case filter.TypeDate:
		out := make([]string, 0, len(values))
		for _, v := range values {
			if tm, ok := v.(time.Time); ok {
				out = append(out, tm.UTC().Format(time.RFC3339Nano))
			}
		}
		return pq.Array(out), "timestamptz[]"
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, _ := v.(string)
		out = append(out, s)
	}
	return pq.Array(out), "text[]"
}
