package filter

import (
	"slices"
	"sort"
	"strings"
	"sync"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

type ValueType string

const (
	TypeString ValueType = "string"
	TypeNumber ValueType = "number"
	TypeDate   ValueType = "date"
)

// FieldDef declares a filterable audience field.
//
// Path is the storage path of the value ("age", "location.city",
// "attributes.plan"). Multi marks array valued fields, where a test passes
// when any element passes. A non-empty Operators list narrows the operators
// allowed for the field's type.
type FieldDef struct {
	Key       string    `json:"key"`
	Path      string    `json:"path"`
	Type      ValueType `json:"type"`
	Multi     bool      `json:"multi,omitempty"`
	Operators []string  `json:"operators,omitempty"`
}

// Allows reports whether op may be used on this field.
func (f FieldDef) Allows(op string) bool {
	if !slices.Contains(AllowedOperators(f.Type), op) {
		return false
	}
	return len(f.Operators) == 0 || slices.Contains(f.Operators, op)
}

// Registry is the set of fields a filter may reference. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	fields map[string]FieldDef
}

func NewRegistry(defs ...FieldDef) *Registry {
	r := &Registry{fields: make(map[string]FieldDef, len(defs))}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// DefaultRegistry holds the built-in audience fields.
func DefaultRegistry() *Registry {
	return NewRegistry(
		FieldDef{Key: "email", Path: "email", Type: TypeString},
		FieldDef{Key: "name", Path: "name", Type: TypeString},
		FieldDef{Key: "age", Path: "age", Type: TypeNumber},
		FieldDef{Key: "city", Path: "location.city", Type: TypeString},
		FieldDef{Key: "state", Path: "location.state", Type: TypeString},
		FieldDef{Key: "country", Path: "location.country", Type: TypeString},
		FieldDef{Key: "tags", Path: "tags", Type: TypeString, Multi: true},
		FieldDef{Key: "region", Path: "attributes.region", Type: TypeString},
		FieldDef{Key: "plan", Path: "attributes.plan", Type: TypeString},
		FieldDef{Key: "createdAt", Path: "createdAt", Type: TypeDate},
	)
}

func (r *Registry) Register(def FieldDef) {
	if def.Path == "" {
		def.Path = def.Key
	}
	r.mu.Lock()
	r.fields[def.Key] = def
	r.mu.Unlock()
}

// Lookup finds a field by key, falling back to its storage path.
func (r *Registry) Lookup(field string) (FieldDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.fields[field]; ok {
		return def, true
	}
	for _, def := range r.fields {
		if def.Path == field {
			return def, true
		}
	}
	return FieldDef{}, false
}

// Declare registers a criteria block's field. Known fields get their operator
// list narrowed; unknown keys are accepted only as "attributes.*" paths,
// since those are the only open-ended storage on an audience member.
func (r *Registry) Declare(key string, t ValueType, operators []string) error {
	if def, ok := r.Lookup(key); ok {
		if def.Type != t {
			return appErrors.NewInvalidFilterValue(key, "", "declared type "+string(t)+" does not match "+string(def.Type))
		}
		def.Operators = operators
		r.Register(def)
		return nil
	}
	name, ok := strings.CutPrefix(key, "attributes.")
	if !ok || name == "" || strings.Contains(name, ".") {
		return appErrors.NewUnknownField(key)
	}
	r.Register(FieldDef{Key: key, Path: key, Type: t, Operators: operators})
	return nil
}

// Fields lists the registered fields ordered by key.
func (r *Registry) Fields() []FieldDef {
	r.mu.RLock()
	out := make([]FieldDef, 0, len(r.fields))
	for _, d := range r.fields {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
