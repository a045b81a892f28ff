// Package globals is the operator-settable scalar store plus the reverse
// usage index (variable name -> referencing configuration objects).
package globals

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"scada-core/internal/faults"
	"scada-core/internal/model"
	"scada-core/internal/registry"
)

// varToken matches $name references in textual configuration fields.
var varToken = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Reference points at one configuration object field that mentions a
// variable by name.
type Reference struct {
	Kind  string `json:"kind"` // "alarm" or "point"
	ID    string `json:"id"`
	Field string `json:"field"`
}

type Store struct {
	reg *registry.Registry

	mu     sync.RWMutex
	values map[string]any

	idxMu    sync.Mutex
	idx      map[string][]Reference
	idxEpoch uint64
	idxBuilt bool
}

func New(reg *registry.Registry) *Store {
	return &Store{reg: reg, values: make(map[string]any)}
}

// Set type-checks value against the variable's declared type and stores it.
// A failed coercion returns a ValidationError and mutates nothing.
func (s *Store) Set(name string, value any) error {
	snap := s.reg.Current()
	v, ok := snap.Variables[name]
	if !ok || !v.Enabled {
		return faults.Validation("name", fmt.Sprintf("unknown or disabled variable %q", name))
	}

	typed, err := coerce(v.Type, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values[name] = typed
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func coerce(t model.VariableType, value any) (any, error) {
	switch t {
	case model.VarBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, faults.Validation("value", fmt.Sprintf("%q is not a boolean", v))
			}
			return b, nil
		}
		return nil, faults.Validation("value", fmt.Sprintf("%T is not a boolean", value))
	case model.VarFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, faults.Validation("value", fmt.Sprintf("%q is not a number", v))
			}
			return f, nil
		}
		return nil, faults.Validation("value", fmt.Sprintf("%T is not a number", value))
	}
	return nil, faults.Validation("type", fmt.Sprintf("unknown variable type %q", t))
}

// Usage returns the configuration objects whose textual fields reference the
// variable. The index is cached per registry version; a config change
// invalidates it and the next query rebuilds.
func (s *Store) Usage(name string) []Reference {
	snap := s.reg.Current()

	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	if !s.idxBuilt || s.idxEpoch != snap.Version {
		s.idx = buildIndex(snap)
		s.idxEpoch = snap.Version
		s.idxBuilt = true
	}
	return s.idx[name]
}

func buildIndex(snap *registry.Snapshot) map[string][]Reference {
	idx := make(map[string][]Reference)

	add := func(text, kind, id, field string) {
		for _, m := range varToken.FindAllStringSubmatch(text, -1) {
			idx[m[1]] = append(idx[m[1]], Reference{Kind: kind, ID: id, Field: field})
		}
	}

	for _, a := range snap.Alarms() {
		add(a.LogText, "alarm", a.ID, "log_text")
	}
	for _, p := range snap.Points {
		add(p.Expression, "point", p.ID, "expression")
	}
	return idx
}

// Render substitutes $name tokens with current variable values. Unknown or
// unset variables are left verbatim.
func (s *Store) Render(text string) string {
	return varToken.ReplaceAllStringFunc(text, func(tok string) string {
		name := tok[1:]
		v, ok := s.Get(name)
		if !ok {
			return tok
		}
		switch val := v.(type) {
		case bool:
			return strconv.FormatBool(val)
		case float64:
			return strconv.FormatFloat(val, 'g', -1, 64)
		default:
			return tok
		}
	})
}
