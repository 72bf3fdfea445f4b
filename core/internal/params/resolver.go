package params

import (
	"errors"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// ParameterSet is the ordered mapping from name to resolved Parameter
// produced by one resolution. It lives for the duration of one request.
type ParameterSet struct {
	order  []string
	byName map[string]Parameter
}

func newParameterSet(capacity int) *ParameterSet {
	return &ParameterSet{byName: make(map[string]Parameter, capacity)}
}

func (ps *ParameterSet) add(name string, p Parameter) {
	if _, ok := ps.byName[name]; !ok {
		ps.order = append(ps.order, name)
	}
	ps.byName[name] = p
}

func (ps *ParameterSet) Get(name string) (Parameter, bool) {
	p, ok := ps.byName[name]
	return p, ok
}

// Names returns parameter names in original request order.
func (ps *ParameterSet) Names() []string {
	return append([]string(nil), ps.order...)
}

func (ps *ParameterSet) Len() int {
	return len(ps.order)
}

// Map returns a read-only copy of the resolved parameters for use in query
// contexts.
func (ps *ParameterSet) Map() map[string]Parameter {
	m := make(map[string]Parameter, len(ps.byName))
	for k, v := range ps.byName {
		m[k] = v
	}
	return m
}

// ToWire returns the variant response models in request order. Parameters
// disabled by their parent's selection are omitted from targeted lists but
// remain resolvable when asked for by name.
func (ps *ParameterSet) ToWire() []any {
	out := make([]any, 0, len(ps.order))
	for _, name := range ps.order {
		p := ps.byName[name]
		if !p.Enabled() {
			continue
		}
		out = append(out, p.ToWire())
	}
	return out
}

// SelectionStrings re-serializes the resolved selections; feeding them back
// through Resolve reproduces the same ParameterSet.
func (ps *ParameterSet) SelectionStrings() map[string]string {
	out := make(map[string]string, len(ps.order))
	for _, name := range ps.order {
		if s, ok := ps.byName[name].SelectionString(); ok {
			out[name] = s
		}
	}
	return out
}

// ResolveRequest describes one resolution over a config set.
type ResolveRequest struct {
	// Names restricts resolution to the listed parameters; nil resolves
	// every known parameter.
	Names []string

	// Selections maps parameter name to its raw selection string.
	Selections map[string]string

	User *auth.User
}

func selectionFor(selections map[string]string, name string) Selection {
	raw, ok := selections[name]
	return Selection{Raw: raw, Present: ok}
}

// Resolve applies the selection map over the config set and user, returning
// a fully resolved ParameterSet with parents resolved before children and
// original request order preserved in the output.
func Resolve(set *ConfigSet, req ResolveRequest) (*ParameterSet, error) {
	names := req.Names
	if names == nil {
		names = set.Names()
	}

	required := make(map[string]struct{}, len(names))
	for _, n := range names {
		required[n] = struct{}{}
	}

	resolved := make(map[string]Parameter, len(names))

	// iterative DFS, parents first
	stack := make([]string, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		stack = append(stack, names[i])
	}

	for len(stack) > 0 {
		name := stack[len(stack)-1]
		if _, done := resolved[name]; done {
			stack = stack[:len(stack)-1]
			continue
		}

		cfg, ok := set.Get(name)
		if !ok {
			return nil, cerr.Config("unknown parameter %q", name)
		}

		if parentName := cfg.GetParent(); parentName != "" {
			_, inRequired := required[parentName]
			_, parentDone := resolved[parentName]
			if inRequired && !parentDone {
				stack = append(stack, parentName)
				continue
			}
		}

		// parent from the already-resolved map if present, else root
		parent := resolved[cfg.GetParent()]

		p, err := cfg.WithSelection(selectionFor(req.Selections, name), req.User, parent)
		if err != nil {
			return nil, err
		}
		resolved[name] = p
		stack = stack[:len(stack)-1]
	}

	ps := newParameterSet(len(names))
	for _, name := range names {
		ps.add(name, resolved[name])
	}
	return ps, nil
}

// ResolveUpdates handles the "updates on parameter change" path: resolve the
// changed parent, then its direct dependents. The output carries the parent
// first so clients see its refreshed state (trigger_refresh included) along
// with the children. If the parent is a multi-select missing from the
// selection map its selection is treated as explicitly empty, not as
// defaults.
func ResolveUpdates(set *ConfigSet, parentName string, selections map[string]string, user *auth.User) (*ParameterSet, error) {
	if parentName == "" {
		if len(selections) > 1 {
			return nil, cerr.InvalidInput(errors.New(
				"x_parent_param is required when more than one selection is supplied"))
		}
		for k := range selections {
			parentName = k
		}
		if parentName == "" {
			return nil, cerr.InvalidInput(errors.New("x_parent_param is required"))
		}
	}

	cfg, ok := set.Get(parentName)
	if !ok {
		return nil, cerr.Config("unknown parameter %q", parentName)
	}

	sel := selectionFor(selections, parentName)
	if !sel.Present {
		if _, isMulti := cfg.(*MultiSelectConfig); isMulti {
			sel = EmptySelection
		}
	}

	parent, err := cfg.WithSelection(sel, user, nil)
	if err != nil {
		return nil, err
	}

	children := set.Children(parentName)
	ps := newParameterSet(len(children) + 1)
	ps.add(parentName, parent)
	for _, child := range children {
		ccfg, ok := set.Get(child)
		if !ok {
			return nil, cerr.Config("unknown parameter %q", child)
		}
		cp, err := ccfg.WithSelection(selectionFor(selections, child), user, parent)
		if err != nil {
			return nil, err
		}
		ps.add(child, cp)
	}
	return ps, nil
}
