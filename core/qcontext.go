package core

import (
	"sync"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/internal/params"
)

// QueryContext is the per-request container handed to SQL templates and
// imperative models. Parameters, configurables, and the user are read-only;
// the placeholder store is the only mutable part and is safe for concurrent
// model execution.
type QueryContext struct {
	ProjectVars   map[string]any
	EnvVars       map[string]string
	Params        map[string]params.Parameter
	Configurables map[string]string
	User          *auth.User

	mu           sync.Mutex
	placeholders map[string]any
}

func NewQueryContext(ps *params.ParameterSet, user *auth.User, configurables map[string]string) *QueryContext {
	qc := &QueryContext{
		Params:        map[string]params.Parameter{},
		Configurables: configurables,
		User:          user,
		placeholders:  make(map[string]any),
	}
	if ps != nil {
		qc.Params = ps.Map()
	}
	if qc.Configurables == nil {
		qc.Configurables = map[string]string{}
	}
	return qc
}

// SetPlaceholder registers a value for binding through the engine's
// parameterized-statement mechanism. Implements params.PlaceholderSink.
func (qc *QueryContext) SetPlaceholder(name string, value any) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.placeholders[name] = value
}

func (qc *QueryContext) PlaceholderValue(name string) (any, bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	v, ok := qc.placeholders[name]
	return v, ok
}

func (qc *QueryContext) IsPlaceholder(name string) bool {
	_, ok := qc.PlaceholderValue(name)
	return ok
}

// Placeholders returns a snapshot of the placeholder store for query binding.
func (qc *QueryContext) Placeholders() map[string]any {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	out := make(map[string]any, len(qc.placeholders))
	for k, v := range qc.placeholders {
		out[k] = v
	}
	return out
}
