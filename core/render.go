package core

import (
	"sort"
	"strings"
	"text/template"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
	"github.com/squirrels-analytics/squirrels-sub000/core/internal/params"
)

// renderSQL expands a model's SQL template and captures the dependency set
// recorded through ref. The dependency set is local to this render frame, so
// concurrent compilations of distinct nodes never interleave.
func renderSQL(modelName, text string, qc *QueryContext) (query string, deps []string, err error) {
	depSet := make(map[string]struct{})

	funcs := template.FuncMap{
		// ref records a dependency and inlines the bare relation name
		"ref": func(name string) string {
			depSet[name] = struct{}{}
			return name
		},

		// set_placeholder registers a bound value and yields the named
		// placeholder token understood by the engine
		"set_placeholder": func(name string, value any) string {
			qc.SetPlaceholder(name, value)
			return ":" + name
		},

		// bind_text routes user-entered text through the placeholder store;
		// TextValue has no string form so it cannot be inlined
		"bind_text": func(name string, tv params.TextValue) string {
			tv.Bind(name, qc)
			return ":" + name
		},

		"param": func(name string) (params.Parameter, error) {
			p, ok := qc.Params[name]
			if !ok {
				return nil, cerr.Config("model %q references unknown parameter %q", modelName, name)
			}
			return p, nil
		},

		"config": func(name string) string {
			return qc.Configurables[name]
		},
	}

	tmpl, err := template.New(modelName).Funcs(funcs).Parse(text)
	if err != nil {
		return "", nil, cerr.Config("model %q: template parse: %v", modelName, err)
	}

	data := map[string]any{
		"proj": qc.ProjectVars,
		"env":  qc.EnvVars,
		"prms": qc.Params,
		"user": qc.User,
		"ctx":  qc,
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", nil, cerr.Config("model %q: template render: %v", modelName, err)
	}

	deps = make([]string, 0, len(depSet))
	for d := range depSet {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return sb.String(), deps, nil
}
