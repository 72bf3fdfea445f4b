package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dop251/goja"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

const defaultScriptTimeout = 30 * time.Second

// scriptRunner executes an imperative model source in a fresh goja VM. A
// script declares two entry points:
//
//	function dependencies(ctx) { return ["model_a", "model_b"] }
//	function main(ctx)         { return [{col: val, ...}, ...] }
//
// ref(name) inside main returns the upstream model's rows as an array of
// records.
type scriptRunner struct {
	modelName string
	source    string
	timeout   time.Duration
}

func newScriptRunner(modelName, source string, timeout time.Duration) *scriptRunner {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return &scriptRunner{modelName: modelName, source: source, timeout: timeout}
}

// Dependencies invokes the script's dependencies(ctx) entry point. A script
// without one has no upstreams.
func (r *scriptRunner) Dependencies(ctx context.Context, qc *QueryContext) (deps []string, err error) {
	var out any
	out, err = r.run(ctx, qc, "dependencies", nil, true)
	if err != nil || out == nil {
		return nil, err
	}

	items, ok := out.([]any)
	if !ok {
		return nil, cerr.Config("model %q: dependencies() must return an array of model names", r.modelName)
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, cerr.Config("model %q: dependencies() must return strings", r.modelName)
		}
		deps = append(deps, s)
	}
	sort.Strings(deps)
	return deps, nil
}

// Main invokes the script's main(ctx) entry point with the upstream results
// reachable through ref.
func (r *scriptRunner) Main(ctx context.Context, qc *QueryContext, upstreams map[string]*DataFrame) (*DataFrame, error) {
	out, err := r.run(ctx, qc, "main", upstreams, false)
	if err != nil {
		return nil, err
	}
	return recordsToFrame(r.modelName, out)
}

func (r *scriptRunner) run(ctx context.Context, qc *QueryContext, entry string,
	upstreams map[string]*DataFrame, optional bool,
) (any, error) {
	vm := goja.New()
	done := make(chan struct{})

	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt(fmt.Errorf("model execution exceeded %s", r.timeout))
	})
	defer timer.Stop()

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer close(done)

	if err := vm.Set("ctx", r.scriptContext(vm, qc, upstreams)); err != nil {
		return nil, err
	}

	if _, err := vm.RunScript(r.modelName+".js", r.source); err != nil {
		return nil, cerr.Execution(r.modelName, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(entry))
	if !ok {
		if optional {
			return nil, nil
		}
		return nil, cerr.Config("model %q: script does not define %s(ctx)", r.modelName, entry)
	}

	v, err := fn(goja.Undefined(), vm.Get("ctx"))
	if err != nil {
		return nil, cerr.Execution(r.modelName, err)
	}
	return v.Export(), nil
}

func (r *scriptRunner) scriptContext(vm *goja.Runtime, qc *QueryContext, upstreams map[string]*DataFrame) *goja.Object {
	obj := vm.NewObject()

	prms := make(map[string]any, len(qc.Params))
	for name, p := range qc.Params {
		prms[name] = p.ToWire()
	}
	obj.Set("prms", prms) //nolint:errcheck

	if qc.User != nil {
		obj.Set("user", map[string]any{ //nolint:errcheck
			"username":    qc.User.Username,
			"is_internal": qc.User.IsInternal,
			"attributes":  qc.User.Attributes,
		})
	} else {
		obj.Set("user", goja.Null()) //nolint:errcheck
	}

	obj.Set("configurables", qc.Configurables) //nolint:errcheck

	obj.Set("set_placeholder", func(name string, value any) { //nolint:errcheck
		qc.SetPlaceholder(name, value)
	})

	obj.Set("ref", func(call goja.FunctionCall) goja.Value { //nolint:errcheck
		name := call.Argument(0).String()
		df, ok := upstreams[name]
		if !ok {
			panic(vm.ToValue(fmt.Sprintf("model %q is not a declared dependency", name)))
		}
		records, _ := df.Orient(OrientRecords)
		return vm.ToValue(records)
	})

	return obj
}

// recordsToFrame converts a script's return value (an array of records) into
// a DataFrame. Column order follows the sorted keys of the first record.
func recordsToFrame(modelName string, out any) (*DataFrame, error) {
	items, ok := out.([]any)
	if !ok {
		return nil, cerr.Execution(modelName, fmt.Errorf("main() must return an array of records"))
	}

	df := &DataFrame{}
	if len(items) == 0 {
		return df, nil
	}

	first, ok := items[0].(map[string]any)
	if !ok {
		return nil, cerr.Execution(modelName, fmt.Errorf("main() records must be objects"))
	}
	names := make([]string, 0, len(first))
	for k := range first {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, n := range names {
		df.Columns = append(df.Columns, Column{Name: n, Type: "string"})
	}

	for _, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, cerr.Execution(modelName, fmt.Errorf("main() records must be objects"))
		}
		row := make([]any, len(names))
		for i, n := range names {
			row[i] = rec[n]
		}
		df.Rows = append(df.Rows, row)
	}
	return df, nil
}
