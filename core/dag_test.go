package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// fakeEngine records relation writes with timestamps so tests can assert the
// execution partial order without a real database.
type fakeEngine struct {
	mu        sync.Mutex
	relations map[string]*DataFrame
	events    map[string][2]time.Time
	delay     time.Duration
}

func newFakeEngine(delay time.Duration) *fakeEngine {
	return &fakeEngine{
		relations: make(map[string]*DataFrame),
		events:    make(map[string][2]time.Time),
		delay:     delay,
	}
}

func (e *fakeEngine) record(name string, start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[name] = [2]time.Time{start, time.Now()}
}

func (e *fakeEngine) Register(_ context.Context, name string, df *DataFrame) error {
	start := time.Now()
	time.Sleep(e.delay)
	e.mu.Lock()
	e.relations[name] = df
	e.mu.Unlock()
	e.record(name, start)
	return nil
}

func (e *fakeEngine) Exec(_ context.Context, query string, _ map[string]any) error {
	start := time.Now()
	time.Sleep(e.delay)
	name := ddlTableName(query)
	e.mu.Lock()
	e.relations[name] = &DataFrame{Columns: []Column{{Name: "v", Type: "integer"}}}
	e.mu.Unlock()
	e.record(name, start)
	return nil
}

func (e *fakeEngine) Query(_ context.Context, query string, _ map[string]any) (*DataFrame, error) {
	name := strings.Trim(query[strings.LastIndex(query, " ")+1:], `"`)
	e.mu.Lock()
	defer e.mu.Unlock()
	if df, ok := e.relations[name]; ok {
		return df, nil
	}
	return &DataFrame{}, nil
}

func (e *fakeEngine) Close() error { return nil }

// ddlTableName pulls the relation name out of CREATE TABLE|VIEW <name> AS.
func ddlTableName(ddl string) string {
	fields := strings.Fields(ddl)
	if len(fields) < 3 {
		return ddl
	}
	return strings.Trim(fields[2], `"`)
}

func seedModel(name string, rows [][]any) *Model {
	return &Model{
		Config: ModelConfig{Name: name, Type: ModelSeed, Columns: []Column{{Name: "a", Type: "integer"}}},
		Seed:   &DataFrame{Columns: []Column{{Name: "a", Type: "integer"}}, Rows: rows},
	}
}

func federateModel(name, sql string) *Model {
	return &Model{Config: ModelConfig{Name: name, Type: ModelFederate}, SQL: sql}
}

func scriptModel(name, src string) *Model {
	return &Model{Config: ModelConfig{Name: name, Type: ModelFederate}, Script: src}
}

func TestBuildDAGCycleDetection(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(federateModel("a", `SELECT * FROM {{ ref "b" }}`)))
	require.NoError(t, reg.Add(federateModel("b", `SELECT * FROM {{ ref "a" }}`)))

	qc := NewQueryContext(nil, nil, nil)
	_, err := BuildDAG(reg, "a", qc, nil, 0, nil)
	require.Error(t, err)
	assert.Equal(t, cerr.CodeConfigurationError, cerr.CodeOf(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildDAGUnknownModel(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(federateModel("a", `SELECT * FROM {{ ref "ghost" }}`)))

	qc := NewQueryContext(nil, nil, nil)
	_, err := BuildDAG(reg, "a", qc, nil, 0, nil)
	require.Error(t, err)
	assert.Equal(t, cerr.CodeConfigurationError, cerr.CodeOf(err))
}

func TestBuildDAGNeedsPropagation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(seedModel("numbers", [][]any{{int64(1)}})))
	require.NoError(t, reg.Add(federateModel("sql_target", `SELECT a FROM {{ ref "numbers" }}`)))
	require.NoError(t, reg.Add(scriptModel("js_target", `
		function dependencies(ctx) { return ["numbers"] }
		function main(ctx) { return ctx.ref("numbers") }
	`)))

	qc := NewQueryContext(nil, nil, nil)

	d, err := BuildDAG(reg, "sql_target", qc, nil, 0, nil)
	require.NoError(t, err)
	assert.True(t, d.nodes["numbers"].needsEngineTable, "a SQL downstream reads an engine relation")
	assert.True(t, d.nodes["sql_target"].needsHostDataframe, "the target always yields a host dataframe")

	qc2 := NewQueryContext(nil, nil, nil)
	d2, err := BuildDAG(reg, "js_target", qc2, nil, 0, nil)
	require.NoError(t, err)
	assert.True(t, d2.nodes["numbers"].needsHostDataframe, "an imperative downstream reads a host dataframe")
	assert.False(t, d2.nodes["numbers"].needsEngineTable)
}

func TestRunScriptTarget(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(seedModel("numbers", [][]any{{int64(1)}, {int64(2)}, {int64(3)}})))
	require.NoError(t, reg.Add(scriptModel("doubled", `
		function dependencies(ctx) { return ["numbers"] }
		function main(ctx) {
			return ctx.ref("numbers").map(function(r) { return {a: r.a * 2} })
		}
	`)))

	qc := NewQueryContext(nil, nil, nil)
	d, err := BuildDAG(reg, "doubled", qc, nil, 0, nil)
	require.NoError(t, err)

	df, err := d.Run(context.Background(), newFakeEngine(0))
	require.NoError(t, err)
	require.Equal(t, 3, df.NumRows())
	for i, want := range []int{2, 4, 6} {
		assert.EqualValues(t, want, df.Rows[i][0])
	}
}

func TestRunPartialOrderAndParallelism(t *testing.T) {
	reg := NewRegistry()
	leaf := `
		function dependencies(ctx) { return [] }
		function main(ctx) { return [{v: 1}] }
	`
	require.NoError(t, reg.Add(scriptModel("l1", leaf)))
	require.NoError(t, reg.Add(scriptModel("l2", leaf)))
	require.NoError(t, reg.Add(federateModel("top", `SELECT * FROM {{ ref "l1" }}, {{ ref "l2" }}`)))

	qc := NewQueryContext(nil, nil, nil)
	d, err := BuildDAG(reg, "top", qc, nil, 0, nil)
	require.NoError(t, err)

	delay := 150 * time.Millisecond
	engine := newFakeEngine(delay)

	started := time.Now()
	_, err = d.Run(context.Background(), engine)
	require.NoError(t, err)
	elapsed := time.Since(started)

	// upstream finish happens-before downstream start
	top := engine.events["top"]
	for _, up := range []string{"l1", "l2"} {
		ev, ok := engine.events[up]
		require.True(t, ok, "upstream %s never ran", up)
		assert.False(t, top[0].Before(ev[1]), "top started before %s finished", up)
	}

	// the two leaves register concurrently: well under the serial sum
	assert.Less(t, elapsed, 3*delay-delay/3, "leaf registration did not overlap")
}

func TestRunFailedUpstreamStopsDownstream(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(scriptModel("bad", `
		function dependencies(ctx) { return [] }
		function main(ctx) { throw new Error("no data") }
	`)))
	require.NoError(t, reg.Add(federateModel("top", `SELECT * FROM {{ ref "bad" }}`)))

	qc := NewQueryContext(nil, nil, nil)
	d, err := BuildDAG(reg, "top", qc, nil, 0, nil)
	require.NoError(t, err)

	engine := newFakeEngine(0)
	_, err = d.Run(context.Background(), engine)
	require.Error(t, err)
	assert.Equal(t, cerr.CodeExecutionError, cerr.CodeOf(err))
	assert.Contains(t, err.Error(), "bad")

	// the downstream saw the upstream failure and never executed
	_, ran := engine.events["top"]
	assert.False(t, ran, "downstream ran despite a failed upstream")
}

func TestRunFailureAttribution(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(scriptModel("bad", `
		function dependencies(ctx) { return [] }
		function main(ctx) { throw new Error("no data") }
	`)))

	qc := NewQueryContext(nil, nil, nil)
	d, err := BuildDAG(reg, "bad", qc, nil, 0, nil)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), newFakeEngine(0))
	require.Error(t, err)
	assert.Equal(t, cerr.CodeExecutionError, cerr.CodeOf(err))
	assert.Contains(t, err.Error(), "bad")
}
