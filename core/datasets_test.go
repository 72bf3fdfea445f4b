package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

const testManifest = `
project:
  name: testproj
  major_version: 1
settings:
  max_rows_output: 100
seeds:
  - name: numbers
    columns:
      - {name: a, type: integer, description: the number}
    rows:
      - [1]
      - [2]
      - [3]
parameters:
  - widget_type: single_select
    name: country
    label: Country
    options:
      - {id: CA, label: Canada}
      - {id: US, label: United States, is_default: true}
  - widget_type: multi_select
    name: city
    label: City
    parent_name: country
    none_is_all: true
    options:
      - {id: NYC, parent_ids: [US]}
      - {id: TOR, parent_ids: [CA]}
configurables:
  - {name: tenant, default: main}
  - {name: debug_mode, elevated: true}
datasets:
  - name: nums
    label: Numbers
    scope: public
    model: doubled
    parameters: [country, city]
  - name: secrets
    scope: private
    model: doubled
dashboards:
  - name: nums_board
    scope: public
    dataset: nums
`

const testScript = `
function dependencies(ctx) { return ["numbers"] }
function main(ctx) {
	return ctx.ref("numbers").map(function(r) { return {a: r.a} })
}
`

func testProject(t *testing.T) *Squirrels {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "proj/squirrels.yml", []byte(testManifest), 0o644))
	require.NoError(t, afero.WriteFile(fs, "proj/models/federates/doubled.js", []byte(testScript), 0o644))

	authn := auth.NewJWTAuth(auth.JWTConfig{Secret: "test-secret"}, nil)
	s, err := New(fs, "proj", authn, nil,
		OptionSetEngineOpener(func() (EmbeddedSQL, error) { return newFakeEngine(0), nil }))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestGetDatasetPaging(t *testing.T) {
	s := testProject(t)

	out, err := s.GetDataset(context.Background(), DatasetRequest{
		Name: "nums",
		Shape: ResultShape{
			Orientation: OrientRows,
			Offset:      1,
			Limit:       1,
		},
	})
	require.NoError(t, err)

	require.Len(t, out.Schema.Fields, 1)
	assert.Equal(t, "a", out.Schema.Fields[0].Name)
	assert.Equal(t, 3, out.TotalRows)
	assert.Equal(t, 1, out.DataDetails.NumRows)
	assert.Equal(t, OrientRows, out.DataDetails.Orientation)

	rows := out.Data.([][]any)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0][0])
}

func TestGetDatasetScopeDenial(t *testing.T) {
	s := testProject(t)

	_, err := s.GetDataset(context.Background(), DatasetRequest{Name: "secrets"})
	require.Error(t, err)
	assert.Equal(t, cerr.CodeForbidden, cerr.CodeOf(err))

	admin := &auth.User{Username: "root", IsInternal: true}
	_, err = s.GetDataset(context.Background(), DatasetRequest{Name: "secrets", User: admin})
	require.NoError(t, err)
}

func TestGetDatasetUnknown(t *testing.T) {
	s := testProject(t)

	_, err := s.GetDataset(context.Background(), DatasetRequest{Name: "nope"})
	require.Error(t, err)
	assert.Equal(t, cerr.CodeInvalidInput, cerr.CodeOf(err))
}

func TestGetDatasetTooLarge(t *testing.T) {
	s := testProject(t)
	p := s.engine()
	p.conf.Settings.MaxRowsOutput = 2
	p.datasetsCache.Purge()

	_, err := s.GetDataset(context.Background(), DatasetRequest{Name: "nums"})
	require.Error(t, err)
	assert.Equal(t, cerr.CodeResultTooLarge, cerr.CodeOf(err))
}

func TestGetParametersCascade(t *testing.T) {
	s := testProject(t)

	out, err := s.GetParameters(context.Background(), "dataset", "nums",
		map[string]string{"country": "US"}, nil, "")
	require.NoError(t, err)

	// updates mode: the refreshed parent comes back alongside its dependents
	require.Len(t, out.Parameters, 2)

	country := out.Parameters[0]
	name, ok := wireField(country, "name")
	require.True(t, ok)
	require.Equal(t, "country", name)
	trig, ok := wireField(country, "trigger_refresh")
	require.True(t, ok)
	assert.Equal(t, true, trig)
	sel, ok := wireField(country, "selected_id")
	require.True(t, ok)
	assert.Equal(t, "US", sel)

	city := out.Parameters[1]
	b, ok := wireField(city, "selected_ids")
	require.True(t, ok)
	assert.Empty(t, b, "none_is_all with no default flags selects nothing")

	opts, ok := wireField(city, "options")
	require.True(t, ok)
	assert.Len(t, opts, 1, "only the US child option survives")
}

func TestGetParametersDefaults(t *testing.T) {
	s := testProject(t)

	out, err := s.GetParameters(context.Background(), "", "", nil, nil, "")
	require.NoError(t, err)
	require.Len(t, out.Parameters, 2)

	trig, ok := wireField(out.Parameters[0], "trigger_refresh")
	require.True(t, ok)
	assert.Equal(t, true, trig, "a declared child flips the parent's trigger_refresh")
}

func TestDataCatalogFiltersByScope(t *testing.T) {
	s := testProject(t)

	guest := s.DataCatalog(nil)
	require.Len(t, guest.Datasets, 1)
	assert.Equal(t, "nums", guest.Datasets[0].Name)
	assert.Len(t, guest.Dashboards, 1)

	admin := s.DataCatalog(&auth.User{Username: "root", IsInternal: true})
	assert.Len(t, admin.Datasets, 2)
}

func TestElevatedConfigurables(t *testing.T) {
	s := testProject(t)

	elevated, declared := s.Elevated("debug_mode")
	assert.True(t, declared)
	assert.True(t, elevated)

	elevated, declared = s.Elevated("tenant")
	assert.True(t, declared)
	assert.False(t, elevated)

	_, declared = s.Elevated("nope")
	assert.False(t, declared)
}

// wireField digs a named field out of a wire model via its JSON shape.
func wireField(wire any, field string) (any, bool) {
	b, err := json.Marshal(wire)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}
