package core

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// Model kinds. Seeds and sources are leaves; dbviews push SQL to an external
// connection; federates and builds run against relations already in the
// engine.
const (
	ModelSeed     = "seed"
	ModelSource   = "source"
	ModelDbview   = "dbview"
	ModelFederate = "federate"
	ModelBuild    = "build"
)

// ModelConfig is the declaration of one model node.
type ModelConfig struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=seed source dbview federate build"`

	// Connection names the external database for source and dbview models.
	Connection string `yaml:"connection,omitempty"`

	// Table names the external table for source models.
	Table string `yaml:"table,omitempty"`

	// Materialization is "table" (default) or "view" for federate models.
	Materialization string `yaml:"materialization,omitempty"`

	// Columns declares the output schema used for dataset metadata.
	Columns []Column `yaml:"columns,omitempty"`
}

// Model pairs a config with its query artifact. SQL holds raw template text;
// Script holds an imperative source with dependencies(ctx) and main(ctx)
// entry points; Seed holds the inline tabular value of a seed model. The
// artifacts are read-only after load and shared across requests.
type Model struct {
	Config ModelConfig
	SQL    string
	Script string
	Seed   *DataFrame
}

func (m *Model) IsSQL() bool    { return m.SQL != "" }
func (m *Model) IsScript() bool { return m.Script != "" }

// Registry holds every project model by its globally unique name.
type Registry struct {
	order  []string
	byName map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Model)}
}

// Add registers a model. Names are unique across all model types.
func (r *Registry) Add(m *Model) error {
	name := m.Config.Name
	if _, ok := r.byName[name]; ok {
		return cerr.Config("duplicate model name %q", name)
	}
	r.order = append(r.order, name)
	r.byName[name] = m
	return nil
}

func (r *Registry) Get(name string) (*Model, bool) {
	m, ok := r.byName[name]
	return m, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	return len(r.order)
}

// loadModelFiles reads the query files for a model directory: .sql files load
// as template text, .js files as imperative sources. The file stem becomes
// the model name.
func loadModelFiles(fs afero.Fs, dir, modelType string, reg *Registry, configs map[string]ModelConfig) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		// a project may omit whole model directories
		return nil
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".sql" && ext != ".js" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)

		body, err := afero.ReadFile(fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			return cerr.Config("reading model file %q: %v", entry.Name(), err)
		}

		cfg, ok := configs[name]
		if !ok {
			cfg = ModelConfig{Name: name, Type: modelType}
		}
		cfg.Name = name
		if cfg.Type == "" {
			cfg.Type = modelType
		}

		m := &Model{Config: cfg}
		if ext == ".sql" {
			m.SQL = string(body)
		} else {
			m.Script = string(body)
		}
		if err := reg.Add(m); err != nil {
			return err
		}
	}
	return nil
}
