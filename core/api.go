// Package core implements the squirrels analytics engine: parameter
// resolution, model DAG execution over an embedded analytical engine, and
// cached dataset orchestration.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
	"github.com/squirrels-analytics/squirrels-sub000/core/internal/params"
)

// projectEngine is one immutable snapshot of a loaded project. A reload
// builds a fresh engine and swaps it in atomically; in-flight requests keep
// the snapshot they started with.
type projectEngine struct {
	conf    *ProjectConfig
	fs      afero.Fs
	dir     string
	reg     *Registry
	conns   *ConnectionSet
	envVars map[string]string

	paramSet   *params.ConfigSet
	datasets   map[string]DatasetConfig
	dashboards map[string]DashboardConfig

	auth       auth.Authenticator
	renderer   DashboardRenderer
	openEngine EngineOpener

	paramsCache   *ResultCache[*params.ParameterSet]
	datasetsCache *ResultCache[*DataFrame]

	log *zap.SugaredLogger
}

// Squirrels is the public engine handle. It holds the current project
// snapshot behind an atomic value so reloads never block requests.
type Squirrels struct {
	atomic.Value
	done chan bool
}

// Option configures engine construction.
type Option func(*projectEngine)

// OptionSetRenderer installs a dashboard renderer.
func OptionSetRenderer(r DashboardRenderer) Option {
	return func(p *projectEngine) { p.renderer = r }
}

// OptionSetEngineOpener overrides the per-request embedded engine factory.
func OptionSetEngineOpener(open EngineOpener) Option {
	return func(p *projectEngine) { p.openEngine = open }
}

// New loads the project under dir and returns a ready engine handle.
func New(fs afero.Fs, dir string, authn auth.Authenticator, log *zap.SugaredLogger, options ...Option) (s *Squirrels, err error) {
	s = &Squirrels{done: make(chan bool)}
	if err = s.load(fs, dir, authn, log, options...); err != nil {
		return nil, err
	}
	if err = s.initProjectWatcher(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Squirrels) load(fs afero.Fs, dir string, authn auth.Authenticator,
	log *zap.SugaredLogger, options ...Option,
) error {
	p, err := newProjectEngine(fs, dir, authn, log, options...)
	if err != nil {
		return err
	}
	s.Store(p)
	return nil
}

func (s *Squirrels) engine() *projectEngine {
	return s.Load().(*projectEngine)
}

// Reload rebuilds the project snapshot from disk and swaps it in. The old
// snapshot's connection pools close once it is replaced.
func (s *Squirrels) Reload() error {
	old := s.engine()
	if err := s.load(old.fs, old.dir, old.auth, old.log, old.options()...); err != nil {
		return err
	}
	old.conns.Close()
	if old.log != nil {
		old.log.Infow("project reloaded", "project", old.conf.Project.Name)
	}
	return nil
}

// Close stops the watcher and releases connection pools.
func (s *Squirrels) Close() {
	close(s.done)
	s.engine().conns.Close()
}

func (p *projectEngine) options() []Option {
	var opts []Option
	if p.renderer != nil {
		opts = append(opts, OptionSetRenderer(p.renderer))
	}
	opts = append(opts, OptionSetEngineOpener(p.openEngine))
	return opts
}

func newProjectEngine(fs afero.Fs, dir string, authn auth.Authenticator,
	log *zap.SugaredLogger, options ...Option,
) (p *projectEngine, err error) {
	conf, err := LoadProjectConfig(fs, dir)
	if err != nil {
		return nil, err
	}

	p = &projectEngine{
		conf:       conf,
		fs:         fs,
		dir:        dir,
		auth:       authn,
		log:        log,
		envVars:    environMap(),
		openEngine: OpenSQLiteEngine,
		datasets:   make(map[string]DatasetConfig, len(conf.Datasets)),
		dashboards: make(map[string]DashboardConfig, len(conf.Dashboards)),
	}
	for _, opt := range options {
		opt(p)
	}

	if p.conns, err = NewConnectionSet(conf.Connections); err != nil {
		return nil, err
	}

	if p.reg, err = p.buildRegistry(); err != nil {
		p.conns.Close()
		return nil, err
	}

	if p.paramSet, err = p.buildParameters(); err != nil {
		p.conns.Close()
		return nil, err
	}

	for _, ds := range conf.Datasets {
		if _, ok := p.datasets[ds.Name]; ok {
			p.conns.Close()
			return nil, cerr.Config("duplicate dataset name %q", ds.Name)
		}
		if _, ok := p.reg.Get(ds.Model); !ok {
			p.conns.Close()
			return nil, cerr.Config("dataset %q targets unknown model %q", ds.Name, ds.Model)
		}
		for _, pname := range ds.Parameters {
			if _, ok := p.paramSet.Get(pname); !ok {
				p.conns.Close()
				return nil, cerr.Config("dataset %q declares unknown parameter %q", ds.Name, pname)
			}
		}
		p.datasets[ds.Name] = ds
	}

	for _, db := range conf.Dashboards {
		if _, ok := p.dashboards[db.Name]; ok {
			p.conns.Close()
			return nil, cerr.Config("duplicate dashboard name %q", db.Name)
		}
		if _, ok := p.datasets[db.Dataset]; !ok {
			p.conns.Close()
			return nil, cerr.Config("dashboard %q targets unknown dataset %q", db.Name, db.Dataset)
		}
		p.dashboards[db.Name] = db
	}

	noCache := conf.Settings.NoCache
	p.paramsCache = NewResultCache[*params.ParameterSet](
		conf.Settings.ParametersCache.sizeOr(1024),
		conf.Settings.ParametersCache.ttlOr(time.Hour),
		noCache,
	)
	p.datasetsCache = NewResultCache[*DataFrame](
		conf.Settings.DatasetsCache.sizeOr(128),
		conf.Settings.DatasetsCache.ttlOr(time.Hour),
		noCache,
	)

	if log != nil {
		log.Infow("project loaded",
			"project", conf.Project.Name,
			"models", p.reg.Len(),
			"parameters", p.paramSet.Len(),
			"datasets", len(p.datasets),
			"dashboards", len(p.dashboards))
	}
	return p, nil
}

// buildRegistry assembles the model registry: inline seeds, declared
// sources, and the query files under models/.
func (p *projectEngine) buildRegistry() (*Registry, error) {
	reg := NewRegistry()

	for _, seed := range p.conf.Seeds {
		df := &DataFrame{Columns: seed.Columns, Rows: seed.Rows}
		m := &Model{
			Config: ModelConfig{Name: seed.Name, Type: ModelSeed, Columns: seed.Columns},
			Seed:   df,
		}
		if err := reg.Add(m); err != nil {
			return nil, err
		}
	}

	configs := make(map[string]ModelConfig, len(p.conf.Models))
	for _, mc := range p.conf.Models {
		configs[mc.Name] = mc
		if mc.Type == ModelSource {
			if err := reg.Add(&Model{Config: mc}); err != nil {
				return nil, err
			}
		}
	}

	dirs := []struct{ sub, modelType string }{
		{"models/dbviews", ModelDbview},
		{"models/federates", ModelFederate},
		{"models/builds", ModelBuild},
	}
	for _, d := range dirs {
		if err := loadModelFiles(p.fs, filepath.Join(p.dir, d.sub), d.modelType, reg, configs); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildParameters converts manifest declarations into the immutable config
// set, materializing data-sourced parameters from their source queries.
func (p *projectEngine) buildParameters() (*params.ConfigSet, error) {
	set := params.NewConfigSet()

	for _, decl := range p.conf.Parameters {
		cfg, err := buildParamConfig(decl)
		if err != nil {
			return nil, err
		}

		if ds, ok := cfg.(*params.DataSourceParamConfig); ok {
			if cfg, err = p.convertDataSource(ds); err != nil {
				return nil, err
			}
		}

		if err := set.Add(cfg); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// convertDataSource runs the deferred config's source query and materializes
// the concrete config from the rows.
func (p *projectEngine) convertDataSource(ds *params.DataSourceParamConfig) (params.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.conf.sqlTimeout())
	defer cancel()

	df, err := p.dataSourceFrame(ctx, ds)
	if err != nil {
		return nil, cerr.Config("parameter %q: materializing options: %v", ds.Name, err)
	}

	records, err := df.Orient(OrientRecords)
	if err != nil {
		return nil, err
	}
	rows := make([]params.Row, 0, df.NumRows())
	for _, rec := range records.([]map[string]any) {
		rows = append(rows, rec)
	}
	return ds.Convert(rows)
}

// dataSourceFrame queries the option rows: from the named connection when
// declared, else from an engine seeded with the project's seed tables.
func (p *projectEngine) dataSourceFrame(ctx context.Context, ds *params.DataSourceParamConfig) (*DataFrame, error) {
	if conn := p.dataSourceConnection(ds); conn != "" {
		db, err := p.conns.Get(conn)
		if err != nil {
			return nil, err
		}
		return queryExternal(ctx, db, ds.Query(), nil)
	}

	engine, err := p.openEngine()
	if err != nil {
		return nil, err
	}
	defer engine.Close() //nolint:errcheck

	for _, seed := range p.conf.Seeds {
		df := &DataFrame{Columns: seed.Columns, Rows: seed.Rows}
		if err := engine.Register(ctx, seed.Name, df); err != nil {
			return nil, err
		}
	}
	return engine.Query(ctx, ds.Query(), nil)
}

func (p *projectEngine) dataSourceConnection(ds *params.DataSourceParamConfig) string {
	for _, decl := range p.conf.Parameters {
		if decl.Name == ds.Name && decl.DataSource != nil {
			return decl.DataSource.Connection
		}
	}
	return ""
}

// CatalogEntry is one dataset or dashboard visible to the requesting user.
type CatalogEntry struct {
	Name        string   `json:"name"`
	Label       string   `json:"label,omitempty"`
	Description string   `json:"description,omitempty"`
	Scope       string   `json:"scope"`
	Path        string   `json:"path"`
	Parameters  []string `json:"parameters,omitempty"`
}

// CatalogModel is the data-catalog response.
type CatalogModel struct {
	Project    string         `json:"project"`
	Version    int            `json:"version"`
	Datasets   []CatalogEntry `json:"datasets"`
	Dashboards []CatalogEntry `json:"dashboards"`
}

// DataCatalog lists the datasets and dashboards the user may access.
func (p *projectEngine) DataCatalog(user *auth.User) *CatalogModel {
	cm := &CatalogModel{
		Project:    p.conf.Project.Name,
		Version:    p.conf.Project.Version,
		Datasets:   []CatalogEntry{},
		Dashboards: []CatalogEntry{},
	}

	for _, ds := range p.conf.Datasets {
		if !p.auth.CanAccessScope(user, auth.ParseScope(ds.Scope)) {
			continue
		}
		cm.Datasets = append(cm.Datasets, CatalogEntry{
			Name:        ds.Name,
			Label:       ds.Label,
			Description: ds.Description,
			Scope:       string(auth.ParseScope(ds.Scope)),
			Path:        "/api/v1/dataset/" + ds.Name,
			Parameters:  ds.Parameters,
		})
	}
	for _, db := range p.conf.Dashboards {
		if !p.auth.CanAccessScope(user, auth.ParseScope(db.Scope)) {
			continue
		}
		cm.Dashboards = append(cm.Dashboards, CatalogEntry{
			Name:        db.Name,
			Label:       db.Label,
			Description: db.Description,
			Scope:       string(auth.ParseScope(db.Scope)),
			Path:        "/api/v1/dashboard/" + db.Name,
			Parameters:  db.Parameters,
		})
	}
	return cm
}

// Public façade methods delegate to the current snapshot.

func (s *Squirrels) GetParameters(ctx context.Context, entityType, entityName string,
	selections map[string]string, user *auth.User, parentHint string,
) (*ParametersModel, error) {
	return s.engine().GetParameters(ctx, entityType, entityName, selections, user, parentHint)
}

func (s *Squirrels) GetDataset(ctx context.Context, req DatasetRequest) (*DatasetResultModel, error) {
	return s.engine().GetDataset(ctx, req)
}

func (s *Squirrels) GetDashboard(ctx context.Context, req DatasetRequest) ([]byte, string, error) {
	return s.engine().GetDashboard(ctx, req)
}

func (s *Squirrels) DataCatalog(user *auth.User) *CatalogModel {
	return s.engine().DataCatalog(user)
}

// Elevated reports whether a configurable requires admin access.
func (s *Squirrels) Elevated(name string) (elevated, declared bool) {
	for _, c := range s.engine().conf.Configurables {
		if c.Name == name {
			return c.Elevated, true
		}
	}
	return false, false
}

// ProjectName returns the loaded project's name.
func (s *Squirrels) ProjectName() string {
	return s.engine().conf.Project.Name
}

// DefaultLimit returns the project's default page size.
func (s *Squirrels) DefaultLimit() int {
	return s.engine().conf.Settings.DefaultLimit
}

// MaxRows returns the project's output row cap; no request may page beyond it.
func (s *Squirrels) MaxRows() int {
	return s.engine().conf.Settings.MaxRowsOutput
}

// VerifyParams checks that every supplied selection name is a parameter the
// entity declares.
func (s *Squirrels) VerifyParams(entityType, entityName string, names []string) error {
	p := s.engine()

	declared, _, err := p.entityParams(entityType, entityName)
	if err != nil {
		return err
	}

	for _, name := range names {
		if declared == nil {
			if _, ok := p.paramSet.Get(name); !ok {
				return cerr.InvalidInput(fmt.Errorf("unknown parameter %q", name))
			}
			continue
		}
		found := false
		for _, d := range declared {
			if d == name {
				found = true
				break
			}
		}
		if !found {
			return cerr.InvalidInput(fmt.Errorf("parameter %q is not declared by %s %q",
				name, entityType, entityName))
		}
	}
	return nil
}

func environMap() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}
