package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
	"github.com/squirrels-analytics/squirrels-sub000/core/internal/params"
)

// ParametersModel is the wire shape of a parameter resolution.
type ParametersModel struct {
	Parameters []any `json:"parameters"`
}

// SchemaModel carries dataset column metadata.
type SchemaModel struct {
	Fields []Column `json:"fields"`
}

// DataDetailsModel describes the returned page.
type DataDetailsModel struct {
	NumRows     int    `json:"num_rows"`
	Orientation string `json:"orientation"`
}

// DatasetResultModel is the wire shape of a dataset response. Data shape
// depends on the orientation.
type DatasetResultModel struct {
	Schema      SchemaModel      `json:"schema"`
	TotalRows   int              `json:"total_num_rows"`
	DataDetails DataDetailsModel `json:"data_details"`
	Data        any              `json:"data"`
}

// ResultShape is the post-cache output shaping applied to a dataset result:
// pagination, orientation, column projection, and optional post-SQL against
// a relation named "result".
type ResultShape struct {
	Orientation string
	Offset      int
	Limit       int
	PostSQL     string
	Select      []string
}

// DatasetRequest is one dataset or dashboard invocation.
type DatasetRequest struct {
	Name          string
	User          *auth.User
	Selections    map[string]string
	Configurables map[string]string
	Shape         ResultShape
}

// checkScope authorizes the user against an entity's declared scope.
func (p *projectEngine) checkScope(user *auth.User, scope string) error {
	s := auth.ParseScope(scope)
	if !p.auth.CanAccessScope(user, s) {
		return cerr.Forbidden(fmt.Errorf("user cannot access %s scope", s))
	}
	return nil
}

// resolveParameters resolves the full config set and projects to the
// entity's declared parameter list, memoized through the parameters cache.
func (p *projectEngine) resolveParameters(entityType, entityName, scope string,
	names []string, selections map[string]string, user *auth.User,
) (*params.ParameterSet, error) {
	key, err := cacheKey(cacheKeyInput{
		EntityType:   entityType,
		EntityName:   entityName,
		Scope:        scope,
		UserIdentity: user.Identity(),
		Names:        names,
		Selections:   params.CanonicalSelections(selections),
	})
	if err != nil {
		return nil, err
	}

	return p.paramsCache.GetOrCompute(key, func() (*params.ParameterSet, error) {
		return params.Resolve(p.paramSet, params.ResolveRequest{
			Names:      names,
			Selections: selections,
			User:       user,
		})
	})
}

// GetParameters resolves parameters for the project or for a named entity.
// An empty entityName resolves the full project-level set.
func (p *projectEngine) GetParameters(_ context.Context, entityType, entityName string,
	selections map[string]string, user *auth.User, parentHint string,
) (*ParametersModel, error) {
	names, scope, err := p.entityParams(entityType, entityName)
	if err != nil {
		return nil, err
	}
	if err := p.checkScope(user, scope); err != nil {
		return nil, err
	}

	if parentHint != "" || len(selections) > 0 {
		// updates mode bypasses the cache: it exists to react to one
		// in-flight widget change
		ps, err := params.ResolveUpdates(p.paramSet, parentHint, selections, user)
		if err != nil {
			return nil, err
		}
		return &ParametersModel{Parameters: ps.ToWire()}, nil
	}

	ps, err := p.resolveParameters(entityType, entityName, scope, names, selections, user)
	if err != nil {
		return nil, err
	}
	return &ParametersModel{Parameters: ps.ToWire()}, nil
}

// entityParams returns the declared parameter list and scope for an entity.
func (p *projectEngine) entityParams(entityType, entityName string) (names []string, scope string, err error) {
	switch entityType {
	case "", "project":
		return nil, "public", nil
	case "dataset":
		ds, ok := p.datasets[entityName]
		if !ok {
			return nil, "", cerr.InvalidInput(fmt.Errorf("unknown dataset %q", entityName))
		}
		return ds.Parameters, ds.Scope, nil
	case "dashboard":
		db, ok := p.dashboards[entityName]
		if !ok {
			return nil, "", cerr.InvalidInput(fmt.Errorf("unknown dashboard %q", entityName))
		}
		names = db.Parameters
		if names == nil {
			if ds, ok := p.datasets[db.Dataset]; ok {
				names = ds.Parameters
			}
		}
		return names, db.Scope, nil
	default:
		return nil, "", cerr.InvalidInput(fmt.Errorf("unknown entity type %q", entityType))
	}
}

// GetDataset authorizes, resolves, executes, and shapes one dataset request.
func (p *projectEngine) GetDataset(ctx context.Context, req DatasetRequest) (*DatasetResultModel, error) {
	ds, ok := p.datasets[req.Name]
	if !ok {
		return nil, cerr.InvalidInput(fmt.Errorf("unknown dataset %q", req.Name))
	}
	if err := p.checkScope(req.User, ds.Scope); err != nil {
		return nil, err
	}

	df, err := p.datasetFrame(ctx, ds, req)
	if err != nil {
		return nil, err
	}
	return p.shapeResult(ctx, df, req.Shape)
}

// datasetFrame produces the dataset's full (pre-shaping) frame, memoized
// through the dataset results cache. Pagination, orientation, and post-SQL
// never enter the key.
func (p *projectEngine) datasetFrame(ctx context.Context, ds DatasetConfig, req DatasetRequest) (*DataFrame, error) {
	configurables := p.filterConfigurables(req.Configurables)

	key, err := cacheKey(cacheKeyInput{
		EntityType:    "dataset",
		EntityName:    ds.Name,
		Scope:         ds.Scope,
		UserIdentity:  req.User.Identity(),
		Selections:    params.CanonicalSelections(req.Selections),
		Configurables: configurablePairs(configurables),
	})
	if err != nil {
		return nil, err
	}

	return p.datasetsCache.GetOrCompute(key, func() (*DataFrame, error) {
		return p.runDataset(ctx, ds, req, configurables)
	})
}

func (p *projectEngine) runDataset(ctx context.Context, ds DatasetConfig, req DatasetRequest,
	configurables map[string]string,
) (*DataFrame, error) {
	// resolve over the full config set, then project to the dataset's list
	full, err := params.Resolve(p.paramSet, params.ResolveRequest{
		Selections: req.Selections,
		User:       req.User,
	})
	if err != nil {
		return nil, err
	}
	resolved := full
	if len(ds.Parameters) > 0 {
		resolved, err = params.Resolve(p.paramSet, params.ResolveRequest{
			Names:      ds.Parameters,
			Selections: full.SelectionStrings(),
			User:       req.User,
		})
		if err != nil {
			return nil, err
		}
	}

	qc := NewQueryContext(resolved, req.User, configurables)
	qc.ProjectVars = p.conf.Project.Vars
	qc.EnvVars = p.envVars

	dag, err := BuildDAG(p.reg, ds.Model, qc, p.conns, p.conf.sqlTimeout(), p.log)
	if err != nil {
		return nil, err
	}

	engine, err := p.openEngine()
	if err != nil {
		return nil, cerr.Execution(ds.Model, err)
	}
	defer engine.Close() //nolint:errcheck

	df, err := dag.Run(ctx, engine)
	if err != nil {
		return nil, err
	}

	if model, ok := p.reg.Get(ds.Model); ok && len(model.Config.Columns) != 0 {
		applyDeclaredColumns(df, model.Config.Columns)
	}
	return df, nil
}

// shapeResult applies post-SQL, the row cap, projection, pagination, and
// orientation to a cached frame. The cap runs after post-SQL so a reducing
// query can rescue an oversized intermediate.
func (p *projectEngine) shapeResult(ctx context.Context, df *DataFrame, shape ResultShape) (*DatasetResultModel, error) {
	var err error
	if shape.PostSQL != "" {
		df, err = p.applyPostSQL(ctx, df, shape.PostSQL)
		if err != nil {
			return nil, err
		}
	}

	if max := p.conf.Settings.MaxRowsOutput; df.NumRows() > max {
		return nil, cerr.TooLarge(df.NumRows(), max)
	}

	if df, err = df.Select(shape.Select); err != nil {
		return nil, err
	}

	total := df.NumRows()
	limit := shape.Limit
	if limit < 0 {
		return nil, cerr.InvalidInput(fmt.Errorf("x_limit must be >= 0"))
	}
	if shape.Offset < 0 {
		return nil, cerr.InvalidInput(fmt.Errorf("x_offset must be >= 0"))
	}
	page := df.Slice(shape.Offset, limit)

	orientation := shape.Orientation
	if orientation == "" {
		orientation = OrientRecords
	}
	data, err := page.Orient(orientation)
	if err != nil {
		return nil, err
	}

	return &DatasetResultModel{
		Schema:      SchemaModel{Fields: df.Columns},
		TotalRows:   total,
		DataDetails: DataDetailsModel{NumRows: page.NumRows(), Orientation: orientation},
		Data:        data,
	}, nil
}

// applyPostSQL runs a caller-supplied query against the result registered as
// relation "result" in a fresh engine instance.
func (p *projectEngine) applyPostSQL(ctx context.Context, df *DataFrame, query string) (*DataFrame, error) {
	engine, err := p.openEngine()
	if err != nil {
		return nil, cerr.Execution("result", err)
	}
	defer engine.Close() //nolint:errcheck

	if err := engine.Register(ctx, "result", df); err != nil {
		return nil, cerr.Execution("result", err)
	}
	out, err := engine.Query(ctx, query, nil)
	if err != nil {
		return nil, cerr.InvalidInput(fmt.Errorf("x_sql_query failed: %w", err))
	}
	return out, nil
}

// DashboardRenderer turns a dataset result into dashboard bytes. Rendering
// internals are an external collaborator.
type DashboardRenderer interface {
	Render(ctx context.Context, dashboard DashboardConfig, result *DatasetResultModel) ([]byte, string, error)
}

// GetDashboard resolves the dashboard's dataset and hands the result to the
// renderer, returning the rendered bytes and their content type.
func (p *projectEngine) GetDashboard(ctx context.Context, req DatasetRequest) ([]byte, string, error) {
	db, ok := p.dashboards[req.Name]
	if !ok {
		return nil, "", cerr.InvalidInput(fmt.Errorf("unknown dashboard %q", req.Name))
	}
	if err := p.checkScope(req.User, db.Scope); err != nil {
		return nil, "", err
	}
	if p.renderer == nil {
		return nil, "", cerr.Config("no dashboard renderer configured")
	}

	dsReq := req
	dsReq.Name = db.Dataset
	result, err := p.GetDataset(ctx, dsReq)
	if err != nil {
		return nil, "", err
	}
	return renderDashboard(ctx, p.renderer, db, result)
}

func renderDashboard(ctx context.Context, r DashboardRenderer, db DashboardConfig,
	result *DatasetResultModel,
) ([]byte, string, error) {
	body, contentType, err := r.Render(ctx, db, result)
	if err != nil {
		return nil, "", cerr.Execution(db.Name, err)
	}
	return body, contentType, nil
}

// filterConfigurables keeps only declared configurables, overlaying supplied
// values on the project defaults.
func (p *projectEngine) filterConfigurables(supplied map[string]string) map[string]string {
	out := p.conf.configurableDefaults()
	for name, value := range supplied {
		if _, ok := out[name]; ok {
			out[name] = value
		}
	}
	return out
}

func configurablePairs(m map[string]string) [][2]string {
	pairs := make([][2]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, [2]string{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}
