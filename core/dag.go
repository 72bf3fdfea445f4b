package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// dagNode is one model in a request-scoped DAG. Nodes are owned by the DAG
// and discarded when the request ends; only the underlying Model artifacts
// are shared.
type dagNode struct {
	model *Model

	compileOnce sync.Once
	compileErr  error
	compiledSQL string
	script      *scriptRunner

	upstreams   []string
	downstreams []string

	needsEngineTable   bool
	needsHostDataframe bool
	isTarget           bool

	acyclic bool

	// done closes when the node has finished; runErr is written before the
	// close so waiters observe it, and result holds the host-side value when
	// needsHostDataframe is set
	done   chan struct{}
	runErr error
	result *LazyFrame
}

// DAG is the compiled dependency graph for one dataset request.
type DAG struct {
	target string
	nodes  map[string]*dagNode

	reg        *Registry
	qc         *QueryContext
	conns      *ConnectionSet
	sqlTimeout time.Duration
	log        *zap.SugaredLogger
}

// BuildDAG compiles the closure reachable from target, wiring dependency
// edges and propagating materialization needs, then validates acyclicity.
func BuildDAG(reg *Registry, target string, qc *QueryContext, conns *ConnectionSet,
	sqlTimeout time.Duration, log *zap.SugaredLogger,
) (*DAG, error) {
	d := &DAG{
		target:     target,
		nodes:      make(map[string]*dagNode),
		reg:        reg,
		qc:         qc,
		conns:      conns,
		sqlTimeout: sqlTimeout,
		log:        log,
	}

	root, err := d.expand(context.Background(), target)
	if err != nil {
		return nil, err
	}
	root.isTarget = true
	root.needsHostDataframe = true

	if err := d.checkAcyclic(target, map[string]bool{}); err != nil {
		return nil, err
	}
	return d, nil
}

// expand compiles the named model and recursively pulls in its dependencies.
func (d *DAG) expand(ctx context.Context, name string) (*dagNode, error) {
	if n, ok := d.nodes[name]; ok {
		return n, nil
	}

	model, ok := d.reg.Get(name)
	if !ok {
		return nil, cerr.Config("unknown model %q", name)
	}

	n := &dagNode{model: model, done: make(chan struct{})}
	d.nodes[name] = n

	deps, err := n.compile(ctx, d.qc)
	if err != nil {
		return nil, err
	}

	for _, dep := range deps {
		up, err := d.expand(ctx, dep)
		if err != nil {
			return nil, err
		}
		n.upstreams = append(n.upstreams, dep)
		up.downstreams = append(up.downstreams, name)

		// a SQL downstream reads the upstream as an engine relation; an
		// imperative downstream reads it as a host dataframe
		if model.IsScript() {
			up.needsHostDataframe = true
		} else {
			up.needsEngineTable = true
		}
	}
	return n, nil
}

// compile renders the node's query and returns its discovered dependencies.
// Memoized per node; safe to invoke concurrently.
func (n *dagNode) compile(ctx context.Context, qc *QueryContext) ([]string, error) {
	var deps []string
	n.compileOnce.Do(func() {
		switch {
		case n.model.IsSQL():
			n.compiledSQL, deps, n.compileErr = renderSQL(n.model.Config.Name, n.model.SQL, qc)
		case n.model.IsScript():
			n.script = newScriptRunner(n.model.Config.Name, n.model.Script, 0)
			deps, n.compileErr = n.script.Dependencies(ctx, qc)
		}
	})
	return deps, n.compileErr
}

// checkAcyclic walks the closure from name carrying the current path. The
// acyclic bit memoizes confirmed subtrees so repeated checks stay O(N).
func (d *DAG) checkAcyclic(name string, path map[string]bool) error {
	n := d.nodes[name]
	if n.acyclic {
		return nil
	}
	if path[name] {
		return cerr.Config("cycle in model dependency graph at %q", name)
	}

	path[name] = true
	for _, up := range n.upstreams {
		if err := d.checkAcyclic(up, path); err != nil {
			return err
		}
	}
	delete(path, name)

	n.acyclic = true
	return nil
}

// Roots returns the nodes with no upstreams; execution starts here.
func (d *DAG) Roots() []string {
	var roots []string
	for name, n := range d.nodes {
		if len(n.upstreams) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Run executes every node with upstream-before-downstream ordering and
// returns the target's host dataframe. Independent nodes run concurrently;
// the first failure cancels the rest.
func (d *DAG) Run(ctx context.Context, engine EmbeddedSQL) (*DataFrame, error) {
	g, gctx := errgroup.WithContext(ctx)

	for name := range d.nodes {
		n := d.nodes[name]
		g.Go(func() error {
			defer close(n.done)

			for _, up := range n.upstreams {
				select {
				case <-d.nodes[up].done:
					// a failed upstream closes done before the group sees
					// its error; check runErr so this node never runs
					// against missing relations
					if err := d.nodes[up].runErr; err != nil {
						return err
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			start := time.Now()
			if err := d.runNode(gctx, n, engine); err != nil {
				n.runErr = err
				if d.log != nil {
					d.log.Errorw("model failed", "model", n.model.Config.Name, "error", err)
				}
				return err
			}
			if d.log != nil {
				d.log.Debugw("model done", "model", n.model.Config.Name, "elapsed", time.Since(start))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d.nodes[d.target].result.Collect()
}

func (d *DAG) runNode(ctx context.Context, n *dagNode, engine EmbeddedSQL) error {
	// imperative sources run the same way regardless of declared type
	if n.model.IsScript() {
		return d.runScript(ctx, n, engine)
	}

	switch n.model.Config.Type {
	case ModelSeed:
		return d.runSeed(ctx, n, engine)
	case ModelSource:
		return d.runSource(ctx, n, engine)
	case ModelDbview:
		return d.runDbview(ctx, n, engine)
	case ModelFederate, ModelBuild:
		return d.runFederate(ctx, n, engine)
	default:
		return cerr.Config("model %q has unknown type %q", n.model.Config.Name, n.model.Config.Type)
	}
}

func (d *DAG) runSeed(ctx context.Context, n *dagNode, engine EmbeddedSQL) error {
	name := n.model.Config.Name
	df := n.model.Seed
	if df == nil {
		return cerr.Config("seed %q has no data", name)
	}
	if n.needsEngineTable {
		if err := engine.Register(ctx, name, df); err != nil {
			return cerr.Execution(name, err)
		}
	}
	n.result = EagerFrame(df)
	return nil
}

func (d *DAG) runSource(ctx context.Context, n *dagNode, engine EmbeddedSQL) error {
	name := n.model.Config.Name
	query := "SELECT * FROM " + n.model.Config.Table
	df, err := d.external(ctx, n.model.Config.Connection, query)
	if err != nil {
		return cerr.Execution(name, err)
	}
	if n.needsEngineTable {
		if err := engine.Register(ctx, name, df); err != nil {
			return cerr.Execution(name, err)
		}
	}
	n.result = EagerFrame(df)
	return nil
}

func (d *DAG) runDbview(ctx context.Context, n *dagNode, engine EmbeddedSQL) error {
	name := n.model.Config.Name
	df, err := d.external(ctx, n.model.Config.Connection, n.compiledSQL)
	if err != nil {
		return cerr.Execution(name, err)
	}
	if n.needsEngineTable {
		if err := engine.Register(ctx, name, df); err != nil {
			return cerr.Execution(name, err)
		}
	}
	if n.needsHostDataframe {
		n.result = EagerFrame(df)
	}
	return nil
}

func (d *DAG) runFederate(ctx context.Context, n *dagNode, engine EmbeddedSQL) error {
	name := n.model.Config.Name

	kind := "TABLE"
	if strings.EqualFold(n.model.Config.Materialization, "view") {
		kind = "VIEW"
	}
	ddl := fmt.Sprintf("CREATE %s %s AS %s", kind, quoteIdent(name), n.compiledSQL)
	if err := engine.Exec(ctx, ddl, d.qc.Placeholders()); err != nil {
		return cerr.Execution(name, err)
	}

	if n.needsHostDataframe {
		df, err := engine.Query(ctx, "SELECT * FROM "+quoteIdent(name), nil)
		if err != nil {
			return cerr.Execution(name, err)
		}
		if cols := n.model.Config.Columns; len(cols) != 0 {
			applyDeclaredColumns(df, cols)
		}
		n.result = EagerFrame(df)
	}
	return nil
}

func (d *DAG) runScript(ctx context.Context, n *dagNode, engine EmbeddedSQL) error {
	name := n.model.Config.Name

	upstreams := make(map[string]*DataFrame, len(n.upstreams))
	for _, up := range n.upstreams {
		lf := d.nodes[up].result
		if lf == nil {
			return cerr.Execution(name, fmt.Errorf("upstream %q produced no host dataframe", up))
		}
		df, err := lf.Collect()
		if err != nil {
			return cerr.Execution(name, err)
		}
		upstreams[up] = df
	}

	df, err := n.script.Main(ctx, d.qc, upstreams)
	if err != nil {
		return err
	}
	if n.needsEngineTable {
		if err := engine.Register(ctx, name, df); err != nil {
			return cerr.Execution(name, err)
		}
	}
	if n.needsHostDataframe {
		n.result = EagerFrame(df)
	}
	return nil
}

// external runs a query against a named external connection under the
// configured timeout.
func (d *DAG) external(ctx context.Context, connection, query string) (*DataFrame, error) {
	db, err := d.conns.Get(connection)
	if err != nil {
		return nil, err
	}
	if d.sqlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sqlTimeout)
		defer cancel()
	}
	return queryExternal(ctx, db, query, d.qc.Placeholders())
}

// applyDeclaredColumns overlays declared column metadata onto a scanned
// frame so dataset schema responses carry types and descriptions.
func applyDeclaredColumns(df *DataFrame, declared []Column) {
	byName := make(map[string]Column, len(declared))
	for _, c := range declared {
		byName[c.Name] = c
	}
	for i, c := range df.Columns {
		if dc, ok := byName[c.Name]; ok {
			if dc.Type != "" {
				df.Columns[i].Type = dc.Type
			}
			df.Columns[i].Description = dc.Description
			df.Columns[i].Category = dc.Category
		}
	}
}
