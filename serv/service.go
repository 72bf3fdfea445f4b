// Package serv is the Squirrels HTTP service: request parsing, auth,
// middleware, and the REST surface over the core engine.
package serv

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core"
	"github.com/squirrels-analytics/squirrels-sub000/serv/internal/util"
)

// HttpService is the public service handle. The running service state lives
// behind an atomic value so a future reload can swap it without blocking
// in-flight requests.
type HttpService struct {
	atomic.Value
}

type squirrelsService struct {
	conf  *Config
	zlog  *zap.Logger
	log   *zap.SugaredLogger
	fs    afero.Fs
	authn *auth.JWTAuth
	sq    *core.Squirrels
	srv   *http.Server

	coreOpts []core.Option
}

// Option is a service configuration hook applied before the project loads.
type Option func(*squirrelsService) error

// OptionSetFS sets the filesystem the project loads from.
func OptionSetFS(fs afero.Fs) Option {
	return func(s *squirrelsService) error {
		s.fs = fs
		return nil
	}
}

// OptionSetZapLogger replaces the logger built from the config.
func OptionSetZapLogger(zlog *zap.Logger) Option {
	return func(s *squirrelsService) error {
		s.zlog = zlog
		s.log = zlog.Sugar()
		return nil
	}
}

// OptionSetEngineOpener overrides the embedded engine factory used by the
// core. Tests use this to run without a real database.
func OptionSetEngineOpener(open core.EngineOpener) Option {
	return func(s *squirrelsService) error {
		s.coreOpts = append(s.coreOpts, core.OptionSetEngineOpener(open))
		return nil
	}
}

// OptionSetRenderer installs a dashboard renderer on the core engine.
func OptionSetRenderer(r core.DashboardRenderer) Option {
	return func(s *squirrelsService) error {
		s.coreOpts = append(s.coreOpts, core.OptionSetRenderer(r))
		return nil
	}
}

// NewSquirrelsService creates the Squirrels HTTP service from the config.
func NewSquirrelsService(conf *Config, options ...Option) (*HttpService, error) {
	s, err := newSquirrelsService(conf, options...)
	if err != nil {
		return nil, err
	}

	s1 := &HttpService{}
	s1.Store(s)
	return s1, nil
}

func newSquirrelsService(conf *Config, options ...Option) (*squirrelsService, error) {
	if conf == nil {
		conf = &Config{}
	}

	zlog := util.NewLogger(conf.ShouldUseJSONLogs())

	s := &squirrelsService{
		conf: conf,
		zlog: zlog,
		log:  zlog.Sugar(),
		fs:   afero.NewOsFs(),
	}

	if err := s.initConfig(); err != nil {
		return nil, err
	}

	for _, op := range options {
		if err := op(s); err != nil {
			return nil, err
		}
	}

	s.authn = auth.NewJWTAuth(auth.JWTConfig{
		Secret:      conf.Auth.Secret,
		TokenExpiry: conf.Auth.TokenExpiry,
	}, conf.apiKeyUsers())

	sq, err := core.New(s.fs, conf.ProjectPath, s.authn, s.log, s.coreOpts...)
	if err != nil {
		return nil, err
	}
	s.sq = sq

	return s, nil
}

// initConfig derives the listen address from host_port or the host/port
// overrides.
func (s *squirrelsService) initConfig() error {
	c := s.conf

	hp := splitHostPort(c.HostPort)
	if len(hp) == 2 {
		if c.Host != "" {
			hp[0] = c.Host
		}
		if c.Port != "" {
			hp[1] = c.Port
		}
		c.hostPort = fmt.Sprintf("%s:%s", hp[0], hp[1])
	}

	if c.hostPort == "" {
		c.hostPort = defaultHP
	}
	return nil
}

func splitHostPort(hostPort string) []string {
	if hostPort == "" {
		return nil
	}
	for i := len(hostPort) - 1; i >= 0; i-- {
		if hostPort[i] == ':' {
			return []string{hostPort[:i], hostPort[i+1:]}
		}
	}
	return []string{hostPort, ""}
}

// Start runs the HTTP server and blocks until shutdown.
func (s1 *HttpService) Start() error {
	startHTTP(s1)
	return nil
}

// Attach mounts the service routes on an existing mux.
func (s1 *HttpService) Attach(mux Mux) error {
	_, err := routesHandler(s1, mux)
	return err
}
