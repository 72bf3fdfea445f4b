package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/serv/internal/util"
)

// Configuration for the Squirrels service
type Config struct {
	// Configuration for the HTTP service
	Serv `mapstructure:",squash"`

	hostPort string
	viper    *viper.Viper
}

// Serv holds the HTTP service settings
type Serv struct {
	// Application name is used in log and debug messages
	AppName string `mapstructure:"app_name"`

	// When enabled runs the service with production level security defaults
	Production bool

	// The default path to find all configuration files
	ConfigPath string `mapstructure:"config_path"`

	// Path to the project directory containing squirrels.yml
	ProjectPath string `mapstructure:"project_path"`

	// Logging level must be one of debug, error, warn, info
	LogLevel string `mapstructure:"log_level"`

	// Logging Format: "auto" (default, colored console in dev, JSON in
	// production), "json" (always JSON), or "simple" (always colored console)
	LogFormat string `mapstructure:"log_format"`

	// The host and port the service runs on. Example localhost:8080
	HostPort string `mapstructure:"host_port"`

	// Host to run the service on
	Host string

	// Port to run the service on
	Port string

	// Sets the API rate limits
	RateLimiter RateLimiter `mapstructure:"rate_limiter"`

	// Sets the HTTP CORS Access-Control-Allow-Origin header
	AllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Sets the HTTP CORS Access-Control-Allow-Headers header
	AllowedHeaders []string `mapstructure:"cors_allowed_headers"`

	// Enables debug logs for CORS
	DebugCORS bool `mapstructure:"cors_debug"`

	// Sets the authentication used by the service
	Auth AuthConfig `mapstructure:"auth"`
}

// RateLimiter sets the API rate limits
type RateLimiter struct {
	// The number of events per second
	Rate float64

	// Bucket a burst of at most 'bucket' number of events
	Bucket int

	// The header that contains the client ip
	IPHeader string `mapstructure:"ip_header"`
}

// AuthConfig configures bearer-token and API key authentication
type AuthConfig struct {
	// Secret signs and verifies bearer tokens
	Secret string `mapstructure:"secret"`

	// TokenExpiry bounds issued tokens. Example 1h
	TokenExpiry time.Duration `mapstructure:"token_expiry"`

	// APIKeys are static credentials accepted via the x-api-key header
	APIKeys []APIKey `mapstructure:"api_keys"`
}

// APIKey is one static credential and the user it authenticates as
type APIKey struct {
	Key        string         `mapstructure:"key"`
	Username   string         `mapstructure:"username"`
	IsInternal bool           `mapstructure:"is_internal"`
	Attributes map[string]any `mapstructure:"attributes"`
}

// ReadInConfig function reads in the config file for the environment specified
// in the GO_ENV environment variable. This is the best way to create a new
// Squirrels config.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesystem
// as an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := vi.GetString("inherits"); pcf != "" {
		cf := vi.ConfigFileUsed()
		vi = newViper(cp, pcf)
		if fs != nil {
			vi.SetFs(fs)
		}

		if err := vi.ReadInConfig(); err != nil {
			return nil, err
		}

		if value := vi.GetString("inherits"); value != "" {
			return nil, fmt.Errorf("inherited config '%s' cannot itself inherit '%s'", pcf, value)
		}

		vi.SetConfigFile(cf)

		if err := vi.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "SQ_") {
			kv := strings.SplitN(e, "=", 2)
			util.SetKeyValue(vi, kv[0], kv[1])
		}
	}

	config := &Config{viper: vi}
	config.ConfigPath = cp

	if err := vi.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	return config, nil
}

// NewConfig creates a new service configuration from the provided config string
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	vi := newViperWithDefaults()
	vi.SetConfigType(format)

	if err := vi.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}

	c := &Config{viper: vi}

	if err := vi.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	return c, nil
}

// newViperWithDefaults returns a new viper instance with the default settings
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("host_port", "0.0.0.0:8080")
	vi.SetDefault("project_path", ".")

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")

	vi.SetDefault("auth.token_expiry", "1h")

	vi.SetDefault("env", "development")

	vi.BindEnv("env", "GO_ENV") //nolint:errcheck
	vi.BindEnv("host", "HOST")  //nolint:errcheck
	vi.BindEnv("port", "PORT")  //nolint:errcheck

	return vi
}

// newViper returns a new viper instance with the default settings
func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}

// AbsolutePath returns the absolute path of the file
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ConfigPath, p)
}

// rateLimiterEnable returns true if the rate limiter is enabled
func (c *Config) rateLimiterEnable() bool {
	return c.RateLimiter.Rate > 0 && c.RateLimiter.Bucket > 0
}

// ShouldUseJSONLogs returns true if logs should be in JSON format.
// Returns true if log_format is "json" OR if log_format is "auto" and
// production mode is enabled.
func (c *Config) ShouldUseJSONLogs() bool {
	if c.LogFormat == "json" {
		return true
	}
	if c.LogFormat == "auto" && c.Serv.Production {
		return true
	}
	return false
}

// apiKeyUsers converts the configured API keys into the map the
// authenticator expects.
func (c *Config) apiKeyUsers() map[string]*auth.User {
	if len(c.Auth.APIKeys) == 0 {
		return nil
	}
	users := make(map[string]*auth.User, len(c.Auth.APIKeys))
	for _, k := range c.Auth.APIKeys {
		users[k.Key] = &auth.User{
			Username:   k.Username,
			IsInternal: k.IsInternal,
			Attributes: k.Attributes,
		}
	}
	return users
}

// GetConfigName returns the name of the configuration based on GO_ENV
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"

	case "staging", "stage":
		return "stage"

	case "testing", "test":
		return "test"

	default:
		return "dev"
	}
}
