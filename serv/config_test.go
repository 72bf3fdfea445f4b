package serv

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	conf := `
app_name: squirrels-dev
host_port: localhost:9000
project_path: ./proj
auth:
  secret: s3cret
  token_expiry: 30m
`
	require.NoError(t, afero.WriteFile(fs, "/config/dev.yml", []byte(conf), 0o644))

	c, err := ReadInConfigFS("/config/dev.yml", fs)
	require.NoError(t, err)

	assert.Equal(t, "squirrels-dev", c.AppName)
	assert.Equal(t, "localhost:9000", c.HostPort)
	assert.Equal(t, "./proj", c.ProjectPath)
	assert.Equal(t, "s3cret", c.Auth.Secret)
	assert.Equal(t, 30*time.Minute, c.Auth.TokenExpiry)
}

func TestReadInConfigInherits(t *testing.T) {
	fs := afero.NewMemMapFs()
	base := `
app_name: squirrels
project_path: ./proj
auth:
  secret: base-secret
`
	prod := `
inherits: base
production: true
host_port: 0.0.0.0:80
`
	require.NoError(t, afero.WriteFile(fs, "/config/base.yml", []byte(base), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/config/prod.yml", []byte(prod), 0o644))

	c, err := ReadInConfigFS("/config/prod.yml", fs)
	require.NoError(t, err)

	assert.True(t, c.Production)
	assert.Equal(t, "0.0.0.0:80", c.HostPort)
	assert.Equal(t, "squirrels", c.AppName, "inherited value survives the merge")
	assert.Equal(t, "base-secret", c.Auth.Secret)
}

func TestReadInConfigRejectsNestedInherits(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/config/a.yml", []byte("inherits: b\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/config/b.yml", []byte("inherits: c\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/config/c.yml", []byte("app_name: x\n"), 0o644))

	_, err := ReadInConfigFS("/config/a.yml", fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot itself inherit")
}

func TestConfigEnvOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/config/dev.yml",
		[]byte("app_name: squirrels\nhost_port: localhost:9000\n"), 0o644))

	t.Setenv("SQ_HOST_PORT", "localhost:7000")

	c, err := ReadInConfigFS("/config/dev.yml", fs)
	require.NoError(t, err)
	assert.Equal(t, "localhost:7000", c.HostPort)
}

func TestAPIKeyUsers(t *testing.T) {
	c := &Config{}
	assert.Nil(t, c.apiKeyUsers())

	c.Auth.APIKeys = []APIKey{
		{Key: "k1", Username: "svc", IsInternal: true},
		{Key: "k2", Username: "reader"},
	}
	users := c.apiKeyUsers()
	require.Len(t, users, 2)
	assert.True(t, users["k1"].IsInternal)
	assert.Equal(t, "reader", users["k2"].Username)
}

func TestShouldUseJSONLogs(t *testing.T) {
	c := &Config{}
	c.LogFormat = "json"
	assert.True(t, c.ShouldUseJSONLogs())

	c.LogFormat = "simple"
	c.Production = true
	assert.False(t, c.ShouldUseJSONLogs())

	c.LogFormat = "auto"
	assert.True(t, c.ShouldUseJSONLogs())

	c.Production = false
	assert.False(t, c.ShouldUseJSONLogs())
}

func TestInitConfigHostPort(t *testing.T) {
	s := &squirrelsService{conf: &Config{}}
	require.NoError(t, s.initConfig())
	assert.Equal(t, defaultHP, s.conf.hostPort)

	s = &squirrelsService{conf: &Config{}}
	s.conf.HostPort = "0.0.0.0:8080"
	s.conf.Port = "9999"
	require.NoError(t, s.initConfig())
	assert.Equal(t, "0.0.0.0:9999", s.conf.hostPort)
}
