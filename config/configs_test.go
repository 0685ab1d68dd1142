package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db.internal
  dbname: kohteet
geoserver:
  workspace: kohteet
  hidden_roles: [ROLE_ADMIN]
cleanup:
  interval: 90s
`), 0o644))
	t.Setenv("LAYERSYNC_DATABASE_PORT", "6543")
	t.Setenv("LAYERSYNC_HTTP_EDITOR_TOKEN", "token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "6543", cfg.Database.Port)
	assert.Equal(t, "kohteet", cfg.GeoServer.Workspace)
	assert.Equal(t, []string{"ROLE_ADMIN"}, cfg.GeoServer.HiddenRoles)
	assert.Equal(t, 90*time.Second, cfg.Cleanup.Interval)
	assert.Equal(t, "token", cfg.HTTP.EditorToken)
	assert.Equal(t, 3067, cfg.Layer.SRID)
	assert.Equal(t,
		"host=db.internal user=postgres password= dbname=kohteet port=6543 sslmode=disable TimeZone=UTC",
		cfg.Database.DSN())
}

func TestLoadDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("layer:\n  srid: 3879\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LAYERSYNC_STORAGE_BUCKET_PREFIX=kuvat\n"), 0o644))
	require.NoError(t, os.Unsetenv("LAYERSYNC_STORAGE_BUCKET_PREFIX"))
	t.Cleanup(func() { os.Unsetenv("LAYERSYNC_STORAGE_BUCKET_PREFIX") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3879, cfg.Layer.SRID)
	assert.Equal(t, "kuvat", cfg.Storage.BucketPrefix)
}

func TestLoadBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultsRoundTripYAML(t *testing.T) {
	out, err := yaml.Marshal(Defaults())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, out, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "layersync.log")
	log, err := NewLogger(LogConfig{Level: "debug", JSON: true, File: file, Rotation: LogRotationConfig{MaxSize: 1}})
	require.NoError(t, err)
	log.Info("hello")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"M":"hello"`)

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
