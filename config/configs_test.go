package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":8181", cfg.Server.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "geoversion.db", cfg.Database.BuildDSN())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":9000"
database:
  driver: postgres
  host: db
  port: "5432"
  user: gis
  password: secret
  dbname: versions
kafka:
  enabled: true
  brokers: ["kafka:9092"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "host=db user=gis password=secret dbname=versions port=5432 sslmode=disable TimeZone=UTC", cfg.Database.BuildDSN())
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, "geoversion.merge-requests", cfg.Kafka.Topic)

	t.Setenv("GEOVERSION_LISTEN", ":7000")
	t.Setenv("GEOVERSION_DSN", "host=override")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "host=override", cfg.Database.BuildDSN())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("GEOVERSION_DB_DRIVER", "oracle")
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "mysql", Host: "db", Port: "3306", Username: "gis", Password: "pw", Dbname: "versions"}
	assert.Equal(t, "gis:pw@tcp(db:3306)/versions?charset=utf8mb4&parseTime=True&loc=UTC", d.BuildDSN())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", File: filepath.Join(t.TempDir(), "geoversion.log"), MaxSize: 1})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
