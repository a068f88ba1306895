package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evalgo/dbhealth/internal/config"
)

func TestTargetValidateRequiresCoreFields(t *testing.T) {
	t.Run("missing everything", func(t *testing.T) {
		target := &config.Target{}
		err := target.Validate()
		assert.Error(t, err)
		var cfgErr *config.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Messages, "plugin is required")
		assert.Contains(t, cfgErr.Messages, "host is required")
		assert.Contains(t, cfgErr.Messages, "company_name is required")
	})

	t.Run("unknown plugin rejected", func(t *testing.T) {
		target := &config.Target{Plugin: "mongodb", Host: "db.example.com", CompanyName: "acme"}
		err := target.Validate()
		assert.Error(t, err)
	})

	t.Run("valid minimal target", func(t *testing.T) {
		target := &config.Target{Plugin: "postgres", Host: "db.example.com", CompanyName: "acme"}
		assert.NoError(t, target.Validate())
	})

	t.Run("trend storage requires database fields", func(t *testing.T) {
		target := &config.Target{
			Plugin:              "postgres",
			Host:                "db.example.com",
			CompanyName:         "acme",
			TrendStorageEnabled: true,
		}
		err := target.Validate()
		assert.Error(t, err)
		var cfgErr *config.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Messages, "trend_database.host is required")
	})
}

func TestSSHConfigConfigured(t *testing.T) {
	assert.False(t, config.SSHConfig{}.Configured())
	assert.False(t, config.SSHConfig{User: "ops"}.Configured())
	assert.True(t, config.SSHConfig{Hosts: []string{"10.0.0.1"}, User: "ops"}.Configured())
}

func TestSSHConfigAuthMethod(t *testing.T) {
	assert.Equal(t, config.SSHAuthPassword, config.SSHConfig{Password: "secret"}.AuthMethod())
	assert.Equal(t, config.SSHAuthKeyFile, config.SSHConfig{KeyFile: "/home/ops/.ssh/id_ed25519"}.AuthMethod())
}

func TestManagedServiceConfigured(t *testing.T) {
	assert.False(t, config.ManagedServiceConfig{}.Configured())
	assert.False(t, config.ManagedServiceConfig{APIKey: "k"}.Configured())
	assert.True(t, config.ManagedServiceConfig{APIKey: "k", ClusterID: "c"}.Configured())
	assert.False(t, config.ManagedServiceConfig{}.PrometheusConfigured())
	assert.True(t, config.ManagedServiceConfig{PrometheusURL: "http://prom:9090"}.PrometheusConfigured())
}

func TestTrendDatabaseDSN(t *testing.T) {
	cfg := config.TrendDatabaseConfig{Host: "localhost", Port: 5432, Database: "dbhealth", User: "app", Password: "secret"}
	assert.Equal(t, "host=localhost port=5432 dbname=dbhealth user=app password=secret sslmode=disable", cfg.DSN())
}
