// Package config loads the health-check target descriptor from a
// YAML/JSON file via viper, layered with environment-variable
// overrides, and validates the result before the orchestrator connects
// to anything.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSHAuthMethod selects how the SSH Pool authenticates to a configured
// host.
type SSHAuthMethod string

const (
	SSHAuthKeyFile  SSHAuthMethod = "key_file"
	SSHAuthPassword SSHAuthMethod = "password"
)

// SSHConfig carries the optional SSH fan-out settings.
type SSHConfig struct {
	Hosts                 []string
	User                  string
	KeyFile               string
	Password              string
	Port                  int
	ConnectTimeout        time.Duration
	CommandTimeout        time.Duration
	StrictHostKeyChecking bool
	KnownHostsFile        string
	KeepaliveInterval     time.Duration
}

// Configured reports whether at least one SSH host and an SSH user have
// been set.
func (s SSHConfig) Configured() bool {
	return len(s.Hosts) > 0 && s.User != ""
}

// AuthMethod returns which auth method this config selects.
func (s SSHConfig) AuthMethod() SSHAuthMethod {
	if s.KeyFile != "" {
		return SSHAuthKeyFile
	}
	return SSHAuthPassword
}

// AWSConfig carries optional AWS CloudWatch/RDS probe credentials.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// ResourceID is the CloudWatch dimension value identifying the
	// monitored resource: an RDS DBInstanceIdentifier or an MSK cluster
	// name, depending on which plugin configured the probe.
	ResourceID string
}

func (a AWSConfig) Configured() bool { return a.Region != "" }

// AzureConfig carries optional Azure Monitor probe credentials.
type AzureConfig struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
	// ResourceURI is the full Azure Resource Manager URI of the
	// monitored resource, as Azure Monitor's QueryResource expects.
	ResourceURI string
}

func (a AzureConfig) Configured() bool { return a.SubscriptionID != "" }

// ManagedServiceConfig carries optional Instaclustr-style managed-service
// credentials plus the managed Prometheus endpoint URL, which a managed
// control plane exposes independently of the Instaclustr-specific API
// key/cluster id pair.
type ManagedServiceConfig struct {
	APIKey        string
	ClusterID     string
	PrometheusURL string
}

func (m ManagedServiceConfig) Configured() bool { return m.APIKey != "" && m.ClusterID != "" }

// PrometheusConfigured reports whether a managed Prometheus endpoint is
// available as the highest-trust metric collection path.
func (m ManagedServiceConfig) PrometheusConfigured() bool { return m.PrometheusURL != "" }

// TrendDatabaseConfig describes the relational backend that stores run
// history.
type TrendDatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// DSN renders a libpq-style connection string.
func (t TrendDatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		t.Host, t.Port, t.Database, t.User, t.Password)
}

// Target is the fully resolved configuration handed to the Orchestrator.
type Target struct {
	Plugin      string
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	CompanyName string

	SSH            SSHConfig
	AWS            AWSConfig
	Azure          AzureConfig
	ManagedService ManagedServiceConfig

	// VulnerabilityScanEnabled opts into the CVE/CPE correlation check;
	// it defaults off since unconfigured runs should not silently call
	// out to NVD's public API.
	VulnerabilityScanEnabled bool
	NVDAPIKey                string

	TrendStorageEnabled bool
	TrendDatabase       TrendDatabaseConfig

	// CheckOverrides holds per-check threshold overrides keyed by the
	// check's declared setting name (e.g. "kafka_memory_warning").
	CheckOverrides map[string]float64
}

// Load reads a Target from built-in defaults, the given config file path
// (if non-empty), and environment variables (prefixed DBHEALTH_), in that
// order of increasing precedence: a file value overrides a default and an
// env var overrides both.
func Load(configFile string) (*Target, error) {
	v := viper.New()
	v.SetEnvPrefix("DBHEALTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	t := &Target{
		Plugin:      v.GetString("plugin"),
		Host:        v.GetString("host"),
		Port:        v.GetInt("port"),
		Database:    v.GetString("database"),
		User:        v.GetString("user"),
		Password:    v.GetString("password"),
		CompanyName: v.GetString("company_name"),

		SSH: SSHConfig{
			Hosts:                 v.GetStringSlice("ssh_hosts"),
			User:                  v.GetString("ssh_user"),
			KeyFile:               v.GetString("ssh_key_file"),
			Password:              v.GetString("ssh_password"),
			Port:                  v.GetInt("ssh_port"),
			ConnectTimeout:        v.GetDuration("ssh_timeout"),
			CommandTimeout:        v.GetDuration("ssh_command_timeout"),
			StrictHostKeyChecking: v.GetBool("ssh_strict_host_key_checking"),
			KnownHostsFile:        v.GetString("ssh_known_hosts_file"),
			KeepaliveInterval:     v.GetDuration("ssh_keepalive_interval"),
		},
		AWS: AWSConfig{
			Region:          v.GetString("aws_region"),
			AccessKeyID:     v.GetString("aws_access_key_id"),
			SecretAccessKey: v.GetString("aws_secret_access_key"),
			ResourceID:      v.GetString("aws_resource_id"),
		},
		Azure: AzureConfig{
			TenantID:       v.GetString("azure_tenant_id"),
			ClientID:       v.GetString("azure_client_id"),
			ClientSecret:   v.GetString("azure_client_secret"),
			SubscriptionID: v.GetString("azure_subscription_id"),
			ResourceURI:    v.GetString("azure_resource_uri"),
		},
		ManagedService: ManagedServiceConfig{
			APIKey:        v.GetString("managed_service_api_key"),
			ClusterID:     v.GetString("managed_service_cluster_id"),
			PrometheusURL: v.GetString("managed_service_prometheus_url"),
		},
		VulnerabilityScanEnabled: v.GetBool("vulnerability_scan_enabled"),
		NVDAPIKey:                v.GetString("nvd_api_key"),
		TrendStorageEnabled: v.GetBool("trend_storage_enabled"),
		TrendDatabase: TrendDatabaseConfig{
			Host:     v.GetString("trend_database.host"),
			Port:     v.GetInt("trend_database.port"),
			Database: v.GetString("trend_database.database"),
			User:     v.GetString("trend_database.user"),
			Password: v.GetString("trend_database.password"),
		},
	}

	// GetStringMapString coerces to strings; the overrides are numeric, so
	// reparse via viper's native map if present.
	if raw := v.GetStringMap("check_overrides"); len(raw) > 0 {
		t.CheckOverrides = make(map[string]float64, len(raw))
		for k, val := range raw {
			if f, ok := toFloat(val); ok {
				t.CheckOverrides[k] = f
			}
		}
	}

	if ssh, ok := v.Get("ssh_host").(string); ok && ssh != "" && len(t.SSH.Hosts) == 0 {
		t.SSH.Hosts = []string{ssh}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 5432)
	v.SetDefault("ssh_port", 22)
	v.SetDefault("ssh_timeout", 10*time.Second)
	v.SetDefault("ssh_command_timeout", 30*time.Second)
	v.SetDefault("ssh_strict_host_key_checking", true)
	v.SetDefault("ssh_keepalive_interval", 60*time.Second)
	v.SetDefault("trend_storage_enabled", false)
	v.SetDefault("trend_database.port", 5432)
}

// Validate enforces the required-field checks; missing target fields
// abort before any connection attempt.
func (t *Target) Validate() error {
	errs := newValidator()
	errs.requireString("plugin", t.Plugin)
	errs.requireString("host", t.Host)
	errs.requireString("company_name", t.CompanyName)
	errs.requireOneOf("plugin", t.Plugin, []string{"postgres", "kafka", "cassandra", "clickhouse", "valkey"})

	if t.TrendStorageEnabled {
		errs.requireString("trend_database.host", t.TrendDatabase.Host)
		errs.requireString("trend_database.database", t.TrendDatabase.Database)
	}

	return errs.err()
}

type validator struct{ errs []string }

func newValidator() *validator { return &validator{} }

func (v *validator) requireString(field, value string) {
	if value == "" {
		v.errs = append(v.errs, fmt.Sprintf("%s is required", field))
	}
}

func (v *validator) requireOneOf(field, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if a == value {
			return
		}
	}
	v.errs = append(v.errs, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return &ConfigError{Messages: v.errs}
}

// ConfigError reports one or more configuration validation failures.
type ConfigError struct {
	Messages []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Messages, "; ")
}
