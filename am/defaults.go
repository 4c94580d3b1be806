package am

import (
	"bytes"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/teranos/brandguard/errors"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.max_sessions_per_minute", DefaultMaxSessionsPerMinute)
	v.SetDefault("server.read_limit_bytes", DefaultReadLimitBytes)

	v.SetDefault("audit.graph_name", DefaultGraphName)
	v.SetDefault("audit.milestone_stages", []string{"indexer", "auditor"})
	v.SetDefault("audit.timeout_seconds", 0)

	v.SetDefault("ingest.download", false)
	v.SetDefault("ingest.download_dir", DefaultDownloadDir)
	v.SetDefault("ingest.fetch_timeout_seconds", DefaultFetchTimeoutSeconds)
	v.SetDefault("ingest.allow_private_hosts", false)
	v.SetDefault("ingest.allow_local_sources", false)

	v.SetDefault("rules.path", "")
	v.SetDefault("rules.watch", false)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.path", DefaultDatabasePath)
}

// BindSensitiveEnvVars binds settings that deployments commonly inject
// under conventional names as well as the prefixed ones.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("server.port", "BRANDGUARD_SERVER_PORT", "PORT")
	v.BindEnv("database.path", "BRANDGUARD_DATABASE_PATH", "DB_PATH")
}

// AuditTimeout returns the per-run deadline, zero when unbounded
func (c *Config) AuditTimeout() time.Duration {
	return time.Duration(c.Audit.TimeoutSeconds) * time.Second
}

// FetchTimeout is the per-download deadline, zero when unlimited
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Ingest.FetchTimeoutSeconds) * time.Second
}

// TOML renders the effective configuration as an am.toml document
func (c *Config) TOML() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "", errors.Wrap(err, "encode config as TOML")
	}
	return buf.String(), nil
}
