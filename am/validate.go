package am

import "github.com/teranos/brandguard/errors"

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxSessionsPerMinute < 0 {
		return errors.Newf("server.max_sessions_per_minute must be >= 0, got %d", c.Server.MaxSessionsPerMinute)
	}
	if c.Server.ReadLimitBytes <= 0 {
		return errors.Newf("server.read_limit_bytes must be > 0, got %d", c.Server.ReadLimitBytes)
	}
	if c.Audit.GraphName == "" {
		return errors.New("audit.graph_name cannot be empty")
	}
	if c.Audit.TimeoutSeconds < 0 {
		return errors.Newf("audit.timeout_seconds must be >= 0, got %d", c.Audit.TimeoutSeconds)
	}
	if c.Ingest.Download && c.Ingest.DownloadDir == "" {
		return errors.New("ingest.download_dir cannot be empty when ingest.download is enabled")
	}
	if c.Ingest.FetchTimeoutSeconds < 0 {
		return errors.Newf("ingest.fetch_timeout_seconds must be >= 0, got %d", c.Ingest.FetchTimeoutSeconds)
	}
	if c.Rules.Watch && c.Rules.Path == "" {
		return errors.New("rules.watch requires rules.path")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		return errors.New("database.path cannot be empty when database.enabled is set")
	}
	return nil
}
