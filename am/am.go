// Package am resolves brandguard's configuration once at process start:
// .env files, then defaults, TOML files and BRANDGUARD_* environment variables.
package am

// Config is the effective brandguard configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Audit    AuditConfig    `mapstructure:"audit" toml:"audit"`
	Ingest   IngestConfig   `mapstructure:"ingest" toml:"ingest"`
	Rules    RulesConfig    `mapstructure:"rules" toml:"rules"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
}

// ServerConfig configures the HTTP/WebSocket listener
type ServerConfig struct {
	Port                 int      `mapstructure:"port" toml:"port"`
	AllowedOrigins       []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
	MaxSessionsPerMinute int      `mapstructure:"max_sessions_per_minute" toml:"max_sessions_per_minute"` // 0 = unlimited
	ReadLimitBytes       int64    `mapstructure:"read_limit_bytes" toml:"read_limit_bytes"`
}

// AuditConfig configures each audit run
type AuditConfig struct {
	GraphName       string   `mapstructure:"graph_name" toml:"graph_name"`
	MilestoneStages []string `mapstructure:"milestone_stages" toml:"milestone_stages"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds" toml:"timeout_seconds"` // 0 = no deadline
}

// IngestConfig controls media download by the indexer stage
type IngestConfig struct {
	Download            bool   `mapstructure:"download" toml:"download"`
	DownloadDir         string `mapstructure:"download_dir" toml:"download_dir"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds" toml:"fetch_timeout_seconds"`
	AllowPrivateHosts   bool   `mapstructure:"allow_private_hosts" toml:"allow_private_hosts"` // lets downloads reach loopback and LAN addresses
	AllowLocalSources   bool   `mapstructure:"allow_local_sources" toml:"allow_local_sources"` // accepts server filesystem paths as video_url
}

// RulesConfig selects the compliance rule set
type RulesConfig struct {
	Path  string `mapstructure:"path" toml:"path"` // empty = embedded defaults
	Watch bool   `mapstructure:"watch" toml:"watch"`
}

// DatabaseConfig configures the optional run ledger
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Path    string `mapstructure:"path" toml:"path"`
}

// Defaults
const (
	DefaultServerPort           = 8000
	DefaultGraphName            = "audit_graph"
	DefaultMaxSessionsPerMinute = 60
	DefaultReadLimitBytes       = 64 * 1024
	DefaultDatabasePath         = "brandguard.db"
	DefaultDownloadDir          = "tmp/downloads"
	DefaultFetchTimeoutSeconds  = 300

	// EnvPrefix prefixes every environment override
	EnvPrefix = "BRANDGUARD"
)
