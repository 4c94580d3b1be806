package server

import "time"

const (
	// ShutdownTimeout bounds how long Stop waits for sessions to close
	ShutdownTimeout = 30 * time.Second

	// Socket buffer sizes for the audit upgrader
	readBufferSize  = 1024
	writeBufferSize = 4096
)

// ServerState represents the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Accepting sessions
	ServerStateDraining                    // Shutdown in progress, new sessions refused
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// HealthResponse is served at /health
type HealthResponse struct {
	Status         string        `json:"status"`
	Version        string        `json:"version"`
	Commit         string        `json:"commit"`
	ServerState    string        `json:"server_state"`
	ActiveSessions int           `json:"active_sessions"`
	UptimeSeconds  int64         `json:"uptime_seconds"`
	Rules          int           `json:"rules"`
	Ledger         bool          `json:"ledger"`
	Memory         *MemoryStatus `json:"memory,omitempty"`
}

// MemoryStatus is the host memory snapshot reported by /health
type MemoryStatus struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
}
