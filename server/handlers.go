package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/brandguard/logger"
	"github.com/teranos/brandguard/version"
)

// HandleAudit upgrades the request and runs one audit session on it
func (s *AuditServer) HandleAudit(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warnw("Audit session refused, admission limit reached",
			logger.FieldRemote, r.RemoteAddr,
			"limit_per_minute", s.cfg.Server.MaxSessionsPerMinute,
		)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many audit sessions, retry later")
		return
	}

	sess := s.newSession()
	if !s.admit(sess) {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	defer s.release(sess)

	accept := func() (Channel, error) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		return NewWSChannel(conn, s.cfg.Server.ReadLimitBytes), nil
	}

	s.logger.Debugw("Audit connection", logger.FieldRemote, r.RemoteAddr)
	if err := sess.Run(s.ctx, accept); err != nil {
		s.logger.Debugw("Audit session ended with fault",
			logger.FieldSessionID, sess.ID(),
			logger.FieldState, sess.Outcome().String(),
			logger.FieldError, err,
		)
	}
}

// HandleHealth reports liveness, version, load and host memory
func (s *AuditServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	state := s.getState()

	health := HealthResponse{
		Status:         "ok",
		Version:        info.Version,
		Commit:         info.Short(),
		ServerState:    state.String(),
		ActiveSessions: s.ActiveSessions(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Ledger:         s.ledger != nil,
	}
	if state != ServerStateRunning {
		health.Status = "draining"
	}
	if s.rules != nil {
		health.Rules = s.rules.Load().Len()
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		health.Memory = &MemoryStatus{TotalBytes: vm.Total, UsedPercent: vm.UsedPercent}
	} else {
		s.logger.Debugw("Host memory unavailable", logger.FieldError, err)
	}

	writeJSON(w, http.StatusOK, health)
}

// HandleListAudits lists recent sessions from the ledger.
// Query parameters:
//   - limit: page size, default 50, capped at 500
func (s *AuditServer) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.ledger.List(r.Context(), limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list audits")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleGetAudit returns one ledger entry
func (s *AuditServer) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger is disabled")
		return
	}
	entry, err := s.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get audit")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

