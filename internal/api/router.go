package api

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/domo4/IoT23-s/internal/bridge"
	"github.com/domo4/IoT23-s/internal/journal"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.requireJournal)
			r.Get("/commands", s.handleListCommands)
			r.Get("/twin/history", s.handleTwinHistory)
		})
	})

	return r
}

// handleHealth returns the bridge health report together with the state
// of the journal and historian. A stopped or degraded bridge, or a failing
// component, answers 503 so load balancers and probes can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.bridge.Health()
	components, failed := s.runChecks(r.Context())

	if failed != "" && report.Status == bridge.HealthHealthy {
		report.Status = bridge.HealthDegraded
		report.Reason = failed + " unavailable"
	}

	status := http.StatusOK
	if report.Status == bridge.HealthStopped || report.Status == bridge.HealthDegraded {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, healthResponse{
		HealthReport: report,
		Components:   components,
		Version:      s.version,
	})
}

// healthResponse is the health report plus component state and the build
// version.
type healthResponse struct {
	bridge.HealthReport
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version"`
}

// runChecks runs every component check and returns "ok" or the error text
// per component, plus the first failing name in sorted order.
func (s *Server) runChecks(ctx context.Context) (map[string]string, string) {
	if len(s.checks) == 0 {
		return nil, ""
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	slices.Sort(names)

	results := make(map[string]string, len(names))
	failed := ""
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
		err := s.checks[name](checkCtx)
		cancel()

		if err == nil {
			results[name] = "ok"
			continue
		}
		results[name] = err.Error()
		if failed == "" {
			failed = name
		}
		s.logger.Warn("component health check failed", "component", name, "error", err)
	}
	return results, failed
}

// handleListCommands returns served direct methods, newest first.
//
// Query parameters:
//   - device: filter by device name
//   - method: filter by method name
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := journal.CommandFilter{
		Device: q.Get("device"),
		Method: q.Get("method"),
	}

	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	result, err := s.journal.ListCommands(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleTwinHistory returns reported-state snapshots for a device. The
// device defaults to the one the bridge is serving.
func (s *Server) handleTwinHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	device := q.Get("device")
	if device == "" {
		device = s.bridge.Device()
	}
	if device == "" {
		writeBadRequest(w, "device is required until a device is selected")
		return
	}

	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}

	entries, err := s.journal.History(r.Context(), device, limit)
	if err != nil {
		s.logger.Error("failed to load twin history", "device", device, "error", err)
		writeInternalError(w, "failed to load twin history")
		return
	}
	if entries == nil {
		entries = []journal.ReportedEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  device,
		"history": entries,
	})
}

// intParam parses an optional non-negative integer query parameter.
// On failure it writes a 400 response and returns false.
func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
