// Package control is the Control Surface spec.md §4.6 describes: a
// minimal HTTP boundary over the Scheduler, routed with
// github.com/go-chi/chi/v5 in place of the teacher's http.ServeMux, and
// answering in the same writeJSON-style plain-JSON shape as the
// teacher's server/router.go. Admin gating is left to an external
// collaborator; the slot for it is the middleware chain Router accepts
// but never populates itself.
package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tourneyrating/server/domain"
	"tourneyrating/server/scheduler"
	"tourneyrating/server/telemetry/log"
	"tourneyrating/server/telemetry/metrics"
)

// Now is swappable in tests that need a deterministic health check.
var Now = func() time.Time { return time.Now().UTC() }

const timeLayout = time.RFC3339

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Router builds the chi router exposing /v1/recompute, /v1/status,
// /v1/health and /metrics. admin is an optional middleware chain the
// caller can insert in front of the manual-trigger route; nil leaves it
// unauthenticated, matching spec.md's "enforced by an external
// collaborator."
func Router(sched *scheduler.Scheduler, admin []func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Route("/v1", func(r chi.Router) {
		trigger := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			handleTrigger(w, req, sched)
		})
		var h http.Handler = trigger
		for i := len(admin) - 1; i >= 0; i-- {
			h = admin[i](h)
		}
		r.Method(http.MethodPost, "/recompute", h)

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			handleStatus(w, req, sched)
		})
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			handleHealth(w, req, sched)
		})
	})

	r.Handle("/metrics", metrics.Handler())
	return r
}

type triggerRequest struct {
	Period string `json:"period"`
}

type triggerResponse struct {
	Status string `json:"status"`
	Period string `json:"period,omitempty"`
}

func handleTrigger(w http.ResponseWriter, req *http.Request, sched *scheduler.Scheduler) {
	var body triggerRequest
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body)
	}

	var period *domain.Month
	if body.Period != "" {
		p, err := domain.ParseMonth(body.Period)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		period = &p
	}

	err := sched.TriggerAsync(period)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		resp := triggerResponse{Status: "already_running"}
		if period != nil {
			resp.Period = period.String()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "manual trigger failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := triggerResponse{Status: "triggered"}
	if period != nil {
		resp.Period = period.String()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type statusResponse struct {
	IsRunning        bool    `json:"is_running"`
	LastRun          *string `json:"last_run"`
	NextScheduledRun string  `json:"next_scheduled_run"`
}

func handleStatus(w http.ResponseWriter, _ *http.Request, sched *scheduler.Scheduler) {
	st := sched.Status()
	resp := statusResponse{
		IsRunning:        st.Running,
		NextScheduledRun: sched.NextScheduledRun().Format(timeLayout),
	}
	if !st.LastRun.IsZero() {
		s := st.LastRun.Format(timeLayout)
		resp.LastRun = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request, sched *scheduler.Scheduler) {
	st := sched.Status()
	if st.Healthy(sched.CheckInterval(), Now()) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Message: "scheduler tick loop is current"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, healthResponse{
		Status:  "degraded",
		Message: "scheduler has not ticked within 2x the check interval",
	})
}
