package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/user/filmbot/internal/updater"
	"github.com/user/filmbot/pkg/logger"
)

type loopStatus interface {
	State() updater.State
	LastReport() (updater.CycleReport, bool)
}

type subscriptionCounter interface {
	CountSubscriptions(ctx context.Context) (int, error)
}

type budget interface {
	Allowance() float64
}

type statusResponse struct {
	Uptime        string               `json:"uptime"`
	AutoUpdate    string               `json:"auto_update"`
	LastCycle     *updater.CycleReport `json:"last_cycle,omitempty"`
	Subscriptions int                  `json:"subscriptions"`
	RateAllowance float64              `json:"rate_allowance"`
}

// newRouter builds the health and status endpoints. loop is nil when
// auto-update is disabled.
func newRouter(loop loopStatus, subs subscriptionCounter, limiter budget, started time.Time) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Uptime:        time.Since(started).Round(time.Second).String(),
			AutoUpdate:    "disabled",
			RateAllowance: limiter.Allowance(),
		}
		if loop != nil {
			resp.AutoUpdate = loop.State().String()
			if report, ok := loop.LastReport(); ok {
				resp.LastCycle = &report
			}
		}

		count, err := subs.CountSubscriptions(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to count subscriptions")
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		resp.Subscriptions = count

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error().Err(err).Msg("Failed to encode status")
		}
	})

	return r
}
