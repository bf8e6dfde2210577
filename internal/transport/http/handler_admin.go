package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"guest-gc/internal/guest"
	"guest-gc/internal/guestgc"
	"guest-gc/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Collector is the part of guestgc.Coordinator the admin API drives.
type Collector interface {
	TriggerPartitionCleanup(partition guest.PartitionID) error
	TriggerEntityCleanup(partition guest.PartitionID, ids ...guest.EntityID) error
	SweepNow(ctx context.Context) (guest.SweepStats, error)
	Sweeping() bool
}

type SweepHistory interface {
	LatestSweep(ctx context.Context, job string) (store.SweepRun, error)
}

func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}

type AdminHandlers struct {
	collector Collector
	history   SweepHistory
	sweepCtx  context.Context
}

func NewAdminHandlers(c Collector, h SweepHistory, sweepCtx context.Context) *AdminHandlers {
	return &AdminHandlers{collector: c, history: h, sweepCtx: sweepCtx}
}

func (h *AdminHandlers) PartitionCleanup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partition, ok := partitionParam(w, r)
		if !ok {
			return
		}
		metricAdminTriggersTotal.Add(1)
		if err := h.collector.TriggerPartitionCleanup(partition); err != nil {
			writeTriggerError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "partition_id": partition})
	}
}

func (h *AdminHandlers) GuestCleanup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partition, ok := partitionParam(w, r)
		if !ok {
			return
		}
		var body struct {
			GuestIDs []int `json:"guest_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if len(body.GuestIDs) == 0 {
			WriteHTTPError(w, http.StatusBadRequest, "guest_ids_required")
			return
		}
		ids := make([]guest.EntityID, len(body.GuestIDs))
		for i, id := range body.GuestIDs {
			ids[i] = guest.EntityID(id)
		}
		metricAdminTriggersTotal.Add(1)
		if err := h.collector.TriggerEntityCleanup(partition, ids...); err != nil {
			writeTriggerError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "partition_id": partition, "queued": len(ids)})
	}
}

// Sweep starts a full sweep in the background.
func (h *AdminHandlers) Sweep() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if h.collector.Sweeping() {
			WriteHTTPError(w, http.StatusConflict, "sweep_running")
			return
		}
		metricAdminSweepsStarted.Add(1)
		go func() {
			started := time.Now()
			stats, err := h.collector.SweepNow(h.sweepCtx)
			if err != nil {
				log.Warn().Err(err).Msg("admin sweep did not run")
				return
			}
			log.Info().
				Int("schemas", stats.Schemas).
				Int("guests", stats.Guests).
				Int("failures", stats.Failures).
				Dur("elapsed", time.Since(started)).
				Msg("admin sweep finished")
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	}
}

func (h *AdminHandlers) LatestSweep() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.history == nil {
			WriteHTTPError(w, http.StatusNotFound, "not_found")
			return
		}
		run, err := h.history.LatestSweep(r.Context(), guestgc.SweepJob)
		if errors.Is(err, guest.ErrNotFound) {
			WriteHTTPError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("load latest sweep failed")
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job":         run.Job,
			"slot":        run.Slot,
			"owner":       run.Owner,
			"started_at":  run.StartedAt,
			"finished_at": run.FinishedAt,
			"schemas":     run.Stats.Schemas,
			"guests":      run.Stats.Guests,
			"failures":    run.Stats.Failures,
		})
	}
}

func partitionParam(w http.ResponseWriter, r *http.Request) (guest.PartitionID, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "partition_id"))
	if err != nil || n <= 0 {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_partition_id")
		return 0, false
	}
	return guest.PartitionID(n), true
}

func writeTriggerError(w http.ResponseWriter, err error) {
	metricAdminTriggerErrors.Add(1)
	switch {
	case errors.Is(err, guestgc.ErrInvalidPartition):
		WriteHTTPError(w, http.StatusBadRequest, "invalid_partition_id")
	case errors.Is(err, guestgc.ErrInvalidGuest):
		WriteHTTPError(w, http.StatusBadRequest, "invalid_guest_id")
	case errors.Is(err, guestgc.ErrStopped):
		WriteHTTPError(w, http.StatusServiceUnavailable, "stopped")
	default:
		log.Error().Err(err).Msg("cleanup trigger failed")
		WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
	}
}
