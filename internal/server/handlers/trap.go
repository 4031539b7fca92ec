package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/defense"
	"github.com/krewdev/bluetrap/internal/maze"
	"github.com/krewdev/bluetrap/internal/server/middleware"
)

// TrapHandlers serves the maze and the trap statistics.
type TrapHandlers struct {
	Guard *defense.Guard

	// SpeedTrapThreshold is echoed in the stats limits block.
	SpeedTrapThreshold time.Duration

	// TarpitDelay is how long an admitted maze request is held before the page is written.
	TarpitDelay time.Duration

	Logger *logging.Logger
	Now    func() time.Time
}

func (h *TrapHandlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Stats handles GET /stats/trapped.
func (h *TrapHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Guard.Snapshot(r.Context(), h.now(), h.SpeedTrapThreshold))
}

// Maze handles GET /maze/{level}.
func (h *TrapHandlers) Maze(w http.ResponseWriter, r *http.Request) {
	level := parseLevel(chi.URLParam(r, "level"))
	clientID := middleware.GetClientID(r)

	decision := h.Guard.Admit(r.Context(), clientID, level, h.now())

	switch decision.Outcome {
	case defense.OutcomeRateLimited:
		body, err := maze.RenderRateLimited()
		w.Header().Set("Retry-After", "1")
		h.writeHTML(w, r, http.StatusTooManyRequests, body, err)
		return
	case defense.OutcomeDepthExceeded:
		limits := h.Guard.Limits()
		body, err := maze.RenderDepthExceeded(limits.MaxLevels, decision.MaxLevel, decision.Visits)
		h.writeHTML(w, r, http.StatusTooManyRequests, body, err)
		return
	}

	if !h.tarpit(r) {
		return
	}

	body, err := maze.Render(level, maze.NewRand())
	h.writeHTML(w, r, http.StatusOK, body, err)
}

// tarpit holds the request for TarpitDelay. It reports false when the client went away.
func (h *TrapHandlers) tarpit(r *http.Request) bool {
	if h.TarpitDelay <= 0 {
		return true
	}

	timer := time.NewTimer(h.TarpitDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		if h.Logger != nil {
			h.Logger.Debug("Client abandoned tarpit",
				zap.String("client", middleware.GetClientID(r)),
				zap.String("requestID", middleware.GetRequestID(r.Context())))
		}
		return false
	}
}

func (h *TrapHandlers) writeHTML(w http.ResponseWriter, r *http.Request, status int, body []byte, err error) {
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("Failed to render maze page", zap.Error(err),
				zap.String("requestID", middleware.GetRequestID(r.Context())))
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// parseLevel turns the path segment into a level. Anything unusable is
// level 1; huge values stop at maze.MaxLevel.
func parseLevel(raw string) int {
	level, err := strconv.Atoi(raw)
	if errors.Is(err, strconv.ErrRange) && level > 0 {
		return maze.MaxLevel
	}
	if err != nil {
		return 1
	}
	return maze.ClampLevel(level)
}
