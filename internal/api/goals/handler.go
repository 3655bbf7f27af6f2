// Package goals provides the HTTP handler for goal progress.
package goals

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/engine"
	"github.com/vigilant-otter/pulsefeed/internal/goal"
)

type apiResponse struct {
	Data any `json:"data,omitempty"`
}

// Handler handles goal endpoints.
type Handler struct {
	pipeline *engine.Engine
	logger   *zap.Logger
}

// NewHandler creates a new goals handler.
func NewHandler(pipeline *engine.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, logger: logger}
}

// ProgressResponse wraps today's goal progress.
type ProgressResponse struct {
	Goals []goal.Progress `json:"goals"`
}

// Progress handles GET /api/v1/goals.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Data: &ProgressResponse{
		Goals: h.pipeline.GoalProgress(),
	}})
}
