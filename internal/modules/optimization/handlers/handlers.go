// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/optimization"
)

// Optimizer is the part of optimization.OptimizerService the handlers use.
type Optimizer interface {
	OptimizeSharpe(ctx context.Context, req optimization.SharpeRequest) (*optimization.Result, error)
	OptimizeReturn(ctx context.Context, req optimization.ReturnRequest) (*optimization.Result, error)
	Config() optimization.Config
}

// Handler handles optimization HTTP requests
type Handler struct {
	service Optimizer
	log     zerolog.Logger
}

// NewHandler creates a new optimization handler
func NewHandler(service Optimizer, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "optimization").Logger(),
	}
}

// SharpeRequestBody is the body of POST /api/optimization/sharpe
type SharpeRequestBody struct {
	Symbols        []string `json:"symbols"`
	StartYear      int      `json:"start_year"`
	EndYear        *int     `json:"end_year,omitempty"`
	RiskFreeReturn *float64 `json:"risk_free_return"`
	MaxWeight      *float64 `json:"max_weight,omitempty"`
	PositiveOnly   bool     `json:"positive_only,omitempty"`
}

// ReturnRequestBody is the body of POST /api/optimization/return
type ReturnRequestBody struct {
	Symbols      []string `json:"symbols"`
	StartYear    int      `json:"start_year"`
	EndYear      *int     `json:"end_year,omitempty"`
	MinReturn    *float64 `json:"min_return"`
	MaxWeight    *float64 `json:"max_weight,omitempty"`
	PositiveOnly bool     `json:"positive_only,omitempty"`
}

// HandleOptimizeSharpe handles POST /api/optimization/sharpe
func (h *Handler) HandleOptimizeSharpe(w http.ResponseWriter, r *http.Request) {
	var body SharpeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.RiskFreeReturn == nil {
		h.writeError(w, http.StatusBadRequest, "risk_free_return is required")
		return
	}

	result, err := h.service.OptimizeSharpe(r.Context(), optimization.SharpeRequest{
		Symbols:        body.Symbols,
		StartYear:      body.StartYear,
		EndYear:        body.EndYear,
		RiskFreeReturn: *body.RiskFreeReturn,
		MaxWeight:      body.MaxWeight,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeResult(w, result, body.PositiveOnly)
}

// HandleOptimizeReturn handles POST /api/optimization/return
func (h *Handler) HandleOptimizeReturn(w http.ResponseWriter, r *http.Request) {
	var body ReturnRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.MinReturn == nil {
		h.writeError(w, http.StatusBadRequest, "min_return is required")
		return
	}

	result, err := h.service.OptimizeReturn(r.Context(), optimization.ReturnRequest{
		Symbols:   body.Symbols,
		StartYear: body.StartYear,
		EndYear:   body.EndYear,
		MinReturn: *body.MinReturn,
		MaxWeight: body.MaxWeight,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeResult(w, result, body.PositiveOnly)
}

// HandleGetConfig handles GET /api/optimization/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.Config()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"max_weight":        cfg.MaxWeight,
			"return_penalty":    cfg.ReturnPenalty,
			"max_iterations":    cfg.MaxIterations,
			"iteration_scale":   cfg.IterationScale,
			"restarts":          cfg.Restarts,
			"tolerance":         cfg.FunctionTolerance,
			"timeout_seconds":   cfg.Timeout.Seconds(),
			"fetch_concurrency": cfg.FetchConcurrency,
			"min_price_points":  optimization.MinPricePoints,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeResult(w http.ResponseWriter, result *optimization.Result, positiveOnly bool) {
	if positiveOnly {
		result.Percentages = optimization.FilterPositive(result.Percentages)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeServiceError maps domain errors to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var (
		cfgErr       *domain.ConfigurationError
		insufficient *domain.InsufficientDataError
		unavailable  *domain.DataUnavailableError
		failed       *domain.OptimizationFailedError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.As(err, &insufficient):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		status = http.StatusBadGateway
	case errors.As(err, &failed):
		status = http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg("Optimization request failed")
	} else {
		h.log.Warn().Err(err).Int("status", status).Msg("Optimization request rejected")
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
