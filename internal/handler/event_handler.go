package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"soc-monitor/internal/service"
	"soc-monitor/internal/util"
)

// EventHandler handles HTTP requests for event evaluation and alerting
type EventHandler struct {
	riskService  *service.RiskService
	alertService *service.AlertService
	statsService *service.StatsService
	logger       *zap.Logger
}

func NewEventHandler(
	riskService *service.RiskService,
	alertService *service.AlertService,
	statsService *service.StatsService,
	logger *zap.Logger,
) *EventHandler {
	return &EventHandler{
		riskService:  riskService,
		alertService: alertService,
		statsService: statsService,
		logger:       logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all event and alert routes
func (h *EventHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events", func(r chi.Router) {
		r.Post("/", h.IngestEvent)
		r.Post("/process", h.ProcessEvent)
	})

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.ListAlerts)
		r.Get("/search", h.SearchAlerts)
		r.Patch("/{alertID}/close", h.CloseAlert)
	})

	router.Get("/stats", h.GetStats)
}

// IngestEvent stores a new, unscored security event
func (h *EventHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	event, err := h.riskService.IngestEvent(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to ingest event")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(event, "Event recorded"))
	h.logger.Info("Event ingested via HTTP",
		util.String("event_id", event.EventID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "IngestEvent"),
	)
}

type processEventRequest struct {
	EventID string `json:"event_id"`
}

// ProcessEvent runs the evaluation engine for a stored event id
func (h *EventHandler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req processEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.EventID == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("event_id is required"), "Missing event id")
		return
	}

	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Malformed event id")
		return
	}

	result, err := h.riskService.Evaluate(ctx, eventID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to evaluate event")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Event evaluated"))
	h.logger.Info("Event evaluated via HTTP",
		util.String("event_id", eventID.String()),
		util.Int("risk_score", result.RiskScore),
		util.String("risk_level", result.RiskLevel),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ProcessEvent"),
	)
}

// ListAlerts returns recent alerts, newest first
func (h *EventHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondWithError(w, http.StatusBadRequest,
				errors.New("limit must be a positive integer"), "Invalid limit")
			return
		}
		limit = parsed
	}

	alerts, err := h.alertService.ListAlerts(ctx, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list alerts")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(alerts, "Alerts retrieved"))
}

// SearchAlerts queries the alert search index
func (h *EventHandler) SearchAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	if query == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("q is required"), "Missing search query")
		return
	}

	hits, err := h.alertService.SearchAlerts(ctx, query, 50)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Alert search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(hits, "Search results"))
}

// CloseAlert transitions an alert to Closed
func (h *EventHandler) CloseAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alertID, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Malformed alert id")
		return
	}

	if err := h.alertService.CloseAlert(ctx, alertID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to close alert")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Alert closed"))
	h.logger.Info("Alert closed via HTTP",
		util.String("alert_id", alertID.String()),
		util.String("method", "CloseAlert"),
	)
}

// GetStats returns dashboard aggregates
func (h *EventHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.statsService.GetDashboardStats(ctx)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute stats")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(stats, "Stats computed"))
}

func (h *EventHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrEventNotFound), errors.Is(err, service.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlertAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *EventHandler) respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *EventHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.logger.Warn("Request failed",
		util.Int("status", status),
		util.String("message", message),
		util.ErrorField(err),
	)
	h.respondWithJSON(w, status, errorResponse(err, message))
}
