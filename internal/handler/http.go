package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qrmaster/internal/domain"
	"github.com/qrmaster/internal/game"
	"github.com/qrmaster/internal/postgres"
	"github.com/qrmaster/internal/websocket"
)

// ScanHistory serves archived scan events.
type ScanHistory interface {
	ListScans(ctx context.Context, team domain.Team, limit int) ([]postgres.ScanEvent, error)
	TeamTotals(ctx context.Context) (map[domain.Team]int, error)
}

// Handler provides HTTP handlers for the game API
type Handler struct {
	manager *game.Manager
	history ScanHistory
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. history may be nil when the scan
// archive is not configured.
func NewHandler(manager *game.Manager, history ScanHistory, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		history: history,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/players", h.RegisterPlayer)
		r.Delete("/players", h.LeaveMatch)

		r.Post("/scans", h.RecordScan)
		r.Get("/scans", h.ListScans)

		r.Get("/state", h.GetState)
		r.Get("/totals", h.GetTeamTotals)
		r.Post("/reset", h.Reset)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports readiness. The node is ready once the game state has
// been initialized from either the local cache or a remote snapshot.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Synced() {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("game state not yet synced"))
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// RegisterPlayerRequest is the register payload
type RegisterPlayerRequest struct {
	Name string `json:"name"`
	Team string `json:"team"`
}

// RegisterPlayer handles player registration
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req RegisterPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.manager.RegisterPlayer(r.Context(), req.Name, req.Team)
	if err != nil {
		if domain.IsValidationError(err) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Error("failed to register player", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    player,
	})
}

// LeaveMatch removes the registered player from the match
func (h *Handler) LeaveMatch(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.LeaveMatch(r.Context()); err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			h.writeError(w, http.StatusConflict, err)
			return
		}
		h.logger.Error("failed to leave match", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "left"})
}

// RecordScanRequest carries a raw scanned payload
type RecordScanRequest struct {
	Payload string `json:"payload"`
}

// RecordScan handles a scanned QR payload
func (h *Handler) RecordScan(w http.ResponseWriter, r *http.Request) {
	var req RecordScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.manager.RecordScan(r.Context(), req.Payload)
	if err != nil {
		switch {
		case domain.IsValidationError(err):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, domain.ErrDuplicateScan), errors.Is(err, domain.ErrNotRegistered):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.logger.Error("failed to record scan", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    result,
	})
}

// ListScans returns archived scans for a team
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotFound, errors.New("scan archive not configured"))
		return
	}

	team, err := domain.ParseTeam(r.URL.Query().Get("team"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	events, err := h.history.ListScans(r.Context(), team, limit)
	if err != nil {
		h.logger.Error("failed to list scans", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, events)
}

// GameStateResponse is the snapshot plus derived totals
type GameStateResponse struct {
	domain.Snapshot
	TotalScore int `json:"totalScore"`
}

// GetState returns the current reconciled game state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, GameStateResponse{
		Snapshot:   h.manager.State(),
		TotalScore: h.manager.TotalScore(),
	})
}

// GetTeamTotals returns archived per-team point sums
func (h *Handler) GetTeamTotals(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotFound, errors.New("scan archive not configured"))
		return
	}

	totals, err := h.history.TeamTotals(r.Context())
	if err != nil {
		h.logger.Error("failed to get team totals", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, totals)
}

// Reset clears local state and writes the remote reset marker
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.manager.ClearAll(r.Context())
	h.writeSuccess(w, map[string]string{"status": "reset"})
}
