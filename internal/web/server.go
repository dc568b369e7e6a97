package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/scheduler"
	"github.com/aeither/AptosDeFiHub/internal/state"
	"github.com/aeither/AptosDeFiHub/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// Triggerer starts a rebalance cycle in the background. Satisfied by
// *scheduler.Controller.
type Triggerer interface {
	Trigger(mode scheduler.Mode, req scheduler.TriggerRequest) (cycleID string, accepted bool)
}

// WebServer exposes the operations API: run history, manual triggers and
// the scheduler on/off switch.
type WebServer struct {
	router    *mux.Router
	port      string
	triggerer Triggerer
	srv       *http.Server
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, triggerer Triggerer) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		port:      port,
		triggerer: triggerer,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/runs", ws.handleGetRuns).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/rebalance", ws.handleTriggerRebalance).Methods("POST")
	api.HandleFunc("/scheduler", ws.handleGetScheduler).Methods("GET")
	api.HandleFunc("/scheduler", ws.handleSetScheduler).Methods("PUT")
	api.HandleFunc("/addresses/{userId}", ws.handleGetAddresses).Methods("GET")
	api.HandleFunc("/addresses/{userId}", ws.handleAddAddress).Methods("POST")
	api.HandleFunc("/addresses/{userId}/{address}", ws.handleRemoveAddress).Methods("DELETE")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server and blocks until it stops.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.srv = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return ws.srv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.srv == nil {
		return nil
	}
	return ws.srv.Shutdown(ctx)
}

// handleHealth returns server and database health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	status := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		status = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	currentCycle := 0
	if dbHealthy {
		if n, err := state.GetCurrentCycleNumber(); err == nil {
			currentCycle = n
		}
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"component": map[string]interface{}{
			"name": "clmm-rebalancer",
		},
		"database_healthy": dbHealthy,
		"current_cycle":    currentCycle,
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetRuns returns recent rebalance run outcomes, newest first
func (ws *WebServer) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	runs, err := state.GetRecentRuns(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent runs")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}

	response := map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
		"limit": limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycles returns recent batch cycle summaries, newest first
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	cycles, err := state.GetRecentCycles(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// triggerRequest is the POST /api/rebalance body.
type triggerRequest struct {
	Mode         string   `json:"mode"` // "specific-pool" (default) or "force-all"
	PoolID       string   `json:"pool_id"`
	RangePercent *float64 `json:"range_percent,omitempty"`
	Notify       bool     `json:"notify"`
}

// handleTriggerRebalance starts a manual cycle in the background and returns
// 202 with the cycle id. Duplicate triggers while one is in flight get 409.
func (ws *WebServer) handleTriggerRebalance(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mode := scheduler.ModeSpecificPool
	switch req.Mode {
	case "", string(scheduler.ModeSpecificPool):
		if req.PoolID == "" {
			ws.writeErrorResponse(w, http.StatusBadRequest, "pool_id is required for specific-pool mode")
			return
		}
	case string(scheduler.ModeForceAll):
		mode = scheduler.ModeForceAll
	default:
		ws.writeErrorResponse(w, http.StatusBadRequest, "Unknown mode: "+req.Mode)
		return
	}

	cycleID, accepted := ws.triggerer.Trigger(mode, scheduler.TriggerRequest{
		PoolID:               types.PoolID(req.PoolID),
		RangePercentOverride: req.RangePercent,
		Notify:               req.Notify,
	})
	if !accepted {
		ws.writeErrorResponse(w, http.StatusConflict, "A cycle for this pool is already in flight")
		return
	}

	ws.writeJSONResponse(w, http.StatusAccepted, map[string]interface{}{
		"cycle_id": cycleID,
		"mode":     string(mode),
		"pool_id":  req.PoolID,
	})
}

// handleGetScheduler returns the persisted scheduler flag
func (ws *WebServer) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	enabled, updatedAt, err := state.GetSchedulerEnabled()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get scheduler state")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve scheduler state")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"enabled":    enabled,
		"updated_at": updatedAt.UTC(),
	})
}

// handleSetScheduler persists the scheduler flag
func (ws *WebServer) handleSetScheduler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := state.SetSchedulerEnabled(body.Enabled); err != nil {
		webLogger.Error().Err(err).Msg("Failed to set scheduler state")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to update scheduler state")
		return
	}

	webLogger.Info().Bool("enabled", body.Enabled).Msg("Scheduler flag updated")
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"enabled": body.Enabled,
	})
}

// handleGetAddresses returns the tracked chain addresses for one user
func (ws *WebServer) handleGetAddresses(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	addresses, err := state.GetTrackedAddresses(userID)
	if err != nil {
		webLogger.Error().Err(err).Str("userId", userID).Msg("Failed to get tracked addresses")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve addresses")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"addresses": addresses,
	})
}

// handleAddAddress records a tracked address for a user
func (ws *WebServer) handleAddAddress(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := state.AddTrackedAddress(userID, body.Address); err != nil {
		webLogger.Error().Err(err).Str("userId", userID).Msg("Failed to add tracked address")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to add address")
		return
	}

	ws.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"user_id": userID,
		"address": body.Address,
	})
}

// handleRemoveAddress deletes a tracked address for a user
func (ws *WebServer) handleRemoveAddress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := state.RemoveTrackedAddress(vars["userId"], vars["address"]); err != nil {
		webLogger.Error().Err(err).Msg("Failed to remove tracked address")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to remove address")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
