/*

This file contains the read-only dashboard API: live health metrics from the
vault, plus snapshot and receipt history from the database. Nothing here can
mutate the vault.

*/

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/state"
	"github.com/parallax-fi/dnvm/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for vault data visualization
type WebServer struct {
	router    *mux.Router
	addr      string
	vault     *vault.Vault
	vaultName string
}

// NewWebServer creates a new web server instance serving the given vault.
func NewWebServer(addr, vaultName string, v *vault.Vault) *WebServer {
	if addr == "" {
		addr = ":8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		addr:      addr,
		vault:     v,
		vaultName: vaultName,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/status", ws.handleStatus).Methods("GET")
	api.HandleFunc("/params", ws.handleParams).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleSnapshots).Methods("GET")
	api.HandleFunc("/receipts", ws.handleReceipts).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("addr", ws.addr).Msg("Starting web server")

	server := &http.Server{
		Addr:         ws.addr,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns the vault's live health metrics, computed fresh from
// the oracle on every request.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	equity, err := ws.vault.EquityValue()
	if err != nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "oracle read failed: "+err.Error())
		return
	}
	debt, err := ws.vault.DebtValue()
	if err != nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "oracle read failed: "+err.Error())
		return
	}
	debtRatio, err := ws.vault.DebtRatio()
	if err != nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "oracle read failed: "+err.Error())
		return
	}
	shareValue, err := ws.vault.SvTokenValue()
	if err != nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "oracle read failed: "+err.Error())
		return
	}

	response := map[string]interface{}{
		"vault":       ws.vaultName,
		"equity":      equity.String(),
		"debt_value":  debt.String(),
		"debt_ratio":  debtRatio.String(),
		"share_value": shareValue.String(),
		"timestamp":   time.Now().UTC(),
	}

	// Delta is undefined at zero equity; omit rather than fail the page.
	if delta, err := ws.vault.Delta(); err == nil {
		response["delta"] = delta.String()
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleStatus reports the state machine and any in-flight action.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"vault":        ws.vaultName,
		"status":       ws.vault.Status().String(),
		"share_supply": ws.vault.ShareSupply().String(),
	}
	if kind := ws.vault.PendingKind(); kind != "" {
		response["pending_action"] = string(kind)
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleParams returns the active risk parameters.
func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.vault.Params())
}

// handleSnapshots returns recorded health history, newest first.
func (ws *WebServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	snaps, err := state.GetHealthSnapshotHistory(ws.vaultName, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"vault":     ws.vaultName,
		"snapshots": snaps,
	})
}

// handleReceipts returns the action audit trail, newest first.
func (ws *WebServer) handleReceipts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	receipts, err := state.GetActionReceipts(ws.vaultName, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"vault":    ws.vaultName,
		"receipts": receipts,
	})
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return def
	}
	return limit
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request at debug level
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	ws.writeJSONResponse(w, statusCode, map[string]string{"error": message})
}
