// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/agents"
	"github.com/marketwatch-trading/backend/internal/app"
	"github.com/marketwatch-trading/backend/internal/risk"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig listens on localhost:8080.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Server is the HTTP/WebSocket front end over the app's coordinator.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	app        *app.App
}

// NewServer creates the API server and hooks the activity feed and
// universe transitions into the websocket layer.
func NewServer(logger *zap.Logger, config ServerConfig, application *app.App) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		config:  config,
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		app:     application,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	application.Coordinator().SetBroadcaster(s.broadcastLogEntry)
	application.OnTransition(func(tr *universe.Transition) {
		s.closeAllClients()
		application.Coordinator().SetBroadcaster(s.broadcastLogEntry)
	})
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/trade", s.handleTrade).Methods("POST")
	s.router.HandleFunc("/api/config", s.handleGetConfig).Methods("GET")
	s.router.HandleFunc("/api/config", s.handlePutConfig).Methods("PUT")
	s.router.HandleFunc("/api/analytics/equity", s.handleEquity).Methods("GET")
	s.router.HandleFunc("/api/analytics/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/api/events/recent", s.handleRecentEvents).Methods("GET")
	s.router.HandleFunc("/api/logs", s.handleLogs).Methods("GET")
	s.router.HandleFunc("/api/circuit-breaker/reset", s.handleBreakerReset).Methods("POST")
	s.router.HandleFunc("/api/universe", s.handleUniverse).Methods("POST")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop closes websocket clients and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.closeAllClients()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	coord := s.app.Coordinator()
	market := coord.MarketSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"bot":            coord.Status(r.Context()),
		"account":        market.Account,
		"positions":      market.Positions,
		"top_gainers":    market.TopGainers,
		"market_indices": market.Indices,
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

type tradeRequest struct {
	Symbol string  `json:"symbol"`
	Action string  `json:"action"`
	Amount float64 `json:"amount,omitempty"`
	Qty    float64 `json:"qty,omitempty"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	action := types.SignalAction(req.Action)
	if action != types.ActionBuy && action != types.ActionSell {
		writeError(w, http.StatusBadRequest, "action must be buy or sell")
		return
	}
	if action == types.ActionBuy && req.Amount <= 0 && req.Qty <= 0 {
		writeError(w, http.StatusBadRequest, "buy requires a positive amount or qty")
		return
	}

	if err := s.app.Coordinator().ManualTrade(r.Context(), req.Symbol, action, req.Amount, req.Qty); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submitted": true,
		"symbol":    req.Symbol,
		"action":    req.Action,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Coordinator().Config())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	coord := s.app.Coordinator()
	cfg := coord.Config()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body")
		return
	}
	if cfg.SectorMapJSON != "" {
		if err := risk.ValidateSectorJSON(cfg.SectorMapJSON); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := coord.UpdateConfig(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	records, err := s.app.Coordinator().Store().LoadEquity(period)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period": period,
		"points": records,
		"count":  len(records),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.app.Coordinator().Store().LoadTrades(period, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period": period,
		"trades": records,
		"count":  len(records),
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	events := s.app.Coordinator().RecentEvents(n)

	out := make([]map[string]any, 0, len(events))
	for _, evt := range events {
		base := evt.Base()
		out = append(out, map[string]any{
			"type":       string(evt.Type()),
			"universe":   base.Universe.String(),
			"session_id": base.SessionID,
			"source":     base.Source,
			"timestamp":  base.Timestamp.Format(time.RFC3339),
			"event":      evt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "count": len(out)})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	logs := s.app.Coordinator().RecentLogs(n)
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	s.app.Coordinator().ResetCircuitBreaker()
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

type universeRequest struct {
	Universe string `json:"universe"`
	Reason   string `json:"reason"`
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	var req universeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := universe.FromString(req.Universe)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	audit, err := s.app.Transition(target, req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transition": audit,
		"session_id": s.app.Coordinator().Context().SessionID(),
	})
}

// broadcastLogEntry pushes one activity feed entry to every client.
func (s *Server) broadcastLogEntry(entry agents.LogEntry) {
	payload, err := json.Marshal(map[string]any{
		"event": "log",
		"entry": entry,
	})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- payload:
		default:
			// Client buffer full, skip.
		}
	}
}
