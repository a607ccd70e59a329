package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bryanchriswhite/envbridge/internal/config"
	"github.com/bryanchriswhite/envbridge/internal/envstate"
	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

const snapshotTimeout = 2 * time.Second

// StateEngine is the engine surface the API exposes
type StateEngine interface {
	Keys() []string
	Enabled() bool
	Snapshot(ctx context.Context, keys []string) (*envstate.Snapshot, error)
	Publish(keys []string) error
	Subscribe() chan []byte
	Unsubscribe(ch chan []byte)
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	engine     StateEngine
	configMgr  *config.Manager
	backend    string
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new API server. configMgr may be nil.
func NewServer(engine StateEngine, configMgr *config.Manager, backend string) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		engine:    engine,
		configMgr: configMgr,
		backend:   backend,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local tooling only
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Environment state
	api.HandleFunc("/attributes", s.handleGetAttributes).Methods("GET")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/state/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/state/stream", s.handleStateStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", "http://"+addr).
		Msg("Starting status API")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// parseKeys splits ?keys=a,b (repeated parameters are accepted too)
func parseKeys(r *http.Request) []string {
	var keys []string
	for _, raw := range r.URL.Query()["keys"] {
		for _, key := range strings.Split(raw, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// writeEngineError maps engine errors onto status codes
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, envstate.ErrUnknownAttribute):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, envstate.ErrNotEnabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTP Handlers

func (s *Server) handleGetAttributes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Keys())
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.engine.Snapshot(ctx, parseKeys(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keys []string `json:"keys"`
	}

	// An empty body means all keys
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.Publish(req.Keys); err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Subscribe to published snapshots
	updates := s.engine.Subscribe()
	defer s.engine.Unsubscribe(updates)

	// Send the current state first
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	snap, err := s.engine.Snapshot(ctx, nil)
	cancel()
	if err == nil {
		if err := conn.WriteJSON(snap); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}

	// Detect client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case payload, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"backend": s.backend,
		"enabled": s.engine.Enabled(),
	})
}
