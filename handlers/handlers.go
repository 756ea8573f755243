package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/emaforlin/ws-greeting-server/config"
)

// SessionCounter reports the number of open WebSocket sessions.
type SessionCounter interface {
	Count() int
}

// BrokerStatus reports whether the event broker connection is up.
type BrokerStatus interface {
	IsConnected() bool
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Version        string    `json:"version"`
	Uptime         string    `json:"uptime"`
	ActiveSessions int       `json:"active_sessions"`
	Broker         string    `json:"broker"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	startTime time.Time
	version   string
	sessions  SessionCounter
	broker    BrokerStatus
}

// NewHealthHandler creates a new health handler. broker may be nil when no
// event broker is configured.
func NewHealthHandler(version string, sessions SessionCounter, broker BrokerStatus) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		version:   version,
		sessions:  sessions,
		broker:    broker,
	}
}

// ServeHTTP implements http.Handler for health checks
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowedHandler(w, r)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Broker:    "disabled",
	}
	if h.sessions != nil {
		response.ActiveSessions = h.sessions.Count()
	}

	code := http.StatusOK
	if h.broker != nil {
		response.Broker = "connected"
		if !h.broker.IsConnected() {
			response.Broker = "disconnected"
			response.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, response)
}

// InfoResponse represents the server information response
type InfoResponse struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
}

// InfoHandler handles server information requests
type InfoHandler struct {
	config  *config.Config
	version string
}

// NewInfoHandler creates a new info handler
func NewInfoHandler(cfg *config.Config, version string) *InfoHandler {
	return &InfoHandler{
		config:  cfg,
		version: version,
	}
}

// ServeHTTP implements http.Handler for server information
func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowedHandler(w, r)
		return
	}

	endpoints := map[string]string{
		"websocket": h.config.GetWebSocketURL(h.config.WebSocket.Path),
		"health":    h.config.GetHTTPURL("/health"),
		"info":      h.config.GetHTTPURL("/info"),
	}
	if h.config.Metrics.Enabled {
		endpoints["metrics"] = h.config.GetHTTPURL(h.config.Metrics.Path)
	}

	writeJSON(w, http.StatusOK, InfoResponse{
		Name:        "WebSocket Greeting Server",
		Version:     h.version,
		Description: "Answers JSON greetings over a WebSocket",
		Endpoints:   endpoints,
	})
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"message": "The requested resource was not found",
		"path":    r.URL.Path,
	})
}

// MethodNotAllowedHandler handles 405 errors
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"error":   "Method Not Allowed",
		"message": "The requested method is not allowed for this resource",
		"method":  r.Method,
		"path":    r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Headers are already sent; an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(body)
}
