package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/observability"
)

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status   string             `json:"status"`
	Uptime   string             `json:"uptime"`
	Clients  int                `json:"clients"`
	Sent     int64              `json:"messages_sent"`
	Dropped  int64              `json:"messages_dropped"`
	Counts   map[audit.Kind]int `json:"records_by_kind"`
	LastSeen *Message           `json:"last_record,omitempty"`
}

// Server serves /ws, /status, /health and /metrics.
type Server struct {
	hub      *Hub
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer creates a server for hub. metrics may be nil.
func NewServer(hub *Hub, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// The dashboard is a local read-only stream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Handler returns the HTTP routes of the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)

	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// and disconnects every client.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c, ok := s.hub.register(conn)
	if !ok {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go s.hub.writeLoop(c)
	go s.hub.readLoop(c)
}

// handleStatus returns hub status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.hub.statsMu.Lock()
	counts := make(map[audit.Kind]int, len(s.hub.counts))
	for k, v := range s.hub.counts {
		counts[k] = v
	}
	last := s.hub.last
	s.hub.statsMu.Unlock()

	resp := StatusResponse{
		Status:   "running",
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Clients:  s.hub.ClientCount(),
		Sent:     s.hub.sent.Load(),
		Dropped:  s.hub.dropped.Load(),
		Counts:   counts,
		LastSeen: last,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
