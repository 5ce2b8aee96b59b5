// Package gateway exposes the operator surface on localhost: health,
// Prometheus metrics and a WebSocket event stream fed by the bus.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandbotdev/sandbot/internal/bus"
	"github.com/sandbotdev/sandbot/internal/config"
)

// Server is the operator HTTP/WS server. It binds to localhost by
// default; it carries no authentication and must not be exposed.
type Server struct {
	cfg        config.GatewayConfig
	events     bus.EventPublisher
	logger     *slog.Logger
	httpServer *http.Server
}

func NewServer(cfg config.GatewayConfig, events bus.EventPublisher) *Server {
	return &Server{
		cfg:    cfg,
		events: events,
		logger: slog.With("component", "gateway"),
	}
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws/events", s.handleEvents)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.logger.Info("gateway listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleEvents streams bus events as JSON frames. One subscription per
// connection; a slow reader only stalls itself because the writer
// drops frames once its buffer fills.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	id := "ws-" + uuid.NewString()
	frames := make(chan []byte, 64)
	s.events.Subscribe(id, func(event bus.Event) {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		select {
		case frames <- data:
		default:
		}
	})
	defer s.events.Unsubscribe(id)

	s.logger.Info("event stream client connected", "id", id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-frames:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Info("event stream client disconnected", "id", id)
				return
			}
		}
	}
}
