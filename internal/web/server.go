package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/registry"
	"github.com/mtzanidakis/swarmbot/internal/router"
	"github.com/mtzanidakis/swarmbot/internal/scheduler"
	"github.com/mtzanidakis/swarmbot/internal/store"
	"github.com/mtzanidakis/swarmbot/internal/swarm"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	store     *store.Store
	bus       *natsbus.Bus
	nats      *natsbus.Client
	registry  *registry.Registry
	router    *router.Router
	coord     *swarm.Coordinator
	scheduler *scheduler.Scheduler
	gatherer  prometheus.Gatherer
	hub       *Hub
	upgrader  websocket.Upgrader
	limiter   *submitLimiter
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(s *store.Store, bus *natsbus.Bus, reg *registry.Registry, rtr *router.Router, coord *swarm.Coordinator, sched *scheduler.Scheduler, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		bus:       bus,
		registry:  reg,
		router:    rtr,
		coord:     coord,
		scheduler: sched,
		gatherer:  prometheus.DefaultGatherer,
		hub:       NewHub(),
		upgrader:  websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)},
		limiter:   newSubmitLimiter(cfg.SubmitRate, cfg.SubmitBurst),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Handler returns the API, websocket and metrics routes behind the CORS
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return withCORS(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Forward NATS events to websocket clients.
	if err := s.subscribeEvents(); err != nil {
		slog.Error("web server event feed disabled", "error", err)
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) subscribeEvents() error {
	if s.bus == nil {
		return nil
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	s.nats = client

	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var event natsbus.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("invalid nats event payload", "subject", msg.Subject, "error", err)
			return
		}
		s.hub.Broadcast(FeedEvent{Subject: msg.Subject, Event: event})
	})
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	return nil
}
