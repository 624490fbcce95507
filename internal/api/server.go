package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/channel"
	"github.com/dripsend/dripsend/internal/config"
	"github.com/dripsend/dripsend/internal/dispatch"
	"github.com/dripsend/dripsend/internal/storage"
)

type Server struct {
	cfg      config.ServerConfig
	store    storage.Storage
	producer *dispatch.Producer
	gateway  *channel.HTTPChannel
	router   *chi.Mux
	log      zerolog.Logger
	http     *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, producer *dispatch.Producer, gateway *channel.HTTPChannel, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		producer: producer,
		gateway:  gateway,
		log:      log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	campaignHandler := NewCampaignHandler(s.store, s.producer)
	ackHandler := NewAckHandler(s.gateway, s.cfg.WebhookSecret, s.log)
	statsHandler := NewStatsHandler(s.store)

	// Health and metrics — no auth
	r.Get("/health", statsHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Gateway callbacks authenticate via HMAC signature, not the API key.
	r.Post("/webhooks/acks", ackHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey))

		r.Post("/campaigns", campaignHandler.Create)
		r.Get("/campaigns", campaignHandler.List)
		r.Get("/campaigns/{id}", campaignHandler.Get)
		r.Post("/campaigns/{id}/cancel", campaignHandler.Cancel)
		r.Get("/campaigns/{id}/messages", campaignHandler.ListMessages)

		r.Get("/messages/{id}", campaignHandler.GetMessage)

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
