package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rideline/realtime/internal/auth"
	"github.com/rideline/realtime/internal/directory"
	"github.com/rideline/realtime/internal/hub"
	"github.com/rideline/realtime/internal/ingest"
	"github.com/rideline/realtime/internal/monitoring"
	"github.com/rideline/realtime/internal/sse"
	"github.com/rideline/realtime/internal/transport"
	"github.com/rideline/realtime/internal/worker"
)

// Server wires the hub, both push transports, the ingest consumer and the
// operational endpoints together and owns their lifecycle.
type Server struct {
	config *Config
	logger zerolog.Logger

	hub        *hub.Hub
	workerPool *worker.Pool
	consumer   *ingest.Consumer

	listener  net.Listener
	httpSrv   *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// NewServer builds the full service from configuration. Nothing starts
// listening or consuming until Start.
func NewServer(cfg *Config, logger zerolog.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var dir hub.BookingDirectory
	if cfg.DirectoryURL != "" {
		dir = directory.NewClient(cfg.DirectoryURL, cfg.DirectoryTimeout, logger)
	} else {
		logger.Warn().Msg("No directory URL configured, every subscription will be granted")
		dir = directory.AllowAll{}
	}

	h := hub.New(dir, logger)
	pool := worker.NewPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize, logger)

	var consumer *ingest.Consumer
	if cfg.NATSURL != "" {
		var err error
		consumer, err = ingest.NewConsumer(cfg.NATSURL, h, pool, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create ingest consumer: %w", err)
		}
	} else {
		logger.Warn().Msg("No NATS URL configured, running without event ingest")
	}

	resolver := auth.NewJWTResolver(cfg.JWTSecret)

	s := &Server{
		config:     cfg,
		logger:     logger.With().Str("component", "server").Logger(),
		hub:        h,
		workerPool: pool,
		consumer:   consumer,
		ctx:        ctx,
		cancel:     cancel,
	}

	wsHandler := transport.NewHandler(transport.Options{
		Hub:          h,
		Resolver:     resolver,
		Logger:       logger,
		SendBuffer:   cfg.SendBuffer,
		MessageRate:  rate.Limit(cfg.MessageRate),
		MessageBurst: cfg.MessageBurst,
		PongWait:     cfg.PongWait,
	})
	sseOpts := sse.Options{
		Hub:        h,
		Resolver:   resolver,
		Logger:     logger,
		SendBuffer: cfg.SendBuffer,
		Keepalive:  cfg.SSEKeepalive,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/events", sse.NewHandler(sseOpts))
	mux.Handle("/control", sse.NewControlHandler(sseOpts))
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", monitoring.MetricsHandler())

	s.httpSrv = &http.Server{
		Handler:        mux,
		ReadTimeout:    0, // streaming endpoints hold requests open
		WriteTimeout:   0,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s, nil
}

// Start binds the listener, starts the worker pool and the ingest consumer,
// and begins serving. Returns once everything is running.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.startedAt = time.Now()

	s.logger.Info().
		Str("address", s.config.Addr).
		Msg("Server listening")

	s.workerPool.Start(s.ctx)

	if s.consumer != nil {
		if err := s.consumer.Start(); err != nil {
			listener.Close()
			return fmt.Errorf("failed to start ingest consumer: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().
				Err(err).
				Msg("Server accept loop error")
		}
	}()

	return nil
}

// Shutdown drains gracefully: stop ingesting, stop accepting, wait out the
// grace period for clients to disconnect, then force-close what remains.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")

	// No new events into the hub.
	if s.consumer != nil {
		s.consumer.Stop()
	}

	// No new connections.
	if s.listener != nil {
		s.logger.Info().Msg("Closing listener (no new connections accepted)")
		s.listener.Close()
	}

	stats := s.hub.StatsSnapshot()
	s.logger.Info().
		Int("active_connections", stats.TotalConnections).
		Dur("grace_period", s.config.ShutdownGrace).
		Msg("Draining active connections")

	drainTimer := time.NewTimer(s.config.ShutdownGrace)
	checkTicker := time.NewTicker(time.Second)
	defer drainTimer.Stop()
	defer checkTicker.Stop()

drain:
	for {
		select {
		case <-drainTimer.C:
			remaining := s.hub.StatsSnapshot().TotalConnections
			if remaining > 0 {
				s.logger.Warn().
					Int("remaining_connections", remaining).
					Msg("Grace period expired, force closing remaining connections")
				s.hub.CloseAll()
			}
			break drain

		case <-checkTicker.C:
			remaining := s.hub.StatsSnapshot().TotalConnections
			if remaining == 0 {
				s.logger.Info().Msg("All connections drained gracefully")
				break drain
			}
			s.logger.Info().
				Int("remaining_connections", remaining).
				Msg("Waiting for connections to drain")
		}
	}

	// Close the HTTP server so SSE request handlers unwind.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := s.httpSrv.Shutdown(closeCtx); err != nil {
		s.httpSrv.Close()
	}

	s.cancel()

	s.logger.Info().Msg("Stopping worker pool")
	s.workerPool.Stop()

	s.logger.Info().Msg("Waiting for all goroutines to finish")
	s.wg.Wait()

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}
