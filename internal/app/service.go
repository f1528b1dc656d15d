package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"accounthealth/internal/clock"
	"accounthealth/internal/config"
	"accounthealth/internal/ingest"
	"accounthealth/internal/logging"
	"accounthealth/internal/outreach"
	"accounthealth/internal/publish"
	"accounthealth/internal/state"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable account health service.
type Service struct {
	source      config.ConfigSource
	cfg         config.Config
	logger      *slog.Logger
	closeLog    func()
	store       state.Store
	manager     *Manager
	httpSrv     *http.Server
	natsSub     interface{ Close() error }
	outreachQ   interface{ Close() error }
	outreachPub outreach.Producer
	publisher   publish.Publisher
	readyFlag   atomic.Bool
	clock       clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg, clk)
	if err != nil {
		closeLog()
		return nil, err
	}

	publisher, err := buildPublisher(cfg)
	if err != nil {
		_ = store.Close()
		closeLog()
		return nil, err
	}

	manager := NewManager(cfg, logger, store, publisher, clk)

	service := &Service{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		store:     store,
		manager:   manager,
		publisher: publisher,
		clock:     clk,
	}

	service.buildSender(cfg)
	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildOutreachQueue(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sweepTicker := time.NewTicker(config.SweepInterval(s.cfg.Service))
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-sweepTicker.C:
				if err := s.manager.Sweep(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("sweep processing failed", "error", err.Error())
				}
			}
		}
	}()

	if s.cfg.Service.ReloadEnabled {
		reloadInterval := time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second
		reloadTicker := time.NewTicker(reloadInterval)
		defer reloadTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
					if err := s.reloadConfig(); err != nil && !errors.Is(err, context.Canceled) {
						s.logger.Error("reload failed", "error", err.Error())
					}
				}
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if s.outreachQ != nil {
		if err := s.outreachQ.Close(); err != nil {
			s.logger.Error("outreach queue worker close failed", "error", err.Error())
			markErr(fmt.Errorf("outreach queue worker close: %w", err))
		}
	}
	if s.outreachPub != nil {
		if err := s.outreachPub.Close(); err != nil {
			s.logger.Error("outreach queue producer close failed", "error", err.Error())
			markErr(fmt.Errorf("outreach queue producer close: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("report publisher close failed", "error", err.Error())
			markErr(fmt.Errorf("report publisher close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.outreachQ != nil {
		_ = s.outreachQ.Close()
		s.outreachQ = nil
	}
	if s.outreachPub != nil {
		_ = s.outreachPub.Close()
		s.outreachPub = nil
	}
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
		s.publisher = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildSender wires webhook sender into manager when enabled.
// Params: config snapshot.
// Returns: manager sender updated.
func (s *Service) buildSender(cfg config.Config) {
	if !cfg.Outreach.Webhook.Enabled {
		s.manager.SetSender(nil)
		return
	}
	s.manager.SetSender(outreach.NewWebhookSender(cfg.Outreach.Webhook, s.logger))
}

// buildHTTPServer wires router with snapshot ingest and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	if s.cfg.Ingest.HTTP.Enabled {
		handler := ingest.NewHTTPHandler(s.manager, s.cfg.Ingest.HTTP.MaxBodyBytes)
		mux.Handle(s.cfg.Ingest.HTTP.SnapshotPath, handler)
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS snapshot ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) {
		return nil
	}
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.manager, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// reloadConfig atomically reloads and applies new config snapshot.
// Params: none.
// Returns: reload or apply error.
func (s *Service) reloadConfig() error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	if isSingleMode(nextCfg) != isSingleMode(s.cfg) {
		return fmt.Errorf("service.mode change requires restart")
	}
	nextProducer, nextWorker, err := s.buildOutreachQueueRuntime(nextCfg)
	if err != nil {
		return err
	}
	s.manager.ApplyConfig(nextCfg)
	s.buildSender(nextCfg)
	if s.outreachQ != nil {
		_ = s.outreachQ.Close()
	}
	if s.outreachPub != nil {
		_ = s.outreachPub.Close()
	}
	s.outreachQ = nextWorker
	s.outreachPub = nextProducer
	s.manager.SetQueueProducer(nextProducer)
	s.cfg = nextCfg
	s.logger.Info("configuration reloaded")
	return nil
}

// buildOutreachQueue initializes async outreach producer+worker when enabled.
// Params: none.
// Returns: setup error.
func (s *Service) buildOutreachQueue() error {
	producer, worker, err := s.buildOutreachQueueRuntime(s.cfg)
	if err != nil {
		return err
	}
	s.outreachPub = producer
	s.outreachQ = worker
	s.manager.SetQueueProducer(producer)
	return nil
}

// buildOutreachQueueRuntime creates queue producer/worker pair from config snapshot.
// Params: config snapshot.
// Returns: producer and worker handles (nil when queue disabled).
func (s *Service) buildOutreachQueueRuntime(cfg config.Config) (outreach.Producer, interface{ Close() error }, error) {
	if isSingleMode(cfg) {
		return nil, nil, nil
	}
	if !cfg.Outreach.Queue.Enabled {
		return nil, nil, nil
	}
	producer, err := outreach.NewNATSProducer(cfg.Outreach.Queue)
	if err != nil {
		return nil, nil, err
	}
	worker, err := outreach.NewNATSWorker(cfg.Outreach.Queue, s.logger, func(ctx context.Context, job outreach.Job) error {
		return s.manager.ProcessQueuedOutreach(ctx, job)
	})
	if err != nil {
		_ = producer.Close()
		return nil, nil, err
	}
	return producer, worker, nil
}

// buildStore creates runtime state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config, clk clock.Clock) (state.Store, error) {
	if isSingleMode(cfg) {
		return state.NewMemoryStore(clk.Now), nil
	}
	return state.NewNATSStore(config.DeriveStateNATSConfig(cfg))
}

// buildPublisher creates health report publisher from config.
// Params: root config snapshot.
// Returns: NATS publisher, or noop when disabled or in single mode.
func buildPublisher(cfg config.Config) (publish.Publisher, error) {
	if isSingleMode(cfg) || !cfg.Publish.Enabled {
		return publish.NoopPublisher{}, nil
	}
	return publish.NewNATSPublisher(cfg.Publish)
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
