package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifyd/internal/bus"
	"notifyd/internal/clock"
	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/logging"
	"notifyd/internal/noticequeue"
	"notifyd/internal/sink"
	"notifyd/internal/state"
	"notifyd/internal/suppress"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable notification daemon.
type Service struct {
	source    config.ConfigSource
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     state.Store
	pool      *dispatch.Pool
	queues    *noticequeue.QueueSet
	processor *Processor
	natsBus   *bus.NATSBus
	clock     clock.Clock
}

// NewService builds a service instance from a config source.
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

	store, err := state.Open(cfg.Store)
	if err != nil {
		closeLog()
		return nil, err
	}

	registry, err := sink.NewRegistry(context.Background(), cfg.Command, logger)
	if err != nil {
		closeLog()
		_ = store.Close()
		return nil, err
	}

	pool := dispatch.New(nil, store, logger, cfg.Service.MaxWorkers, cfg.Service.WorkerIdle.Std())
	pool.SetDeliverer(registry)
	queues := noticequeue.NewSet(clk, logger, pool)

	prober := suppress.DialProber{}
	processor, err := NewProcessor(cfg, store, queues, prober, clk, logger)
	if err != nil {
		closeLog()
		_ = store.Close()
		return nil, err
	}

	service := &Service{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		store:     store,
		pool:      pool,
		queues:    queues,
		processor: processor,
		clock:     clk,
	}
	processor.SetReloadFunc(service.reloadConfig)

	if cfg.Bus.Enabled {
		natsBus, err := bus.NewNATSBus(cfg.Bus, processor, logger)
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.natsBus = natsBus
		processor.SetPublisher(natsBus)
	} else {
		processor.SetPublisher(bus.NewLoopbackPublisher(logger))
	}

	return service, nil
}

// Processor exposes the event pipeline for in-process feeding.
// Params: none.
// Returns: processor instance.
func (s *Service) Processor() *Processor {
	return s.processor
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.pool.Start(runCtx)
	s.queues.Start(runCtx)
	s.processor.Start(runCtx)
	s.logger.Info("notifyd started",
		"daemon", s.cfg.Service.DaemonName,
		"notifications", s.cfg.Service.Notifications,
		"bus", s.cfg.Bus.Enabled)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(cancel)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := s.reloadConfig(runCtx); err != nil {
					s.logger.Error("sighup reload failed", "error", err.Error())
				}
				continue
			}
			return s.shutdown(cancel)
		}
	}
}

// shutdown closes runtime resources in dependency order.
// Params: cancel function stopping queue loops and workers.
// Returns: first close error.
func (s *Service) shutdown(cancel context.CancelFunc) error {
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.natsBus != nil {
		if err := s.natsBus.Close(); err != nil {
			s.logger.Error("bus close failed", "error", err.Error())
			markErr(fmt.Errorf("bus close: %w", err))
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		s.queues.Wait()
		s.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("worker drain timed out")
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

// cleanupInitResources closes partially initialized resources on startup
// failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsBus != nil {
		_ = s.natsBus.Close()
		s.natsBus = nil
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

// reloadConfig loads, validates, and applies a new config snapshot.
// Params: context for sink construction.
// Returns: load or apply error; on error the old snapshot stays active.
func (s *Service) reloadConfig(ctx context.Context) error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	if nextCfg.Bus.Enabled != s.cfg.Bus.Enabled {
		return fmt.Errorf("bus.enabled change requires restart")
	}
	if nextCfg.Store != s.cfg.Store {
		return fmt.Errorf("store change requires restart")
	}

	registry, err := sink.NewRegistry(ctx, nextCfg.Command, s.logger)
	if err != nil {
		return err
	}
	if err := s.processor.Apply(nextCfg); err != nil {
		return err
	}
	s.pool.SetDeliverer(registry)
	s.cfg = nextCfg
	s.logger.Info("configuration reloaded")
	return nil
}
