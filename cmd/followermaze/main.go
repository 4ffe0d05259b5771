// Command followermaze runs the event-source-ordered, client-notifying
// dispatch service: two raw TCP listeners serviced by a single epoll loop,
// plus an ambient HTTP surface for health, metrics and a live dashboard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"followermaze/internal/admin"
	"followermaze/internal/config"
	"followermaze/internal/dispatcher"
	"followermaze/internal/event"
	"followermaze/internal/followergraph"
	"followermaze/internal/ioloop"
	"followermaze/internal/logging"
	"followermaze/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "followermaze:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	graph := followergraph.New()
	queue := event.NewQueue(cfg.Queue.MaxCapacity, cfg.Queue.Timeout)
	queue.SetObservers(m.SetQueueDepth, m.IncQueueSkip, m.SetWaitingFor)
	disp := dispatcher.New(graph, queue, logging.Component(logger, "dispatcher"), m)

	srv, err := ioloop.New(ioloop.Config{
		EventPort:  cfg.Server.EventPort,
		ClientPort: cfg.Server.ClientPort,
	}, disp, disp, graph, m, logging.Component(logger, "ioloop"))
	if err != nil {
		return fmt.Errorf("start ioloop: %w", err)
	}
	defer srv.Close()

	stop := make(chan struct{})
	m.StartProcessSampler(5*time.Second, stop)

	if cfg.Metrics.Enabled {
		hub := admin.NewHub(logging.Component(logger, "admin"))
		go hub.Run(stop)

		sampler := admin.NewSampler(hub, cfg.Admin.SnapshotInterval, func() admin.Snapshot {
			return admin.Snapshot{
				QueueDepth:           m.QueueDepth(),
				WaitingForSeq:        m.WaitingFor(),
				ClientsConnected:     m.ClientsConnected(),
				EventSourceConnected: m.EventSourceConnected(),
			}
		})
		go sampler.Run(stop)

		adminServer := admin.NewServer(admin.Options{
			ListenAddr:      cfg.Metrics.ListenAddr,
			MetricsEndpoint: cfg.Metrics.Endpoint,
			Enabled:         cfg.Admin.Enabled,
			TokenSecret:     cfg.Admin.TokenSecret,
			TokenTTL:        cfg.Admin.TokenTTL,
		}, hub, func() (admin.HealthStatus, error) {
			return admin.HealthStatus{
				ClientsConnected: m.ClientsConnected(),
				QueueDepth:       m.QueueDepth(),
			}, nil
		}, logging.Component(logger, "admin"))

		go func() {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-stop
				cancel()
			}()
			if err := adminServer.Run(ctx); err != nil {
				logger.Error("admin http server stopped with error", zap.Error(err))
			}
		}()
	}

	logger.Info("followermaze starting",
		zap.Int("event_port", cfg.Server.EventPort),
		zap.Int("client_port", cfg.Server.ClientPort),
		zap.String("metrics_addr", cfg.Metrics.ListenAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("followermaze: shutdown signal received")
		close(stop)
		srv.Stop()
	}()

	if err := srv.Run(); err != nil {
		return fmt.Errorf("ioloop run: %w", err)
	}
	return nil
}
