// The terminal gateway wires the circulation integration layer together: a
// correlation bus serving terminal requests, a health monitor polling the
// back end, a durable offline store with its reconciliation worker, and a
// Prometheus scrape endpoint. The back end itself is simulated so the
// gateway can be run standalone; tune -failure-rate to watch the offline
// fallback and replay in action.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bibsdb/bibselv/fbs"
	"github.com/bibsdb/bibselv/fbs/badgerstore"
	"github.com/bibsdb/bibselv/fbs/bus"
	"github.com/bibsdb/bibselv/fbs/offlinestore"
	"github.com/bibsdb/bibselv/fbs/promadapters"
	"github.com/bibsdb/bibselv/fbs/reconciler"
)

var json = jsoniter.ConfigFastest

func main() {
	if err := run(); err != nil {
		slog.Error("terminal gateway failed", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "config.yaml", "Path to the gateway configuration file")
		failureRate  = flag.Float64("failure-rate", 0.0, "Probability [0..1] that a simulated backend call fails")
		demoInterval = flag.Duration("demo-interval", 0, "Interval between demo requests issued over the bus (0 disables)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := promadapters.NewMetricsCollector(registry)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	queue, err := reconciler.NewQueue(
		reconciler.WithQueueCapacity(cfg.Reconciliation.QueueCapacity),
		reconciler.WithQueueMetrics(metrics),
	)
	if err != nil {
		return err
	}

	fallback, err := fbs.NewFallback(store, queue,
		fbs.WithFallbackLogger(logger),
		fbs.WithFallbackMetrics(metrics),
	)
	if err != nil {
		return err
	}

	provider := fbs.ConfigProviderFunc(func(context.Context) (fbs.Config, error) {
		return cfg.backendConfig(), nil
	})
	factory := simulatedFactory(*failureRate)

	messageBus := bus.New()

	adapter, err := bus.NewAdapter(messageBus, provider, factory, fallback,
		bus.WithAdapterLogger(logger),
		bus.WithAdapterMetrics(metrics),
	)
	if err != nil {
		return err
	}

	release, err := adapter.Bind()
	if err != nil {
		return err
	}
	defer release()

	workerOptions := []reconciler.WorkerOption{
		reconciler.WithWorkerLogger(logger),
		reconciler.WithWorkerMetrics(metrics),
	}
	if cfg.Reconciliation.ReplayAttempts > 0 {
		workerOptions = append(workerOptions, reconciler.WithReplayAttempts(cfg.Reconciliation.ReplayAttempts))
	}
	if cfg.Reconciliation.ReplayBaseDelay > 0 {
		workerOptions = append(workerOptions, reconciler.WithReplayBaseDelay(time.Duration(cfg.Reconciliation.ReplayBaseDelay)))
	}

	worker, err := reconciler.NewWorker(queue, provider, factory, workerOptions...)
	if err != nil {
		return err
	}

	monitor, err := fbs.NewMonitor(provider, factory,
		fbs.WithMonitorLogger(logger),
		fbs.WithMonitorMetrics(metrics),
		fbs.WithStatusPublisher(fbs.StatusPublishers{adapter, worker}),
	)
	if err != nil {
		return err
	}

	logger.Info("terminal gateway starting",
		"storage_driver", cfg.Storage.Driver,
		"metrics_address", cfg.Metrics.ListenAddress,
		"failure_rate", *failureRate,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		monitor.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		worker.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		return serveMetrics(groupCtx, cfg.Metrics.ListenAddress, registry, logger)
	})

	if *demoInterval > 0 {
		group.Go(func() error {
			runDemoLoop(groupCtx, messageBus, *demoInterval, logger)
			return nil
		})
	}

	return group.Wait()
}

// openStore opens the configured durable offline transaction store. The
// returned close function releases the underlying resources.
func openStore(ctx context.Context, cfg Config, logger fbs.Logger) (fbs.AppendOnlyStore, func(), error) {
	switch cfg.Storage.Driver {
	case storageDriverBadger:
		store, err := badgerstore.NewStore(badgerstore.Config{
			Path:       cfg.Storage.Path,
			SyncWrites: true,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}

		return store, func() { _ = store.Close() }, nil

	case storageDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}

		options := []offlinestore.Option{offlinestore.WithStoreLogger(logger)}
		if ctxLogger, ok := logger.(fbs.ContextualLogger); ok {
			options = append(options, offlinestore.WithStoreContextualLogger(ctxLogger))
		}

		store, err := offlinestore.NewStoreFromPGXPool(pool, options...)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}

		return store, pool.Close, nil

	default:
		return nil, nil, errors.New("unsupported storage driver: " + cfg.Storage.Driver)
	}
}

// serveMetrics exposes the registry on /metrics until the context is done.
func serveMetrics(ctx context.Context, address string, registry *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err.Error())
		}
	}()

	err := server.ListenAndServe()
	<-shutdownDone

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// runDemoLoop periodically plays a terminal: it asks for the library status
// and checks an item out over the correlation bus, logging the outcomes.
func runDemoLoop(ctx context.Context, messageBus *bus.Bus, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sequence := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sequence++

		requestCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		demoRoundTrip(requestCtx, messageBus, sequence, logger)
		cancel()
	}
}

func demoRoundTrip(ctx context.Context, messageBus *bus.Bus, sequence int, logger *slog.Logger) {
	if _, err := messageBus.Request(ctx, bus.SubjectLibraryStatus, nil); err != nil {
		logger.Warn("demo library status failed", "error", err.Error())
	} else {
		logger.Info("demo library status answered")
	}

	payload, err := json.Marshal(bus.CheckoutPayload{
		Username:       "demo-patron",
		Password:       "demo-password",
		ItemIdentifier: "item-" + time.Now().Format("150405"),
	})
	if err != nil {
		logger.Warn("demo checkout payload failed", "error", err.Error())
		return
	}

	reply, err := messageBus.Request(ctx, bus.SubjectCheckout, payload)
	if err != nil {
		logger.Warn("demo checkout failed", "sequence", sequence, "error", err.Error())
		return
	}

	var envelope struct {
		Timestamp time.Time          `json:"timestamp"`
		Result    fbs.CheckoutResult `json:"result"`
	}
	if err = json.Unmarshal(reply, &envelope); err != nil {
		logger.Warn("demo checkout reply unreadable", "error", err.Error())
		return
	}

	logger.Info("demo checkout answered",
		"sequence", sequence,
		"timestamp", envelope.Timestamp.Format(time.RFC3339),
		"ok", envelope.Result.OK,
		"offline", envelope.Result.Offline,
		"due_date", envelope.Result.DueDate.Format(time.RFC3339),
	)
}
