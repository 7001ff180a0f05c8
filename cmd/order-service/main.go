package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/adapters/httpx"
	"github.com/jcmexdev/inventory-sagas/internal/order-service/adapters/inventory"
	"github.com/jcmexdev/inventory-sagas/internal/order-service/adapters/sqlite"
	"github.com/jcmexdev/inventory-sagas/internal/order-service/app"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/cache"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/config"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/faults"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/kafka"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/retry"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/telemetry"
)

func main() {
	serviceName := config.String("OTEL_SERVICE_NAME", "order-service")
	logger := telemetry.InitLogger(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, serviceName)
	if err != nil {
		logger.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	dbPath := config.String("ORDER_DB_PATH", "./data/orders.db")
	repo, err := sqlite.Open(dbPath)
	if err != nil {
		logger.Error("failed to open order ledger", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	m := metrics.New("orders", prometheus.DefaultRegisterer)
	clk := clock.NewSystem()

	transport, closeTransport, err := newTransport(logger)
	if err != nil {
		logger.Error("failed to set up inventory transport", "error", err)
		os.Exit(1)
	}
	defer closeTransport()

	policy := retry.Policy{
		MaxAttempts: config.Int("RESERVE_MAX_ATTEMPTS", retry.DefaultMaxAttempts),
		CallTimeout: config.Duration("RESERVE_TIMEOUT", retry.DefaultCallTimeout),
		Backoff:     config.Duration("RESERVE_BACKOFF", retry.DefaultBackoff),
	}
	attempts := app.NewAttemptLog(repo, clk, logger)
	client := retry.NewClient(transport, policy,
		retry.WithObserver(attempts),
		retry.WithLogger(logger),
		retry.WithMetrics(m),
	)

	var publisher app.EventPublisher
	events := kafka.NewPublisher(kafka.NewClient(config.String("KAFKA_BROKERS", "")), config.String("KAFKA_ORDER_TOPIC", "orders.status"))
	defer events.Close()
	if events.Enabled() {
		publisher = events
		logger.Info("order events enabled", "topic", config.String("KAFKA_ORDER_TOPIC", "orders.status"))
	}

	persistOutOfStock := config.Bool("PERSIST_OUT_OF_STOCK", true)
	orchestrator := app.NewOrchestrator(repo, client, clk,
		app.WithPublisher(publisher),
		app.WithOrchestratorLogger(logger),
		app.WithOrchestratorMetrics(m),
		app.WithPersistOutOfStock(persistOutOfStock),
	)

	keyPolicy, err := app.ParseKeyPolicy(config.String("RECONCILE_KEY_POLICY", string(app.KeyPolicyStable)))
	if err != nil {
		logger.Error("invalid reconcile key policy", "error", err)
		os.Exit(1)
	}
	reconcileCfg := app.ReconcilerConfig{
		Interval:          config.Duration("RECONCILE_INTERVAL", app.DefaultReconcileInterval),
		MinAge:            config.Duration("RECONCILE_MIN_AGE", client.Policy().WorstCase()),
		BatchSize:         config.Int("RECONCILE_BATCH_SIZE", app.DefaultReconcileBatch),
		KeyPolicy:         keyPolicy,
		PersistOutOfStock: persistOutOfStock,
	}
	reconcilerOpts := []app.ReconcilerOption{
		app.WithReconcilerPublisher(publisher),
		app.WithReconcilerLogger(logger),
		app.WithReconcilerMetrics(m),
	}
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		hostname, _ := os.Hostname()
		owner := fmt.Sprintf("%s-%s", hostname, uuid.NewString())
		reconcilerOpts = append(reconcilerOpts, app.WithLease(
			cache.NewLease(cache.NewRedisCache(redisAddr, "order"), "reconcile", owner, 2*reconcileCfg.Interval),
		))
		logger.Info("reconcile lease enabled", "redis_addr", redisAddr, "owner", owner)
	}
	reconciler := app.NewReconciler(repo, client, clk, reconcileCfg, reconcilerOpts...)

	handler := httpx.NewHandler(orchestrator, attempts, reconciler, logger)
	httpServer := &http.Server{
		Addr:              ":" + config.String("HTTP_PORT", "8080"),
		Handler:           httpx.NewRouter(handler, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("order service HTTP running", "addr", httpServer.Addr, "retry_worst_case", policy.WorstCase())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("order service stopped", "error", err)
	}
	slog.Info("order service exited")
}

// newTransport builds the single-call inventory client selected by
// INVENTORY_TRANSPORT, with the configured fault injectors attached.
func newTransport(logger *slog.Logger) (retry.Reserver, func(), error) {
	injector := newInjector(logger)

	switch strings.ToLower(config.String("INVENTORY_TRANSPORT", "http")) {
	case "grpc":
		addr := config.String("INVENTORY_GRPC_ADDR", "localhost:9092")
		conn, err := inventory.NewGRPCConn(addr)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("inventory transport", "kind", "grpc", "addr", addr)
		return inventory.NewGRPCClient(conn, injector), func() { _ = conn.Close() }, nil
	case "http":
		url := config.String("INVENTORY_URL", "http://localhost:8081")
		logger.Info("inventory transport", "kind", "http", "url", url)
		return inventory.NewHTTPClient(url, inventory.WithHTTPFaults(injector)), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown INVENTORY_TRANSPORT %q", config.String("INVENTORY_TRANSPORT", ""))
	}
}

func newInjector(logger *slog.Logger) faults.Injector {
	var chain faults.Chain
	if n := config.Int("SIMULATE_CRASH_EVERY_N", 0); n > 0 {
		chain = append(chain, faults.NewEveryNth(n, faults.Fault{CrashAfterCommit: true}, true))
		logger.Warn("crash-after-commit simulation enabled", "every_n_orders", n)
	}
	if n := config.Int("GREMLIN_EVERY_N", 0); n > 0 {
		latency := config.Duration("GREMLIN_LATENCY", 6*time.Second)
		chain = append(chain, faults.NewEveryNth(n, faults.Fault{Delay: latency}, false))
		logger.Warn("latency gremlin enabled", "every_n_calls", n, "latency", latency)
	}
	if len(chain) == 0 {
		return faults.None{}
	}
	return chain
}
