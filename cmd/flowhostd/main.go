// Command flowhostd runs the flow engine host process: it wires
// storage, the event bus, the node registry, the Run Runner, the
// lease-backed Scheduler, the Trigger Manager and the RPC surface
// together, then serves until terminated.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/flowforge/internal/config"
	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/lease"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/metrics"
	"github.com/dshills/flowforge/internal/nodes/httpreq"
	"github.com/dshills/flowforge/internal/nodes/llm"
	"github.com/dshills/flowforge/internal/nodes/noop"
	"github.com/dshills/flowforge/internal/recovery"
	"github.com/dshills/flowforge/internal/registry"
	"github.com/dshills/flowforge/internal/rpc"
	"github.com/dshills/flowforge/internal/rpc/wsserver"
	"github.com/dshills/flowforge/internal/runner"
	"github.com/dshills/flowforge/internal/scheduler"
	"github.com/dshills/flowforge/internal/storage"
	"github.com/dshills/flowforge/internal/storage/memory"
	"github.com/dshills/flowforge/internal/storage/mysql"
	"github.com/dshills/flowforge/internal/storage/sqlite"
	"github.com/dshills/flowforge/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowhostd: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "flowhostd: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
		Path:   cfg.LogPath,
	})

	backend, err := openBackend(cfg)
	if err != nil {
		log.WithField("error", err).Fatal("failed to open storage backend")
	}
	defer backend.Close()

	promRegistry := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(promRegistry)
	} else {
		m = metrics.New(prometheus.NewRegistry())
		m.Disable()
	}

	events := eventbus.New(backend.Events())

	if cfg.TracingEnabled {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}
	// The tracing sink consumes the event outbox rather than a live
	// subscription: every appended event reaches it at least once, via
	// the drain loop below, including events appended by a previous
	// process that died before delivering them.
	otelPub := eventbus.NewOTelPublisher("flowhostd")

	reg := registry.New()
	noop.Register(reg)
	httpreq.Register(reg)
	llm.Register(reg, llm.APIKeys{
		Anthropic: cfg.AnthropicAPIKey,
		OpenAI:    cfg.OpenAIAPIKey,
		Google:    cfg.GoogleAPIKey,
	})

	rn := runner.New(backend.Flows(), backend.Runs(), backend.Queue(), backend.Vars(), events, reg, nil, m, log)

	ownerID := uuid.NewString()
	leaseMgr := lease.New(backend.Queue(), cfg.LeaseTTL, cfg.HeartbeatPeriod, m, log)
	recoveryCoord := recovery.New(backend.Runs(), backend.Queue(), events, log)

	sched := scheduler.New(scheduler.Config{
		OwnerID:           ownerID,
		MaxParallelRuns:   cfg.MaxParallelRuns,
		LeaseTTL:          cfg.LeaseTTL,
		HeartbeatInterval: cfg.HeartbeatPeriod,
		ReclaimInterval:   cfg.ReclaimPeriod,
	}, backend.Queue(), leaseMgr, recoveryCoord, rn, m, log)

	triggerMgr := trigger.New(trigger.Config{
		MaxQueued:         cfg.TriggerMaxQueued,
		DefaultCooldownMs: cfg.TriggerCooldownMs,
	}, backend.Triggers(), backend.Runs(), backend.Queue(), events, m, log, sched.Kick)
	triggerMgr.RegisterHandler(trigger.NewCronHandler())
	triggerMgr.RegisterHandler(trigger.NewIntervalHandler())
	triggerMgr.RegisterHandler(trigger.NewOneShotHandler())
	bridge := nullHostBridge{}
	triggerMgr.RegisterHandler(trigger.NewHostBridgeHandler(domain.TriggerURL, bridge))
	triggerMgr.RegisterHandler(trigger.NewHostBridgeHandler(domain.TriggerHotkey, bridge))
	triggerMgr.RegisterHandler(trigger.NewHostBridgeHandler(domain.TriggerContextMenu, bridge))
	triggerMgr.RegisterHandler(trigger.NewHostBridgeHandler(domain.TriggerDOM, bridge))

	rpcServer := rpc.New(backend.Flows(), backend.Runs(), backend.Queue(), backend.Triggers(), events, rn, triggerMgr, log, sched.Kick)

	router := chi.NewRouter()
	router.Handle("/ws", wsserver.NewHandler(rpcServer, log))
	router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{Addr: cfg.RPCAddr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := triggerMgr.Start(ctx); err != nil {
		log.WithField("error", err).Fatal("failed to start trigger manager")
	}

	go sched.Start(ctx)

	go drainOutbox(ctx, events, otelPub, cfg.OutboxDrainPeriod, log)

	go func() {
		log.WithField("addr", cfg.RPCAddr).Info("flowhostd listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	triggerMgr.Stop()
	sched.Stop()
}

// drainOutbox delivers not-yet-emitted events to pub on a fixed
// period, with one immediate pass at startup to catch the sink up on
// anything appended before this process existed.
func drainOutbox(ctx context.Context, events *eventbus.Bus, pub eventbus.Publisher, period time.Duration, log *logging.Logger) {
	drain := func() {
		if err := events.DrainOutbox(ctx, 256, func(ev domain.Event) bool {
			pub.Publish(ctx, ev)
			return true
		}); err != nil {
			log.WithField("error", err).Warn("outbox drain failed")
		}
	}

	drain()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drain()
		}
	}
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.BackendMySQL:
		return mysql.Open(cfg.MySQLDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
