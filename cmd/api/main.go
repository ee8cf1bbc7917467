package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	otelglobal "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/scan-orchestrator/internal/api"
	"github.com/ahrav/scan-orchestrator/internal/api/debug"
	"github.com/ahrav/scan-orchestrator/internal/api/health"
	"github.com/ahrav/scan-orchestrator/internal/api/mid"
	appScanning "github.com/ahrav/scan-orchestrator/internal/app/scanning"
	"github.com/ahrav/scan-orchestrator/internal/config"
	"github.com/ahrav/scan-orchestrator/internal/domain/events"
	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/scan-orchestrator/internal/infra/eventbus/memory"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/container"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/rasp"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/sast"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/sca"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/source"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
	"github.com/ahrav/scan-orchestrator/internal/infra/storage"
	memoryStore "github.com/ahrav/scan-orchestrator/internal/infra/storage/scanning/memory"
	scanningStore "github.com/ahrav/scan-orchestrator/internal/infra/storage/scanning/postgres"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
	"github.com/ahrav/scan-orchestrator/pkg/common/otel"
)

var build = "develop"

const serviceType = "scan-orchestrator"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx := context.Background()

	cfg, err := config.NewLoader(os.Getenv("SCANNER_CONFIG_FILE")).Load(ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	metadata := map[string]string{
		"service":  cfg.Telemetry.ServiceName,
		"hostname": hostname,
		"app":      serviceType,
		"build":    build,
	}
	log := logger.NewWithMetadata(
		os.Stdout,
		logger.ParseLevel(cfg.Log.Level),
		cfg.Telemetry.ServiceName,
		traceIDFn,
		logEvents,
		metadata,
	)

	if err := run(ctx, log, cfg, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(cfg.Telemetry.ServiceName)
	mp := otelglobal.GetMeterProvider()

	// -------------------------------------------------------------------------
	// Storage
	var (
		jobs       scanning.JobRepository
		findings   scanning.FindingRepository
		raspEvents scanning.RASPEventRepository
		db         health.Pinger
	)

	if cfg.Database.URL != "" {
		log.Info(ctx, "startup", "status", "initializing database support")

		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("parsing db config: %w", err)
		}
		poolCfg.MinConns = cfg.Database.MinConns
		poolCfg.MaxConns = cfg.Database.MaxConns
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("creating db pool: %w", err)
		}
		defer pool.Close()

		if cfg.Database.Migrate {
			if err := storage.Migrate(pool, cfg.Database.MigrationsDir); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
		}

		jobs = scanningStore.NewJobStore(pool, tracer)
		findings = scanningStore.NewFindingStore(pool, tracer)
		raspEvents = scanningStore.NewRASPEventStore(pool, tracer)
		db = pool
	} else {
		log.Warn(ctx, "startup", "status", "no database configured, using in-memory stores")
		jobStore := memoryStore.NewJobStore()
		jobs = jobStore
		findings = memoryStore.NewFindingStore(jobStore)
		raspEvents = memoryStore.NewRASPEventStore()
	}

	// -------------------------------------------------------------------------
	// Initialize Event Publisher
	var publisher events.DomainEventPublisher

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info(ctx, "startup", "status", "initializing kafka publisher")

		pubMetrics, err := kafka.NewPublisherMetrics(mp)
		if err != nil {
			return fmt.Errorf("creating publisher metrics: %w", err)
		}

		kafkaPub, err := kafka.ConnectWithRetry(&kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			JobEventsTopic: cfg.Kafka.JobEventsTopic,
			ClientID:       cfg.Kafka.ClientID,
		}, log, pubMetrics, tracer, cfg.Kafka.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("connecting kafka publisher: %w", err)
		}
		defer kafkaPub.Close()
		publisher = kafkaPub
	} else {
		memPub := memory.NewPublisher()
		unsubscribe, err := memPub.Subscribe(func(ctx context.Context, e events.DomainEvent) error {
			log.Debug(ctx, "job event", "event_type", string(e.Type), "key", e.Key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribing event logger: %w", err)
		}
		defer unsubscribe()
		publisher = memPub
	}

	// -------------------------------------------------------------------------
	// Scanners
	toolRunner := toolexec.NewExecRunner(log)
	locator := source.NewLocator(cfg.Uploads.Root)

	scanners := []scanning.Scanner{
		sast.New(sast.Config{
			Binary:  cfg.Tools.Semgrep,
			Timeout: cfg.Tools.SemgrepTimeout,
		}, locator, toolRunner, log),
		sca.New(sca.Config{
			DependencyCheckBinary:  cfg.Tools.DependencyCheck,
			PipAuditBinary:         cfg.Tools.PipAudit,
			NpmBinary:              cfg.Tools.Npm,
			VersionCheckTimeout:           cfg.Tools.VersionCheckTimeout,
			DependencyCheckTimeout: cfg.Tools.DependencyCheckTimeout,
			AuditTimeout:           cfg.Tools.AuditTimeout,
			ReportDir:              cfg.Tools.ReportDir,
		}, locator, toolRunner, log),
		container.New(container.Config{
			Binary:  cfg.Tools.Trivy,
			Timeout: cfg.Tools.TrivyTimeout,
		}, toolRunner, log),
	}

	raspCfg := rasp.DefaultConfig()
	raspCfg.BaseURL = cfg.RASP.BaseURL
	raspCfg.Token = cfg.RASP.Token
	raspCfg.Username = cfg.RASP.Username
	raspCfg.Password = cfg.RASP.Password
	raspCfg.PageSize = cfg.RASP.PageSize
	raspCfg.MaxPages = cfg.RASP.MaxPages
	raspCfg.RequestsPerSecond = cfg.RASP.RequestsPerSecond
	raspCfg.Timeout = cfg.RASP.Timeout

	raspClient := rasp.NewClient(raspCfg)
	raspScanner := rasp.New(raspClient, log, tracer)
	scanners = append(scanners, raspScanner)
	if !raspClient.Configured() {
		log.Warn(ctx, "startup", "status", "no rasp server configured, runtime scans will report rasp_not_configured")
	}

	dispatcher, err := appScanning.NewDispatcher(scanners...)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	runnerMetrics, err := appScanning.NewRunnerMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating runner metrics: %w", err)
	}

	jobRunner := appScanning.NewJobRunner(jobs, findings, dispatcher, publisher, log, tracer, runnerMetrics)
	scanService := appScanning.NewScanService(jobs, findings, jobRunner, publisher, raspScanner, log, tracer)
	eventService := appScanning.NewRASPEventService(raspEvents, raspScanner, log, tracer)

	// -------------------------------------------------------------------------
	// Start Debug Service
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics, err := mid.NewHTTPMetrics(reg)
	if err != nil {
		return fmt.Errorf("creating http metrics: %w", err)
	}

	debugMux, err := debug.Mux(reg)
	if err != nil {
		return fmt.Errorf("creating debug mux: %w", err)
	}

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Web.DebugHost)
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Start API Service
	log.Info(ctx, "startup", "status", "initializing API support", "scan_types", dispatcher.ScanTypes())

	server := api.NewServer(api.Config{
		Build:           build,
		Log:             log,
		Tracer:          tracer,
		ScanService:     scanService,
		EventService:    eventService,
		DB:              db,
		Metrics:         httpMetrics,
		Addr:            fmt.Sprintf("%s:%s", cfg.Web.APIHost, cfg.Web.APIPort),
		ReadTimeout:     cfg.Web.ReadTimeout,
		WriteTimeout:    cfg.Web.WriteTimeout,
		IdleTimeout:     cfg.Web.IdleTimeout,
		ShutdownTimeout: cfg.Web.ShutdownTimeout,
	})

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := server.Start(sigCtx)

	// -------------------------------------------------------------------------
	// Shutdown
	log.Info(ctx, "shutdown", "status", "waiting for running scans")
	if !waitWithTimeout(jobRunner.Wait, cfg.Web.ShutdownTimeout) {
		log.Warn(ctx, "shutdown", "status", "scans still running at exit")
	}
	log.Info(ctx, "shutdown", "status", "shutdown complete")

	return serveErr
}

// waitWithTimeout reports whether wait returned before d elapsed.
func waitWithTimeout(wait func(), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
