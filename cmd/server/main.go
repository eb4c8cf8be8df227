package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	grpcserver "github.com/akmukhi/developer-self-service/internal/api/grpc"
	"github.com/akmukhi/developer-self-service/internal/api/middleware"
	"github.com/akmukhi/developer-self-service/internal/api/rest"
	"github.com/akmukhi/developer-self-service/internal/api/websocket"
	"github.com/akmukhi/developer-self-service/internal/config"
	"github.com/akmukhi/developer-self-service/internal/environment"
	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/metrics"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
	"github.com/akmukhi/developer-self-service/internal/pkg/tracing"
	"github.com/akmukhi/developer-self-service/internal/repository"
	"github.com/akmukhi/developer-self-service/internal/service"
	"github.com/akmukhi/developer-self-service/internal/terraform"
)

func main() {
	if err := run(); err != nil {
		logger.StdLogger().Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	log.Info("Developer portal starting", "port", cfg.Port, "store", cfg.StoreBackend)

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(tracing.Options{
			ServiceName:  "developer-self-service",
			Endpoint:     cfg.TracingEndpoint,
			Protocol:     cfg.TracingProtocol,
			SamplingRate: cfg.TracingSamplingRate,
		})
		if err != nil {
			log.Warn("Tracing disabled", "error", err)
		} else {
			defer shutdownTracing()
			log.Info("Tracing enabled", "endpoint", cfg.TracingEndpoint)
		}
	}

	// Environment store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer store.Close()

	// Kubernetes client
	client, err := k8s.NewClient(cfg.KubeconfigPath, cfg.KubeContext)
	if err != nil {
		return fmt.Errorf("kubernetes client: %w", err)
	}
	if cfg.K8sTimeoutSec > 0 {
		client.SetTimeout(time.Duration(cfg.K8sTimeoutSec) * time.Second)
	}
	if cfg.K8sRateLimitPerSec > 0 {
		burst := cfg.K8sRateLimitBurst
		if burst <= 0 {
			burst = int(cfg.K8sRateLimitPerSec)
		}
		client.SetLimiter(rate.NewLimiter(rate.Limit(cfg.K8sRateLimitPerSec), burst))
	}
	probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.TestConnection(probeCtx); err != nil {
		log.Warn("Cluster not reachable at startup; requests will fail until it is", "error", err)
	}
	probeCancel()

	// Services
	secretsService := service.NewSecretsService(client, log)
	catalogService := service.NewCatalogService(client, secretsService, log)
	deploymentService := service.NewDeploymentService(client, log)
	logsService := service.NewLogsService(client, log)
	var usageCache metrics.PodUsageCache
	if cfg.MetricsCacheTTLSec > 0 {
		usageCache = metrics.NewLRUPodUsageCache(time.Duration(cfg.MetricsCacheTTLSec) * time.Second)
	}
	metricsService := service.NewMetricsService(client, metrics.NewMetricsServerProvider(client), usageCache, log)

	// Terraform
	runner := terraform.NewRunner(cfg.TerraformBinary, time.Duration(cfg.TerraformTimeoutSec)*time.Second, log)
	if v, err := runner.Verify(ctx, cfg.TerraformMinVersion); err != nil {
		log.Warn("Terraform unavailable; infrastructure operations will fail", "error", err)
	} else {
		log.Info("Terraform found", "version", v.String())
	}
	workspaces, err := terraform.NewWorkspaces(runner, cfg.TerraformWorkspaceBase, log)
	if err != nil {
		return fmt.Errorf("terraform workspaces: %w", err)
	}

	// Environment event feed
	hub := websocket.NewHub(ctx, log)
	go hub.Run()

	manager := environment.NewManager(store, client,
		environment.WithLogger(log),
		environment.WithNotifier(hub),
		environment.WithServiceNamespace(cfg.ServiceNamespace),
	)
	if cfg.EnvironmentReaperIntervalSec > 0 {
		reaper := environment.NewReaper(manager, time.Duration(cfg.EnvironmentReaperIntervalSec)*time.Second, log)
		reaper.Start(ctx)
		defer reaper.Stop()
	}

	// Setup HTTP router
	router := mux.NewRouter()
	handler := rest.NewHandler(rest.Deps{
		Environments:   manager,
		Services:       catalogService,
		Deployments:    deploymentService,
		Secrets:        secretsService,
		Logs:           logsService,
		Metrics:        metricsService,
		Infrastructure: workspaces,
		Cluster:        client,
		Store:          store,
		Logger:         log,
	})
	rest.SetupRoutes(router, handler)
	websocket.SetupRoutes(router, websocket.NewHandler(ctx, hub, logsService, cfg.AllowedOrigins, log))

	// Outermost first
	chain := []func(http.Handler) http.Handler{
		middleware.Recover(log),
		middleware.RequestID,
		middleware.Tracing,
		middleware.StructuredLog,
		middleware.SecureHeaders,
		middleware.MaxBodySize(cfg.MaxRequestBodyBytes, cfg.MaxInfraBodyBytes),
		middleware.NewRateLimiter(cfg.APIRateLimitPerSec, cfg.APIRateLimitBurst).Middleware,
		middleware.CORS(cfg.AllowedOrigins, log),
	}
	var h http.Handler = router
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  60 * time.Second,
	}

	var grpcSrv *grpcserver.Server
	if cfg.GRPCPort > 0 {
		grpcSrv = grpcserver.NewServer(cfg.GRPCPort, client, 0, log)
		if err := grpcSrv.Start(ctx); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening",
			"api", fmt.Sprintf("http://localhost:%d/api", cfg.Port),
			"events", fmt.Sprintf("ws://localhost:%d/ws/environments", cfg.Port),
			"health", fmt.Sprintf("http://localhost:%d/health", cfg.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutting down server", "signal", sig.String())
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop feeds first so hijacked websocket connections do not hold Shutdown open.
	hub.Stop()
	cancel()
	if grpcSrv != nil {
		grpcSrv.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server forced to shutdown", "error", err)
	}
	log.Info("Server exited gracefully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.EnvironmentStore, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return repository.NewSQLiteStore(ctx, cfg.DatabasePath)
	case config.StorePostgres:
		return repository.NewPostgresStore(ctx, cfg.DatabaseURL)
	case config.StoreRedis:
		return repository.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return repository.NewMemoryStore(), nil
	}
}
