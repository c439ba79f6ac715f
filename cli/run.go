package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/resily/resily/engine/batch"
	"github.com/resily/resily/engine/breaker"
	"github.com/resily/resily/engine/core"
	"github.com/resily/resily/engine/metrics"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/engine/retry"
	"github.com/resily/resily/engine/sequential"
	"github.com/resily/resily/engine/tracker"
	"github.com/resily/resily/pkg/config"
	"github.com/resily/resily/pkg/logger"
	"github.com/spf13/cobra"
)

const metricsShutdownTimeout = 5 * time.Second

// RunCmd returns the run command.
func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a scenario file through the engine",
		Long: "Run loads a scenario file, executes its tasks through the batch or sequential " +
			"executor with the configured retry and breaker policies, and prints a JSON report.",
		RunE: handleRunCmd,
	}
	cmd.Flags().String("scenario", "", "Path to the scenario file")
	cmd.Flags().Int("concurrency", 0, "Maximum tasks in flight (batch mode)")
	cmd.Flags().Bool("abort-on-error", false, "Stop admitting tasks after the first failure")
	cmd.Flags().Bool("metrics", false, "Expose Prometheus metrics while the scenario runs")
	cmd.Flags().String("metrics-addr", "", "Address for the metrics endpoint")
	cmd.Flags().String("metrics-path", "", "HTTP path for the metrics endpoint")
	return cmd
}

func handleRunCmd(cmd *cobra.Command, _ []string) error {
	ctx, envFilePath, err := setupRunEnvironment(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.FromContext(ctx)
	if envFilePath != "" {
		log.Debug("environment file processed", "path", envFilePath)
	}

	cfg, service, err := loadRunConfig(ctx, cmd)
	if err != nil {
		return err
	}
	// The config service folds the file and environment into the runtime
	// section, so the logger is rebuilt from the resolved values.
	log = logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, cfg.Runtime.LogSource)
	ctx = logger.ContextWithLogger(ctx, log)
	log.Debug("configuration resolved", "environment", cfg.Runtime.Environment)

	scenarioPath, err := cmd.Flags().GetString("scenario")
	if err != nil {
		return fmt.Errorf("failed to get scenario flag: %w", err)
	}
	if scenarioPath == "" {
		return fmt.Errorf("the --scenario flag is required")
	}
	scenario, err := LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	log.Info("scenario loaded", "scenario", scenario.Name, "mode", scenario.Mode, "tasks", len(scenario.Tasks))

	shutdownMetrics, err := startMetricsEndpoint(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	report, runErr := executeScenario(ctx, scenario, cfg, service)
	if report != nil {
		if err := writeReport(cmd, report); err != nil {
			return err
		}
	}
	return runErr
}

// setupRunEnvironment loads the env file and installs the logger into the
// command context.
func setupRunEnvironment(cmd *cobra.Command) (context.Context, string, error) {
	envFilePath, err := loadEnvFile(cmd)
	if err != nil {
		return nil, "", err
	}
	logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	log := logger.SetupLogger(logLevel, logJSON, logSource)
	ctx := logger.ContextWithLogger(cmd.Context(), log)
	return ctx, envFilePath, nil
}

// loadRunConfig resolves process configuration from defaults, the config
// file, environment variables, and explicitly set CLI flags.
func loadRunConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, config.Service, error) {
	service := config.NewService()
	sources := []config.Source{config.NewDefaultProvider()}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	cliFlags := make(map[string]any)
	extractCLIFlags(cmd, cliFlags)
	if len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	cfg, err := service.Load(ctx, sources...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, service, nil
}

// startMetricsEndpoint exposes the Prometheus exporter while the scenario
// runs. The returned shutdown function is safe to call when metrics are
// disabled.
func startMetricsEndpoint(ctx context.Context, cfg *config.Config) (func(), error) {
	if !cfg.Metrics.Enabled {
		return func() {}, nil
	}
	log := logger.FromContext(ctx)
	service := metrics.NewServiceWithFallback(ctx, &metrics.ProviderConfig{Enabled: true, Path: cfg.Metrics.Path})
	service.SetAsGlobal()
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, service.ExporterHandler())
	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down metrics server", "error", err)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down metrics provider", "error", err)
		}
	}, nil
}

// executeScenario runs the scenario through the executor its mode selects and
// assembles the run report. A non-nil report is returned alongside the error
// when partial results exist.
func executeScenario(
	ctx context.Context,
	scenario *Scenario,
	cfg *config.Config,
	service config.Service,
) (*Report, error) {
	log := logger.FromContext(ctx)
	registry := breaker.NewRegistry(breakerDefaults(cfg))
	breakers, err := buildBreakers(scenario.Breakers, registry)
	if err != nil {
		return nil, err
	}
	if cfg.Batch.AbortOnError {
		scenario.AbortOnError = true
	}

	watch := &progressWatch{}
	observer := &operation.CallbackObserver{
		Progress: func(percent float64) {
			watch.observe(percent)
			log.Debug("scenario progress", "percent", percent)
		},
		StageChange: func(key string, stage core.StatusType) {
			log.Debug("task stage changed", "task", key, "stage", stage)
		},
		Retry: func(key string, attempt int, err error) {
			log.Warn("task attempt failed, retrying", "task", key, "attempt", attempt, "error", err)
		},
	}
	progress := tracker.NewProgress()
	errs := tracker.NewErrors()
	base := baseRetryConfig(cfg)

	var results map[string]operation.Result[any]
	var runErr error
	switch scenario.Mode {
	case ModeBatch:
		tasks, buildErr := scenario.BatchTasks(base, breakers)
		if buildErr != nil {
			return nil, buildErr
		}
		runner := batch.NewRunner(
			batch.WithDefaultRetry[any](base),
			batch.WithProgressTracker[any](progress),
			batch.WithErrorTracker[any](errs),
			batch.WithObserver[any](observer),
		)
		results, runErr = runner.Run(ctx, tasks, resolveConcurrency(scenario, cfg, service))
	case ModeSequential:
		tasks, buildErr := scenario.SequentialTasks(base, breakers)
		if buildErr != nil {
			return nil, buildErr
		}
		runner := sequential.NewRunner(
			sequential.WithDefaultRetry[any](base),
			sequential.WithProgressTracker[any](progress),
			sequential.WithErrorTracker[any](errs),
			sequential.WithObserver[any](observer),
		)
		results, runErr = runner.Run(ctx, tasks, scenario.External)
	default:
		return nil, fmt.Errorf("scenario mode must be %q or %q, got %q", ModeBatch, ModeSequential, scenario.Mode)
	}
	if results == nil {
		return nil, runErr
	}

	report := buildReport(scenario, results, watch.value())
	if len(breakers) > 0 {
		report.Breakers = make(map[string]string, len(breakers))
		for name, cb := range breakers {
			report.Breakers[name] = string(cb.State())
		}
	}
	return report, runErr
}

// progressWatch keeps the highest progress percent seen. Batch progress
// events arrive from worker goroutines in no particular order.
type progressWatch struct {
	mu  sync.Mutex
	max float64
}

func (w *progressWatch) observe(percent float64) {
	w.mu.Lock()
	if percent > w.max {
		w.max = percent
	}
	w.mu.Unlock()
}

func (w *progressWatch) value() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.max
}

// resolveConcurrency picks the batch concurrency: an explicit CLI flag wins,
// then the scenario, then the process configuration.
func resolveConcurrency(scenario *Scenario, cfg *config.Config, service config.Service) int {
	if service.GetSource("batch.concurrency") == config.SourceCLI {
		return cfg.Batch.Concurrency
	}
	if scenario.Concurrency > 0 {
		return scenario.Concurrency
	}
	return cfg.Batch.Concurrency
}

func baseRetryConfig(cfg *config.Config) *retry.Config {
	return &retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}
}

func breakerDefaults(cfg *config.Config) *breaker.Config {
	return &breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
	}
}
