package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/resily/resily/pkg/logger"
)

// ProviderConfig holds configuration for the metrics service.
type ProviderConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled" env:"METRICS_ENABLED"`
	Path    string `json:"path"    yaml:"path"    mapstructure:"path"    env:"METRICS_PATH"`
}

// DefaultProviderConfig returns the default metrics configuration.
func DefaultProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		Enabled: false,
		Path:    "/metrics",
	}
}

// Validate validates the metrics configuration.
func (c *ProviderConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("metrics path must start with '/': got %s", c.Path)
	}
	if strings.ContainsRune(c.Path, '?') {
		return fmt.Errorf("metrics path cannot contain query parameters")
	}
	return nil
}

// Service encapsulates the Prometheus-backed OpenTelemetry pipeline.
type Service struct {
	meter             metric.Meter
	exporter          *prometheus.Exporter
	provider          *sdkmetric.MeterProvider
	registry          *prom.Registry
	config            *ProviderConfig
	initialized       bool
	initializationErr error
}

// newDisabledService creates a service instance with no-op implementations.
func newDisabledService(cfg *ProviderConfig, initErr error) *Service {
	return &Service{
		config:            cfg,
		meter:             noop.NewMeterProvider().Meter("resily"),
		initialized:       false,
		initializationErr: initErr,
	}
}

// NewService creates a metrics service with a Prometheus exporter and
// registers the engine instruments on its meter.
func NewService(ctx context.Context, cfg *ProviderConfig) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultProviderConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Metrics disabled, using no-op meter")
		return newDisabledService(cfg, nil), nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("resily")
	service := &Service{
		meter:       meter,
		exporter:    exporter,
		provider:    provider,
		registry:    registry,
		config:      cfg,
		initialized: true,
	}
	InitMetrics(ctx, meter)
	log.Info("Metrics service initialized successfully")
	return service, nil
}

// NewServiceWithFallback creates a metrics service that degrades to no-op
// implementations instead of failing, logging the initialization error.
func NewServiceWithFallback(ctx context.Context, cfg *ProviderConfig) *Service {
	log := logger.FromContext(ctx)
	service, err := NewService(ctx, cfg)
	if err != nil {
		log.Error("Failed to initialize metrics, using no-op implementation", "error", err)
		return newDisabledService(cfg, err)
	}
	return service
}

// Meter returns the OpenTelemetry meter for custom instrumentation.
func (s *Service) Meter() metric.Meter {
	return s.meter
}

// ExporterHandler returns an HTTP handler for the metrics endpoint.
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Metrics service not initialized")); err != nil {
				log := logger.FromContext(r.Context())
				log.Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the metrics service.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.provider != nil {
		return s.provider.Shutdown(ctx)
	}
	return nil
}

// IsInitialized returns whether the service was successfully initialized.
func (s *Service) IsInitialized() bool {
	return s.initialized
}

// InitializationError returns any error that occurred during initialization.
func (s *Service) InitializationError() error {
	return s.initializationErr
}

// SetAsGlobal installs this service's provider as the global OpenTelemetry
// meter provider.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}
