// Package telemetry installs the global otel providers from telemetry.json5.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tmfiling-backend/lib/configutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ConfigName   = "telemetry.json5"
	setupTimeout = 15 * time.Second
)

// OtlpConnConfig names one collector endpoint, grpc wins when both are set.
type OtlpConnConfig struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

func (c OtlpConnConfig) enabled() bool {
	return c.endpoint() != ""
}

type OtlpConfig struct {
	Traces  OtlpConnConfig `json:"traces"`
	Metrics OtlpConnConfig `json:"metrics"`
}

type Config struct {
	Otlp OtlpConfig `json:"otlp"`
	// SampleRatio below 1 samples that share of new traces.
	SampleRatio           float64 `json:"sample_ratio"`
	MetricIntervalSeconds int     `json:"metric_interval_seconds"`
}

// Telemetry holds whatever providers Setup installed, either may be nil.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

// Shutdown flushes and stops the installed providers.
func (t Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.TracerProvider != nil {
		errs = append(errs, t.TracerProvider.Shutdown(ctx))
	}
	if t.MeterProvider != nil {
		errs = append(errs, t.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Setup installs global tracer and meter providers exporting over otlp.
// Signals without an endpoint keep the no-op provider.
func Setup(ctx context.Context, serviceName string, config Config) (Telemetry, error) {
	var out Telemetry
	if !config.Otlp.Traces.enabled() && !config.Otlp.Metrics.enabled() {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return out, err
	}

	if config.Otlp.Traces.enabled() {
		out.TracerProvider, err = newTraceProvider(ctx, r, config)
		if err != nil {
			return Telemetry{}, err
		}
		otel.SetTracerProvider(out.TracerProvider)
	}
	if config.Otlp.Metrics.enabled() {
		out.MeterProvider, err = newMetricProvider(ctx, r, config)
		if err != nil {
			return out, errors.Join(err, out.Shutdown(ctx))
		}
		otel.SetMeterProvider(out.MeterProvider)
	}
	return out, nil
}

// SetupFromEnv runs Setup with the nearest telemetry.json5 above the cwd.
// Without one nothing is exported.
func SetupFromEnv(ctx context.Context, serviceName string) (Telemetry, error) {
	config, err := configutil.ReadRecursively[Config](ConfigName)
	if errors.Is(err, configutil.ErrNotFound) {
		return Telemetry{}, nil
	}
	if err != nil {
		return Telemetry{}, err
	}
	return Setup(ctx, serviceName, config)
}

var (
	testSetupMutex sync.Mutex
	testSetupDone  = map[string]bool{}
)

// SetupForTesting runs SetupFromEnv once per service name for the test
// binary. The returned func shuts the providers down again.
func SetupForTesting(t testing.TB, serviceName string) func() {
	testSetupMutex.Lock()
	defer testSetupMutex.Unlock()
	if testSetupDone[serviceName] {
		return func() {}
	}
	testSetupDone[serviceName] = true

	tel, err := SetupFromEnv(context.Background(), serviceName)
	if err != nil {
		t.Fatal(err)
	}
	return func() {
		err := tel.Shutdown(context.Background())
		if err != nil {
			t.Error(err)
		}
	}
}
