// ABOUTME: OpenTelemetry exporter factory for creating metric readers and trace exporters (Prometheus, OTLP, stdout)
// ABOUTME: Handles configuration of export destinations including the Prometheus scrape endpoint

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

var otelLogger = log.WithField("component", "telemetry")

// createMetricReaders creates metric readers based on configuration. When the
// prometheus exporter is configured the returned server is already serving /metrics.
func createMetricReaders(cfg Config, o providerOptions) ([]metric.Reader, *http.Server, error) {
	var readers []metric.Reader
	var promServer *http.Server

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "prometheus":
			reader, srv, err := createPrometheusReader(cfg)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			readers = append(readers, reader)
			promServer = srv

		case "stdout":
			exporter, err := createStdoutMetricExporter(o)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			readers = append(readers, metric.NewPeriodicReader(exporter,
				metric.WithInterval(cfg.MetricInterval),
				metric.WithTimeout(cfg.ExportTimeout),
			))

		default:
			// otlp carries traces only in this setup
			continue
		}
	}

	if len(readers) == 0 {
		exporter, err := createStdoutMetricExporter(o)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create default stdout metric exporter: %w", err)
		}
		readers = append(readers, metric.NewPeriodicReader(exporter,
			metric.WithInterval(cfg.MetricInterval),
			metric.WithTimeout(cfg.ExportTimeout),
		))
	}

	return readers, promServer, nil
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(cfg Config, o providerOptions) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "otlp":
			exporter, err := createOTLPTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case "stdout":
			exporter, err := createStdoutTraceExporter(o)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			// prometheus carries metrics only
			continue
		}
	}

	return exporters, nil
}

// createPrometheusReader registers an OpenTelemetry bridge on a private
// registry and serves it over HTTP on the configured port.
func createPrometheusReader(cfg Config) (metric.Reader, *http.Server, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.PrometheusPort))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on prometheus port: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			otelLogger.Error("prometheus endpoint stopped: %v", err)
		}
	}()

	return exporter, srv, nil
}

// createStdoutMetricExporter creates a stdout metrics exporter.
func createStdoutMetricExporter(o providerOptions) (metric.Exporter, error) {
	return stdoutmetric.New(
		stdoutmetric.WithWriter(o.stdout),
		stdoutmetric.WithPrettyPrint(),
	)
}

// createOTLPTraceExporter creates an OTLP trace exporter.
func createOTLPTraceExporter(cfg Config) (trace.SpanExporter, error) {
	ctx := context.Background()
	return otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
		otlptracegrpc.WithInsecure(),
	)
}

// createStdoutTraceExporter creates a stdout trace exporter.
func createStdoutTraceExporter(o providerOptions) (trace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(o.stdout),
		stdouttrace.WithPrettyPrint(),
	)
}
