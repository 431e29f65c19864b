/*
 * Copyright 2026 GridSense Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
	"google.golang.org/grpc/credentials"
)

var (
	ErrOTelLoggingDisabled  = errors.New("OTel logging is disabled")
	ErrOTelEndpointRequired = errors.New("OTel endpoint is required when enabled")
)

// OTelWriter forwards zerolog JSON lines to an OTLP log exporter. It keys
// emitted records by the zerolog "component" field so each component gets its
// own instrumentation scope.
type OTelWriter struct {
	provider *sdklog.LoggerProvider
	loggers  map[string]otellog.Logger
	mu       sync.Mutex
	ctx      context.Context
}

func NewOTelWriter(ctx context.Context, config OTelConfig) (*OTelWriter, error) {
	if !config.Enabled {
		return nil, ErrOTelLoggingDisabled
	}

	if config.Endpoint == "" {
		return nil, ErrOTelEndpointRequired
	}

	opts := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(config.Endpoint),
	}

	if config.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else if config.TLS != nil {
		tlsConfig, err := setupTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to setup TLS configuration: %w", err)
		}

		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(tlsConfig)))
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(config.Headers))
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = "gridsense"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	batchTimeout := config.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 5 * time.Second
	}

	processor := sdklog.NewBatchProcessor(exporter, sdklog.WithExportTimeout(batchTimeout))

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(processor),
	)

	global.SetLoggerProvider(provider)

	return &OTelWriter{
		provider: provider,
		loggers:  make(map[string]otellog.Logger),
		ctx:      ctx,
	}, nil
}

func (w *OTelWriter) Write(p []byte) (n int, err error) {
	if w.provider == nil {
		return len(p), nil
	}

	entry := make(map[string]interface{})
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}

	record := otellog.Record{}

	if ts, ok := entry["time"].(string); ok {
		if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
			record.SetTimestamp(parsed)
			delete(entry, "time")
		}
	}

	if levelStr, ok := entry["level"].(string); ok {
		record.SetSeverity(mapZerologLevel(levelStr))
		record.SetSeverityText(levelStr)
		delete(entry, "level")
	}

	if message, ok := entry["message"].(string); ok {
		record.SetBody(otellog.StringValue(message))
		delete(entry, "message")
	}

	scope := "gridsense-logger"
	if component, ok := entry["component"].(string); ok && component != "" {
		scope = component

		delete(entry, "component")
	}

	w.mu.Lock()
	scoped, found := w.loggers[scope]

	if !found {
		scoped = w.provider.Logger(scope)
		w.loggers[scope] = scoped
	}
	w.mu.Unlock()

	for key, value := range entry {
		record.AddAttributes(otellog.String(key, fmt.Sprintf("%v", value)))
	}

	scoped.Emit(w.ctx, record)

	return len(p), nil
}

// Shutdown flushes pending records and stops the exporter.
func (w *OTelWriter) Shutdown(ctx context.Context) error {
	if w.provider == nil {
		return nil
	}

	return w.provider.Shutdown(ctx)
}

var errFailedToParseCACert = errors.New("failed to parse CA certificate")

func setupTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errFailedToParseCACert
		}

		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func mapZerologLevel(level string) otellog.Severity {
	switch strings.ToLower(level) {
	case "trace":
		return otellog.SeverityTrace
	case "debug":
		return otellog.SeverityDebug
	case "info":
		return otellog.SeverityInfo
	case "warn", "warning":
		return otellog.SeverityWarn
	case "error":
		return otellog.SeverityError
	case "fatal", "panic":
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}

// MultiWriter duplicates log writes to every underlying writer.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (mw *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range mw.writers {
		n, err = w.Write(p)
		if err != nil {
			return n, err
		}

		if n != len(p) {
			return n, io.ErrShortWrite
		}
	}

	return len(p), nil
}
