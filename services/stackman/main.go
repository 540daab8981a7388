// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianStacks/pkg/extensions"
	"github.com/AleutianAI/AleutianStacks/services/stackman/compose"
	"github.com/AleutianAI/AleutianStacks/services/stackman/editor"
	"github.com/AleutianAI/AleutianStacks/services/stackman/executor"
	"github.com/AleutianAI/AleutianStacks/services/stackman/handlers"
	"github.com/AleutianAI/AleutianStacks/services/stackman/history"
	"github.com/AleutianAI/AleutianStacks/services/stackman/hub"
	"github.com/AleutianAI/AleutianStacks/services/stackman/metrics"
	"github.com/AleutianAI/AleutianStacks/services/stackman/observability"
	"github.com/AleutianAI/AleutianStacks/services/stackman/poller"
	"github.com/AleutianAI/AleutianStacks/services/stackman/registry"
	"github.com/AleutianAI/AleutianStacks/services/stackman/routes"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		// Tracing is optional for an on-host control plane.
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("stackman-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("unparseable duration, using default", "var", key, "value", raw, "default", fallback)
		return fallback
	}
	return d
}

func main() {
	port := envOr("STACKMAN_PORT", "12300")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	coreDir := envOr("STACKS_CORE_DIR", "/opt/stacks/core")
	connectorsDir := envOr("STACKS_CONNECTORS_DIR", "/opt/stacks/connectors")
	dataDir := envOr("STACKS_DATA_DIR", "/var/lib/stackman")
	pollInterval := envDuration("STACKS_POLL_INTERVAL", poller.DefaultInterval)
	sampleInterval := envDuration("STACKS_SAMPLE_INTERVAL", metrics.DefaultInterval)
	historyWindow := envDuration("STACKS_HISTORY_WINDOW", history.DefaultWindow)

	reg := registry.New(coreDir, connectorsDir)
	runner := compose.NewCLI()
	broadcast := hub.New()

	store, err := history.Open(history.Config{
		Path:   filepath.Join(dataDir, "history"),
		Window: historyWindow,
	})
	if err != nil {
		log.Fatalf("FATAL: could not open the history store: %v", err)
	}
	defer store.Close()

	// Editing is disabled unless a credential is configured.
	var auth extensions.AuthProvider
	if credential := os.Getenv("STACKS_EDIT_CREDENTIAL"); credential != "" {
		auth, err = extensions.NewStaticCredentialProvider(credential)
		if err != nil {
			log.Fatalf("FATAL: invalid edit credential: %v", err)
		}
	} else {
		slog.Warn("STACKS_EDIT_CREDENTIAL not set; config editing stays locked")
		auth = extensions.AuthProvider(deniedAuth{})
	}

	statusPoller := poller.New(reg, runner, broadcast, pollInterval)
	exec := executor.New(runner)
	ed := editor.New(auth, reg, statusPoller, 0)

	var broker *metrics.BrokerProbe
	if url := os.Getenv("STACKS_RABBITMQ_URL"); url != "" {
		broker = &metrics.BrokerProbe{
			URL:      url,
			Username: envOr("STACKS_RABBITMQ_USER", "guest"),
			Password: envOr("STACKS_RABBITMQ_PASS", "guest"),
		}
	}

	var mirror influxapi.WriteAPIBlocking
	if influxURL := os.Getenv("STACKS_INFLUX_URL"); influxURL != "" {
		influxClient := influxdb2.NewClient(influxURL, os.Getenv("STACKS_INFLUX_TOKEN"))
		defer influxClient.Close()
		mirror = influxClient.WriteAPIBlocking(
			envOr("STACKS_INFLUX_ORG", "aleutian"),
			envOr("STACKS_INFLUX_BUCKET", "stackman"),
		)
		slog.Info("mirroring snapshots to InfluxDB", "url", influxURL)
	}

	sampler := metrics.New(metrics.Config{
		Source:   &metrics.GopsutilSource{},
		Broker:   broker,
		Store:    store,
		Pub:      broadcast,
		Mirror:   mirror,
		Interval: sampleInterval,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	slog.Info("stackman starting",
		"port", port,
		"core_dir", coreDir,
		"connectors_dir", connectorsDir,
		"data_dir", dataDir,
		"poll_interval", pollInterval,
		"sample_interval", sampleInterval)

	go statusPoller.Run(ctx)
	go sampler.Run(ctx)
	onLayoutChange := func() {
		// Manifest churn on disk forces a status re-poll and a fresh
		// connectors list so new or removed stacks appear without waiting
		// for the next tick or a viewer request.
		broadcast.Publish(hub.Event{Event: hub.EventKnownConnectors, Data: reg.Connectors()})
		statusPoller.Poll(ctx)
	}
	go func() {
		if err := reg.Watch(ctx, onLayoutChange); err != nil {
			slog.Warn("filesystem watcher unavailable; relying on the poll interval", "error", err)
		}
	}()

	router := gin.Default()
	router.Use(otelgin.Middleware("stackman-service"))

	routes.SetupRoutes(router, routes.Deps{
		Stacks: handlers.StackDeps{
			Hub:      broadcast,
			Registry: reg,
			Executor: exec,
			Refresh:  func() { statusPoller.Poll(ctx) },
		},
		Editor:  ed,
		History: store,
		UIDir:   envOr("STACKS_UI_DIR", ""),
	})

	log.Println("Starting the stackman server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// deniedAuth refuses every credential. Used when no edit credential is
// configured so unlock attempts fail closed.
type deniedAuth struct{}

func (deniedAuth) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return nil, extensions.ErrUnauthorized
}
