package main

import (
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/kestreltrace/kestrel/pkg/archive"
	"github.com/kestreltrace/kestrel/pkg/client"
	otelServer "github.com/kestreltrace/kestrel/pkg/otel/server"
	"github.com/kestreltrace/kestrel/pkg/trace"
	traceService "github.com/kestreltrace/kestrel/pkg/trace/service"
	"github.com/kestreltrace/kestrel/pkg/transport"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
)

const flushInterval = 5 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := client.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: (1 << 20) * 10,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		logger.Fatal("Failed to create ristretto cache", zap.Error(err))
	}
	traceBuffer := trace.NewWriteBehindCacheImpl(cache)

	var agentTransport transport.Transport = transport.NewHttpTransportImpl(cfg.AgentAddress(), logger)
	if cfg.Archive {
		es, err := elasticsearch.NewDefaultClient()
		if err != nil {
			logger.Fatal("Failed to create elasticsearch client", zap.Error(err))
		}
		ac := archive.NewArchiveClientImpl(es, archive.Async)
		spanBuffer := archive.NewSpanWriteBufferImpl(ac, archive.SpanIndexName, logger)
		agentTransport = archive.NewTeeTransport(agentTransport, spanBuffer)
	}

	tracingClient := client.NewTracingClientImpl(cfg, agentTransport, logger)
	tracingClient.Start()
	defer tracingClient.Stop()

	flusher := traceService.NewTraceFlusherImpl(traceBuffer, tracingClient, flushInterval, logger)
	flusherCleanup := flusher.Start()
	defer flusherCleanup()

	listener, err := net.Listen("tcp", ":4317")
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	srv := grpc.NewServer()
	traceServiceServer := otelServer.NewTraceServiceServerImpl(logger, traceBuffer)
	protoTrace.RegisterTraceServiceServer(srv, traceServiceServer)
	logger.Info(
		"gRPC service started, listening for OpenTelemetry traces...",
		zap.String("service", cfg.Service),
		zap.String("agent", cfg.AgentAddress()),
	)

	if err := srv.Serve(listener); err != nil {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
}
