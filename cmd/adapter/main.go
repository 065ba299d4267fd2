package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/adapterinfo"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/api/sttv1"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/config"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/httpapi"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/models"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/server"
	"github.com/nupi-ai/plugin-stt-local-funasr/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// logOutput receives every log line.
var logOutput io.Writer = os.Stderr

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	cfg.CacheDir = resolveCacheDir(cfg, logger)
	logger.Info("starting adapter",
		"version", adapterinfo.Version(),
		"listen_addr", cfg.ListenAddr,
		"http_addr", cfg.HTTPAddr,
		"backend", cfg.Backend,
		"language", cfg.Language,
		"cache_dir", cfg.CacheDir,
		"stride_samples", cfg.StrideSamples(),
	)

	if manager, err := models.NewManager(cfg.CacheDir, logger); err != nil {
		logger.Warn("failed to initialise model cache", "error", err)
	} else if _, err := manager.CleanStaleLocks(models.DefaultLockMaxAge); err != nil {
		logger.Warn("failed to clean stale download locks", "error", err)
	}

	eng, engineErr := engine.New(ctx, cfg, logger)
	if eng == nil {
		logger.Error("engine initialisation failed", "error", engineErr)
		os.Exit(1)
	}
	if engineErr != nil {
		logger.Warn("engine initialised with warnings", "error", engineErr)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("failed to close engine", "error", err)
		}
	}()

	recorder := telemetry.NewRecorder(logger)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind listener", "error", err)
		os.Exit(1)
	}
	defer lis.Close()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)

	serviceName := sttv1.SpeechToTextService_ServiceDesc.ServiceName
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	srv := server.New(cfg, logger, eng, recorder)
	sttv1.RegisterSpeechToTextServiceServer(grpcServer, srv)

	var serving atomic.Bool
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)
	serving.Store(true)

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpapi.NewRouter(httpapi.Options{
				Punctuator: srv,
				Recorder:   recorder,
				Backend:    eng.Backend(),
				Aligned:    eng.Aligned(),
				Ready:      serving.Load,
				Logger:     logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	if httpServer != nil {
		g.Go(func() error {
			logger.Info("http server started", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested, stopping servers")
		serving.Store(false)
		healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown failed", "error", err)
			}
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server terminated with error", "error", err)
		os.Exit(1)
	}

	if snapshot := recorder.Snapshot(); snapshot.TotalStreams > 0 || snapshot.TotalPunctuations > 0 {
		logger.Info("telemetry totals",
			"total_streams", snapshot.TotalStreams,
			"total_segments", snapshot.TotalSegments,
			"total_transcripts", snapshot.TotalTranscripts,
			"total_final_transcripts", snapshot.TotalFinalTranscripts,
			"total_bytes", snapshot.TotalBytes,
			"total_flushes", snapshot.TotalFlushes,
			"total_commits", snapshot.TotalCommits,
			"total_punctuations", snapshot.TotalPunctuations,
			"inference_ms", snapshot.InferenceTime.Milliseconds(),
		)
	}

	logger.Info("adapter stopped")
}

// resolveCacheDir keeps an explicit cache directory, otherwise reuses an
// existing model hub cache and falls back to the data directory.
func resolveCacheDir(cfg config.Config, logger *slog.Logger) string {
	if strings.TrimSpace(cfg.CacheDir) != "" {
		return cfg.CacheDir
	}
	home, _ := os.UserHomeDir()
	dir, found := models.ResolveCacheDir(
		models.CacheCandidates(os.LookupEnv, home),
		filepath.Join(cfg.DataDir, "models"),
	)
	if !found {
		logger.Info("no existing model cache found; using default", "cache_dir", dir)
	}
	return dir
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
