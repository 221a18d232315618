// mediaforge/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	goredis "github.com/redis/go-redis/v9"

	"mediaforge/api"
	"mediaforge/config"
	"mediaforge/dispatch"
	"mediaforge/ffmpeg"
	"mediaforge/storage"
	"mediaforge/store/memory"
	redisstore "mediaforge/store/redis"
	"mediaforge/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// 2. Initialize the engine driver
	engine, err := ffmpeg.New(ffmpeg.Options{
		Bin:          cfg.EngineBin,
		ProbeBin:     cfg.ProbeBin,
		ExtraArgs:    cfg.EngineExtraArgs,
		StageTimeout: cfg.StageTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	// 3. Initialize the task store and the media gateway
	repo, err := newRepository(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize task store: %v", err)
	}
	gateway, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// 4. Initialize the dispatcher and its scratch workspace
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "mediaforge")
	}
	ws, err := dispatch.NewWorkspace(workDir, logger)
	if err != nil {
		log.Fatalf("Failed to initialize workspace: %v", err)
	}
	disp := dispatch.New(repo, gateway, engine, ws, dispatch.Options{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Limits: dispatch.Limits{
			CPUPercent: cfg.ThrottleCPU,
			FreeMem:    uint64(cfg.ThrottleFreeMem),
			FreeDisk:   uint64(cfg.ThrottleFreeDisk),
			DiskPath:   workDir,
		},
		SweepInterval: cfg.SweepInterval,
		SweepMaxAge:   cfg.SweepMaxAge,
	}, logger)

	// 5. Set up router and server
	handler := api.NewHandler(repo, disp, gateway, cfg)
	router := api.SetupRouter(handler, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 6. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	disp.Start(ctx)

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 7. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	// Workers requeue whatever they were running before the process exits.
	disp.Wait()

	logger.Info("server exiting")
}

// newLogger builds the process-wide JSON logger. Unknown levels fall back
// to info rather than failing startup.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newRepository(cfg *config.Config) (task.Repository, error) {
	switch cfg.StoreBackend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(client, cfg.RedisPrefix), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown task store backend: %q", cfg.StoreBackend)
	}
}

func newGateway(cfg *config.Config) (storage.Gateway, error) {
	switch cfg.StorageBackend {
	case "minio":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
			Bucket:    cfg.MinioBucket,
			URLTTL:    cfg.MinioURLTTL,
			MaxInput:  datasize.ByteSize(cfg.MaxInputSize),
		})
	case "local":
		base := cfg.BaseURL
		if base == "" {
			base = "http://localhost:" + cfg.Port
		}
		return storage.NewLocal(cfg.MediaDir, base, datasize.ByteSize(cfg.MaxInputSize))
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.StorageBackend)
	}
}
