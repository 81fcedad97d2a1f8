package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"aluastro/internal/csrftoken"
	"aluastro/internal/ratelimit"
	"aluastro/internal/util"
	"aluastro/pkg/notify"
	"aluastro/pkg/storage"
	"aluastro/pkg/store"
	"aluastro/services/api/internal/app"
	"aluastro/services/api/internal/config"
	"aluastro/services/api/internal/intake"
	"aluastro/services/api/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("api: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close dependency", "err", err)
			}
		}
	}()

	docs, err := openDocumentStore(cfg)
	if err != nil {
		return err
	}
	if c, ok := docs.(io.Closer); ok {
		closers = append(closers, c)
	}
	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	limiter, err := openApplyLimiter(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, limiter)

	var notifier notify.Notifier = notify.Nop{}
	switch {
	case cfg.AMQPURL != "":
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		closers = append(closers, amqpNotifier)
		notifier = amqpNotifier
	case cfg.NotifyStream != "":
		streamNotifier, err := notify.NewRedisStreamNotifier(notify.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.NotifyStream,
		})
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		closers = append(closers, streamNotifier)
		notifier = streamNotifier
	}

	var csrf *csrftoken.Manager
	if cfg.CSRFSecret != "" {
		ttl, err := config.ParseDuration(cfg.CSRFTokenTTL)
		if err != nil {
			return fmt.Errorf("parse csrf token ttl: %w", err)
		}
		csrf, err = csrftoken.NewManager(csrftoken.Options{Secret: cfg.CSRFSecret, TTL: ttl})
		if err != nil {
			return fmt.Errorf("init csrf: %w", err)
		}
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	appCore, err := app.New(app.Config{
		Store:    docs,
		Objects:  objects,
		Notifier: notifier,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		ApplyLimiter:   limiter,
		TrustedProxies: trusted,
		CORSOrigins:    cfg.CORSOrigins,
		Intake:         intake.NewPolicy(cfg.MaxUploadBytes, cfg.AllowedContentTypes),
		CSRF:           csrf,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server listening",
			"addr", addr,
			"document_store", cfg.DocumentStore,
			"object_store", cfg.ObjectStore,
			"rate_limit_backend", cfg.RateLimitBackend,
			"csrf", csrf != nil,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		logger.Info("api server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openDocumentStore(cfg config.FileConfig) (store.Store, error) {
	switch cfg.DocumentStore {
	case config.StoreMemory:
		slog.Warn("using in-memory document store; applications are lost on restart")
		return store.NewMemoryStore(), nil
	default:
		st, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		return st, nil
	}
}

func openObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	switch cfg.ObjectStore {
	case config.StoreMemory:
		slog.Warn("using in-memory object store; uploaded CVs are lost on restart")
		return storage.NewMemoryStore(), nil
	default:
		initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		objects, err := storage.NewMinioStore(initCtx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		return objects, nil
	}
}

func openApplyLimiter(cfg config.FileConfig) (ratelimit.Limiter, error) {
	switch cfg.RateLimitBackend {
	case config.StoreRedis:
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "aluastro:ratelimit:apply", cfg.ApplyRateLimitPerMinute, cfg.RateLimitWindow())
		if err != nil {
			return nil, fmt.Errorf("init redis rate limiter: %w", err)
		}
		return limiter, nil
	default:
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.ApplyRateLimitPerMinute, cfg.RateLimitWindow())
		if err != nil {
			return nil, fmt.Errorf("init rate limiter: %w", err)
		}
		return limiter, nil
	}
}
