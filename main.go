package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/image-detection/internal/auth"
	"github.com/example/image-detection/internal/config"
	"github.com/example/image-detection/internal/facematch"
	"github.com/example/image-detection/internal/forensics"
	"github.com/example/image-detection/internal/handlers"
	"github.com/example/image-detection/internal/logging"
	"github.com/example/image-detection/internal/repository"
	"github.com/example/image-detection/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()

	var scorer usecase.Scorer
	if cfg.ForensicsConfigured() {
		scorer = forensics.NewClient(cfg.ForensicsURL, cfg.APIUser, cfg.APISecret, logger)
	} else {
		logger.Warn("forensics credentials not set, scoring disabled")
	}

	var faces usecase.FaceSearcher
	if matcher, err := initFaceMatcher(cfg, logger); err != nil {
		logger.Warn("face matching disabled", zap.Error(err))
	} else {
		defer matcher.Close()
		faces = matcher
	}

	var store usecase.DetectionStore
	if cfg.DatabaseDSN != "" {
		repo := initDatabase(ctx, cfg.DatabaseDSN, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		store = repo
	} else {
		logger.Warn("DATABASE_DSN not set, detection history disabled")
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
		redisCancel()
	} else {
		logger.Warn("REDIS_ADDR not set, result cache disabled")
	}

	uc := usecase.NewInspectionUseCase(scorer, faces, store, cache, cfg.GalleryPath, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	var authMiddleware gin.HandlerFunc
	if cfg.AuthEnabled() {
		authMiddleware = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	}

	handlers.RegisterRoutes(r, uc, authMiddleware)

	server := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: r,
	}

	logger.Info("image detection API listening",
		zap.String("addr", cfg.ListenAddr()),
		zap.Bool("forensics", scorer != nil),
		zap.Bool("face_matching", faces != nil),
		zap.Bool("history", store != nil),
		zap.Bool("cache", cache != nil),
	)
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initFaceMatcher(cfg *config.Config, logger *zap.Logger) (*facematch.Matcher, error) {
	if err := facematch.ValidateModelsDir(cfg.FaceModelsDir); err != nil {
		return nil, err
	}
	return facematch.NewMatcher(cfg.FaceModelsDir, logger)
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *repository.DetectionRepository {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return repository.NewDetectionRepository(db, zapLogger)
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
