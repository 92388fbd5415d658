package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bryanwahyu/qr-biometric/internal/application"
	appauth "github.com/bryanwahyu/qr-biometric/internal/application/auth"
	appscans "github.com/bryanwahyu/qr-biometric/internal/application/scans"
	"github.com/bryanwahyu/qr-biometric/internal/config"
	authdomain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
	"github.com/bryanwahyu/qr-biometric/internal/infra/biometric"
	"github.com/bryanwahyu/qr-biometric/internal/infra/capture"
	"github.com/bryanwahyu/qr-biometric/internal/infra/capture/zbar"
	"github.com/bryanwahyu/qr-biometric/internal/infra/credential"
	mysqlp "github.com/bryanwahyu/qr-biometric/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/qr-biometric/internal/infra/db/postgres"
	sqlitep "github.com/bryanwahyu/qr-biometric/internal/infra/db/sqlite"
	"github.com/bryanwahyu/qr-biometric/internal/infra/httpserver"
	"github.com/bryanwahyu/qr-biometric/internal/infra/logger"
	"github.com/bryanwahyu/qr-biometric/internal/infra/security"
	minioStore "github.com/bryanwahyu/qr-biometric/internal/infra/storage"
	"github.com/bryanwahyu/qr-biometric/internal/middleware"
)

func main() {
	// .env opsional, untuk dev lokal
	_ = godotenv.Load()

	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx := context.Background()
	health := middleware.NewHealth()

	// record store
	repo, closeRepo, err := openRepository(ctx, cfg, health)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer closeRepo()

	// credential store: redis kalau dikonfigurasi, selain itu in-memory
	var creds authdomain.CredentialStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store := credential.NewRedisStore(rdb, cfg.Redis.Key)
		creds = store
		health.Add(middleware.Dependency{Name: "redis", Checker: store})
	} else {
		zl.Warn("redis not configured, enrolled pin is lost on restart")
		creds = credential.NewMemoryStore()
	}

	argonCfg := security.DefaultArgon2Config()
	argonCfg.Memory = cfg.Auth.Argon2.MemoryKiB
	argonCfg.Iterations = cfg.Auth.Argon2.Iterations
	argonCfg.Parallelism = cfg.Auth.Argon2.Parallelism
	hasher, err := security.NewPinHasher(argonCfg)
	if err != nil {
		return err
	}

	metrics := middleware.NewMetrics()
	clock := application.SystemClock{}

	bio := biometric.NewBridge(authdomain.ParseBiometricKind(cfg.Auth.BiometricKind), cfg.Auth.BiometricTimeout)
	policy := appauth.DefaultPolicy()
	policy.MaxPinFailures = cfg.Auth.MaxPinFailures
	policy.LockoutCooldown = cfg.Auth.LockoutCooldown
	policy.MinPinLength = cfg.Auth.MinPinLength
	policy.MaxPinLength = cfg.Auth.MaxPinLength
	authSvc := appauth.NewService(bio, creds, hasher,
		appauth.WithPolicy(policy),
		appauth.WithClock(clock),
		appauth.WithLogger(zl.Named("auth")),
		appauth.WithRecorder(metrics),
	)
	defer authSvc.Close()

	// capture source
	var (
		source domain.CaptureSource
		feed   httpserver.FramePusher
	)
	switch cfg.Scan.Capture {
	case "zbar":
		zs := zbar.New(zbar.Config{
			Mode:   zbar.Mode(cfg.Scan.Zbar.Mode),
			Device: cfg.Scan.Zbar.Device,
			Binary: cfg.Scan.Zbar.Binary,
			Image:  cfg.Scan.Zbar.Image,
		}, zl.Named("zbar"))
		// a missing camera degrades /health but never takes the store down
		health.Add(middleware.Dependency{Name: "capture", Checker: zs, Optional: true})
		source = zs
	default:
		f := capture.NewFeed(cfg.Scan.FeedBuffer)
		source, feed = f, f
	}

	scanSvc := appscans.NewService(repo, source, authSvc,
		appscans.WithClock(clock),
		appscans.WithDeduper(appscans.NewDeduper(cfg.Scan.DedupWindow)),
		appscans.WithRecorder(metrics),
		appscans.WithLogger(zl.Named("scans")),
	)
	defer scanSvc.Close()

	// keluar dari Authenticated -> scanning berhenti
	authEvents, unsubscribe := authSvc.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range authEvents {
			if ev.Phase != authdomain.PhaseAuthenticated && scanSvc.Session().Phase != domain.PhaseIdle {
				zl.Info("auth lost, stopping scan", zap.String("auth_phase", string(ev.Phase)))
				scanSvc.StopScanning()
			}
		}
	}()

	limiter := middleware.NewRateLimiter(cfg.Security.PinRateBurst, cfg.Security.PinRateRPS)
	defer limiter.Close()

	handler := httpserver.NewRouter(httpserver.Deps{
		Auth:           authSvc,
		Scans:          scanSvc,
		Feed:           feed,
		Biometric:      bio,
		Metrics:        metrics,
		Health:         health,
		DeviceKeys:     middleware.DeviceKeys(cfg.Security.DeviceKeys),
		PinLimiter:     limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            zl.Named("http"),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: biometric attempts and /v1/events are long lived
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server listening", zap.String("addr", addr), zap.String("store", cfg.Store.Driver), zap.String("capture", cfg.Scan.Capture))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return err
	}
	zl.Info("shutting down server...")

	scanSvc.StopScanning()
	authSvc.SignOut()

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		zl.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// openRepository builds the record store selected by store.driver and
// registers its health check.
func openRepository(ctx context.Context, cfg *config.Config, health *middleware.Health) (domain.Repository, func(), error) {
	noop := func() {}
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		if db, err = mysqlp.Connect(ctx, cfg.MySQLDSN()); err != nil {
			return nil, noop, err
		}
		if cfg.Store.EnsureSchema {
			if err := mysqlp.EnsureSchema(ctx, db); err != nil {
				db.Close()
				return nil, noop, err
			}
		}
		health.Add(middleware.Dependency{Name: "database", Checker: middleware.SQLChecker{DB: db}})
		return mysqlp.NewRecordRepository(db), func() { db.Close() }, nil

	case config.DriverPostgres:
		if db, err = postgresp.Connect(ctx, cfg.Postgres.DSN); err != nil {
			return nil, noop, err
		}
		if cfg.Store.EnsureSchema {
			if err := postgresp.EnsureSchema(ctx, db); err != nil {
				db.Close()
				return nil, noop, err
			}
		}
		health.Add(middleware.Dependency{Name: "database", Checker: middleware.SQLChecker{DB: db}})
		return postgresp.NewRecordRepository(db), func() { db.Close() }, nil

	case config.DriverMinio:
		store, err := minioStore.New(ctx, minioStore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.BucketName,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, noop, err
		}
		health.Add(middleware.Dependency{Name: "storage", Checker: store, Timeout: 5 * time.Second})
		return store, noop, nil

	default:
		if db, err = sqlitep.Open(ctx, cfg.SQLite.Path); err != nil {
			return nil, noop, err
		}
		health.Add(middleware.Dependency{Name: "database", Checker: middleware.SQLChecker{DB: db}})
		return sqlitep.NewRecordRepository(db), func() { db.Close() }, nil
	}
}
