package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobreel/backend/internal/config"
	"github.com/jobreel/backend/internal/db"
	"github.com/jobreel/backend/internal/handlers"
	"github.com/jobreel/backend/internal/httpserver"
	"github.com/jobreel/backend/internal/logging"
	"github.com/jobreel/backend/internal/middleware"
	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/repositories"
	"github.com/jobreel/backend/internal/storage"
	"github.com/jobreel/backend/internal/telemetry"
)

// Version is stamped at build time.
var Version = "dev"

const usage = "expected command: serve, migrate [up|down|status], upload-video <ownerID> <path>, or add-application <videoID> <jobSeekerID> <employerID>"

// Run bootstraps the jobreel backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "upload-video":
		return uploadVideo(ctx, args[1:])
	case "add-application":
		return addApplication(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q: %s", args[0], usage)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serve(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if enabled, err := telemetry.Init(cfg.SentryDSN, cfg.Environment, Version); err != nil {
		logger.Warn("sentry disabled", "error", err)
	} else if enabled {
		defer telemetry.Flush()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	if cfg.Notifications.ResumeOnStart {
		resumed, err := deps.dispatcher.ResumePending(ctx)
		if err != nil {
			logger.Warn("could not resume pending notifications", "error", err)
		} else if resumed > 0 {
			logger.Info("resumed pending notifications", "count", resumed)
		}
	}

	go deps.sweeper.Run(ctx)
	go deps.dispatcher.RunResume(ctx, cfg.Notifications.ResumeInterval)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps.handlers)

	handler := middleware.RequestLogger(logger, telemetry.CapturePanic)(mux)
	srv := httpserver.New(cfg.AppPort, handler, cfg.ShutdownGrace, logger)

	logger.Info("starting http server", "port", cfg.AppPort, "version", Version)
	return srv.Run(ctx)
}

const (
	migrationMaxRetries  = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

func runMigrations(ctx context.Context, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return migrateWithRetry(ctx, logger, command, func(ctx context.Context) error {
		return db.Migrate(ctx, pool, command)
	})
}

func migrateWithRetry(ctx context.Context, logger *slog.Logger, command string, apply func(context.Context) error) error {
	var attempt int
	for attempt = 0; attempt < migrationMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * migrationBaseBackoff
			if backoff > migrationMaxBackoff {
				backoff = migrationMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			timer.Stop()
		}

		err := apply(ctx)
		if err == nil {
			return nil
		}
		if shouldRetryMigration(err) && attempt < migrationMaxRetries-1 {
			logger.Warn("transient migration error", "command", command, "attempt", attempt+1, "max_attempts", migrationMaxRetries, "error", err)
			continue
		}
		return fmt.Errorf("migrate %s: %w", command, err)
	}

	return fmt.Errorf("migrate %s: exceeded max retries (%d)", command, attempt)
}

func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	if errors.Is(err, pgx.ErrTxClosed) {
		return true
	}

	return false
}

// uploadVideo stores a local file as a new active video resume. It exists
// for local development; production uploads arrive through another service.
func uploadVideo(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: upload-video <ownerID> <path>")
	}
	ownerID, path := strings.TrimSpace(args[0]), args[1]
	if ownerID == "" {
		return errors.New("owner id is required")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	objects, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}

	return withPool(ctx, cfg, func(pool *pgxpool.Pool) error {
		id := uuid.NewString()
		ext := strings.ToLower(filepath.Ext(path))
		key, err := objects.Upload(ctx, "resumes/"+id+ext, mime.TypeByExtension(ext), file)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		video := models.VideoResume{
			ID:         id,
			OwnerID:    ownerID,
			StorageKey: key,
			Status:     models.VideoStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repositories.NewPostgresVideoRepository(pool).Create(ctx, video); err != nil {
			if deleteErr := objects.Delete(ctx, key); deleteErr != nil {
				logger.Warn("orphaned uploaded object", "storage_key", key, "error", deleteErr)
			}
			return fmt.Errorf("record video: %w", err)
		}

		logger.Info("video uploaded", "video_id", id, "storage_key", key)
		fmt.Println(id)
		return nil
	})
}

// addApplication registers a job application for local testing.
func addApplication(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: add-application <videoID> <jobSeekerID> <employerID>")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	return withPool(ctx, cfg, func(pool *pgxpool.Pool) error {
		application := models.Application{
			ID:            uuid.NewString(),
			VideoResumeID: strings.TrimSpace(args[0]),
			JobSeekerID:   strings.TrimSpace(args[1]),
			EmployerID:    strings.TrimSpace(args[2]),
			CreatedAt:     time.Now().UTC(),
		}
		if err := repositories.NewPostgresApplicationRepository(pool).Create(ctx, application); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return fmt.Errorf("video %s does not exist", application.VideoResumeID)
			}
			return fmt.Errorf("record application: %w", err)
		}

		logger.Info("application added", "application_id", application.ID, "video_id", application.VideoResumeID)
		fmt.Println(application.ID)
		return nil
	})
}

func withPool(ctx context.Context, cfg config.Config, fn func(*pgxpool.Pool) error) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}
