package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kozaktomas/faceid/internal/biometric"
	"github.com/kozaktomas/faceid/internal/config"
	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/database/mariadb"
	"github.com/kozaktomas/faceid/internal/database/postgres"
	"github.com/kozaktomas/faceid/internal/extractor"
	"github.com/kozaktomas/faceid/internal/facematch"
	"github.com/kozaktomas/faceid/internal/logging"
)

// closeTimeout bounds the final flush of pending enrollment writes.
var closeTimeout = 30 * time.Second

// app holds everything a command needs to talk to the enrollment system.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	extractor   *extractor.Extractor
	store       *database.Store
	matcher     *facematch.Matcher
	coordinator *biometric.Coordinator

	closers []func() error
}

// newApp wires detector, extractor, backend, store, matcher and coordinator
// from the environment. Callers must Close the returned app.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: logging.New(cfg.Logging),
	}

	detector, err := newDetector(cfg.Extractor)
	if err != nil {
		return nil, err
	}
	if c, ok := detector.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.extractor = extractor.New(detector, extractor.Options{
		Workers:      cfg.Extractor.Workers,
		Timeout:      cfg.Extractor.Timeout,
		MaxImageSize: cfg.Extractor.MaxImageSize,
		Logger:       a.logger,
	})

	backend, err := a.openBackend(ctx)
	if err != nil {
		_ = a.closeAll()
		return nil, err
	}

	store, err := database.OpenStore(ctx, backend, database.Options{
		Dim:    cfg.Extractor.DescriptorDim,
		Logger: a.logger,
	})
	if err != nil {
		_ = a.closeAll()
		return nil, fmt.Errorf("failed to open enrollment store: %w", err)
	}
	a.store = store

	a.matcher, err = facematch.NewMatcher(store, facematch.Options{
		AcceptThreshold:  &cfg.Matcher.AcceptThreshold,
		AmbiguityEpsilon: &cfg.Matcher.AmbiguityEpsilon,
		Index:            cfg.Matcher.Index,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.coordinator = biometric.NewCoordinator(a.extractor, store, a.matcher, a.logger)
	return a, nil
}

func newDetector(cfg config.ExtractorConfig) (extractor.Detector, error) {
	switch cfg.Backend {
	case "", "remote":
		return extractor.NewRemoteDetector(cfg.EmbeddingURL, ""), nil
	case "dlib":
		d, err := extractor.NewDlibDetector(cfg.ModelsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load dlib models: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown FACE_EXTRACTOR %q (want remote or dlib)", cfg.Backend)
	}
}

func (a *app) openBackend(ctx context.Context) (database.Backend, error) {
	switch a.cfg.Store.Backend {
	case "postgres":
		if a.cfg.Database.URL == "" {
			return nil, errors.New("DATABASE_URL environment variable is required")
		}
		pool, err := postgres.Open(ctx, &a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return postgres.NewEnrollmentRepository(pool), nil
	case "mariadb":
		if a.cfg.MariaDB.URL == "" {
			return nil, errors.New("MARIADB_URL environment variable is required")
		}
		pool, err := mariadb.Open(ctx, a.cfg.MariaDB.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return mariadb.NewEnrollmentRepository(pool), nil
	case "", "file":
		return database.NewFileBackend(a.cfg.Store.File), nil
	case "memory":
		return database.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown ENROLLMENT_BACKEND %q (want postgres, mariadb, file or memory)", a.cfg.Store.Backend)
	}
}

// Close flushes and closes the store, then releases pools and models.
// Pools stay open while the store still has writes in flight.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.store.Close(ctx); err != nil {
			if errors.Is(err, database.ErrWritesPending) {
				return fmt.Errorf("closing enrollment store: %w", err)
			}
			errs = append(errs, fmt.Errorf("closing enrollment store: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// backendName reports the configured backend for status output.
func (a *app) backendName() string {
	if a.cfg.Store.Backend == "" {
		return "file"
	}
	return a.cfg.Store.Backend
}
