package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/domain/models"
)

//go:embed schema.sql
var schema string

// pq code for statement cancellation (statement_timeout or user cancel).
const queryCanceledCode = "57014"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the relational store of lab records and daily statistics.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// Connect opens the Postgres pool described by cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Repository, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	repo := NewRepository(db, cfg.Timeout, logger)
	if err := repo.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return repo, nil
}

// NewRepository wraps an existing pool. A non-positive timeout disables per-call deadlines.
func NewRepository(db *sqlx.DB, timeout time.Duration, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		db:      db,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// EnsureSchema creates the tables and indexes when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return classifyWrite("apply schema", err)
	}

	r.logger.Info("database schema ensured")
	return nil
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return classifyRead("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == queryCanceledCode
}

func classifyWrite(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, models.ErrStorageTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorageWriteFailure, err)
}

func classifyRead(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, models.ErrStorageTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
