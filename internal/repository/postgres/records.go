package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

const upsertRecordQuery = `
	INSERT INTO lab_records (
		record_id, natural_key, date, equipment, shift,
		samples_processed, yield_percent, comment, sample_type, status, processed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (natural_key) DO UPDATE SET
		samples_processed = EXCLUDED.samples_processed,
		yield_percent     = EXCLUDED.yield_percent,
		comment           = EXCLUDED.comment,
		status            = EXCLUDED.status
	RETURNING record_id, processed_at, (xmax = 0) AS inserted`

// Held until the batch ends, so a concurrent batch recomputing the same date
// waits and then aggregates over the committed rows.
const lockStatisticsDateQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

const recomputeStatisticsQuery = `
	INSERT INTO daily_statistics (
		date, total_records, distinct_shifts, distinct_equipment, avg_yield, updated_at
	)
	SELECT $1::date, COUNT(*), COUNT(DISTINCT shift), COUNT(DISTINCT equipment),
		COALESCE(AVG(yield_percent), 0), $2
	FROM lab_records
	WHERE date = $1::date
	ON CONFLICT (date) DO UPDATE SET
		total_records      = EXCLUDED.total_records,
		distinct_shifts    = EXCLUDED.distinct_shifts,
		distinct_equipment = EXCLUDED.distinct_equipment,
		avg_yield          = EXCLUDED.avg_yield,
		updated_at         = EXCLUDED.updated_at`

const selectRecordsQuery = `
	SELECT record_id, natural_key, date, equipment, shift, samples_processed,
		yield_percent, comment, sample_type, status, processed_at
	FROM lab_records`

const orderRecordsClause = `
	ORDER BY date, equipment, shift, natural_key`

const getStatisticsQuery = `
	SELECT date, total_records, distinct_shifts, distinct_equipment, avg_yield, updated_at
	FROM daily_statistics
	WHERE date = $1::date`

// Batch is one ingestion transaction. Nothing it writes is visible to readers
// until Commit succeeds.
type Batch struct {
	tx     *sqlx.Tx
	repo   *Repository
	logger *zap.Logger
}

// BeginBatch opens the transaction that scopes one processor batch.
func (r *Repository) BeginBatch(ctx context.Context) (*Batch, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classifyWrite("begin batch", err)
	}
	return &Batch{tx: tx, repo: r, logger: r.logger}, nil
}

// UpsertRecord inserts record or refreshes the measurements of the row sharing
// its natural key. It reports whether a new row was created and fills in the
// stored record id and first-ingestion timestamp.
func (b *Batch) UpsertRecord(ctx context.Context, record *models.LabRecord) (bool, error) {
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = b.repo.now().UTC()
	}

	ctx, cancel := b.repo.withTimeout(ctx)
	defer cancel()

	var (
		storedID    string
		processedAt time.Time
		inserted    bool
	)
	err := b.tx.QueryRowxContext(ctx, upsertRecordQuery,
		record.RecordID,
		record.NaturalKey,
		record.Date,
		record.Equipment,
		record.Shift,
		record.SamplesProcessed,
		record.YieldPercent,
		record.Comment,
		record.SampleType,
		record.Status,
		record.ProcessedAt,
	).Scan(&storedID, &processedAt, &inserted)
	if err != nil {
		return false, classifyWrite(fmt.Sprintf("upsert record %s", record.NaturalKey), err)
	}

	record.RecordID = storedID
	record.ProcessedAt = processedAt
	return inserted, nil
}

// RecomputeDailyStatistics replaces the statistics row of date from the records
// visible inside the batch transaction. Recomputes of one date are serialized
// across batches.
func (b *Batch) RecomputeDailyStatistics(ctx context.Context, date time.Time) error {
	ctx, cancel := b.repo.withTimeout(ctx)
	defer cancel()

	day := date.Format(models.DateLayout)
	if _, err := b.tx.ExecContext(ctx, lockStatisticsDateQuery, statisticsLockKey(day)); err != nil {
		return classifyWrite(fmt.Sprintf("lock statistics %s", day), err)
	}
	if _, err := b.tx.ExecContext(ctx, recomputeStatisticsQuery, date, b.repo.now().UTC()); err != nil {
		return classifyWrite(fmt.Sprintf("recompute statistics %s", day), err)
	}
	return nil
}

func statisticsLockKey(day string) string {
	return "daily_statistics:" + day
}

// Commit makes the batch visible.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return classifyWrite("commit batch", err)
	}
	return nil
}

// Rollback discards the batch. Rolling back a finished transaction is a no-op.
func (b *Batch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		b.logger.Warn("batch rollback failed", zap.Error(err))
		return fmt.Errorf("rollback batch: %w", err)
	}
	return nil
}

// ListRecordsSince returns every committed record dated on or after since.
func (r *Repository) ListRecordsSince(ctx context.Context, since time.Time) ([]models.LabRecord, error) {
	return r.ListRecords(ctx, models.RecordFilter{From: since})
}

// ListRecords returns the committed records matching filter, oldest first.
func (r *Repository) ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.LabRecord, error) {
	query, args := buildListRecordsQuery(filter)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var records []models.LabRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, classifyRead("list records", err)
	}
	return records, nil
}

func buildListRecordsQuery(filter models.RecordFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("date >= $%d::date", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("date <= $%d::date", len(args)))
	}
	if filter.Equipment != "" {
		args = append(args, filter.Equipment)
		conditions = append(conditions, fmt.Sprintf("equipment = $%d", len(args)))
	}

	query := selectRecordsQuery
	if len(conditions) > 0 {
		query += "\n\tWHERE " + strings.Join(conditions, " AND ")
	}
	return query + orderRecordsClause, args
}

// GetDailyStatistics loads the statistics row of date.
func (r *Repository) GetDailyStatistics(ctx context.Context, date time.Time) (*models.DailyStatistics, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var stats models.DailyStatistics
	if err := r.db.GetContext(ctx, &stats, getStatisticsQuery, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyRead("get daily statistics", err)
	}
	return &stats, nil
}
