package processing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
	"github.com/mamadbah2/labpulse/internal/source"
)

// memoryStore keeps committed records and statistics in maps. Each batch
// stages its writes and only publishes them on Commit.
type memoryStore struct {
	records   map[string]models.LabRecord
	stats     map[string]models.DailyStatistics
	failAfter int
	failErr   error
	begun     int
	rollbacks int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[string]models.LabRecord),
		stats:   make(map[string]models.DailyStatistics),
	}
}

func (m *memoryStore) BeginBatch(context.Context) (BatchWriter, error) {
	m.begun++
	staged := make(map[string]models.LabRecord, len(m.records))
	for k, v := range m.records {
		staged[k] = v
	}
	return &memoryBatch{store: m, records: staged, stats: make(map[string]models.DailyStatistics)}, nil
}

type memoryBatch struct {
	store   *memoryStore
	records map[string]models.LabRecord
	stats   map[string]models.DailyStatistics
	writes  int
	done    bool
}

func (b *memoryBatch) UpsertRecord(_ context.Context, record *models.LabRecord) (bool, error) {
	b.writes++
	if b.store.failErr != nil && b.writes > b.store.failAfter {
		return false, b.store.failErr
	}
	if existing, ok := b.records[record.NaturalKey]; ok {
		record.RecordID = existing.RecordID
		record.ProcessedAt = existing.ProcessedAt
		b.records[record.NaturalKey] = *record
		return false, nil
	}
	record.RecordID = fmt.Sprintf("rec-%d", len(b.records)+1)
	record.ProcessedAt = time.Now().UTC()
	b.records[record.NaturalKey] = *record
	return true, nil
}

func (b *memoryBatch) RecomputeDailyStatistics(_ context.Context, date time.Time) error {
	day := date.Format(models.DateLayout)
	stats := models.DailyStatistics{Date: date}
	shifts := map[models.Shift]bool{}
	equipment := map[models.Equipment]bool{}
	var sum float64
	for _, r := range b.records {
		if r.Date.Format(models.DateLayout) != day {
			continue
		}
		stats.TotalRecords++
		shifts[r.Shift] = true
		equipment[r.Equipment] = true
		sum += r.YieldPercent
	}
	stats.DistinctShifts = len(shifts)
	stats.DistinctEquipment = len(equipment)
	if stats.TotalRecords > 0 {
		stats.AvgYield = sum / float64(stats.TotalRecords)
	}
	b.stats[day] = stats
	return nil
}

func (b *memoryBatch) Commit() error {
	b.store.records = b.records
	for day, s := range b.stats {
		b.store.stats[day] = s
	}
	b.done = true
	return nil
}

func (b *memoryBatch) Rollback() error {
	if !b.done {
		b.store.rollbacks++
		b.done = true
	}
	return nil
}

type staticReader struct {
	rows []source.Row
	errs map[int]error
	err  error
}

func (r *staticReader) Location() string { return "memory://fixture" }

func (r *staticReader) Rows(context.Context) (iter.Seq2[source.Row, error], error) {
	if r.err != nil {
		return nil, r.err
	}
	return seqOf(r.rows, r.errs), nil
}

func seqOf(rows []source.Row, errs map[int]error) iter.Seq2[source.Row, error] {
	return func(yield func(source.Row, error) bool) {
		for i, row := range rows {
			if err, ok := errs[i]; ok {
				if !yield(source.Row{Index: row.Index}, err) {
					return
				}
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func labRow(index int, date string, equipment models.Equipment, shift models.Shift, samples int, yield float64) source.Row {
	return source.Row{Index: index, Fields: map[string]string{
		"date":              date,
		"equipment":         string(equipment),
		"shift":             string(shift),
		"samples_processed": fmt.Sprint(samples),
		"yield_percent":     fmt.Sprint(yield),
		"comment":           "ok",
	}}
}

// dailyFixture builds n valid rows for one date alternating yields 74 and 82
// so the average is exactly 78.
func dailyFixture(n int, date string) []source.Row {
	rows := make([]source.Row, 0, n)
	for i := 0; i < n; i++ {
		yield := 74.0
		if i%2 == 1 {
			yield = 82.0
		}
		rows = append(rows, labRow(i+1, date,
			models.AllEquipment[i%len(models.AllEquipment)],
			models.AllShifts[i%len(models.AllShifts)],
			10+i%5, yield))
	}
	return rows
}

func newTestService(store Store, reader source.Reader) *Service {
	return NewService(store, reader, zap.NewNop())
}

func TestIngest_FullDay(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &staticReader{rows: dailyFixture(74, "2026-10-16")})

	summary, err := svc.Ingest(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Committed)
	assert.Equal(t, 74, summary.Inserted)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Rejected)
	assert.Equal(t, []string{"2026-10-16"}, summary.DatesTouched)
	assert.Equal(t, "memory://fixture", summary.Source)
	assert.NotEmpty(t, summary.BatchID)

	stats := store.stats["2026-10-16"]
	assert.Equal(t, 74, stats.TotalRecords)
	assert.Equal(t, 3, stats.DistinctShifts)
	assert.Equal(t, 4, stats.DistinctEquipment)
	assert.InDelta(t, 78.0, stats.AvgYield, 1e-9)
}

func TestIngest_Idempotent(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &staticReader{rows: dailyFixture(20, "2026-10-16")})

	_, err := svc.Ingest(context.Background())
	require.NoError(t, err)
	ids := make(map[string]string)
	for key, r := range store.records {
		ids[key] = r.RecordID
	}

	summary, err := svc.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 20, summary.Updated)
	assert.Len(t, store.records, 20)
	assert.Equal(t, 20, store.stats["2026-10-16"].TotalRecords)
	for key, r := range store.records {
		assert.Equal(t, ids[key], r.RecordID, key)
	}
}

func TestIngest_StatusMatchesYield(t *testing.T) {
	store := newMemoryStore()
	rows := []source.Row{
		labRow(1, "2026-10-16", models.EquipmentPHMeter, models.ShiftMorning, 5, 70),
		labRow(2, "2026-10-16", models.EquipmentPHMeter, models.ShiftMorning, 5, 69.99),
		labRow(3, "2026-10-16", models.EquipmentPHMeter, models.ShiftMorning, 5, 100),
		labRow(4, "2026-10-16", models.EquipmentPHMeter, models.ShiftMorning, 5, 0),
	}

	_, err := newTestService(store, &staticReader{rows: rows}).Ingest(context.Background())
	require.NoError(t, err)
	require.Len(t, store.records, 4)
	for _, r := range store.records {
		assert.Equal(t, r.YieldPercent >= models.ApprovalThreshold, r.Status == models.StatusApproved, r.NaturalKey)
	}
}

func TestIngest_RejectsOutOfRangeYield(t *testing.T) {
	store := newMemoryStore()
	rows := dailyFixture(5, "2026-10-16")
	rows = append(rows, labRow(6, "2026-10-16", models.EquipmentCentrifuge, models.ShiftNight, 8, 150))

	summary, err := newTestService(store, &staticReader{rows: rows}).Ingest(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Committed)
	assert.Equal(t, 5, summary.Inserted)
	require.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 6, summary.Rejections[0].Row)
	assert.Equal(t, fieldYield, summary.Rejections[0].Field)
	assert.ErrorIs(t, summary.Rejections[0], models.ErrMalformedRecord)
	assert.Len(t, store.records, 5)
}

func TestIngest_ReaderRejectionsAreCounted(t *testing.T) {
	store := newMemoryStore()
	rows := dailyFixture(3, "2026-10-16")
	reader := &staticReader{rows: rows, errs: map[int]error{
		1: &models.MalformedRecordError{Row: 2, Reason: "expected 6 fields, got 4"},
	}}

	summary, err := newTestService(store, reader).Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 1, summary.Rejected)
}

func TestIngest_SourceUnavailable(t *testing.T) {
	store := newMemoryStore()
	missing := fmt.Errorf("%w: /data/lab.csv: no such file", models.ErrSourceUnavailable)

	summary, err := newTestService(store, &staticReader{err: missing}).Ingest(context.Background())
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.False(t, summary.Committed)
	assert.Equal(t, 0, store.begun)
}

func TestProcessBatch_SourceFailureMidStreamRollsBack(t *testing.T) {
	store := newMemoryStore()
	rows := dailyFixture(4, "2026-10-16")
	broken := fmt.Errorf("%w: truncated file", models.ErrSourceUnavailable)

	svc := newTestService(store, nil)
	summary, err := svc.ProcessBatch(context.Background(), "fixture", seqOf(rows, map[int]error{2: broken}))
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.False(t, summary.Committed)
	assert.Equal(t, 0, summary.Inserted)
	assert.Empty(t, store.records)
	assert.Equal(t, 1, store.rollbacks)
}

func TestProcessBatch_ReadDeadlineIsRetryable(t *testing.T) {
	store := newMemoryStore()
	rows := dailyFixture(4, "2026-10-16")

	summary, err := newTestService(store, nil).ProcessBatch(context.Background(), "fixture",
		seqOf(rows, map[int]error{1: context.DeadlineExceeded}))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIngestTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, models.IsRetryable(err))
	assert.False(t, summary.Committed)
	assert.Empty(t, store.records)
}

func TestIngest_ExpiredContextWhileReadingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	content := "date,equipment,shift,samples_processed,yield_percent\n2026-10-16,centrifuge,morning,12,81\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	store := newMemoryStore()
	summary, err := newTestService(store, source.NewCSVReader(path)).Ingest(ctx)
	assert.ErrorIs(t, err, models.ErrIngestTimeout)
	assert.True(t, models.IsRetryable(err))
	assert.False(t, summary.Committed)
	assert.Equal(t, 1, store.rollbacks)
}

func TestProcessBatch_CanceledIsNotRetryable(t *testing.T) {
	store := newMemoryStore()

	_, err := newTestService(store, nil).ProcessBatch(context.Background(), "fixture",
		seqOf(dailyFixture(2, "2026-10-16"), map[int]error{0: context.Canceled}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, models.IsRetryable(err))
}

func TestProcessBatch_StorageFailureRollsBack(t *testing.T) {
	store := newMemoryStore()
	store.failAfter = 3
	store.failErr = fmt.Errorf("upsert: %w: connection reset", models.ErrStorageWriteFailure)

	svc := newTestService(store, nil)
	summary, err := svc.ProcessBatch(context.Background(), "fixture", seqOf(dailyFixture(10, "2026-10-16"), nil))
	assert.ErrorIs(t, err, models.ErrStorageWriteFailure)
	assert.False(t, models.IsRetryable(err))
	assert.False(t, summary.Committed)
	assert.Equal(t, err.Error(), summary.Error)
	assert.Empty(t, store.records)
	assert.Empty(t, store.stats)
	assert.Equal(t, 1, store.rollbacks)
}

func TestProcessBatch_StorageTimeoutIsRetryable(t *testing.T) {
	store := newMemoryStore()
	store.failErr = fmt.Errorf("upsert: %w", models.ErrStorageTimeout)

	summary, err := newTestService(store, nil).ProcessBatch(context.Background(), "fixture", seqOf(dailyFixture(2, "2026-10-16"), nil))
	assert.True(t, models.IsRetryable(err))
	assert.ErrorIs(t, summary.Err, models.ErrStorageTimeout)
}

func TestProcessBatch_BeginFailure(t *testing.T) {
	boom := fmt.Errorf("begin: %w", models.ErrStorageTimeout)
	store := StoreFunc(func(context.Context) (BatchWriter, error) { return nil, boom })

	summary, err := newTestService(store, nil).ProcessBatch(context.Background(), "fixture", seqOf(nil, nil))
	assert.True(t, errors.Is(err, models.ErrStorageTimeout))
	assert.False(t, summary.Committed)
}

func TestProcessBatch_MultipleDates(t *testing.T) {
	store := newMemoryStore()
	rows := append(dailyFixture(6, "2026-10-16"), dailyFixture(3, "17/10/2026")...)
	for i := range rows {
		rows[i].Index = i + 1
	}

	summary, err := newTestService(store, nil).ProcessBatch(context.Background(), "fixture", seqOf(rows, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-16", "2026-10-17"}, summary.DatesTouched)
	assert.Equal(t, 6, store.stats["2026-10-16"].TotalRecords)
	assert.Equal(t, 3, store.stats["2026-10-17"].TotalRecords)
}

func TestProcessBatch_EmptySourceCommits(t *testing.T) {
	store := newMemoryStore()
	summary, err := newTestService(store, nil).ProcessBatch(context.Background(), "fixture", seqOf(nil, nil))
	require.NoError(t, err)
	assert.True(t, summary.Committed)
	assert.Empty(t, summary.DatesTouched)
}
