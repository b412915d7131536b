package monitoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

var fixedNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

type fakeStore struct {
	records []models.LabRecord
	err     error
	since   time.Time
	filter  models.RecordFilter
}

func (f *fakeStore) ListRecordsSince(_ context.Context, since time.Time) ([]models.LabRecord, error) {
	f.since = since
	return f.records, f.err
}

func (f *fakeStore) ListRecords(_ context.Context, filter models.RecordFilter) ([]models.LabRecord, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []models.LabRecord
	for _, r := range f.records {
		if filter.Equipment != "" && r.Equipment != filter.Equipment {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeDispatcher struct {
	received []models.Alert
	fail     bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, alerts []models.Alert) []models.Delivery {
	f.received = append(f.received, alerts...)
	out := make([]models.Delivery, 0, len(alerts))
	for _, a := range alerts {
		d := models.Delivery{AlertID: a.ID, Channel: "fake", Delivered: !f.fail}
		if f.fail {
			d.Error = "channel down"
		}
		out = append(out, d)
	}
	return out
}

type fakeArchive struct {
	saved []models.Alert
	err   error
}

func (f *fakeArchive) SaveAlerts(_ context.Context, alerts []models.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, alerts...)
	return nil
}

func newTestService(store RecordStore, dispatcher Dispatcher, archive Archive) *Service {
	svc := NewService(store, dispatcher, Options{
		WindowDays: 1,
		Thresholds: DefaultThresholds(),
		Archive:    archive,
	}, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func record(equipment models.Equipment, shift models.Shift, samples int, yield float64) models.LabRecord {
	return models.LabRecord{
		Date:             time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
		Equipment:        equipment,
		Shift:            shift,
		SamplesProcessed: samples,
		YieldPercent:     yield,
		Status:           models.DeriveStatus(yield),
	}
}

// window spreads n records evenly over every equipment and shift, with
// yields produced by yieldAt.
func window(n, samples int, yieldAt func(i int) float64) []models.LabRecord {
	out := make([]models.LabRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, record(
			models.AllEquipment[i%len(models.AllEquipment)],
			models.AllShifts[i%len(models.AllShifts)],
			samples, yieldAt(i)))
	}
	return out
}

func constant(v float64) func(int) float64 { return func(int) float64 { return v } }

func TestEvaluate_EmptyWindow(t *testing.T) {
	store := &fakeStore{}
	snapshot, alerts, err := newTestService(store, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 0, snapshot.TotalRecords)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), store.since)
}

func TestEvaluate_HealthyDayRaisesNothing(t *testing.T) {
	records := window(74, 10, func(i int) float64 {
		if i%2 == 0 {
			return 74
		}
		return 82
	})

	snapshot, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.InDelta(t, 78.0, snapshot.AvgYield, 1e-9)
	assert.Equal(t, 0.0, snapshot.RepeatRate)
	assert.Empty(t, snapshot.MissingEquipment)
	assert.Len(t, snapshot.EquipmentSeen, 4)
}

func TestEvaluate_LowYieldIsSingleCritical(t *testing.T) {
	records := window(40, 10, constant(55))

	snapshot, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, models.RuleYieldQuality, alerts[0].Rule)
	assert.Contains(t, alerts[0].Message, "average yield 55.0%")
	assert.Equal(t, snapshot, alerts[0].Snapshot)
	assert.Equal(t, fixedNow, alerts[0].RaisedAt)
	assert.NotEmpty(t, alerts[0].ID)
}

func TestEvaluate_MissingEquipment(t *testing.T) {
	var records []models.LabRecord
	for _, r := range window(40, 10, constant(90)) {
		if r.Equipment != models.EquipmentCentrifuge {
			records = append(records, r)
		}
	}

	snapshot, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Equipment{models.EquipmentCentrifuge}, snapshot.MissingEquipment)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, models.RuleEquipmentOutOfService, alerts[0].Rule)
	assert.Equal(t, models.EquipmentCentrifuge, alerts[0].Equipment)
	assert.Contains(t, alerts[0].Message, "centrifuge")
}

func TestEvaluate_CriticalCombinesQualityAndEquipment(t *testing.T) {
	var records []models.LabRecord
	for _, r := range window(40, 10, constant(50)) {
		if r.Equipment != models.EquipmentPHMeter && r.Equipment != models.EquipmentHematologyAnalyzer {
			records = append(records, r)
		}
	}

	_, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, models.RuleYieldQuality, alerts[0].Rule)
	assert.Contains(t, alerts[0].Message, "repeat rate 100.0%")
	assert.Equal(t, models.EquipmentPHMeter, alerts[1].Equipment)
	assert.Equal(t, models.EquipmentHematologyAnalyzer, alerts[2].Equipment)
	for _, a := range alerts {
		assert.Equal(t, models.SeverityCritical, a.Severity)
	}
}

func TestEvaluate_HighRepeatRateIsCritical(t *testing.T) {
	// 35% repeats with a healthy average yield.
	records := window(20, 10, func(i int) float64 {
		if i < 7 {
			return 65
		}
		return 95
	})

	_, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "repeat rate 35.0%")
}

func TestEvaluate_MediumYield(t *testing.T) {
	records := window(24, 10, constant(72))

	_, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, models.RuleYieldQuality, alerts[0].Rule)
}

func TestEvaluate_MediumRepeatRateBoundary(t *testing.T) {
	// Exactly 20% repeats.
	records := window(20, 10, func(i int) float64 {
		if i < 4 {
			return 69
		}
		return 95
	})

	_, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityMedium, alerts[0].Severity)
}

func TestEvaluate_LowThroughput(t *testing.T) {
	records := window(12, 2, constant(90))

	_, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, models.RuleThroughput, alerts[0].Rule)
	assert.Contains(t, alerts[0].Message, "only 24 samples")
}

func TestEvaluate_ShiftImbalanceWarning(t *testing.T) {
	var records []models.LabRecord
	for i := 0; i < 12; i++ {
		for _, e := range models.AllEquipment {
			shift := models.ShiftMorning
			if i == 0 {
				shift = models.ShiftNight
			}
			records = append(records, record(e, shift, 10, 90))
		}
	}

	snapshot, alerts, err := newTestService(&fakeStore{records: records}, nil, nil).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.ShiftCounts[models.ShiftAfternoon])
	assert.InDelta(t, 44.0/48.0, snapshot.ShiftImbalance, 1e-9)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, models.RuleShiftImbalance, alerts[0].Rule)
}

func TestEvaluate_StoreFailure(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("list records: %w", models.ErrStorageTimeout)}
	_, _, err := newTestService(store, nil, nil).Evaluate(context.Background())
	assert.ErrorIs(t, err, models.ErrStorageTimeout)
}

func TestRunCycle_ArchivesAndDispatches(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	archive := &fakeArchive{}
	svc := newTestService(&fakeStore{records: window(40, 10, constant(55))}, dispatcher, archive)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Len(t, archive.saved, 1)
	assert.Len(t, dispatcher.received, 1)
	require.Len(t, result.Deliveries, 1)
	assert.True(t, result.Deliveries[0].Delivered)
	assert.Empty(t, result.Error)
}

func TestRunCycle_FailuresAreContained(t *testing.T) {
	dispatcher := &fakeDispatcher{fail: true}
	archive := &fakeArchive{err: errors.New("mongo unreachable")}
	svc := newTestService(&fakeStore{records: window(40, 10, constant(55))}, dispatcher, archive)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Error, "mongo unreachable")
	require.Len(t, result.Deliveries, 1)
	assert.False(t, result.Deliveries[0].Delivered)
}

func TestRunCycle_NoAlertsSkipsDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	result, err := newTestService(&fakeStore{}, dispatcher, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	assert.Empty(t, dispatcher.received)
}

func TestRunCycle_StoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	result, err := newTestService(store, &fakeDispatcher{}, nil).RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, result.Error, "connection refused")
}
