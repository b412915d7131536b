package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/domain/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type collected struct {
	rows     []Row
	rejected []*models.MalformedRecordError
	err      error
}

func collect(t *testing.T, r Reader) collected {
	t.Helper()
	seq, err := r.Rows(context.Background())
	require.NoError(t, err)

	var out collected
	for row, err := range seq {
		if err == nil {
			out.rows = append(out.rows, row)
			continue
		}
		var rowErr *models.MalformedRecordError
		if errors.As(err, &rowErr) {
			out.rejected = append(out.rejected, rowErr)
			continue
		}
		out.err = err
	}
	return out
}

func TestCSVReader(t *testing.T) {
	path := writeFile(t, "lab.csv", "\ufeffDate, Equipment ,Shift,Samples_Processed,Yield_Percent,Comment\n"+
		"2026-10-16,pH Meter,morning,12,81.5,\"calibrated, ok\"\n"+
		"2026-10-16,Centrifuge,night,9\n"+
		"2026-10-17,Spectrophotometer,afternoon,20,90,\n")

	out := collect(t, NewCSVReader(path))
	require.NoError(t, out.err)
	require.Len(t, out.rows, 2)
	require.Len(t, out.rejected, 1)

	first := out.rows[0]
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "2026-10-16", first.Fields["date"])
	assert.Equal(t, "pH Meter", first.Fields["equipment"])
	assert.Equal(t, "calibrated, ok", first.Fields["comment"])
	assert.Equal(t, 3, out.rows[1].Index)

	assert.Equal(t, 2, out.rejected[0].Row)
	assert.ErrorIs(t, out.rejected[0], models.ErrMalformedRecord)
}

func TestCSVReader_Restartable(t *testing.T) {
	path := writeFile(t, "lab.csv", "date,equipment\n2026-10-16,centrifuge\n")
	reader := NewCSVReader(path)

	assert.Len(t, collect(t, reader).rows, 1)
	assert.Len(t, collect(t, reader).rows, 1)
}

func TestCSVReader_EmptyFile(t *testing.T) {
	out := collect(t, NewCSVReader(writeFile(t, "empty.csv", "")))
	assert.NoError(t, out.err)
	assert.Empty(t, out.rows)
}

func TestReaders_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	readers := []Reader{
		NewCSVReader(missing + ".csv"),
		NewJSONReader(missing + ".json"),
		NewXLSXReader(missing+".xlsx", ""),
	}
	for _, r := range readers {
		_, err := r.Rows(context.Background())
		assert.ErrorIs(t, err, models.ErrSourceUnavailable, r.Location())
	}
}

func TestReaders_Directory(t *testing.T) {
	_, err := NewCSVReader(t.TempDir()).Rows(context.Background())
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestCSVReader_StopsEarly(t *testing.T) {
	path := writeFile(t, "lab.csv", "date\n1\n2\n3\n")
	seq, err := NewCSVReader(path).Rows(context.Background())
	require.NoError(t, err)

	seen := 0
	for range seq {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestCSVReader_CancelledContext(t *testing.T) {
	path := writeFile(t, "lab.csv", "date\n1\n2\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seq, err := NewCSVReader(path).Rows(ctx)
	require.NoError(t, err)
	for _, err := range seq {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestNew(t *testing.T) {
	r, err := New(config.SourceConfig{Kind: config.SourceKindCSV, Path: "a.csv"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CSVReader{}, r)

	r, err = New(config.SourceConfig{Kind: config.SourceKindJSON, Path: "a.json"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &JSONReader{}, r)

	r, err = New(config.SourceConfig{Kind: config.SourceKindXLSX, Path: "a.xlsx"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &XLSXReader{}, r)

	_, err = New(config.SourceConfig{Kind: config.SourceKindSheets}, nil)
	assert.Error(t, err)

	_, err = New(config.SourceConfig{Kind: "parquet"}, nil)
	assert.Error(t, err)
}
