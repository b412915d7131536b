// Package source reads raw lab readings from file based sources.
//
// Every Reader exposes its rows as a lazy iter.Seq2. Ranging over the sequence
// opens the underlying source again, so a sequence can be consumed more than
// once and always reflects the current content. Row level problems are yielded
// as *models.MalformedRecordError values and iteration continues; a source
// that disappears or cannot be decoded yields an error wrapping
// models.ErrSourceUnavailable and iteration stops.
package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/domain/models"
	"github.com/mamadbah2/labpulse/internal/repository/sheets"
)

// Row is one raw source row. Index is the 1-based data row position; header
// rows are not counted.
type Row struct {
	Index  int
	Fields map[string]string
}

// Reader produces the rows of one configured source.
type Reader interface {
	Location() string
	Rows(ctx context.Context) (iter.Seq2[Row, error], error)
}

// New builds the Reader matching cfg.Kind. sheetsRepo is only used for sheets sources.
func New(cfg config.SourceConfig, sheetsRepo sheets.Repository) (Reader, error) {
	switch cfg.Kind {
	case config.SourceKindCSV:
		return NewCSVReader(cfg.Path), nil
	case config.SourceKindJSON:
		return NewJSONReader(cfg.Path), nil
	case config.SourceKindXLSX:
		return NewXLSXReader(cfg.Path, cfg.Sheet), nil
	case config.SourceKindSheets:
		if sheetsRepo == nil {
			return nil, errors.New("sheets source requires a sheets repository")
		}
		return NewSheetsReader(sheetsRepo, cfg.Sheet), nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", cfg.Kind)
	}
}

func unavailable(location string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, location, err)
}

func malformed(index int, format string, args ...any) *models.MalformedRecordError {
	return &models.MalformedRecordError{Row: index, Reason: fmt.Sprintf(format, args...)}
}

// checkFile fails fast when path is missing, a directory or unreadable.
func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return unavailable(path, err)
	}
	if info.IsDir() {
		return unavailable(path, errors.New("is a directory"))
	}
	f, err := os.Open(path)
	if err != nil {
		return unavailable(path, err)
	}
	return f.Close()
}

func normalizeKey(key string) string {
	key = strings.TrimPrefix(key, "\ufeff")
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeHeader(header []string) []string {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = normalizeKey(h)
	}
	return keys
}

// zipRow maps header keys onto values. Missing trailing cells become empty
// strings; non-empty cells beyond the header make the row malformed.
func zipRow(index int, keys, values []string) (Row, *models.MalformedRecordError) {
	if len(values) > len(keys) {
		for _, extra := range values[len(keys):] {
			if strings.TrimSpace(extra) != "" {
				return Row{}, malformed(index, "expected %d fields, got %d", len(keys), len(values))
			}
		}
	}

	fields := make(map[string]string, len(keys))
	for i, key := range keys {
		if key == "" {
			continue
		}
		if i < len(values) {
			fields[key] = strings.TrimSpace(values[i])
		} else {
			fields[key] = ""
		}
	}
	return Row{Index: index, Fields: fields}, nil
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
