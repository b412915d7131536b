package source

import (
	"context"
	"fmt"
	"iter"

	"github.com/mamadbah2/labpulse/internal/repository/sheets"
)

// SheetsReader reads a Google Sheets range whose first row is the header.
// Every iteration fetches the range again.
type SheetsReader struct {
	repo       sheets.Repository
	sheetRange string
}

// NewSheetsReader creates a reader for sheetRange, for example "Readings!A:G".
func NewSheetsReader(repo sheets.Repository, sheetRange string) *SheetsReader {
	return &SheetsReader{repo: repo, sheetRange: sheetRange}
}

// Location identifies the spreadsheet range.
func (r *SheetsReader) Location() string {
	return fmt.Sprintf("sheets://%s/%s", r.repo.SpreadsheetID(), r.sheetRange)
}

// Rows yields the range rows. A failed fetch is reported as the first element
// of the sequence.
func (r *SheetsReader) Rows(ctx context.Context) (iter.Seq2[Row, error], error) {
	return func(yield func(Row, error) bool) {
		values, err := r.repo.ReadRange(ctx, r.sheetRange)
		if err != nil {
			yield(Row{}, unavailable(r.Location(), err))
			return
		}
		if len(values) == 0 {
			return
		}

		keys := normalizeHeader(cells(values[0]))
		for i, raw := range values[1:] {
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}
			index := i + 1

			rowValues := cells(raw)
			if blank(rowValues) {
				continue
			}

			row, rowErr := zipRow(index, keys, rowValues)
			if rowErr != nil {
				if !yield(Row{Index: index}, rowErr) {
					return
				}
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}, nil
}

func cells(raw []interface{}) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}
