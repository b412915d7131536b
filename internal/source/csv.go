package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"os"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// CSVReader reads a header-first CSV file.
type CSVReader struct {
	path string
}

// NewCSVReader creates a reader for the CSV file at path.
func NewCSVReader(path string) *CSVReader {
	return &CSVReader{path: path}
}

// Location returns the file path.
func (r *CSVReader) Location() string {
	return r.path
}

// Rows returns the data rows of the file. A row whose field count differs from
// the header, or whose quoting is broken, is yielded as a malformed record.
func (r *CSVReader) Rows(ctx context.Context) (iter.Seq2[Row, error], error) {
	if err := checkFile(r.path); err != nil {
		return nil, err
	}

	return func(yield func(Row, error) bool) {
		f, err := os.Open(r.path)
		if err != nil {
			yield(Row{}, unavailable(r.path, err))
			return
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(Row{}, unavailable(r.path, err))
			return
		}
		keys := normalizeHeader(header)

		index := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}

			values, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			index++

			if err != nil {
				var parseErr *csv.ParseError
				if !errors.As(err, &parseErr) {
					yield(Row{}, unavailable(r.path, err))
					return
				}
				if !yield(Row{Index: index}, malformed(index, "%v", parseErr.Err)) {
					return
				}
				continue
			}

			if len(values) != len(keys) {
				var rowErr *models.MalformedRecordError
				if len(values) < len(keys) {
					rowErr = malformed(index, "expected %d fields, got %d", len(keys), len(values))
				} else {
					_, rowErr = zipRow(index, keys, values)
				}
				if rowErr != nil {
					if !yield(Row{Index: index}, rowErr) {
						return
					}
					continue
				}
			}

			row, _ := zipRow(index, keys, values)
			if !yield(row, nil) {
				return
			}
		}
	}, nil
}
