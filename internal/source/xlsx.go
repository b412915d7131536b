package source

import (
	"context"
	"errors"
	"iter"

	"github.com/xuri/excelize/v2"
)

// XLSXReader reads one worksheet of an Excel workbook. The first row is the header.
type XLSXReader struct {
	path  string
	sheet string
}

// NewXLSXReader creates a reader for path. An empty sheet selects the first worksheet.
func NewXLSXReader(path, sheet string) *XLSXReader {
	return &XLSXReader{path: path, sheet: sheet}
}

// Location returns the workbook path.
func (r *XLSXReader) Location() string {
	return r.path
}

// Rows streams the worksheet rows. Blank rows are skipped but still advance
// the row index so positions match the sheet.
func (r *XLSXReader) Rows(ctx context.Context) (iter.Seq2[Row, error], error) {
	if err := checkFile(r.path); err != nil {
		return nil, err
	}

	return func(yield func(Row, error) bool) {
		book, err := excelize.OpenFile(r.path)
		if err != nil {
			yield(Row{}, unavailable(r.path, err))
			return
		}
		defer book.Close()

		sheet := r.sheet
		if sheet == "" {
			sheets := book.GetSheetList()
			if len(sheets) == 0 {
				yield(Row{}, unavailable(r.path, errors.New("workbook has no worksheets")))
				return
			}
			sheet = sheets[0]
		}

		rows, err := book.Rows(sheet)
		if err != nil {
			yield(Row{}, unavailable(r.path, err))
			return
		}
		defer rows.Close()

		if !rows.Next() {
			return
		}
		header, err := rows.Columns()
		if err != nil {
			yield(Row{}, unavailable(r.path, err))
			return
		}
		keys := normalizeHeader(header)

		index := 0
		for rows.Next() {
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}
			index++

			values, err := rows.Columns()
			if err != nil {
				if !yield(Row{Index: index}, malformed(index, "%v", err)) {
					return
				}
				continue
			}
			if blank(values) {
				continue
			}

			row, rowErr := zipRow(index, keys, values)
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

		if err := rows.Error(); err != nil {
			yield(Row{}, unavailable(r.path, err))
		}
	}, nil
}
