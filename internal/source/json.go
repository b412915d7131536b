package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
)

// JSONReader reads either a top-level array of row objects or an envelope of
// the form {"metadata": {...}, "data": [...]}. The file is decoded as a stream,
// one row object at a time.
type JSONReader struct {
	path string
}

// NewJSONReader creates a reader for the JSON file at path.
func NewJSONReader(path string) *JSONReader {
	return &JSONReader{path: path}
}

// Location returns the file path.
func (r *JSONReader) Location() string {
	return r.path
}

// Rows returns the row objects of the file.
func (r *JSONReader) Rows(ctx context.Context) (iter.Seq2[Row, error], error) {
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

		dec := json.NewDecoder(f)
		dec.UseNumber()

		found, err := seekRows(dec)
		if err != nil {
			yield(Row{}, unavailable(r.path, err))
			return
		}
		if !found {
			return
		}

		index := 0
		for dec.More() {
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}
			index++

			var value any
			if err := dec.Decode(&value); err != nil {
				yield(Row{}, unavailable(r.path, err))
				return
			}

			row, rowErr := objectRow(index, value)
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

// seekRows advances dec to just inside the row array. It reports false for an
// empty document or an envelope without a data member.
func seekRows(dec *json.Decoder) (bool, error) {
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch tok {
	case json.Delim('['):
		return true, nil
	case json.Delim('{'):
	default:
		return false, fmt.Errorf("unsupported JSON layout: expected array or object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, err
		}
		key, _ := keyTok.(string)
		if key != "data" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return false, err
			}
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return false, err
		}
		if tok == nil {
			return false, nil
		}
		if tok != json.Delim('[') {
			return false, fmt.Errorf("unsupported JSON layout: data must be an array")
		}
		return true, nil
	}
	return false, nil
}

func objectRow(index int, value any) (Row, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return Row{}, malformed(index, "row is not a JSON object")
	}

	fields := make(map[string]string, len(obj))
	for key, raw := range obj {
		var text string
		switch v := raw.(type) {
		case nil:
		case string:
			text = v
		case json.Number:
			text = v.String()
		case bool:
			text = strconv.FormatBool(v)
		default:
			return Row{}, malformed(index, "field %q is not a scalar value", key)
		}
		fields[normalizeKey(key)] = text
	}
	return Row{Index: index, Fields: fields}, nil
}
