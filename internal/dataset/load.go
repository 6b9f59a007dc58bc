package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// LoadCSV reads a comma-separated file with a header row into a split.
// Column types are sniffed from the values: int, then float, then string.
func LoadCSV(name, path string) (*Split, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv file %s is empty", path)
	}

	header := records[0]
	body := records[1:]

	features := make([]Feature, len(header))
	for col, colName := range header {
		kind := KindInt
		for _, record := range body {
			if col >= len(record) {
				continue
			}
			cell := record[col]
			if kind == KindInt {
				if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
					kind = KindFloat
				}
			}
			if kind == KindFloat {
				if _, err := strconv.ParseFloat(cell, 64); err != nil {
					kind = KindString
					break
				}
			}
		}
		features[col] = Feature{Name: colName, Kind: kind}
	}

	rows := make([]Row, 0, len(body))
	for i, record := range body {
		if len(record) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", i+2, len(header), len(record))
		}
		row := make(Row, len(header))
		for col, cell := range record {
			switch features[col].Kind {
			case KindInt:
				n, _ := strconv.ParseInt(cell, 10, 64)
				row[header[col]] = n
			case KindFloat:
				f, _ := strconv.ParseFloat(cell, 64)
				row[header[col]] = f
			default:
				row[header[col]] = cell
			}
		}
		rows = append(rows, row)
	}

	return &Split{Name: name, Features: features, Rows: rows}, nil
}

// LoadJSON reads a JSON Lines file (or a top-level JSON array of objects)
// into a split. When features is nil the column types are sniffed from the
// values and the column order is taken from the first object's key order.
func LoadJSON(name, path string, features []Feature) (*Split, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	var lines [][]byte
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse json array in %s: %w", path, err)
		}
		for _, r := range raw {
			lines = append(lines, r)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			lines = append(lines, append([]byte(nil), line...))
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed while reading dataset file: %w", err)
		}
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("dataset file %s contains no rows", path)
	}

	rows := make([]Row, 0, len(lines))
	for i, line := range lines {
		row, err := DecodeRow(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse record: %w", i+1, err)
		}
		rows = append(rows, row)
	}

	if features == nil {
		order, err := jsonKeyOrder(lines[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read column order from %s: %w", path, err)
		}
		features = sniffFeatures(order, rows)
	}
	CoerceRows(features, rows)

	return &Split{Name: name, Features: features, Rows: rows}, nil
}

// DecodeRow parses one JSON object, keeping integer values as int64.
func DecodeRow(line []byte) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	row := make(Row, len(raw))
	for k, v := range raw {
		row[k] = normalizeValue(v)
	}
	return row, nil
}

// normalizeValue converts json.Number values to int64 when integral, float64
// otherwise, recursing through arrays and nested objects.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i, e := range t {
			t[i] = normalizeValue(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeValue(e)
		}
		return t
	default:
		return v
	}
}

// jsonKeyOrder extracts the top-level key order of a JSON object literal.
func jsonKeyOrder(line []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(line))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("record is not a JSON object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in object", tok)
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// skipValue consumes one JSON value from the decoder, including nested
// objects and arrays.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return err
			}
			if err := skipValue(dec); err != nil {
				return err
			}
		}
	case '[':
		for dec.More() {
			if err := skipValue(dec); err != nil {
				return err
			}
		}
	default:
		return nil
	}
	_, err = dec.Token()
	return err
}

// sniffFeatures derives column kinds from decoded values in key order.
func sniffFeatures(order []string, rows []Row) []Feature {
	features := make([]Feature, 0, len(order))
	for _, name := range order {
		kind := KindInt
		for _, row := range rows {
			switch row[name].(type) {
			case int64:
			case float64:
				if kind == KindInt {
					kind = KindFloat
				}
			default:
				kind = KindString
			}
			if kind == KindString {
				break
			}
		}
		features = append(features, Feature{Name: name, Kind: kind})
	}
	return features
}

// CoerceRows aligns cell values with the declared column kinds. Integer cells
// in float columns become float64, label ids in class-label columns become
// int64.
func CoerceRows(features []Feature, rows []Row) {
	for _, f := range features {
		switch f.Kind {
		case KindFloat:
			for _, row := range rows {
				if n, ok := row[f.Name].(int64); ok {
					row[f.Name] = float64(n)
				}
			}
		case KindInt, KindClassLabel:
			for _, row := range rows {
				if v, ok := Int(row[f.Name]); ok {
					row[f.Name] = v
				}
			}
		}
	}
}

// LoadFeatures reads column metadata saved next to a materialized split.
func LoadFeatures(path string) ([]Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read features file: %w", err)
	}
	var features []Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features file: %w", err)
	}
	return features, nil
}

// SaveFeatures writes column metadata next to a materialized split.
func SaveFeatures(path string, features []Feature) error {
	data, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write features file: %w", err)
	}
	return nil
}

// WriteJSONLines writes rows to a JSON Lines file, replacing any existing file.
func WriteJSONLines(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer func() { _ = file.Close() }()

	encoder := json.NewEncoder(file)
	for i, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	return nil
}

// JSONLWriter handles thread-safe appending of rows to a JSON Lines file
type JSONLWriter struct {
	file   *os.File
	mu     sync.Mutex
	logger *slog.Logger
}

// NewJSONLWriter creates the file and returns a writer for it
func NewJSONLWriter(path string, logger *slog.Logger) (*JSONLWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset file: %w", err)
	}

	logger.Debug("Created dataset file", "path", path)

	return &JSONLWriter{
		file:   file,
		logger: logger,
	}, nil
}

// WriteRow appends a single row to the file
func (w *JSONLWriter) WriteRow(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	return nil
}

// Close syncs and closes the underlying file
func (w *JSONLWriter) Close() error {
	if err := w.file.Sync(); err != nil {
		w.logger.Warn("Failed to sync dataset file", "error", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close dataset file: %w", err)
	}

	return nil
}

// ParseKindHint maps a textual dtype name onto a column kind. Unknown names
// fall back to string.
func ParseKindHint(dtype string) Kind {
	switch {
	case strings.HasPrefix(dtype, "int"), strings.HasPrefix(dtype, "uint"):
		return KindInt
	case strings.HasPrefix(dtype, "float"), strings.HasPrefix(dtype, "double"):
		return KindFloat
	default:
		return KindString
	}
}
