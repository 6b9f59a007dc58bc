package dataset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the element type of a column
type Kind string

const (
	// KindString holds free text values
	KindString Kind = "string"
	// KindInt holds integer values
	KindInt Kind = "int"
	// KindFloat holds floating-point values
	KindFloat Kind = "float"
	// KindClassLabel holds integer ids into a fixed list of class names
	KindClassLabel Kind = "class_label"
	// KindIntList holds variable-length lists of integers
	KindIntList Kind = "int_list"
)

// Feature describes one column of a split
type Feature struct {
	Name  string   `json:"name"`
	Kind  Kind     `json:"kind"`
	Names []string `json:"names,omitempty"`
}

// Row is a single example keyed by column name
type Row map[string]any

// Split is an in-memory dataset split with column metadata
type Split struct {
	Name     string
	Features []Feature
	Rows     []Row

	fingerprint string
}

// NumRows returns the number of examples in the split
func (s *Split) NumRows() int {
	return len(s.Rows)
}

// Head returns the split truncated to its first n rows. The copy carries a
// fresh fingerprint so truncated and full splits never share cache entries.
func (s *Split) Head(n int) *Split {
	if n <= 0 || n >= len(s.Rows) {
		return s
	}
	return &Split{Name: s.Name, Features: s.Features, Rows: s.Rows[:n]}
}

// Feature looks up column metadata by name
func (s *Split) Feature(name string) (Feature, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// HasColumn reports whether the split declares a column with the given name
func (s *Split) HasColumn(name string) bool {
	_, ok := s.Feature(name)
	return ok
}

// ColumnNames returns the declared column names in feature order
func (s *Split) ColumnNames() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Unique returns the sorted distinct values of a column, stringified
func (s *Split) Unique(column string) ([]string, error) {
	if !s.HasColumn(column) {
		return nil, fmt.Errorf("split %s has no column %q", s.Name, column)
	}

	seen := make(map[string]struct{})
	for _, row := range s.Rows {
		seen[FormatValue(row[column])] = struct{}{}
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)

	return values, nil
}

// Fingerprint returns a stable hash of the split's name, features and rows.
// Row maps are encoded with sorted keys, so the value is reproducible across runs.
func (s *Split) Fingerprint() string {
	if s.fingerprint != "" {
		return s.fingerprint
	}

	h := xxhash.New()
	_, _ = h.WriteString(s.Name)
	for _, f := range s.Features {
		_, _ = h.WriteString(f.Name)
		_, _ = h.WriteString(string(f.Kind))
		for _, n := range f.Names {
			_, _ = h.WriteString(n)
		}
	}

	enc := json.NewEncoder(h)
	for _, row := range s.Rows {
		_ = enc.Encode(row)
	}

	s.fingerprint = strconv.FormatUint(h.Sum64(), 16)
	return s.fingerprint
}

// FormatValue stringifies a cell value the same way regardless of source format
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Float converts a cell value to float64
func Float(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int converts a cell value to int64
func Int(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), t == float64(int64(t))
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Ints converts a cell value holding a list of integers to []int
func Ints(v any) ([]int, bool) {
	switch t := v.(type) {
	case []int:
		return t, true
	case []int64:
		out := make([]int, len(t))
		for i, n := range t {
			out[i] = int(n)
		}
		return out, true
	case []any:
		out := make([]int, len(t))
		for i, e := range t {
			n, ok := Int(e)
			if !ok {
				return nil, false
			}
			out[i] = int(n)
		}
		return out, true
	default:
		return nil, false
	}
}
