package build

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Field is one (name, raw value) pair of a source row.
type Field struct {
	Name  string
	Value string
}

// Record is one source row: an ordered set of fields denoting one
// observation, possibly spanning several schema levels.
type Record struct {
	Fields []Field
}

// Get returns the value of the named field.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// ReadCSV reads records from CSV input. The first row is the header; every
// data row yields one record with fields in column order.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var records []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		rec := Record{Fields: make([]Field, len(row))}
		for i, v := range row {
			rec.Fields[i] = Field{Name: header[i], Value: v}
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadJSONLines reads one JSON object per line, skipping blank lines.
// Object keys are sorted so field order is deterministic.
func ReadJSONLines(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		v, err := oj.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse json line %d: %w", line, err)
		}
		rec, err := recordFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("json line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan json lines: %w", err)
	}
	return records, nil
}

// SelectRecords extracts records from a JSON document with a JSONPath
// selector, e.g. "$.rows[*]" for an exporter that wraps its rows in an
// envelope.
func SelectRecords(doc []byte, selector string) ([]Record, error) {
	v, err := oj.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse json document: %w", err)
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath %q: %w", selector, err)
	}

	matches := x.Get(v)
	records := make([]Record, 0, len(matches))
	for i, m := range matches {
		rec, err := recordFromValue(m)
		if err != nil {
			return nil, fmt.Errorf("match %d of %q: %w", i, selector, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromValue(v any) (Record, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("expected a flat object, got %T", v)
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	rec := Record{Fields: make([]Field, 0, len(names))}
	for _, name := range names {
		rec.Fields = append(rec.Fields, Field{Name: name, Value: fieldValue(m[name])})
	}
	return rec, nil
}

// fieldValue renders a scalar JSON value as the raw string the engine
// works in. Type coercion beyond this is a downstream concern.
func fieldValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
