package reports

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Shape is the top-level layout of the reports file.
type Shape int

const (
	// ShapeObject is {"reports": [...], ...other fields}.
	ShapeObject Shape = iota
	// ShapeArray is a bare [...] of records.
	ShapeArray
)

const reportsField = "reports"

type field struct {
	key   string
	value json.RawMessage
}

// Collection is a parsed reports file. Existing records are kept as raw JSON
// so fields this package does not know survive a rewrite, and object-form
// top-level fields keep their order.
type Collection struct {
	shape   Shape
	fields  []field // object form only; the reports value is rebuilt on Marshal
	raw     []json.RawMessage
	records []Report
}

// NewCollection returns an empty object-form collection.
func NewCollection() *Collection {
	return &Collection{shape: ShapeObject, fields: []field{{key: reportsField}}}
}

// ParseCollection parses a reports file in either shape. An object without
// a usable "reports" array is treated as having no records. Malformed JSON
// is an error.
func ParseCollection(data []byte) (*Collection, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("reports: empty file")
	}

	c := &Collection{}
	switch trimmed[0] {
	case '[':
		c.shape = ShapeArray
		if err := json.Unmarshal(trimmed, &c.raw); err != nil {
			return nil, fmt.Errorf("reports: parse array: %w", err)
		}
	case '{':
		c.shape = ShapeObject
		fields, err := parseObject(trimmed)
		if err != nil {
			return nil, fmt.Errorf("reports: parse object: %w", err)
		}
		c.fields = fields
		hasReports := false
		for _, f := range fields {
			if f.key != reportsField {
				continue
			}
			hasReports = true
			if v := bytes.TrimSpace(f.value); len(v) > 0 && v[0] == '[' {
				if err := json.Unmarshal(v, &c.raw); err != nil {
					return nil, fmt.Errorf("reports: parse records: %w", err)
				}
			}
		}
		if !hasReports {
			c.fields = append(c.fields, field{key: reportsField})
		}
	default:
		return nil, errors.New("reports: top level must be an array or an object")
	}

	c.records = make([]Report, len(c.raw))
	for i, r := range c.raw {
		// Records that do not fit the model still round-trip through raw.
		_ = json.Unmarshal(r, &c.records[i])
	}
	return c, nil
}

// parseObject reads top-level key/value pairs in order. A repeated key
// keeps its first position and its last value.
func parseObject(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.New("expected object")
	}

	var fields []field
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		if i, dup := index[key]; dup {
			fields[i].value = value
			continue
		}
		index[key] = len(fields)
		fields = append(fields, field{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

// Shape returns the detected layout.
func (c *Collection) Shape() Shape { return c.shape }

// Len returns the number of records.
func (c *Collection) Len() int { return len(c.raw) }

// Records returns the records decoded into the model, newest first.
func (c *Collection) Records() []Report { return c.records }

// HasID reports whether a record with the given id exists.
func (c *Collection) HasID(id string) bool {
	for _, r := range c.records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Prepend inserts r as the first record.
func (c *Collection) Prepend(r Report) error {
	data, err := encode(r)
	if err != nil {
		return fmt.Errorf("reports: encode record %s: %w", r.ID, err)
	}
	c.raw = append([]json.RawMessage{data}, c.raw...)
	c.records = append([]Report{r}, c.records...)
	return nil
}

// Marshal serializes the collection in its original shape with two-space
// indentation, unescaped HTML characters and a trailing newline.
func (c *Collection) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	writeArray := func() {
		buf.WriteByte('[')
		for i, r := range c.raw {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(r)
		}
		buf.WriteByte(']')
	}

	if c.shape == ShapeArray {
		writeArray()
	} else {
		buf.WriteByte('{')
		for i, f := range c.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := encode(f.key)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if f.key == reportsField {
				writeArray()
			} else {
				buf.Write(f.value)
			}
		}
		buf.WriteByte('}')
	}

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("reports: indent: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// encode marshals v without HTML escaping and without a trailing newline.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
