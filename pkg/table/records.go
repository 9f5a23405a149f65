package table

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// RowIDField is the reserved record key carrying the stable row id across
// the JSON boundary. It is never treated as a column.
const RowIDField = "_row_id"

// Records returns the rows as a column-keyed record per row, visible
// columns only.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.rows))
	for _, r := range t.rows {
		rec := make(map[string]any, len(t.columns))
		for _, c := range t.columns {
			rec[c.Field] = r.Cells[c.Field]
		}
		out = append(out, rec)
	}
	return out
}

// EncodeRecords writes the table as a JSON array of records, preserving
// column order within each record. Go's map marshalling sorts keys, which
// would scramble the display order, so records are written field by field.
func (t *Table) EncodeRecords(w io.Writer, includeRowIDs bool) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, r := range t.rows {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "{"); err != nil {
			return err
		}
		first := true
		if includeRowIDs {
			if err := writeField(w, RowIDField, r.ID); err != nil {
				return err
			}
			first = false
		}
		for _, c := range t.columns {
			if !first {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			first = false
			if err := writeField(w, c.Field, r.Cells[c.Field]); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "}"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

func writeField(w io.Writer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal field %q: %w", key, err)
	}
	if _, err := w.Write(k); err != nil {
		return err
	}
	if _, err := io.WriteString(w, ":"); err != nil {
		return err
	}
	_, err = w.Write(v)
	return err
}

// DecodeRecords reads a JSON array of records into a table, keeping the
// columns in first-encounter order. A record key named RowIDField becomes
// the row's id; rows without one get a generated id. Keys absent from a
// record are backfilled with an empty string.
func DecodeRecords(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	t := New()
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		row := Row{Cells: map[string]any{}}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("failed to read record key: %w", err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected record key token %v", keyTok)
			}
			var value any
			if err := dec.Decode(&value); err != nil {
				return nil, fmt.Errorf("failed to decode value for %q: %w", key, err)
			}
			if key == RowIDField {
				if s, ok := value.(string); ok {
					row.ID = s
				}
				continue
			}
			if !t.hasColumn(key) {
				t.columns = append(t.columns, Column{Field: key, Title: key})
			}
			row.Cells[key] = value
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		t.rows = append(t.rows, row)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}

	// later records may have introduced columns earlier rows never saw
	for i := range t.rows {
		for _, c := range t.columns {
			if _, ok := t.rows[i].Cells[c.Field]; !ok {
				t.rows[i].Cells[c.Field] = ""
			}
		}
	}
	return t, nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || rune(d) != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// WriteCSV writes the visible columns as CSV with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnFields()); err != nil {
		return err
	}
	record := make([]string, len(t.columns))
	for _, r := range t.rows {
		for i, c := range t.columns {
			record[i] = formatCell(r.Cells[c.Field])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a CSV file with a header row into a table of string cells.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	t := New(header...)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		id := t.AddRow()
		for i, field := range header {
			if i < len(record) {
				if _, _, err := t.EditCell(id, field, record[i]); err != nil {
					return nil, err
				}
			}
		}
	}
	return t, nil
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
