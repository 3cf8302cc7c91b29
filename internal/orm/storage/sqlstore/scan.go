package sqlstore

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// scanRows scans multiple rows into a slice of maps
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any)
		for i, col := range columns {
			// Convert []byte to string for text columns
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}

		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// encode flattens a resource into column values through its JSON form
func encode(t *Table, resource any) (map[string]any, error) {
	data, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("resource of type %s must encode to a JSON object: %w", t.Type, err)
	}

	values := map[string]any{"id": textValue(fields["id"])}
	for _, c := range t.Columns {
		v, err := encodeValue(c, fields[c.Name])
		if err != nil {
			return nil, err
		}
		values[c.Name] = v
	}
	return values, nil
}

func encodeValue(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Kind {
	case KindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return string(data), nil
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return t.UTC(), nil
	case KindInteger, KindReal:
		return sqlValue(c.Kind, v), nil
	default:
		return v, nil
	}
}

// decode turns a scanned row back into the JSON form of the resource
func decode(t *Table, record map[string]any) ([]byte, error) {
	fields := make(map[string]any, len(record))
	fields["id"] = textValue(record["id"])

	for _, c := range t.Columns {
		raw, ok := record[c.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := decodeValue(c, raw)
		if err != nil {
			return nil, err
		}
		fields[c.Name] = v
	}
	return json.Marshal(fields)
}

func decodeValue(c Column, raw any) (any, error) {
	switch c.Kind {
	case KindJSON:
		s := textValue(raw)
		if s == "" {
			return nil, nil
		}
		return json.RawMessage(s), nil
	case KindBool:
		switch x := raw.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case KindTime:
		if x, ok := raw.(string); ok {
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, x); err == nil {
					return t, nil
				}
			}
		}
	case KindInteger, KindReal:
		if x, ok := raw.(string); ok {
			return json.Number(x), nil
		}
	case KindText:
		return textValue(raw), nil
	}
	return raw, nil
}

func textValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
