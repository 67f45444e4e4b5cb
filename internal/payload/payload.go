// Package payload validates mutation payloads against per-table schemas
// before they reach the local cache or the mutation queue. Payloads are
// arbitrary JSON documents on the wire; the registry pins down which
// tables are syncable and which fields each one requires.
package payload

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the expected JSON type of a field.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindAny    Kind = "any"
)

// Field describes one known field of a table payload.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema describes the payload shape for one table.
type Schema struct {
	Table  string
	Fields []Field
}

// registry holds the syncable tables. Unknown fields are allowed (the
// server schema can grow ahead of the client); unknown tables are not.
var registry = map[string]Schema{
	"daily_reports": {
		Table: "daily_reports",
		Fields: []Field{
			{Name: "project_id", Kind: KindString, Required: true},
			{Name: "report_date", Kind: KindString, Required: true},
			{Name: "weather", Kind: KindString},
			{Name: "crew_count", Kind: KindNumber},
			{Name: "work_performed", Kind: KindString},
			{Name: "notes", Kind: KindString},
		},
	},
	"rfis": {
		Table: "rfis",
		Fields: []Field{
			{Name: "project_id", Kind: KindString, Required: true},
			{Name: "subject", Kind: KindString, Required: true},
			{Name: "question", Kind: KindString, Required: true},
			{Name: "status", Kind: KindString},
			{Name: "assignee", Kind: KindString},
			{Name: "due_date", Kind: KindString},
			{Name: "answer", Kind: KindString},
		},
	},
	"change_orders": {
		Table: "change_orders",
		Fields: []Field{
			{Name: "project_id", Kind: KindString, Required: true},
			{Name: "title", Kind: KindString, Required: true},
			{Name: "amount", Kind: KindNumber},
			{Name: "status", Kind: KindString},
			{Name: "description", Kind: KindString},
		},
	},
	"punch_items": {
		Table: "punch_items",
		Fields: []Field{
			{Name: "project_id", Kind: KindString, Required: true},
			{Name: "title", Kind: KindString, Required: true},
			{Name: "location", Kind: KindString},
			{Name: "trade", Kind: KindString},
			{Name: "status", Kind: KindString},
			{Name: "photos", Kind: KindArray},
		},
	},
	"documents": {
		Table: "documents",
		Fields: []Field{
			{Name: "project_id", Kind: KindString, Required: true},
			{Name: "name", Kind: KindString, Required: true},
			{Name: "category", Kind: KindString},
			{Name: "storage_path", Kind: KindString},
			{Name: "meta", Kind: KindObject},
		},
	},
}

// Tables returns the syncable table names in sorted order.
func Tables() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether a table is syncable.
func Known(table string) bool {
	_, ok := registry[table]
	return ok
}

// Validate checks a payload document against the table's schema.
// Malformed JSON, unknown tables, missing required fields, and fields of
// the wrong JSON type are all errors.
func Validate(table string, data json.RawMessage) error {
	schema, ok := registry[table]
	if !ok {
		return fmt.Errorf("unknown table: %q", table)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("payload for %s: not a JSON object: %w", table, err)
	}

	for _, f := range schema.Fields {
		val, present := fields[f.Name]
		if !present || val == nil {
			if f.Required {
				return fmt.Errorf("payload for %s: missing required field %q", table, f.Name)
			}
			continue
		}
		if err := checkKind(f, val); err != nil {
			return fmt.Errorf("payload for %s: %w", table, err)
		}
	}
	return nil
}

func checkKind(f Field, val any) error {
	switch f.Kind {
	case KindString:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("field %q: expected string, got %T", f.Name, val)
		}
	case KindNumber:
		if _, ok := val.(float64); !ok {
			return fmt.Errorf("field %q: expected number, got %T", f.Name, val)
		}
	case KindBool:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("field %q: expected bool, got %T", f.Name, val)
		}
	case KindObject:
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("field %q: expected object, got %T", f.Name, val)
		}
	case KindArray:
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("field %q: expected array, got %T", f.Name, val)
		}
	case KindAny:
	}
	return nil
}
