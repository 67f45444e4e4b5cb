package payload

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestTablesSorted(t *testing.T) {
	tables := Tables()
	if len(tables) == 0 {
		t.Fatal("No tables registered")
	}
	if !sort.StringsAreSorted(tables) {
		t.Errorf("Tables not sorted: %v", tables)
	}
	for _, name := range tables {
		if !Known(name) {
			t.Errorf("Known(%q) = false for a registered table", name)
		}
	}
}

func TestKnownUnregistered(t *testing.T) {
	if Known("invoices") {
		t.Error("Known should reject unregistered tables")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		data    string
		wantErr bool
	}{
		{
			name:  "daily report with all fields",
			table: "daily_reports",
			data:  `{"project_id": "p1", "report_date": "2024-03-01", "weather": "rain", "crew_count": 12, "notes": "slab pour delayed"}`,
		},
		{
			name:  "rfi minimal",
			table: "rfis",
			data:  `{"project_id": "p1", "subject": "HVAC", "question": "Duct size?"}`,
		},
		{
			name:  "unknown extra fields pass through",
			table: "punch_items",
			data:  `{"project_id": "p1", "title": "Paint touch-up", "custom_tag": "zone-4"}`,
		},
		{
			name:  "punch item with photo array",
			table: "punch_items",
			data:  `{"project_id": "p1", "title": "Leak", "photos": ["a.jpg", "b.jpg"]}`,
		},
		{
			name:  "document with meta object",
			table: "documents",
			data:  `{"project_id": "p1", "name": "Plans", "meta": {"pages": 42}}`,
		},
		{
			name:  "explicit null counts as absent",
			table: "change_orders",
			data:  `{"project_id": "p1", "title": "Skylight", "amount": null}`,
		},
		{
			name:    "missing required field",
			table:   "daily_reports",
			data:    `{"project_id": "p1"}`,
			wantErr: true,
		},
		{
			name:    "required field null",
			table:   "rfis",
			data:    `{"project_id": "p1", "subject": null, "question": "?"}`,
			wantErr: true,
		},
		{
			name:    "wrong type for string field",
			table:   "rfis",
			data:    `{"project_id": 7, "subject": "HVAC", "question": "?"}`,
			wantErr: true,
		},
		{
			name:    "wrong type for number field",
			table:   "change_orders",
			data:    `{"project_id": "p1", "title": "Skylight", "amount": "12500"}`,
			wantErr: true,
		},
		{
			name:    "wrong type for array field",
			table:   "punch_items",
			data:    `{"project_id": "p1", "title": "Leak", "photos": "a.jpg"}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			table:   "rfis",
			data:    `[1, 2, 3]`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			table:   "rfis",
			data:    `{"project_id": `,
			wantErr: true,
		},
		{
			name:    "unknown table",
			table:   "invoices",
			data:    `{"project_id": "p1"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.table, json.RawMessage(tt.data))
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}
