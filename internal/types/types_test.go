package types

import (
	"testing"
	"time"
)

func TestKnownCollection(t *testing.T) {
	for _, c := range Collections {
		if !KnownCollection(c) {
			t.Errorf("expected %q known", c)
		}
	}
	if KnownCollection("widgets") {
		t.Error("expected widgets unknown")
	}
	if KnownCollection("") {
		t.Error("expected empty name unknown")
	}
}

func TestRecord_Clone(t *testing.T) {
	rec := &Record{
		ID:         "r1",
		Collection: CollectionProjects,
		Fields: map[string]any{
			"name":  "Harbor office",
			"areas": []any{"north wing"},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	cp := rec.Clone()
	cp.Fields["name"] = "changed"

	if rec.Fields["name"] != "Harbor office" {
		t.Error("clone shares field map with original")
	}
	if cp.ID != rec.ID || !cp.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Error("clone lost scalar fields")
	}
}

func TestDecodeFields_Project(t *testing.T) {
	rec := &Record{
		ID:         "p1",
		Collection: CollectionProjects,
		Fields: map[string]any{
			"name":           "Riverside warehouse",
			"status":         ProjectStatusActive,
			"client_name":    "Meridian Logistics",
			"contract_value": 1250000.0,
		},
	}

	p, err := DecodeFields[Project](rec)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Riverside warehouse" {
		t.Errorf("unexpected name %q", p.Name)
	}
	if p.Status != ProjectStatusActive {
		t.Errorf("unexpected status %q", p.Status)
	}
	if p.ContractValue != 1250000.0 {
		t.Errorf("unexpected contract value %v", p.ContractValue)
	}
}

func TestDecodeFields_TypeMismatch(t *testing.T) {
	rec := &Record{
		Collection: CollectionDeliveries,
		Fields:     map[string]any{"quantity_ordered": "forty"},
	}

	if _, err := DecodeFields[Delivery](rec); err == nil {
		t.Error("expected decode error for string in int field")
	}
}

func TestEncodeFields_RoundTrip(t *testing.T) {
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	task := Task{
		Title:    "Install rooftop units",
		Status:   TaskStatusInProgress,
		Priority: TaskPriorityHigh,
		DueDate:  &due,
	}

	fields, err := EncodeFields(task)
	if err != nil {
		t.Fatal(err)
	}
	if fields["title"] != "Install rooftop units" {
		t.Errorf("unexpected title %v", fields["title"])
	}
	// omitempty keeps unset keys out of the map
	if _, ok := fields["completed_at"]; ok {
		t.Error("expected zero completed_at omitted")
	}

	back, err := DecodeFields[Task](&Record{Collection: CollectionTasks, Fields: fields})
	if err != nil {
		t.Fatal(err)
	}
	if back.Title != task.Title || back.Priority != task.Priority {
		t.Errorf("round trip lost data: %+v", back)
	}
	if back.DueDate == nil || !back.DueDate.Equal(due) {
		t.Errorf("round trip lost due date: %v", back.DueDate)
	}
}
