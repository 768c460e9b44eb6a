package tools

import (
	"strings"
	"testing"
)

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry()

	active := r.ActiveTools()
	if len(active) != 5 {
		t.Fatalf("got %d active tools, want 5", len(active))
	}
	for i := 1; i < len(active); i++ {
		if active[i-1].Priority > active[i].Priority {
			t.Errorf("tools out of priority order: %s (%d) before %s (%d)",
				active[i-1].ID, active[i-1].Priority, active[i].ID, active[i].Priority)
		}
	}
	if active[0].ID != "tasks" {
		t.Errorf("first tool = %s, want tasks", active[0].ID)
	}
}

func TestSetActive(t *testing.T) {
	r := DefaultRegistry()

	if err := r.SetActive("mood", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	for _, tool := range r.ActiveTools() {
		if tool.ID == "mood" {
			t.Error("deactivated tool still listed as active")
		}
	}

	if err := r.SetActive("nonexistent", true); err == nil {
		t.Error("expected error for unknown tool id")
	}
}

func TestDescriptionsReflectActiveSet(t *testing.T) {
	r := DefaultRegistry()

	desc := r.Descriptions()
	if !strings.Contains(desc, "## Tasks") || !strings.Contains(desc, "createTask") {
		t.Errorf("descriptions missing task tool:\n%s", desc)
	}
	if !strings.Contains(desc, "## Mood") {
		t.Errorf("descriptions missing mood tool")
	}

	if err := r.SetActive("mood", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if strings.Contains(r.Descriptions(), "## Mood") {
		t.Error("deactivated tool still advertised")
	}
}
