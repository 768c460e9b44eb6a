// Package tools holds the static catalog of capabilities advertised to the
// classifier. It is configuration, not workflow state: nothing here is
// versioned or revertible.
package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is one named capability category the classifier may propose actions for.
type Tool struct {
	ID           string
	Name         string
	Description  string
	Capabilities []string
	Examples     []string
	Keywords     []string
	Priority     int
	Active       bool
}

// Registry is a read-mostly catalog of tools keyed by id. The only mutation
// is toggling whether a tool is advertised.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools []Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for i := range tools {
		t := tools[i]
		r.tools[t.ID] = &t
	}
	return r
}

// DefaultRegistry returns the built-in mindq tool catalog.
func DefaultRegistry() *Registry {
	return NewRegistry([]Tool{
		{
			ID:          "tasks",
			Name:        "Tasks",
			Description: "Turn actionable thoughts into concrete tasks with category, priority, and time estimate.",
			Capabilities: []string{
				"Create a task from a thought (createTask)",
				"Set a recurrence for repeating obligations",
			},
			Examples: []string{
				"I need to buy milk",
				"Call the dentist tomorrow to reschedule",
			},
			Keywords: []string{"need to", "must", "todo", "remember to", "buy", "call", "fix"},
			Priority: 1,
			Active:   true,
		},
		{
			ID:          "mood",
			Name:        "Mood",
			Description: "Detect emotional content, classify the thought, and record a mood entry.",
			Capabilities: []string{
				"Classify the thought as feeling-good, feeling-bad, or neutral (changeType)",
				"Set an emotional intensity from 0 to 100 (setIntensity)",
				"Record a mood entry on a 1-10 scale (createMoodEntry)",
			},
			Examples: []string{
				"I feel completely drained after that meeting",
				"So happy the release went out today",
			},
			Keywords: []string{"feel", "happy", "sad", "anxious", "stressed", "tired", "excited"},
			Priority: 2,
			Active:   true,
		},
		{
			ID:          "cbt",
			Name:        "Thought Enhancement",
			Description: "Rewrite a raw thought into a clearer, more constructive formulation.",
			Capabilities: []string{
				"Replace the thought text with an improved version (enhanceThought)",
			},
			Examples: []string{
				"everything always goes wrong for me",
			},
			Keywords: []string{"always", "never", "everyone", "nobody", "can't"},
			Priority: 3,
			Active:   true,
		},
		{
			ID:          "projects",
			Name:        "Projects",
			Description: "Recognize longer-horizon goals and manage project links.",
			Capabilities: []string{
				"Create a project with objective and action plan (createProject)",
				"Link the thought to an existing project by title (linkToProject)",
			},
			Examples: []string{
				"I want to learn woodworking this year",
				"Another idea for the garden redesign",
			},
			Keywords: []string{"project", "goal", "plan", "learn", "build", "this year"},
			Priority: 4,
			Active:   true,
		},
		{
			ID:          "tagging",
			Name:        "Tagging",
			Description: "Attach organizational tags to the thought.",
			Capabilities: []string{
				"Add a tag to the thought's tag set (addTag)",
			},
			Examples: []string{
				"Work stuff: the quarterly report is due Friday",
			},
			Keywords: []string{"work", "health", "family", "money", "idea"},
			Priority: 5,
			Active:   true,
		},
	})
}

// ActiveTools returns the active tools sorted by ascending priority.
func (r *Registry) ActiveTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []Tool
	for _, t := range r.tools {
		if t.Active {
			active = append(active, *t)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active
}

// SetActive toggles whether a tool is advertised to the classifier.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tools[id]
	if !ok {
		return fmt.Errorf("unknown tool %q", id)
	}
	t.Active = active
	return nil
}

// Descriptions renders the active tools as one text block, consumed verbatim
// as part of the classifier's instructions.
func (r *Registry) Descriptions() string {
	var sb strings.Builder
	for i, t := range r.ActiveTools() {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## %s\n%s\n", t.Name, t.Description)
		for _, c := range t.Capabilities {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		if len(t.Examples) > 0 {
			fmt.Fprintf(&sb, "Example thoughts: %s\n", strings.Join(t.Examples, " | "))
		}
		if len(t.Keywords) > 0 {
			fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(t.Keywords, ", "))
		}
	}
	return sb.String()
}
