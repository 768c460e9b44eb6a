package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Thought is one unit of free-text user input. Type, Intensity, Tags, Notes
// and ProjectID are the fields the action executor mutates.
type Thought struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Type      string    `json:"type,omitempty"` // "feeling-good", "feeling-bad", "neutral" or ""
	Intensity int       `json:"intensity"`      // 0-100
	Tags      []string  `json:"tags"`
	Notes     string    `json:"notes,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the thought carries the given tag.
func (t *Thought) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Recurrence describes how a task repeats. Absent for one-off tasks.
type Recurrence struct {
	Type       string   `json:"type"` // "daily", "weekly", "monthly"
	Interval   int      `json:"interval,omitempty"`
	DaysOfWeek []string `json:"days_of_week,omitempty"`
}

// Task is an actionable item created from a thought.
type Task struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Category        string      `json:"category,omitempty"`
	Priority        string      `json:"priority,omitempty"`
	EstimatedTime   string      `json:"estimated_time,omitempty"`
	Status          string      `json:"status"` // "active", "done"
	Recurrence      *Recurrence `json:"recurrence,omitempty"`
	SourceThoughtID string      `json:"source_thought_id,omitempty"`
	QueueItemID     string      `json:"queue_item_id,omitempty"`
	AIReasoning     string      `json:"ai_reasoning,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Project is a longer-horizon goal created from a thought.
type Project struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Objective       string    `json:"objective,omitempty"`
	ActionPlan      string    `json:"action_plan,omitempty"`
	Timeframe       string    `json:"timeframe,omitempty"`
	Category        string    `json:"category,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	Status          string    `json:"status"`   // "active", "archived"
	Progress        int       `json:"progress"` // 0-100
	SourceThoughtID string    `json:"source_thought_id,omitempty"`
	QueueItemID     string    `json:"queue_item_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Mood is one recorded mood entry on a 1-10 scale.
type Mood struct {
	ID              string    `json:"id"`
	Value           int       `json:"value"` // 1-10
	MoodType        string    `json:"mood_type,omitempty"`
	Note            string    `json:"note,omitempty"`
	SourceThoughtID string    `json:"source_thought_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
