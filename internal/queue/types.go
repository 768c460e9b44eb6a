package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessedTag marks a thought whose batch has been approved and executed.
// The approval handler adds it on completion and refuses to process a
// thought that already carries it; revert strips it again.
const ProcessedTag = "ai-processed"

// ActionType identifies one of the mutations the classifier may propose.
// The set is closed; Execute dispatches exhaustively over it.
type ActionType string

const (
	ActionCreateTask      ActionType = "createTask"
	ActionAddTag          ActionType = "addTag"
	ActionEnhanceThought  ActionType = "enhanceThought"
	ActionChangeType      ActionType = "changeType"
	ActionSetIntensity    ActionType = "setIntensity"
	ActionCreateMoodEntry ActionType = "createMoodEntry"
	ActionCreateProject   ActionType = "createProject"
	ActionLinkToProject   ActionType = "linkToProject"
)

// KnownActionTypes lists every action type in display order.
var KnownActionTypes = []ActionType{
	ActionCreateTask,
	ActionAddTag,
	ActionEnhanceThought,
	ActionChangeType,
	ActionSetIntensity,
	ActionCreateMoodEntry,
	ActionCreateProject,
	ActionLinkToProject,
}

// IsKnown reports whether t is one of the eight supported action types.
func (t ActionType) IsKnown() bool {
	for _, k := range KnownActionTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ActionStatus is the lifecycle of a single proposed action.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionExecuted ActionStatus = "executed"
	ActionFailed   ActionStatus = "failed"
)

// Action is one AI-proposed, individually approvable mutation.
type Action struct {
	ID           string          `json:"id"`
	Type         ActionType      `json:"type"`
	ThoughtID    string          `json:"thought_id"`
	Data         json.RawMessage `json:"data"`
	Status       ActionStatus    `json:"status"`
	AIReasoning  string          `json:"ai_reasoning,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedItems []string        `json:"created_items,omitempty"`
}

// Typed payloads decoded from Action.Data, one per action type.

type CreateTaskData struct {
	Title         string         `json:"title"`
	Category      string         `json:"category"`
	Priority      string         `json:"priority"`
	EstimatedTime string         `json:"estimated_time,omitempty"`
	Recurrence    RecurrenceData `json:"recurrence,omitempty"`
}

type RecurrenceData struct {
	Type       string   `json:"type"` // "none", "daily", "weekly", "monthly"
	Interval   int      `json:"interval,omitempty"`
	DaysOfWeek []string `json:"days_of_week,omitempty"`
}

type AddTagData struct {
	Tag string `json:"tag"`
}

type EnhanceThoughtData struct {
	ImprovedText string   `json:"improved_text"`
	Changes      []string `json:"changes,omitempty"`
}

type ChangeTypeData struct {
	NewType string `json:"new_type"` // "feeling-good", "feeling-bad", "neutral"
}

type SetIntensityData struct {
	Intensity int `json:"intensity"` // 0-100
}

type CreateMoodEntryData struct {
	Mood      string `json:"mood"`
	Intensity int    `json:"intensity"` // 0-100
	Note      string `json:"note,omitempty"`
}

type CreateProjectData struct {
	Title      string `json:"title"`
	Objective  string `json:"objective,omitempty"`
	ActionPlan string `json:"action_plan,omitempty"`
	Timeframe  string `json:"timeframe,omitempty"`
	Category   string `json:"category,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

type LinkToProjectData struct {
	ProjectTitle string `json:"project_title"`
}

// DecodePayload unmarshals the action's data into v.
func (a Action) DecodePayload(v any) error {
	if len(a.Data) == 0 {
		return fmt.Errorf("action %s has no payload", a.ID)
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", a.Type, err)
	}
	return nil
}

// OriginalThought is the pre-batch snapshot of the thought's text and tags,
// taken when the queue item is created.
type OriginalThought struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

// CreatedItems collects ids of entities created by executed actions,
// deleted again on revert.
type CreatedItems struct {
	TaskIDs    []string `json:"task_ids,omitempty"`
	ProjectIDs []string `json:"project_ids,omitempty"`
	NoteIDs    []string `json:"note_ids,omitempty"`
}

// ThoughtChanges tracks, per mutable thought field, whether the batch
// changed it and what the value was before the first change.
type ThoughtChanges struct {
	TextChanged       bool   `json:"text_changed,omitempty"`
	OriginalText      string `json:"original_text,omitempty"`
	TypeChanged       bool   `json:"type_changed,omitempty"`
	OriginalType      string `json:"original_type,omitempty"`
	IntensityChanged  bool   `json:"intensity_changed,omitempty"`
	OriginalIntensity int    `json:"original_intensity,omitempty"`
}

// RevertData is the per-batch ledger holding everything needed to undo a
// completed queue item.
type RevertData struct {
	OriginalThought OriginalThought `json:"original_thought"`
	CreatedItems    CreatedItems    `json:"created_items"`
	ThoughtChanges  ThoughtChanges  `json:"thought_changes"`
	AddedTags       []string        `json:"added_tags,omitempty"`
	CanRevert       bool            `json:"can_revert"`
}

// SnapshotText records the pre-change text. Only the first call in a batch
// takes effect; later enhancements must not overwrite the snapshot.
func (r *RevertData) SnapshotText(old string) {
	if r.ThoughtChanges.TextChanged {
		return
	}
	r.ThoughtChanges.TextChanged = true
	r.ThoughtChanges.OriginalText = old
}

// SnapshotType records the pre-change thought type, first change only.
func (r *RevertData) SnapshotType(old string) {
	if r.ThoughtChanges.TypeChanged {
		return
	}
	r.ThoughtChanges.TypeChanged = true
	r.ThoughtChanges.OriginalType = old
}

// SnapshotIntensity records the pre-change intensity, first change only.
func (r *RevertData) SnapshotIntensity(old int) {
	if r.ThoughtChanges.IntensityChanged {
		return
	}
	r.ThoughtChanges.IntensityChanged = true
	r.ThoughtChanges.OriginalIntensity = old
}

// RecordAddedTag notes a tag appended by this batch, once.
func (r *RevertData) RecordAddedTag(tag string) {
	for _, t := range r.AddedTags {
		if t == tag {
			return
		}
	}
	r.AddedTags = append(r.AddedTags, tag)
}

// Item is one batch of AI-proposed actions for one thought.
type Item struct {
	ID              string          `json:"id"`
	ThoughtID       string          `json:"thought_id"`
	Mode            string          `json:"mode"` // "manual"
	Status          Status          `json:"status"`
	Actions         []Action        `json:"actions"`
	ApprovedActions []string        `json:"approved_actions,omitempty"`
	ExecutedActions []string        `json:"executed_actions,omitempty"`
	Revertible      bool            `json:"revertible"`
	RevertData      RevertData      `json:"revert_data"`
	AIResponse      json.RawMessage `json:"ai_response,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	RevertedAt      *time.Time      `json:"reverted_at,omitempty"`
}

// Executed reports whether the action id has already been executed.
// Executed ids form the idempotency watermark: once present, the action
// must never run again.
func (it *Item) Executed(actionID string) bool {
	for _, id := range it.ExecutedActions {
		if id == actionID {
			return true
		}
	}
	return false
}

// MarkExecuted sets the action's status to executed and appends its id to
// the executed watermark (set semantics).
func (it *Item) MarkExecuted(actionID string) {
	for i := range it.Actions {
		if it.Actions[i].ID == actionID {
			it.Actions[i].Status = ActionExecuted
			it.Actions[i].Error = ""
			break
		}
	}
	if !it.Executed(actionID) {
		it.ExecutedActions = append(it.ExecutedActions, actionID)
	}
}

// MarkFailed sets the action's status to failed with the given reason.
func (it *Item) MarkFailed(actionID, reason string) {
	for i := range it.Actions {
		if it.Actions[i].ID == actionID {
			it.Actions[i].Status = ActionFailed
			it.Actions[i].Error = reason
			break
		}
	}
}

// Action returns the action with the given id, or nil.
func (it *Item) Action(actionID string) *Action {
	for i := range it.Actions {
		if it.Actions[i].ID == actionID {
			return &it.Actions[i]
		}
	}
	return nil
}
