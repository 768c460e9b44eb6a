// Package executor applies approved actions against the entity stores and
// maintains the revert ledger that makes a completed batch undoable.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

// ErrProjectNotFound is returned by linkToProject when no project title matches.
var ErrProjectNotFound = errors.New("project not found")

// EntityStore is the slice of the storage layer the executor mutates.
// It is read fresh on every call; the executor never caches entity state.
type EntityStore interface {
	GetThought(id string) (storage.Thought, error)
	UpdateThought(t storage.Thought) error
	CreateTask(t storage.Task) error
	DeleteTask(id string) error
	CreateProject(p storage.Project) error
	DeleteProject(id string) error
	FindProjectByTitle(title string) (storage.Project, error)
	CreateMood(m storage.Mood) error
}

// Executor performs the real mutation for one proposed action and records
// what it created or changed into the queue item's revert ledger.
type Executor struct {
	queue  *queue.Queue
	store  EntityStore
	logger *slog.Logger
}

// New creates an Executor over the given queue and entity store.
func New(q *queue.Queue, store EntityStore) *Executor {
	return &Executor{
		queue:  q,
		store:  store,
		logger: slog.Default(),
	}
}

// Execute dispatches the action to its mutator. Each mutator performs
// exactly one category of entity mutation and appends the minimum revert
// information to the owning item's ledger. A failure here never affects
// sibling actions; the approval handler records it on the action and moves on.
func (e *Executor) Execute(ctx context.Context, itemID string, action queue.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	switch action.Type {
	case queue.ActionCreateTask:
		err = e.createTask(itemID, action)
	case queue.ActionAddTag:
		err = e.addTag(itemID, action)
	case queue.ActionEnhanceThought:
		err = e.enhanceThought(itemID, action)
	case queue.ActionChangeType:
		err = e.changeType(itemID, action)
	case queue.ActionSetIntensity:
		err = e.setIntensity(itemID, action)
	case queue.ActionCreateMoodEntry:
		err = e.createMoodEntry(itemID, action)
	case queue.ActionCreateProject:
		err = e.createProject(itemID, action)
	case queue.ActionLinkToProject:
		err = e.linkToProject(itemID, action)
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		e.logger.Warn("action failed", "queue_item", itemID, "action", action.ID, "type", action.Type, "error", err)
		return err
	}
	e.logger.Info("action executed", "queue_item", itemID, "action", action.ID, "type", action.Type)
	return nil
}

func (e *Executor) createTask(itemID string, action queue.Action) error {
	var data queue.CreateTaskData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}
	if data.Title == "" {
		return fmt.Errorf("task title is required")
	}

	task := storage.Task{
		ID:              uuid.New().String(),
		Title:           data.Title,
		Category:        data.Category,
		Priority:        data.Priority,
		EstimatedTime:   data.EstimatedTime,
		Status:          "active",
		SourceThoughtID: action.ThoughtID,
		QueueItemID:     itemID,
		AIReasoning:     action.AIReasoning,
		CreatedAt:       time.Now().UTC(),
	}
	if data.Recurrence.Type != "" && data.Recurrence.Type != "none" {
		task.Recurrence = &storage.Recurrence{
			Type:       data.Recurrence.Type,
			Interval:   data.Recurrence.Interval,
			DaysOfWeek: data.Recurrence.DaysOfWeek,
		}
	}

	if err := e.store.CreateTask(task); err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	e.logger.Info("task created", "task", task.ID, "title", task.Title)

	_, err := e.queue.Mutate(itemID, func(it *queue.Item) error {
		it.RevertData.CreatedItems.TaskIDs = append(it.RevertData.CreatedItems.TaskIDs, task.ID)
		if a := it.Action(action.ID); a != nil {
			a.CreatedItems = append(a.CreatedItems, task.ID)
		}
		return nil
	})
	return err
}

func (e *Executor) addTag(itemID string, action queue.Action) error {
	var data queue.AddTagData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}
	if data.Tag == "" {
		return fmt.Errorf("tag is required")
	}

	thought, err := e.store.GetThought(action.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}

	// Set semantics: a duplicate add is a no-op and is not recorded in the ledger.
	if thought.HasTag(data.Tag) {
		return nil
	}
	thought.Tags = append(thought.Tags, data.Tag)
	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("updating thought: %w", err)
	}

	_, err = e.queue.Mutate(itemID, func(it *queue.Item) error {
		it.RevertData.RecordAddedTag(data.Tag)
		return nil
	})
	return err
}

func (e *Executor) enhanceThought(itemID string, action queue.Action) error {
	var data queue.EnhanceThoughtData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}
	if data.ImprovedText == "" {
		return fmt.Errorf("improved text is required")
	}

	thought, err := e.store.GetThought(action.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}

	oldText := thought.Text
	thought.Text = data.ImprovedText
	thought.Notes = appendNote(thought.Notes, fmt.Sprintf("Text enhanced by AI (queue %s)", itemID))
	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("updating thought: %w", err)
	}

	_, err = e.queue.Mutate(itemID, func(it *queue.Item) error {
		it.RevertData.SnapshotText(oldText)
		return nil
	})
	return err
}

func (e *Executor) changeType(itemID string, action queue.Action) error {
	var data queue.ChangeTypeData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}
	if data.NewType == "" {
		return fmt.Errorf("new type is required")
	}

	thought, err := e.store.GetThought(action.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}

	oldType := thought.Type
	thought.Type = data.NewType
	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("updating thought: %w", err)
	}

	_, err = e.queue.Mutate(itemID, func(it *queue.Item) error {
		it.RevertData.SnapshotType(oldType)
		return nil
	})
	return err
}

func (e *Executor) setIntensity(itemID string, action queue.Action) error {
	var data queue.SetIntensityData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}
	if data.Intensity < 0 || data.Intensity > 100 {
		return fmt.Errorf("intensity %d out of range 0-100", data.Intensity)
	}

	thought, err := e.store.GetThought(action.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}

	oldIntensity := thought.Intensity
	thought.Intensity = data.Intensity
	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("updating thought: %w", err)
	}

	_, err = e.queue.Mutate(itemID, func(it *queue.Item) error {
		it.RevertData.SnapshotIntensity(oldIntensity)
		return nil
	})
	return err
}

// Keyword sets for coarse sentiment matching of free-text mood labels.
var (
	positiveMoods = []string{"happy", "good", "great", "excited", "calm", "grateful", "content", "joyful", "proud", "relaxed"}
	negativeMoods = []string{"sad", "bad", "anxious", "angry", "stressed", "tired", "frustrated", "worried", "overwhelmed", "lonely"}
)

// sentimentForMood maps a free-text mood label to a thought type.
func sentimentForMood(mood string) string {
	lower := strings.ToLower(mood)
	for _, kw := range positiveMoods {
		if strings.Contains(lower, kw) {
			return "feeling-good"
		}
	}
	for _, kw := range negativeMoods {
		if strings.Contains(lower, kw) {
			return "feeling-bad"
		}
	}
	return "neutral"
}

// moodValue scales a 0-100 intensity to the 1-10 mood scale.
func moodValue(intensity int) int {
	v := int(math.Round(float64(intensity) / 10))
	if v < 1 {
		v = 1
	}
	if v > 10 {
		v = 10
	}
	return v
}

func (e *Executor) createMoodEntry(itemID string, action queue.Action) error {
	var data queue.CreateMoodEntryData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}
	if data.Intensity < 0 || data.Intensity > 100 {
		return fmt.Errorf("intensity %d out of range 0-100", data.Intensity)
	}

	thought, err := e.store.GetThought(action.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}

	sentiment := sentimentForMood(data.Mood)

	oldType := thought.Type
	oldIntensity := thought.Intensity
	thought.Type = sentiment
	thought.Intensity = data.Intensity
	tagAdded := false
	if !thought.HasTag("mood") {
		thought.Tags = append(thought.Tags, "mood")
		tagAdded = true
	}
	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("updating thought: %w", err)
	}

	mood := storage.Mood{
		ID:              uuid.New().String(),
		Value:           moodValue(data.Intensity),
		MoodType:        sentiment,
		Note:            fmt.Sprintf("Recorded from thought (queue %s): %s", itemID, data.Mood),
		SourceThoughtID: action.ThoughtID,
		CreatedAt:       time.Now().UTC(),
	}
	if data.Note != "" {
		mood.Note = data.Note
	}
	if err := e.store.CreateMood(mood); err != nil {
		return fmt.Errorf("creating mood entry: %w", err)
	}
	e.logger.Info("mood entry created", "mood", mood.ID, "value", mood.Value, "type", sentiment)

	_, err = e.queue.Mutate(itemID, func(it *queue.Item) error {
		it.RevertData.SnapshotType(oldType)
		it.RevertData.SnapshotIntensity(oldIntensity)
		if tagAdded {
			it.RevertData.RecordAddedTag("mood")
		}
		return nil
	})
	return err
}

func (e *Executor) createProject(itemID string, action queue.Action) error {
	var data queue.CreateProjectData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}
	if data.Title == "" {
		return fmt.Errorf("project title is required")
	}

	project := storage.Project{
		ID:              uuid.New().String(),
		Title:           data.Title,
		Objective:       data.Objective,
		ActionPlan:      data.ActionPlan,
		Timeframe:       data.Timeframe,
		Category:        data.Category,
		Priority:        data.Priority,
		Status:          "active",
		Progress:        0,
		SourceThoughtID: action.ThoughtID,
		QueueItemID:     itemID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.CreateProject(project); err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	e.logger.Info("project created", "project", project.ID, "title", project.Title)

	// Link the originating thought to the new project.
	thought, err := e.store.GetThought(action.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}
	thought.ProjectID = project.ID
	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("linking thought to project: %w", err)
	}

	_, err = e.queue.Mutate(itemID, func(it *queue.Item) error {
		it.RevertData.CreatedItems.ProjectIDs = append(it.RevertData.CreatedItems.ProjectIDs, project.ID)
		if a := it.Action(action.ID); a != nil {
			a.CreatedItems = append(a.CreatedItems, project.ID)
		}
		return nil
	})
	return err
}

// linkToProject resolves the target by case-insensitive exact-or-substring
// title match. The link is deliberately not written to the revert ledger:
// linking is non-destructive and revert leaves it in place.
func (e *Executor) linkToProject(itemID string, action queue.Action) error {
	var data queue.LinkToProjectData
	if err := action.DecodePayload(&data); err != nil {
		return err
	}

	project, err := e.store.FindProjectByTitle(data.ProjectTitle)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: no project matching %q", ErrProjectNotFound, data.ProjectTitle)
	}
	if err != nil {
		return fmt.Errorf("finding project: %w", err)
	}

	thought, err := e.store.GetThought(action.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}
	thought.ProjectID = project.ID
	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("linking thought to project: %w", err)
	}

	e.logger.Info("thought linked to project", "thought", action.ThoughtID, "project", project.ID)
	return nil
}

// appendNote adds one audit line to a thought's free-text notes.
func appendNote(notes, line string) string {
	stamp := time.Now().UTC().Format("2006-01-02 15:04")
	entry := fmt.Sprintf("[%s] %s", stamp, line)
	if notes == "" {
		return entry
	}
	return notes + "\n" + entry
}
