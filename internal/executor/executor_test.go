package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

func newTestExecutor(t *testing.T) (*Executor, *queue.Queue, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.New(store)
	return New(q, store), q, store
}

func createThought(t *testing.T, store *storage.Store, th storage.Thought) storage.Thought {
	t.Helper()
	if th.ID == "" {
		th.ID = "th-1"
	}
	now := time.Now().UTC()
	th.CreatedAt = now
	th.UpdatedAt = now
	if err := store.CreateThought(th); err != nil {
		t.Fatalf("creating thought: %v", err)
	}
	return th
}

func createItem(t *testing.T, q *queue.Queue, thoughtID string, actions ...queue.Action) queue.Item {
	t.Helper()
	item := queue.Item{
		ID:         "qi-1",
		ThoughtID:  thoughtID,
		Mode:       "manual",
		Status:     queue.StatusProcessing,
		Actions:    actions,
		Revertible: true,
		RevertData: queue.RevertData{CanRevert: true},
	}
	if err := q.Create(item); err != nil {
		t.Fatalf("creating queue item: %v", err)
	}
	return item
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	return b
}

func TestCreateTask(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "buy milk"})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionCreateTask,
		ThoughtID: th.ID,
		Data: mustJSON(t, queue.CreateTaskData{
			Title:    "Buy milk",
			Category: "errand",
			Priority: "low",
		}),
		AIReasoning: "sounds actionable",
	}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	tasks, err := store.ListTasks(10, 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	task := tasks[0]
	if task.Title != "Buy milk" || task.Status != "active" {
		t.Errorf("task = %+v", task)
	}
	if task.SourceThoughtID != th.ID || task.QueueItemID != "qi-1" {
		t.Errorf("provenance = %q/%q", task.SourceThoughtID, task.QueueItemID)
	}
	if task.AIReasoning != "sounds actionable" {
		t.Errorf("reasoning = %q", task.AIReasoning)
	}
	if task.Recurrence != nil {
		t.Errorf("unexpected recurrence %+v", task.Recurrence)
	}

	item, err := q.Get("qi-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(item.RevertData.CreatedItems.TaskIDs) != 1 || item.RevertData.CreatedItems.TaskIDs[0] != task.ID {
		t.Errorf("ledger task ids = %v", item.RevertData.CreatedItems.TaskIDs)
	}
	if a := item.Action("a-1"); a == nil || len(a.CreatedItems) != 1 {
		t.Errorf("action created items not recorded")
	}
}

func TestCreateTaskRecurrenceNoneDropped(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "water plants weekly"})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionCreateTask,
		ThoughtID: th.ID,
		Data: mustJSON(t, queue.CreateTaskData{
			Title:      "Water plants",
			Recurrence: queue.RecurrenceData{Type: "none"},
		}),
	}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	tasks, _ := store.ListTasks(10, 0)
	if len(tasks) != 1 || tasks[0].Recurrence != nil {
		t.Errorf("recurrence 'none' should be stored as no recurrence, got %+v", tasks[0].Recurrence)
	}
}

func TestCreateTaskMissingTitle(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "vague"})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionCreateTask,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.CreateTaskData{}),
	}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err == nil {
		t.Fatal("expected error for missing title")
	}
	tasks, _ := store.ListTasks(10, 0)
	if len(tasks) != 0 {
		t.Errorf("failed action created %d tasks", len(tasks))
	}
}

func TestAddTagSetSemantics(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "quarterly report due", Tags: []string{"work"}})

	fresh := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionAddTag,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.AddTagData{Tag: "deadline"}),
	}
	duplicate := queue.Action{
		ID:        "a-2",
		Type:      queue.ActionAddTag,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.AddTagData{Tag: "work"}),
	}
	createItem(t, q, th.ID, fresh, duplicate)

	if err := e.Execute(context.Background(), "qi-1", fresh); err != nil {
		t.Fatalf("Execute fresh tag: %v", err)
	}
	if err := e.Execute(context.Background(), "qi-1", duplicate); err != nil {
		t.Fatalf("Execute duplicate tag: %v", err)
	}

	got, _ := store.GetThought(th.ID)
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v, want [work deadline]", got.Tags)
	}

	item, _ := q.Get("qi-1")
	// Only the genuinely added tag goes into the ledger: reverting must not
	// strip a tag the thought already had.
	if len(item.RevertData.AddedTags) != 1 || item.RevertData.AddedTags[0] != "deadline" {
		t.Errorf("ledger added tags = %v, want [deadline]", item.RevertData.AddedTags)
	}
}

func TestEnhanceThoughtSnapshotsFirstTextOnly(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "everything always goes wrong"})

	first := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionEnhanceThought,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.EnhanceThoughtData{ImprovedText: "some things went wrong today"}),
	}
	second := queue.Action{
		ID:        "a-2",
		Type:      queue.ActionEnhanceThought,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.EnhanceThoughtData{ImprovedText: "a few things went wrong today, and that is okay"}),
	}
	createItem(t, q, th.ID, first, second)

	if err := e.Execute(context.Background(), "qi-1", first); err != nil {
		t.Fatalf("Execute first: %v", err)
	}
	if err := e.Execute(context.Background(), "qi-1", second); err != nil {
		t.Fatalf("Execute second: %v", err)
	}

	got, _ := store.GetThought(th.ID)
	if got.Text != "a few things went wrong today, and that is okay" {
		t.Errorf("text = %q", got.Text)
	}
	if got.Notes == "" {
		t.Error("expected audit note on enhanced thought")
	}

	item, _ := q.Get("qi-1")
	if item.RevertData.ThoughtChanges.OriginalText != "everything always goes wrong" {
		t.Errorf("snapshot = %q, want the pre-batch text", item.RevertData.ThoughtChanges.OriginalText)
	}
}

func TestChangeTypeAndSetIntensity(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "drained after that meeting", Type: "neutral", Intensity: 10})

	changeType := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionChangeType,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.ChangeTypeData{NewType: "feeling-bad"}),
	}
	setIntensity := queue.Action{
		ID:        "a-2",
		Type:      queue.ActionSetIntensity,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.SetIntensityData{Intensity: 70}),
	}
	createItem(t, q, th.ID, changeType, setIntensity)

	if err := e.Execute(context.Background(), "qi-1", changeType); err != nil {
		t.Fatalf("Execute changeType: %v", err)
	}
	if err := e.Execute(context.Background(), "qi-1", setIntensity); err != nil {
		t.Fatalf("Execute setIntensity: %v", err)
	}

	got, _ := store.GetThought(th.ID)
	if got.Type != "feeling-bad" || got.Intensity != 70 {
		t.Errorf("thought = type %q intensity %d", got.Type, got.Intensity)
	}

	item, _ := q.Get("qi-1")
	changes := item.RevertData.ThoughtChanges
	if !changes.TypeChanged || changes.OriginalType != "neutral" {
		t.Errorf("type snapshot = %+v", changes)
	}
	if !changes.IntensityChanged || changes.OriginalIntensity != 10 {
		t.Errorf("intensity snapshot = %+v", changes)
	}
}

func TestSetIntensityRange(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "x", Intensity: 50})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionSetIntensity,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.SetIntensityData{Intensity: 101}),
	}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err == nil {
		t.Fatal("expected range error for intensity 101")
	}
	got, _ := store.GetThought(th.ID)
	if got.Intensity != 50 {
		t.Errorf("intensity mutated to %d despite range error", got.Intensity)
	}
}

func TestSentimentForMood(t *testing.T) {
	cases := []struct {
		mood string
		want string
	}{
		{"happy", "feeling-good"},
		{"Grateful and calm", "feeling-good"},
		{"anxious", "feeling-bad"},
		{"really stressed out", "feeling-bad"},
		{"contemplative", "neutral"},
		{"", "neutral"},
	}
	for _, tc := range cases {
		if got := sentimentForMood(tc.mood); got != tc.want {
			t.Errorf("sentimentForMood(%q) = %q, want %q", tc.mood, got, tc.want)
		}
	}
}

func TestMoodValueScaling(t *testing.T) {
	cases := []struct {
		intensity int
		want      int
	}{
		{0, 1},   // clamped up
		{4, 1},   // round(0.4) = 0 -> clamp 1
		{5, 1},   // round half up = 1
		{84, 8},  // round(8.4) = 8
		{85, 9},  // round(8.5) = 9
		{100, 10},
	}
	for _, tc := range cases {
		if got := moodValue(tc.intensity); got != tc.want {
			t.Errorf("moodValue(%d) = %d, want %d", tc.intensity, got, tc.want)
		}
	}
}

func TestCreateMoodEntry(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "so happy the release went out", Type: "neutral", Intensity: 0})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionCreateMoodEntry,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.CreateMoodEntryData{Mood: "happy", Intensity: 85}),
	}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	moods, _ := store.ListMoods(10, 0)
	if len(moods) != 1 {
		t.Fatalf("got %d moods, want 1", len(moods))
	}
	if moods[0].Value != 9 {
		t.Errorf("mood value = %d, want 9 (85 scaled)", moods[0].Value)
	}
	if moods[0].MoodType != "feeling-good" {
		t.Errorf("mood type = %q", moods[0].MoodType)
	}
	if moods[0].SourceThoughtID != th.ID {
		t.Errorf("source thought = %q", moods[0].SourceThoughtID)
	}

	got, _ := store.GetThought(th.ID)
	if got.Type != "feeling-good" || got.Intensity != 85 {
		t.Errorf("thought = type %q intensity %d", got.Type, got.Intensity)
	}
	if !got.HasTag("mood") {
		t.Error("mood tag not added")
	}

	item, _ := q.Get("qi-1")
	if item.RevertData.ThoughtChanges.OriginalType != "neutral" {
		t.Errorf("type snapshot = %q", item.RevertData.ThoughtChanges.OriginalType)
	}
	if len(item.RevertData.AddedTags) != 1 || item.RevertData.AddedTags[0] != "mood" {
		t.Errorf("ledger added tags = %v", item.RevertData.AddedTags)
	}
}

func TestCreateProject(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "I want to learn woodworking this year"})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionCreateProject,
		ThoughtID: th.ID,
		Data: mustJSON(t, queue.CreateProjectData{
			Title:     "Learn woodworking",
			Objective: "Build a bookshelf by December",
		}),
	}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	projects, _ := store.ListProjects(10, 0)
	if len(projects) != 1 {
		t.Fatalf("got %d projects, want 1", len(projects))
	}
	if projects[0].Status != "active" || projects[0].Progress != 0 {
		t.Errorf("project = %+v", projects[0])
	}

	got, _ := store.GetThought(th.ID)
	if got.ProjectID != projects[0].ID {
		t.Errorf("thought not linked: project_id = %q", got.ProjectID)
	}

	item, _ := q.Get("qi-1")
	if len(item.RevertData.CreatedItems.ProjectIDs) != 1 {
		t.Errorf("ledger project ids = %v", item.RevertData.CreatedItems.ProjectIDs)
	}
}

func TestLinkToProject(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "another idea for the garden"})

	project := storage.Project{ID: "p-1", Title: "Garden Redesign", Status: "active", CreatedAt: time.Now().UTC()}
	if err := store.CreateProject(project); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionLinkToProject,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.LinkToProjectData{ProjectTitle: "garden redesign"}),
	}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := store.GetThought(th.ID)
	if got.ProjectID != "p-1" {
		t.Errorf("project_id = %q, want p-1", got.ProjectID)
	}

	// Linking is non-destructive: nothing enters the revert ledger.
	item, _ := q.Get("qi-1")
	if len(item.RevertData.CreatedItems.ProjectIDs) != 0 || len(item.RevertData.AddedTags) != 0 {
		t.Errorf("link wrote to ledger: %+v", item.RevertData)
	}
}

func TestLinkToProjectNotFound(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "idea"})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionLinkToProject,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.LinkToProjectData{ProjectTitle: "does not exist"}),
	}
	createItem(t, q, th.ID, action)

	err := e.Execute(context.Background(), "qi-1", action)
	if !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("err = %v, want ErrProjectNotFound", err)
	}
}

func TestExecuteUnknownType(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "x"})

	action := queue.Action{ID: "a-1", Type: "deleteEverything", ThoughtID: th.ID}
	createItem(t, q, th.ID, action)

	if err := e.Execute(context.Background(), "qi-1", action); err == nil {
		t.Fatal("expected error for unknown action type")
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	e, q, store := newTestExecutor(t)
	th := createThought(t, store, storage.Thought{Text: "x"})

	action := queue.Action{
		ID:        "a-1",
		Type:      queue.ActionAddTag,
		ThoughtID: th.ID,
		Data:      mustJSON(t, queue.AddTagData{Tag: "late"}),
	}
	createItem(t, q, th.ID, action)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Execute(ctx, "qi-1", action); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	got, _ := store.GetThought(th.ID)
	if got.HasTag("late") {
		t.Error("action ran despite cancelled context")
	}
}
