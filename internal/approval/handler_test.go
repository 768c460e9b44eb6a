package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

// stubRunner records calls and lets tests inject failures or block execution.
type stubRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	block chan struct{} // if set, Execute waits for it to close
}

func (r *stubRunner) Execute(ctx context.Context, itemID string, action queue.Action) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.calls = append(r.calls, action.ID)
	r.mu.Unlock()
	if err, ok := r.fail[action.ID]; ok {
		return err
	}
	return nil
}

func (r *stubRunner) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestHandler(t *testing.T, runner ActionRunner) (*Handler, *queue.Queue, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.New(store)
	return New(q, store, runner), q, store
}

func seedThought(t *testing.T, store *storage.Store, tags ...string) storage.Thought {
	t.Helper()
	now := time.Now().UTC()
	th := storage.Thought{ID: "th-1", Text: "need to buy milk", Tags: tags, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateThought(th); err != nil {
		t.Fatalf("creating thought: %v", err)
	}
	return th
}

func seedItem(t *testing.T, q *queue.Queue, status queue.Status, actionIDs ...string) queue.Item {
	t.Helper()
	item := queue.Item{
		ID:         "qi-1",
		ThoughtID:  "th-1",
		Mode:       "manual",
		Status:     status,
		Revertible: true,
		RevertData: queue.RevertData{CanRevert: true},
	}
	for _, id := range actionIDs {
		item.Actions = append(item.Actions, queue.Action{
			ID:        id,
			Type:      queue.ActionAddTag,
			ThoughtID: "th-1",
			Data:      json.RawMessage(`{"tag":"x"}`),
			Status:    queue.ActionPending,
		})
	}
	if err := q.Create(item); err != nil {
		t.Fatalf("creating queue item: %v", err)
	}
	return item
}

func TestApproveExecutesOnlyApprovedActions(t *testing.T) {
	runner := &stubRunner{}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store)
	seedItem(t, q, queue.StatusAwaitingApproval, "a-1", "a-2")

	summary, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1"})
	if err != nil {
		t.Fatalf("ApproveAndExecute: %v", err)
	}

	// The skipped action is recorded as failed but not counted as a failure.
	if summary.Executed != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want {Executed:1 Failed:0}", summary)
	}
	if got := runner.called(); len(got) != 1 || got[0] != "a-1" {
		t.Errorf("runner called with %v, want [a-1]", got)
	}

	item, err := q.Get("qi-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != queue.StatusCompleted {
		t.Errorf("status = %s, want completed", item.Status)
	}
	if item.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if len(item.ApprovedActions) != 1 || item.ApprovedActions[0] != "a-1" {
		t.Errorf("approved = %v, want [a-1]", item.ApprovedActions)
	}
	if len(item.ExecutedActions) != 1 || item.ExecutedActions[0] != "a-1" {
		t.Errorf("executed = %v, want [a-1]", item.ExecutedActions)
	}

	skipped := item.Action("a-2")
	if skipped.Status != queue.ActionFailed || skipped.Error != "Not approved by user" {
		t.Errorf("skipped action = %+v", skipped)
	}

	thought, _ := store.GetThought("th-1")
	if !thought.HasTag(queue.ProcessedTag) {
		t.Error("thought missing processed marker after completion")
	}
}

func TestApproveFiltersUnknownActionIDs(t *testing.T) {
	runner := &stubRunner{}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store)
	seedItem(t, q, queue.StatusAwaitingApproval, "a-1")

	if _, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1", "bogus"}); err != nil {
		t.Fatalf("ApproveAndExecute: %v", err)
	}

	item, _ := q.Get("qi-1")
	if len(item.ApprovedActions) != 1 || item.ApprovedActions[0] != "a-1" {
		t.Errorf("approved = %v, ids must name real actions", item.ApprovedActions)
	}
}

func TestApproveConcurrentDuplicateRejected(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store)
	seedItem(t, q, queue.StatusAwaitingApproval, "a-1")

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1"})
		firstDone <- err
	}()

	// Wait until the first call holds the in-flight slot (it is blocked
	// inside the runner), then issue the duplicate.
	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		_, busy := h.inFlight["qi-1"]
		h.mu.Unlock()
		if busy {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first call never acquired the in-flight slot")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1"}); !errors.Is(err, ErrAlreadyExecuting) {
		t.Errorf("duplicate err = %v, want ErrAlreadyExecuting", err)
	}

	close(runner.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first call: %v", err)
	}
	if got := runner.called(); len(got) != 1 {
		t.Errorf("runner called %d times, want 1", len(got))
	}
}

func TestApproveAlreadyCompleted(t *testing.T) {
	runner := &stubRunner{}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store)
	seedItem(t, q, queue.StatusCompleted, "a-1")

	if _, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1"}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("err = %v, want ErrAlreadyCompleted", err)
	}
	if len(runner.called()) != 0 {
		t.Error("runner called for completed item")
	}
}

func TestApproveThoughtAlreadyProcessed(t *testing.T) {
	runner := &stubRunner{}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store, queue.ProcessedTag)
	seedItem(t, q, queue.StatusAwaitingApproval, "a-1")

	if _, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1"}); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("err = %v, want ErrAlreadyProcessed", err)
	}
	if len(runner.called()) != 0 {
		t.Error("runner called for already-processed thought")
	}
}

func TestApproveSkipsExecutedWatermark(t *testing.T) {
	runner := &stubRunner{}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store)
	item := seedItem(t, q, queue.StatusAwaitingApproval, "a-1", "a-2")

	// a-1 already ran in an earlier, interrupted attempt.
	if _, err := q.Mutate(item.ID, func(it *queue.Item) error {
		it.MarkExecuted("a-1")
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	summary, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1", "a-2"})
	if err != nil {
		t.Fatalf("ApproveAndExecute: %v", err)
	}
	if summary.Executed != 1 {
		t.Errorf("summary.Executed = %d, want 1 (a-1 skipped)", summary.Executed)
	}
	if got := runner.called(); len(got) != 1 || got[0] != "a-2" {
		t.Errorf("runner called with %v, want [a-2]", got)
	}
}

func TestActionFailureDoesNotBlockSiblings(t *testing.T) {
	runner := &stubRunner{fail: map[string]error{"a-1": errors.New("task title is required")}}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store)
	seedItem(t, q, queue.StatusAwaitingApproval, "a-1", "a-2")

	summary, err := h.ApproveAndExecute(context.Background(), "qi-1", []string{"a-1", "a-2"})
	if err != nil {
		t.Fatalf("ApproveAndExecute: %v", err)
	}
	if summary.Executed != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want {Executed:1 Failed:1}", summary)
	}

	item, _ := q.Get("qi-1")
	if item.Status != queue.StatusCompleted {
		t.Errorf("status = %s, want completed despite partial failure", item.Status)
	}
	failed := item.Action("a-1")
	if failed.Status != queue.ActionFailed || failed.Error != "task title is required" {
		t.Errorf("failed action = %+v", failed)
	}
	if !item.Executed("a-2") {
		t.Error("a-2 missing from executed watermark")
	}
}

func TestReject(t *testing.T) {
	runner := &stubRunner{}
	h, q, store := newTestHandler(t, runner)
	seedThought(t, store)
	seedItem(t, q, queue.StatusAwaitingApproval, "a-1")

	if err := h.Reject("qi-1"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	item, _ := q.Get("qi-1")
	if item.Status != queue.StatusCancelled {
		t.Errorf("status = %s, want cancelled", item.Status)
	}

	// Rejecting a terminal item is refused.
	if err := h.Reject("qi-1"); err == nil {
		t.Error("expected error rejecting a cancelled item")
	}

	thought, _ := store.GetThought("th-1")
	if thought.HasTag(queue.ProcessedTag) {
		t.Error("reject must not tag the thought")
	}
}
