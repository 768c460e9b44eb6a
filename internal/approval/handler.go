// Package approval drives a queue item through its state machine: it guards
// against duplicate or concurrent execution, runs the executor once per
// approved action, and finalizes thought and queue state.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jswell/mindq/internal/executor"
	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

// Guard rejections. These are expected, success-adjacent outcomes meaning
// the operation was a safe no-op, not failures to surface as errors.
var (
	ErrAlreadyExecuting  = errors.New("queue item is already executing")
	ErrAlreadyProcessing = errors.New("queue item is already processing")
	ErrAlreadyCompleted  = errors.New("queue item is already completed")
	ErrAlreadyProcessed  = errors.New("thought has already been processed")
)

// notApprovedReason is recorded on actions the user left unapproved.
const notApprovedReason = "Not approved by user"

// ActionRunner abstracts the executor for testing.
type ActionRunner interface {
	Execute(ctx context.Context, itemID string, action queue.Action) error
}

// ThoughtStore is the slice of storage the handler needs for the
// thought-processed guard and the completion marker.
type ThoughtStore interface {
	GetThought(id string) (storage.Thought, error)
	UpdateThought(t storage.Thought) error
}

// Summary reports the per-action outcomes of one approval run.
type Summary struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// Handler orchestrates approval and execution of queue items.
type Handler struct {
	queue    *queue.Queue
	thoughts ThoughtStore
	runner   ActionRunner
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Handler.
func New(q *queue.Queue, thoughts ThoughtStore, runner ActionRunner) *Handler {
	return &Handler{
		queue:    q,
		thoughts: thoughts,
		runner:   runner,
		logger:   slog.Default(),
		inFlight: make(map[string]struct{}),
	}
}

// tryAcquire adds the item id to the in-flight set, or reports that another
// caller in this process is already executing it.
func (h *Handler) tryAcquire(itemID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inFlight[itemID]; busy {
		return false
	}
	h.inFlight[itemID] = struct{}{}
	return true
}

func (h *Handler) release(itemID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, itemID)
}

// ApproveAndExecute executes the approved subset of a queue item's actions.
// Guards are evaluated in order, each a short-circuit:
//  1. the process-local in-flight set (double-click protection),
//  2. the item's persisted status,
//  3. the thought's processed marker tag (stale UI pointing at the same thought).
//
// Every action gets exactly one attempt: ids already in the executed
// watermark are skipped, unapproved actions are marked failed without
// aborting the loop, and one action's failure never blocks its siblings.
func (h *Handler) ApproveAndExecute(ctx context.Context, itemID string, approvedIDs []string) (Summary, error) {
	if !h.tryAcquire(itemID) {
		return Summary{}, ErrAlreadyExecuting
	}
	defer h.release(itemID)

	item, err := h.queue.Get(itemID)
	if err != nil {
		return Summary{}, fmt.Errorf("loading queue item: %w", err)
	}
	switch item.Status {
	case queue.StatusCompleted:
		return Summary{}, ErrAlreadyCompleted
	case queue.StatusProcessing:
		return Summary{}, ErrAlreadyProcessing
	}

	thought, err := h.thoughts.GetThought(item.ThoughtID)
	if err != nil {
		return Summary{}, fmt.Errorf("loading thought: %w", err)
	}
	if thought.HasTag(queue.ProcessedTag) {
		return Summary{}, ErrAlreadyProcessed
	}

	// Enter processing via a conditional write so the at-most-once guarantee
	// holds even when another server instance shares the database.
	ok, err := h.queue.Transition(itemID, []queue.Status{queue.StatusPending, queue.StatusAwaitingApproval}, queue.StatusProcessing)
	if err != nil {
		return Summary{}, fmt.Errorf("claiming queue item: %w", err)
	}
	if !ok {
		return Summary{}, ErrAlreadyProcessing
	}

	// Record only ids that name actual actions, preserving the invariant
	// approvedActions ⊆ action ids.
	known := make([]string, 0, len(approvedIDs))
	for _, id := range approvedIDs {
		if item.Action(id) != nil {
			known = append(known, id)
		}
	}
	if _, err := h.queue.Mutate(itemID, func(it *queue.Item) error {
		it.ApprovedActions = known
		return nil
	}); err != nil {
		return Summary{}, fmt.Errorf("recording approved actions: %w", err)
	}

	approved := make(map[string]bool, len(approvedIDs))
	for _, id := range approvedIDs {
		approved[id] = true
	}

	var summary Summary
	for _, action := range item.Actions {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		// Re-fetch before each action: executedActions may have changed.
		fresh, err := h.queue.Get(itemID)
		if err != nil {
			return summary, fmt.Errorf("reloading queue item: %w", err)
		}
		if fresh.Executed(action.ID) {
			continue
		}

		if !approved[action.ID] {
			if _, err := h.queue.Mutate(itemID, func(it *queue.Item) error {
				it.MarkFailed(action.ID, notApprovedReason)
				return nil
			}); err != nil {
				return summary, fmt.Errorf("recording unapproved action: %w", err)
			}
			continue
		}

		if execErr := h.runner.Execute(ctx, itemID, action); execErr != nil {
			summary.Failed++
			if _, err := h.queue.Mutate(itemID, func(it *queue.Item) error {
				it.MarkFailed(action.ID, execErr.Error())
				return nil
			}); err != nil {
				return summary, fmt.Errorf("recording action failure: %w", err)
			}
			continue
		}

		summary.Executed++
		if _, err := h.queue.Mutate(itemID, func(it *queue.Item) error {
			it.MarkExecuted(action.ID)
			return nil
		}); err != nil {
			return summary, fmt.Errorf("recording action success: %w", err)
		}
	}

	if err := h.finalize(itemID, item.ThoughtID, summary); err != nil {
		return summary, err
	}

	h.logger.Info("queue item completed",
		"queue_item", itemID,
		"thought", item.ThoughtID,
		"executed", summary.Executed,
		"failed", summary.Failed,
	)
	return summary, nil
}

// finalize tags the thought with the completion marker and moves the item
// to completed.
func (h *Handler) finalize(itemID, thoughtID string, summary Summary) error {
	thought, err := h.thoughts.GetThought(thoughtID)
	if err != nil {
		return fmt.Errorf("loading thought for finalize: %w", err)
	}
	if !thought.HasTag(queue.ProcessedTag) {
		thought.Tags = append(thought.Tags, queue.ProcessedTag)
	}
	thought.Notes = appendAuditNote(thought.Notes, fmt.Sprintf("Processed by AI (queue %s): %d action(s) executed", itemID, summary.Executed))
	if err := h.thoughts.UpdateThought(thought); err != nil {
		return fmt.Errorf("tagging thought: %w", err)
	}

	now := time.Now().UTC()
	if _, err := h.queue.Mutate(itemID, func(it *queue.Item) error {
		if !queue.CanTransition(it.Status, queue.StatusCompleted) {
			return fmt.Errorf("illegal completion from status %s", it.Status)
		}
		it.Status = queue.StatusCompleted
		it.CompletedAt = &now
		return nil
	}); err != nil {
		return fmt.Errorf("completing queue item: %w", err)
	}
	return nil
}

// Reject abandons a queue item awaiting approval. No other side effects.
func (h *Handler) Reject(itemID string) error {
	_, err := h.queue.Mutate(itemID, func(it *queue.Item) error {
		if !queue.CanTransition(it.Status, queue.StatusCancelled) {
			return fmt.Errorf("cannot cancel queue item in status %s", it.Status)
		}
		it.Status = queue.StatusCancelled
		return nil
	})
	if err != nil {
		return err
	}
	h.logger.Info("queue item cancelled", "queue_item", itemID)
	return nil
}

func appendAuditNote(notes, line string) string {
	stamp := time.Now().UTC().Format("2006-01-02 15:04")
	entry := fmt.Sprintf("[%s] %s", stamp, line)
	if notes == "" {
		return entry
	}
	return notes + "\n" + entry
}

var _ ActionRunner = (*executor.Executor)(nil)
