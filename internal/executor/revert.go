package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

var (
	// ErrNotRevertible is returned when the batch's revert gate is closed.
	ErrNotRevertible = errors.New("queue item is not revertible")
	// ErrNotCompleted is returned when revert is requested for an item that
	// is not in the completed state. This also blocks a second revert of an
	// already-reverted item.
	ErrNotCompleted = errors.New("queue item is not completed")
)

// Revert undoes a completed queue item using its ledger: created tasks and
// projects are deleted, the thought's tags and snapshotted fields are
// restored in one combined update, and the item is marked reverted.
//
// Compensating steps are applied greedily, not transactionally: a failure
// in one step is logged and does not block the others, and completed steps
// are never rolled back.
func (e *Executor) Revert(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item, err := e.queue.Get(itemID)
	if err != nil {
		return fmt.Errorf("loading queue item: %w", err)
	}
	if item.Status != queue.StatusCompleted {
		return fmt.Errorf("%w: status is %s", ErrNotCompleted, item.Status)
	}
	if !item.Revertible || !item.RevertData.CanRevert {
		return ErrNotRevertible
	}

	ledger := item.RevertData

	for _, taskID := range ledger.CreatedItems.TaskIDs {
		if err := e.store.DeleteTask(taskID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("revert: deleting task failed", "queue_item", itemID, "task", taskID, "error", err)
		} else {
			e.logger.Info("revert: task deleted", "queue_item", itemID, "task", taskID)
		}
	}

	for _, projectID := range ledger.CreatedItems.ProjectIDs {
		if err := e.store.DeleteProject(projectID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("revert: deleting project failed", "queue_item", itemID, "project", projectID, "error", err)
		} else {
			e.logger.Info("revert: project deleted", "queue_item", itemID, "project", projectID)
		}
	}

	if err := e.restoreThought(item); err != nil {
		e.logger.Warn("revert: restoring thought failed", "queue_item", itemID, "thought", item.ThoughtID, "error", err)
	}

	now := time.Now().UTC()
	_, err = e.queue.Mutate(itemID, func(it *queue.Item) error {
		if !queue.CanTransition(it.Status, queue.StatusReverted) {
			return fmt.Errorf("%w: status is %s", ErrNotCompleted, it.Status)
		}
		it.Status = queue.StatusReverted
		it.RevertedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("queue item reverted", "queue_item", itemID, "thought", item.ThoughtID)
	return nil
}

// restoreThought reloads the thought and applies one combined update:
// strip every tag this batch added plus the processed marker, and restore
// each snapshotted field.
func (e *Executor) restoreThought(item queue.Item) error {
	thought, err := e.store.GetThought(item.ThoughtID)
	if err != nil {
		return fmt.Errorf("loading thought: %w", err)
	}

	remove := make(map[string]bool, len(item.RevertData.AddedTags)+1)
	for _, tag := range item.RevertData.AddedTags {
		remove[tag] = true
	}
	remove[queue.ProcessedTag] = true

	kept := thought.Tags[:0]
	for _, tag := range thought.Tags {
		if !remove[tag] {
			kept = append(kept, tag)
		}
	}
	thought.Tags = kept

	changes := item.RevertData.ThoughtChanges
	if changes.TextChanged {
		thought.Text = changes.OriginalText
	}
	if changes.TypeChanged {
		thought.Type = changes.OriginalType
	}
	if changes.IntensityChanged {
		thought.Intensity = changes.OriginalIntensity
	}

	thought.Notes = appendNote(thought.Notes, fmt.Sprintf("AI processing reverted (queue %s)", item.ID))

	if err := e.store.UpdateThought(thought); err != nil {
		return fmt.Errorf("updating thought: %w", err)
	}
	return nil
}
