// Package processor is the entry point of the pipeline: it takes a thought,
// calls the external classifier, and materializes the proposed actions as a
// queue item awaiting approval. It never mutates entities — only the queue.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jswell/mindq/internal/classifier"
	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

// ErrThoughtNotFound is returned when the thought id does not exist.
var ErrThoughtNotFound = errors.New("thought not found")

// ErrCredentialMissing is returned when no classifier credential is configured.
var ErrCredentialMissing = classifier.ErrCredentialMissing

// defaultBatchDelay rate-limits sequential classifier calls in ProcessMultiple.
const defaultBatchDelay = 2 * time.Second

// ThoughtReader is the read-only slice of storage the processor needs.
type ThoughtReader interface {
	GetThought(id string) (storage.Thought, error)
}

// ToolCatalog supplies the tool description text for the classifier prompt.
type ToolCatalog interface {
	Descriptions() string
}

// Processor turns thoughts into queue items awaiting approval.
type Processor struct {
	queue      *queue.Queue
	thoughts   ThoughtReader
	classifier classifier.Classifier
	catalog    ToolCatalog
	delay      time.Duration
	logger     *slog.Logger
}

// New creates a Processor. If batchDelay is <= 0 it defaults to 2s.
func New(q *queue.Queue, thoughts ThoughtReader, cl classifier.Classifier, catalog ToolCatalog, batchDelay time.Duration) *Processor {
	if batchDelay <= 0 {
		batchDelay = defaultBatchDelay
	}
	return &Processor{
		queue:      q,
		thoughts:   thoughts,
		classifier: cl,
		catalog:    catalog,
		delay:      batchDelay,
		logger:     slog.Default(),
	}
}

// ProcessThought classifies one thought and returns the id of the new queue
// item, left in awaiting-approval. Preconditions fail with no side effects;
// a classifier failure is recorded on the queue item and returned.
func (p *Processor) ProcessThought(ctx context.Context, thoughtID string) (string, error) {
	thought, err := p.thoughts.GetThought(thoughtID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrThoughtNotFound, thoughtID)
	}
	if err != nil {
		return "", fmt.Errorf("loading thought: %w", err)
	}

	if err := p.classifier.Ready(); err != nil {
		return "", err
	}

	item := queue.Item{
		ID:         uuid.New().String(),
		ThoughtID:  thoughtID,
		Mode:       "manual",
		Status:     queue.StatusPending,
		Revertible: true,
		RevertData: queue.RevertData{
			OriginalThought: queue.OriginalThought{
				Text: thought.Text,
				Tags: append([]string(nil), thought.Tags...),
			},
			CanRevert: true,
		},
	}
	if err := p.queue.Create(item); err != nil {
		return "", fmt.Errorf("creating queue item: %w", err)
	}

	if _, err := p.queue.SetStatus(item.ID, queue.StatusProcessing); err != nil {
		return "", fmt.Errorf("starting processing: %w", err)
	}

	result, err := p.classifier.Classify(ctx, classifier.Request{
		Text:             thought.Text,
		Tags:             thought.Tags,
		ToolDescriptions: p.catalog.Descriptions(),
	})
	if err != nil {
		p.logger.Warn("classification failed", "thought", thoughtID, "queue_item", item.ID, "error", err)
		if _, qErr := p.queue.Mutate(item.ID, func(it *queue.Item) error {
			it.Status = queue.StatusFailed
			it.Error = err.Error()
			return nil
		}); qErr != nil {
			p.logger.Error("recording classification failure", "queue_item", item.ID, "error", qErr)
		}
		return "", fmt.Errorf("classifying thought: %w", err)
	}

	actions := buildActions(thoughtID, result)

	if _, err := p.queue.Mutate(item.ID, func(it *queue.Item) error {
		if !queue.CanTransition(it.Status, queue.StatusAwaitingApproval) {
			return fmt.Errorf("illegal transition to awaiting-approval from %s", it.Status)
		}
		it.Actions = actions
		it.AIResponse = result.Raw
		it.Status = queue.StatusAwaitingApproval
		return nil
	}); err != nil {
		return "", fmt.Errorf("finalizing queue item: %w", err)
	}

	p.logger.Info("thought processed", "thought", thoughtID, "queue_item", item.ID, "actions", len(actions))
	return item.ID, nil
}

// buildActions materializes the classifier's proposals as pending actions.
// A thought-rewrite suggestion becomes a synthesized leading enhanceThought
// action so the rewrite is applied before anything reads the text.
func buildActions(thoughtID string, result classifier.Result) []queue.Action {
	var actions []queue.Action

	if enh := result.Enhancement; enh != nil && enh.ShouldApply && enh.ImprovedText != "" {
		data := mustMarshal(queue.EnhanceThoughtData{
			ImprovedText: enh.ImprovedText,
			Changes:      enh.Changes,
		})
		actions = append(actions, queue.Action{
			ID:          uuid.New().String(),
			Type:        queue.ActionEnhanceThought,
			ThoughtID:   thoughtID,
			Data:        data,
			Status:      queue.ActionPending,
			AIReasoning: "Suggested rewrite of the original thought",
		})
	}

	for _, proposal := range result.Actions {
		actionType := queue.ActionType(proposal.Type)
		if !actionType.IsKnown() {
			continue
		}
		actions = append(actions, queue.Action{
			ID:          uuid.New().String(),
			Type:        actionType,
			ThoughtID:   thoughtID,
			Data:        proposal.Data,
			Status:      queue.ActionPending,
			AIReasoning: proposal.Reasoning,
		})
	}

	return actions
}

// mustMarshal serializes a payload struct; these are plain value types for
// which marshaling cannot fail.
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// BatchError pairs a thought id with the failure it produced.
type BatchError struct {
	ThoughtID string `json:"thought_id"`
	Error     string `json:"error"`
}

// BatchResult aggregates per-thought outcomes of ProcessMultiple.
type BatchResult struct {
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors,omitempty"`
}

// ProcessMultiple processes thoughts sequentially with a fixed inter-call
// delay to rate-limit the classifier. One thought's failure does not abort
// the batch; cancellation stops before the next call.
func (p *Processor) ProcessMultiple(ctx context.Context, thoughtIDs []string) BatchResult {
	var result BatchResult
	for i, id := range thoughtIDs {
		if i > 0 {
			select {
			case <-ctx.Done():
				result.Failed += len(thoughtIDs) - i
				result.Errors = append(result.Errors, BatchError{ThoughtID: id, Error: ctx.Err().Error()})
				return result
			case <-time.After(p.delay):
			}
		}

		if _, err := p.ProcessThought(ctx, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{ThoughtID: id, Error: err.Error()})
			continue
		}
		result.Successful++
	}
	return result
}
