package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jswell/mindq/internal/queue"
)

// The Store satisfies queue.Store: queue items persist as one row with JSON
// columns for the action list, approval/execution sets, and the revert ledger.

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) SaveQueueItem(item queue.Item) error {
	actions, err := json.Marshal(item.Actions)
	if err != nil {
		return fmt.Errorf("marshaling actions: %w", err)
	}
	approved, err := marshalStrings(item.ApprovedActions)
	if err != nil {
		return fmt.Errorf("marshaling approved actions: %w", err)
	}
	executed, err := marshalStrings(item.ExecutedActions)
	if err != nil {
		return fmt.Errorf("marshaling executed actions: %w", err)
	}
	revertData, err := json.Marshal(item.RevertData)
	if err != nil {
		return fmt.Errorf("marshaling revert data: %w", err)
	}

	revertible := 0
	if item.Revertible {
		revertible = 1
	}

	var aiResponse sql.NullString
	if len(item.AIResponse) > 0 {
		aiResponse = sql.NullString{String: string(item.AIResponse), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO queue_items (id, thought_id, mode, status, actions, approved_actions, executed_actions, revertible, revert_data, ai_response, error, created_at, updated_at, completed_at, reverted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ThoughtID, item.Mode, string(item.Status),
		string(actions), approved, executed, revertible, string(revertData),
		aiResponse, item.Error,
		item.CreatedAt.UTC().Format(time.RFC3339), item.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(item.CompletedAt), nullTime(item.RevertedAt),
	)
	return err
}

func (s *Store) GetQueueItem(id string) (queue.Item, error) {
	row := s.db.QueryRow(`
		SELECT id, thought_id, mode, status, actions, approved_actions, executed_actions, revertible, revert_data, ai_response, error, created_at, updated_at, completed_at, reverted_at
		FROM queue_items WHERE id = ?`, id,
	)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return queue.Item{}, ErrNotFound
	}
	return item, err
}

func (s *Store) UpdateQueueItem(item queue.Item) error {
	actions, err := json.Marshal(item.Actions)
	if err != nil {
		return fmt.Errorf("marshaling actions: %w", err)
	}
	approved, err := marshalStrings(item.ApprovedActions)
	if err != nil {
		return fmt.Errorf("marshaling approved actions: %w", err)
	}
	executed, err := marshalStrings(item.ExecutedActions)
	if err != nil {
		return fmt.Errorf("marshaling executed actions: %w", err)
	}
	revertData, err := json.Marshal(item.RevertData)
	if err != nil {
		return fmt.Errorf("marshaling revert data: %w", err)
	}

	revertible := 0
	if item.Revertible {
		revertible = 1
	}

	var aiResponse sql.NullString
	if len(item.AIResponse) > 0 {
		aiResponse = sql.NullString{String: string(item.AIResponse), Valid: true}
	}

	res, err := s.db.Exec(`
		UPDATE queue_items
		SET status = ?, actions = ?, approved_actions = ?, executed_actions = ?, revertible = ?, revert_data = ?, ai_response = ?, error = ?, updated_at = ?, completed_at = ?, reverted_at = ?
		WHERE id = ?`,
		string(item.Status), string(actions), approved, executed, revertible, string(revertData),
		aiResponse, item.Error,
		item.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(item.CompletedAt), nullTime(item.RevertedAt),
		item.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListQueueItems(limit, offset int) ([]queue.Item, error) {
	rows, err := s.db.Query(`
		SELECT id, thought_id, mode, status, actions, approved_actions, executed_actions, revertible, revert_data, ai_response, error, created_at, updated_at, completed_at, reverted_at
		FROM queue_items ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []queue.Item
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// TransitionQueueStatus performs a conditional status update: the write
// succeeds only if the row's current status is one of from. Returns false
// without error when another writer got there first.
func (s *Store) TransitionQueueStatus(id string, from []queue.Status, to queue.Status) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no source statuses given")
	}

	placeholders := strings.Repeat(",?", len(from)-1)
	query := `UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ? AND status IN (?` + placeholders + `)`

	args := make([]any, 0, len(from)+3)
	args = append(args, string(to), time.Now().UTC().Format(time.RFC3339), id)
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish a lost race from a missing row.
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE id = ?`, id).Scan(&exists); err != nil {
			return false, err
		}
		if exists == 0 {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (queue.Item, error) {
	var item queue.Item
	var status, actions, approved, executed, revertData string
	var revertible int
	var aiResponse sql.NullString
	var createdAt, updatedAt string
	var completedAt, revertedAt sql.NullString

	err := row.Scan(
		&item.ID, &item.ThoughtID, &item.Mode, &status,
		&actions, &approved, &executed, &revertible, &revertData,
		&aiResponse, &item.Error,
		&createdAt, &updatedAt, &completedAt, &revertedAt,
	)
	if err != nil {
		return queue.Item{}, err
	}

	item.Status = queue.Status(status)
	item.Revertible = revertible != 0

	if err := json.Unmarshal([]byte(actions), &item.Actions); err != nil {
		return queue.Item{}, fmt.Errorf("unmarshaling actions: %w", err)
	}
	if err := json.Unmarshal([]byte(approved), &item.ApprovedActions); err != nil {
		return queue.Item{}, fmt.Errorf("unmarshaling approved actions: %w", err)
	}
	if err := json.Unmarshal([]byte(executed), &item.ExecutedActions); err != nil {
		return queue.Item{}, fmt.Errorf("unmarshaling executed actions: %w", err)
	}
	if err := json.Unmarshal([]byte(revertData), &item.RevertData); err != nil {
		return queue.Item{}, fmt.Errorf("unmarshaling revert data: %w", err)
	}
	if aiResponse.Valid {
		item.AIResponse = json.RawMessage(aiResponse.String)
	}

	if item.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return queue.Item{}, err
	}
	if item.UpdatedAt, err = parseTimestamp("updated_at", updatedAt); err != nil {
		return queue.Item{}, err
	}
	if completedAt.Valid {
		t, err := parseTimestamp("completed_at", completedAt.String)
		if err != nil {
			return queue.Item{}, err
		}
		item.CompletedAt = &t
	}
	if revertedAt.Valid {
		t, err := parseTimestamp("reverted_at", revertedAt.String)
		if err != nil {
			return queue.Item{}, err
		}
		item.RevertedAt = &t
	}

	return item, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
