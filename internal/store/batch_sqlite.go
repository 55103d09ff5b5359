package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements BatchRepo.
var _ BatchRepo = (*SQLiteStore)(nil)

// batchKey builds the composite key {queue}_batch_{seq}. The zero-padded
// sequence keeps lexical key order equal to creation order.
func batchKey(queue string, seq int64) string {
	return fmt.Sprintf("%s_batch_%09d", queue, seq)
}

func (s *SQLiteStore) SaveBatch(queue string, items []json.RawMessage) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("refusing to save empty batch for queue %s", queue)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal batch items: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin save batch: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM task_batches WHERE queue = ?`, queue).Scan(&maxSeq); err != nil {
		return "", fmt.Errorf("next batch seq: %w", err)
	}
	seq := maxSeq.Int64 + 1
	key := batchKey(queue, seq)
	now := time.Now()

	if _, err := tx.Exec(
		`INSERT INTO task_batches (key, queue, seq, items_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		key, queue, seq, string(itemsJSON), now, now,
	); err != nil {
		return "", fmt.Errorf("insert batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit save batch: %w", err)
	}

	slog.Debug("SQLiteStore.SaveBatch", "queue", queue, "key", key, "items", len(items))
	return key, nil
}

func (s *SQLiteStore) GetBatches(queue string) ([]Batch, error) {
	rows, err := s.db.Query(
		`SELECT key, queue, seq, items_json, claimed_at, created_at
		 FROM task_batches WHERE queue = ? ORDER BY seq ASC`, queue,
	)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

func (s *SQLiteStore) ClaimBatch(key string, now time.Time, staleBefore time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE task_batches SET claimed_at = ?, updated_at = ?
		 WHERE key = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		now, now, key, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("claim batch %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseBatch(key string) error {
	_, err := s.db.Exec(
		`UPDATE task_batches SET claimed_at = NULL, updated_at = ? WHERE key = ?`,
		time.Now(), key,
	)
	if err != nil {
		return fmt.Errorf("release batch %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateBatch(key string, items []json.RawMessage) error {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal batch items: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE task_batches SET items_json = ?, updated_at = ? WHERE key = ?`,
		string(itemsJSON), time.Now(), key,
	)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteBatch(key string) error {
	_, err := s.db.Exec(`DELETE FROM task_batches WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) CountItems(queue string) (int, error) {
	batches, err := s.GetBatches(queue)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range batches {
		total += len(b.Items)
	}
	return total, nil
}

// scanBatch scans one Batch from sql.Rows shared by both SQL backends.
func scanBatch(rows *sql.Rows) (Batch, error) {
	var b Batch
	var itemsJSON string
	var claimedAt sql.NullTime
	if err := rows.Scan(&b.Key, &b.Queue, &b.Seq, &itemsJSON, &claimedAt, &b.CreatedAt); err != nil {
		return b, fmt.Errorf("scan batch: %w", err)
	}
	if claimedAt.Valid {
		b.ClaimedAt = &claimedAt.Time
	}
	if err := json.Unmarshal([]byte(itemsJSON), &b.Items); err != nil {
		return b, fmt.Errorf("unmarshal batch items for %s: %w", b.Key, err)
	}
	return b, nil
}
