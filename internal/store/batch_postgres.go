package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements BatchRepo.
var _ BatchRepo = (*PostgresStore)(nil)

func (s *PostgresStore) SaveBatch(queue string, items []json.RawMessage) (string, error) {
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
	if err := tx.QueryRow(`SELECT MAX(seq) FROM task_batches WHERE queue = $1`, queue).Scan(&maxSeq); err != nil {
		return "", fmt.Errorf("next batch seq: %w", err)
	}
	seq := maxSeq.Int64 + 1
	key := batchKey(queue, seq)
	now := time.Now()

	if _, err := tx.Exec(
		`INSERT INTO task_batches (key, queue, seq, items_json, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key, queue, seq, string(itemsJSON), now, now,
	); err != nil {
		return "", fmt.Errorf("insert batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit save batch: %w", err)
	}

	slog.Debug("PostgresStore.SaveBatch", "queue", queue, "key", key, "items", len(items))
	return key, nil
}

func (s *PostgresStore) GetBatches(queue string) ([]Batch, error) {
	rows, err := s.db.Query(
		`SELECT key, queue, seq, items_json, claimed_at, created_at
		 FROM task_batches WHERE queue = $1 ORDER BY seq ASC`, queue,
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

func (s *PostgresStore) ClaimBatch(key string, now time.Time, staleBefore time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE task_batches SET claimed_at = $1, updated_at = $1
		 WHERE key = $2 AND (claimed_at IS NULL OR claimed_at < $3)`,
		now, key, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("claim batch %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *PostgresStore) ReleaseBatch(key string) error {
	_, err := s.db.Exec(
		`UPDATE task_batches SET claimed_at = NULL, updated_at = $1 WHERE key = $2`,
		time.Now(), key,
	)
	if err != nil {
		return fmt.Errorf("release batch %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) UpdateBatch(key string, items []json.RawMessage) error {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal batch items: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE task_batches SET items_json = $1, updated_at = $2 WHERE key = $3`,
		string(itemsJSON), time.Now(), key,
	)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteBatch(key string) error {
	_, err := s.db.Exec(`DELETE FROM task_batches WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) CountItems(queue string) (int, error) {
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
