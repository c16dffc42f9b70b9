// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ---- mutation queue ----

const mutationColumns = `id, action, payload, status, attempts, created_at, last_error`

func scanMutation(r rowScanner) (MutationRecord, error) {
	var m MutationRecord
	var payload, status string
	var lastError sql.NullString
	if err := r.Scan(&m.ID, &m.Action, &payload, &status, &m.Attempts, &m.CreatedAt, &lastError); err != nil {
		return MutationRecord{}, err
	}
	m.Payload = json.RawMessage(payload)
	m.Status = MutationStatus(status)
	m.LastError = stringPtr(lastError)
	return m, nil
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1 // SQLite: no limit
	}
	return limit
}

func (o *sqliteOps) EnqueueMutation(ctx context.Context, action string, payload json.RawMessage, createdAt int64) (int64, error) {
	if action == "" {
		return 0, fmt.Errorf("failed to enqueue mutation: empty action")
	}
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO mutation_queue (action, payload, status, attempts, created_at, last_error)
		VALUES (?, ?, 'pending', 0, ?, NULL)
	`, action, string(payload), createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue mutation %s: %w", action, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read mutation id: %w", err)
	}
	return id, nil
}

func (o *sqliteOps) CountPendingMutations(ctx context.Context) (int, error) {
	var n int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutation_queue WHERE status != 'completed'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return n, nil
}

func (o *sqliteOps) listMutations(ctx context.Context, where string, limit int) ([]MutationRecord, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+mutationColumns+` FROM mutation_queue
		`+where+`
		ORDER BY id ASC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query mutations: %w", err)
	}
	defer rows.Close()

	var records []MutationRecord
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		records = append(records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}
	return records, nil
}

func (o *sqliteOps) ListPendingMutations(ctx context.Context, limit int) ([]MutationRecord, error) {
	return o.listMutations(ctx, `WHERE status != 'completed'`, limit)
}

func (o *sqliteOps) ListMutations(ctx context.Context, limit int) ([]MutationRecord, error) {
	return o.listMutations(ctx, ``, limit)
}

func (o *sqliteOps) GetMutation(ctx context.Context, id int64) (MutationRecord, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutation_queue WHERE id = ?`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MutationRecord{}, notFound("mutation", id)
	}
	if err != nil {
		return MutationRecord{}, fmt.Errorf("failed to query mutation %d: %w", id, err)
	}
	return m, nil
}

func (o *sqliteOps) MarkMutationCompleted(ctx context.Context, id int64) error {
	res, err := o.q.ExecContext(ctx, `UPDATE mutation_queue SET status = 'completed', last_error = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d completed: %w", id, err)
	}
	return affectedOrNotFound(res, "mutation", id)
}

func (o *sqliteOps) MarkMutationFailed(ctx context.Context, id int64, message string) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE mutation_queue SET status = 'failed', attempts = attempts + 1, last_error = ? WHERE id = ?
	`, message, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d failed: %w", id, err)
	}
	return affectedOrNotFound(res, "mutation", id)
}

func (o *sqliteOps) RemoveMutation(ctx context.Context, id int64) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove mutation %d: %w", id, err)
	}
	return affectedOrNotFound(res, "mutation", id)
}

// ---- sync state ----

func (o *sqliteOps) LastPullTimestamp(ctx context.Context) (int64, error) {
	var value string
	err := o.q.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, lastPullKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", lastPullKey, err)
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ts < 0 {
		// An unreadable checkpoint is treated as "never pulled".
		return 0, nil
	}
	return ts, nil
}

func (o *sqliteOps) SetLastPullTimestamp(ctx context.Context, ts int64) error {
	if ts < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, ts)
	}
	if _, err := o.q.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastPullKey, strconv.FormatInt(ts, 10)); err != nil {
		return fmt.Errorf("failed to write %s: %w", lastPullKey, err)
	}
	return nil
}

// ---- user profile ----

func (o *sqliteOps) UserProfile(ctx context.Context) (*UserProfile, error) {
	var p UserProfile
	var consent int
	err := o.q.QueryRowContext(ctx, `
		SELECT id, username, consent_to_public_share, created_at FROM user_profile LIMIT 1
	`).Scan(&p.ID, &p.Username, &consent, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user profile: %w", err)
	}
	p.ConsentToPublicShare = consent != 0
	return &p, nil
}

func (o *sqliteOps) SaveUserProfile(ctx context.Context, p UserProfile) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM user_profile WHERE id != ?`, p.ID); err != nil {
		return fmt.Errorf("failed to replace user profile: %w", err)
	}
	consent := 0
	if p.ConsentToPublicShare {
		consent = 1
	}
	if _, err := o.q.ExecContext(ctx, `
		INSERT INTO user_profile (id, username, consent_to_public_share, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			consent_to_public_share = excluded.consent_to_public_share,
			created_at = excluded.created_at
	`, p.ID, p.Username, consent, p.CreatedAt); err != nil {
		return fmt.Errorf("failed to save user profile: %w", err)
	}
	return nil
}
