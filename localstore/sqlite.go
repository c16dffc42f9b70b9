// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the durable LocalStore backed by a single SQLite connection
type SQLiteStore struct {
	*sqliteOps
	db      *sql.DB
	writeMu sync.Mutex // Serialize transactions to prevent SQLite locking issues
}

// OpenSQLite opens (or creates) the database at path and brings its schema up
// to date.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		sqliteOps: &sqliteOps{q: db},
		db:        db,
	}, nil
}

// DB returns the underlying connection pool
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Kind reports KindDurable
func (s *SQLiteStore) Kind() Kind { return KindDurable }

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Update runs fn in a SQLite transaction. fn must only use the Ops it is
// given: the store has a single connection, so calling back into s from fn
// would block.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Ops) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&sqliteOps{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// SaveUserProfile replaces the cached profile in one transaction so a failed
// write keeps the previous profile.
func (s *SQLiteStore) SaveUserProfile(ctx context.Context, p UserProfile) error {
	return s.Update(ctx, func(tx Ops) error {
		return tx.SaveUserProfile(ctx, p)
	})
}

// sqliteOps implements Ops on top of a querier
type sqliteOps struct {
	q querier
}

func nullableInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func notFound(entity string, key any) error {
	return fmt.Errorf("%s %v: %w", entity, key, ErrNotFound)
}

func affectedOrNotFound(res sql.Result, entity string, key any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound(entity, key)
	}
	return nil
}

// ---- workouts ----

const workoutColumns = `id, client_id, server_id, user_id, title, status, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkout(r rowScanner) (Workout, error) {
	var w Workout
	var clientID, userID sql.NullString
	var serverID, deletedAt sql.NullInt64
	var status string
	if err := r.Scan(&w.ID, &clientID, &serverID, &userID, &w.Title, &status, &w.CreatedAt, &w.UpdatedAt, &deletedAt); err != nil {
		return Workout{}, err
	}
	w.ClientID = clientID.String
	w.ServerID = int64Ptr(serverID)
	w.UserID = stringPtr(userID)
	w.Status = WorkoutStatus(status)
	w.DeletedAt = int64Ptr(deletedAt)
	return w, nil
}

func (o *sqliteOps) CreateWorkout(ctx context.Context, w Workout) (Workout, error) {
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO workouts (client_id, server_id, user_id, title, status, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ClientID, nullableInt64(w.ServerID), nullableString(w.UserID), w.Title, string(w.Status),
		w.CreatedAt, w.UpdatedAt, nullableInt64(w.DeletedAt))
	if err != nil {
		return Workout{}, fmt.Errorf("failed to insert workout: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Workout{}, fmt.Errorf("failed to read workout id: %w", err)
	}
	w.ID = id
	return w, nil
}

func (o *sqliteOps) getWorkoutWhere(ctx context.Context, where string, key any) (Workout, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+workoutColumns+` FROM workouts WHERE `+where+` LIMIT 1`, key)
	w, err := scanWorkout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Workout{}, notFound("workout", key)
	}
	if err != nil {
		return Workout{}, fmt.Errorf("failed to query workout: %w", err)
	}
	return w, nil
}

func (o *sqliteOps) GetWorkout(ctx context.Context, id int64) (Workout, error) {
	return o.getWorkoutWhere(ctx, "id = ?", id)
}

func (o *sqliteOps) GetWorkoutByClientID(ctx context.Context, clientID string) (Workout, error) {
	return o.getWorkoutWhere(ctx, "client_id = ?", clientID)
}

func (o *sqliteOps) GetWorkoutByServerID(ctx context.Context, serverID int64) (Workout, error) {
	return o.getWorkoutWhere(ctx, "server_id = ?", serverID)
}

func (o *sqliteOps) ListWorkouts(ctx context.Context) ([]Workout, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+workoutColumns+` FROM workouts
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workouts: %w", err)
	}
	defer rows.Close()

	var workouts []Workout
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workout: %w", err)
		}
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workouts: %w", err)
	}
	return workouts, nil
}

func (o *sqliteOps) UpdateWorkout(ctx context.Context, w Workout) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE workouts SET title = ?, status = ?, user_id = ?, updated_at = ? WHERE id = ?
	`, w.Title, string(w.Status), nullableString(w.UserID), w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update workout %d: %w", w.ID, err)
	}
	return affectedOrNotFound(res, "workout", w.ID)
}

func (o *sqliteOps) SoftDeleteWorkout(ctx context.Context, id int64, at int64) error {
	res, err := o.q.ExecContext(ctx, `UPDATE workouts SET deleted_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete workout %d: %w", id, err)
	}
	return affectedOrNotFound(res, "workout", id)
}

func (o *sqliteOps) PurgeWorkout(ctx context.Context, id int64) error {
	if _, err := o.q.ExecContext(ctx, `
		DELETE FROM workout_sets WHERE workout_exercise_id IN (SELECT id FROM workout_exercises WHERE workout_id = ?)
	`, id); err != nil {
		return fmt.Errorf("failed to purge sets of workout %d: %w", id, err)
	}
	if _, err := o.q.ExecContext(ctx, `DELETE FROM workout_exercises WHERE workout_id = ?`, id); err != nil {
		return fmt.Errorf("failed to purge exercises of workout %d: %w", id, err)
	}
	res, err := o.q.ExecContext(ctx, `DELETE FROM workouts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge workout %d: %w", id, err)
	}
	return affectedOrNotFound(res, "workout", id)
}

func (o *sqliteOps) setServerID(ctx context.Context, table, clientID string, serverID int64) (bool, error) {
	res, err := o.q.ExecContext(ctx, `UPDATE `+table+` SET server_id = ? WHERE client_id = ?`, serverID, clientID)
	if err != nil {
		return false, fmt.Errorf("failed to set server id on %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (o *sqliteOps) SetWorkoutServerID(ctx context.Context, clientID string, serverID int64) (bool, error) {
	return o.setServerID(ctx, "workouts", clientID, serverID)
}
