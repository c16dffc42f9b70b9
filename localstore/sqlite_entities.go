// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ---- workout exercises ----

const exerciseColumns = `id, client_id, server_id, workout_id, exercise_id, order_index, planned_sets, deleted_at`

func scanExercise(r rowScanner) (WorkoutExercise, error) {
	var e WorkoutExercise
	var clientID sql.NullString
	var serverID, plannedSets, deletedAt sql.NullInt64
	if err := r.Scan(&e.ID, &clientID, &serverID, &e.WorkoutID, &e.ExerciseID, &e.OrderIndex, &plannedSets, &deletedAt); err != nil {
		return WorkoutExercise{}, err
	}
	e.ClientID = clientID.String
	e.ServerID = int64Ptr(serverID)
	e.PlannedSets = intPtr(plannedSets)
	e.DeletedAt = int64Ptr(deletedAt)
	return e, nil
}

func (o *sqliteOps) AddExercise(ctx context.Context, e WorkoutExercise) (WorkoutExercise, error) {
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO workout_exercises (client_id, server_id, workout_id, exercise_id, order_index, planned_sets, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ClientID, nullableInt64(e.ServerID), e.WorkoutID, e.ExerciseID, e.OrderIndex,
		nullableInt(e.PlannedSets), nullableInt64(e.DeletedAt))
	if err != nil {
		return WorkoutExercise{}, fmt.Errorf("failed to insert workout exercise: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WorkoutExercise{}, fmt.Errorf("failed to read workout exercise id: %w", err)
	}
	e.ID = id
	return e, nil
}

func (o *sqliteOps) getExerciseWhere(ctx context.Context, where string, key any) (WorkoutExercise, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+exerciseColumns+` FROM workout_exercises WHERE `+where+` LIMIT 1`, key)
	e, err := scanExercise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkoutExercise{}, notFound("workout exercise", key)
	}
	if err != nil {
		return WorkoutExercise{}, fmt.Errorf("failed to query workout exercise: %w", err)
	}
	return e, nil
}

func (o *sqliteOps) GetExercise(ctx context.Context, id int64) (WorkoutExercise, error) {
	return o.getExerciseWhere(ctx, "id = ?", id)
}

func (o *sqliteOps) GetExerciseByClientID(ctx context.Context, clientID string) (WorkoutExercise, error) {
	return o.getExerciseWhere(ctx, "client_id = ?", clientID)
}

func (o *sqliteOps) GetExerciseByServerID(ctx context.Context, serverID int64) (WorkoutExercise, error) {
	return o.getExerciseWhere(ctx, "server_id = ?", serverID)
}

func (o *sqliteOps) ListExercises(ctx context.Context, workoutID int64) ([]WorkoutExercise, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+exerciseColumns+` FROM workout_exercises
		WHERE workout_id = ? AND deleted_at IS NULL
		ORDER BY order_index ASC, id ASC
	`, workoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workout exercises: %w", err)
	}
	defer rows.Close()

	var exercises []WorkoutExercise
	for rows.Next() {
		e, err := scanExercise(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workout exercise: %w", err)
		}
		exercises = append(exercises, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workout exercises: %w", err)
	}
	return exercises, nil
}

func (o *sqliteOps) UpdateExercise(ctx context.Context, e WorkoutExercise) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE workout_exercises SET exercise_id = ?, order_index = ?, planned_sets = ? WHERE id = ?
	`, e.ExerciseID, e.OrderIndex, nullableInt(e.PlannedSets), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update workout exercise %d: %w", e.ID, err)
	}
	return affectedOrNotFound(res, "workout exercise", e.ID)
}

func (o *sqliteOps) SoftDeleteExercise(ctx context.Context, id int64, at int64) error {
	res, err := o.q.ExecContext(ctx, `UPDATE workout_exercises SET deleted_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete workout exercise %d: %w", id, err)
	}
	return affectedOrNotFound(res, "workout exercise", id)
}

func (o *sqliteOps) PurgeExercise(ctx context.Context, id int64) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM workout_sets WHERE workout_exercise_id = ?`, id); err != nil {
		return fmt.Errorf("failed to purge sets of workout exercise %d: %w", id, err)
	}
	res, err := o.q.ExecContext(ctx, `DELETE FROM workout_exercises WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge workout exercise %d: %w", id, err)
	}
	return affectedOrNotFound(res, "workout exercise", id)
}

func (o *sqliteOps) SetExerciseServerID(ctx context.Context, clientID string, serverID int64) (bool, error) {
	return o.setServerID(ctx, "workout_exercises", clientID, serverID)
}

// ---- workout sets ----

const setColumns = `id, client_id, server_id, workout_exercise_id, reps, weight, rpe, done_at, deleted_at`

func scanSet(r rowScanner) (WorkoutSet, error) {
	var s WorkoutSet
	var clientID sql.NullString
	var serverID, doneAt, deletedAt sql.NullInt64
	var weight, rpe sql.NullFloat64
	if err := r.Scan(&s.ID, &clientID, &serverID, &s.WorkoutExerciseID, &s.Reps, &weight, &rpe, &doneAt, &deletedAt); err != nil {
		return WorkoutSet{}, err
	}
	s.ClientID = clientID.String
	s.ServerID = int64Ptr(serverID)
	s.Weight = floatPtr(weight)
	s.RPE = floatPtr(rpe)
	s.DoneAt = int64Ptr(doneAt)
	s.DeletedAt = int64Ptr(deletedAt)
	return s, nil
}

func (o *sqliteOps) AddSet(ctx context.Context, s WorkoutSet) (WorkoutSet, error) {
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO workout_sets (client_id, server_id, workout_exercise_id, reps, weight, rpe, done_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ClientID, nullableInt64(s.ServerID), s.WorkoutExerciseID, s.Reps, nullableFloat(s.Weight),
		nullableFloat(s.RPE), nullableInt64(s.DoneAt), nullableInt64(s.DeletedAt))
	if err != nil {
		return WorkoutSet{}, fmt.Errorf("failed to insert workout set: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WorkoutSet{}, fmt.Errorf("failed to read workout set id: %w", err)
	}
	s.ID = id
	return s, nil
}

func (o *sqliteOps) getSetWhere(ctx context.Context, where string, key any) (WorkoutSet, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+setColumns+` FROM workout_sets WHERE `+where+` LIMIT 1`, key)
	s, err := scanSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkoutSet{}, notFound("workout set", key)
	}
	if err != nil {
		return WorkoutSet{}, fmt.Errorf("failed to query workout set: %w", err)
	}
	return s, nil
}

func (o *sqliteOps) GetSet(ctx context.Context, id int64) (WorkoutSet, error) {
	return o.getSetWhere(ctx, "id = ?", id)
}

func (o *sqliteOps) GetSetByClientID(ctx context.Context, clientID string) (WorkoutSet, error) {
	return o.getSetWhere(ctx, "client_id = ?", clientID)
}

func (o *sqliteOps) GetSetByServerID(ctx context.Context, serverID int64) (WorkoutSet, error) {
	return o.getSetWhere(ctx, "server_id = ?", serverID)
}

func (o *sqliteOps) ListSets(ctx context.Context, exerciseID int64) ([]WorkoutSet, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+setColumns+` FROM workout_sets
		WHERE workout_exercise_id = ? AND deleted_at IS NULL
		ORDER BY id ASC
	`, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workout sets: %w", err)
	}
	defer rows.Close()

	var sets []WorkoutSet
	for rows.Next() {
		s, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workout set: %w", err)
		}
		sets = append(sets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workout sets: %w", err)
	}
	return sets, nil
}

func (o *sqliteOps) UpdateSet(ctx context.Context, s WorkoutSet) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE workout_sets SET reps = ?, weight = ?, rpe = ?, done_at = ? WHERE id = ?
	`, s.Reps, nullableFloat(s.Weight), nullableFloat(s.RPE), nullableInt64(s.DoneAt), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update workout set %d: %w", s.ID, err)
	}
	return affectedOrNotFound(res, "workout set", s.ID)
}

func (o *sqliteOps) SoftDeleteSet(ctx context.Context, id int64, at int64) error {
	res, err := o.q.ExecContext(ctx, `UPDATE workout_sets SET deleted_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete workout set %d: %w", id, err)
	}
	return affectedOrNotFound(res, "workout set", id)
}

func (o *sqliteOps) PurgeSet(ctx context.Context, id int64) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM workout_sets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge workout set %d: %w", id, err)
	}
	return affectedOrNotFound(res, "workout set", id)
}

func (o *sqliteOps) SetSetServerID(ctx context.Context, clientID string, serverID int64) (bool, error) {
	return o.setServerID(ctx, "workout_sets", clientID, serverID)
}
