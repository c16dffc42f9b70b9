// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/syncapi"
)

// Remote event actions delivered by the pull endpoint
const (
	EventWorkoutUpsert  = "workout-upsert"
	EventWorkoutDelete  = "workout-delete"
	EventExerciseUpsert = "exercise-upsert"
	EventExerciseDelete = "exercise-delete"
	EventSetUpsert      = "set-upsert"
	EventSetDelete      = "set-delete"
)

// WorkoutEvent is the payload of workout-upsert
type WorkoutEvent struct {
	ServerID  int64  `json:"server_id"`
	ClientID  string `json:"client_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ExerciseEvent is the payload of exercise-upsert
type ExerciseEvent struct {
	ServerID        int64  `json:"server_id"`
	ClientID        string `json:"client_id"`
	WorkoutServerID int64  `json:"workout_server_id"`
	WorkoutClientID string `json:"workout_client_id"`
	ExerciseID      string `json:"exercise_id"`
	OrderIndex      int    `json:"order_index"`
	PlannedSets     *int   `json:"planned_sets"`
}

// SetEvent is the payload of set-upsert
type SetEvent struct {
	ServerID                int64    `json:"server_id"`
	ClientID                string   `json:"client_id"`
	WorkoutExerciseServerID int64    `json:"workout_exercise_server_id"`
	WorkoutExerciseClientID string   `json:"workout_exercise_client_id"`
	Reps                    int      `json:"reps"`
	Weight                  *float64 `json:"weight"`
	RPE                     *float64 `json:"rpe"`
	DoneAt                  *int64   `json:"done_at"`
}

// DeleteEvent is the payload of every *-delete event
type DeleteEvent struct {
	ServerID int64  `json:"server_id"`
	ClientID string `json:"client_id"`
}

// applyEvent applies one remote event. It reports whether local state changed.
// Unknown actions and events whose parent row is unknown are skipped.
func (o *Orchestrator) applyEvent(ctx context.Context, tx localstore.Ops, ev syncapi.PullEvent) (bool, error) {
	switch ev.Action {
	case EventWorkoutUpsert:
		var p WorkoutEvent
		if err := decodeEvent(ev, &p); err != nil {
			return false, err
		}
		return o.upsertWorkout(ctx, tx, p)
	case EventExerciseUpsert:
		var p ExerciseEvent
		if err := decodeEvent(ev, &p); err != nil {
			return false, err
		}
		return o.upsertExercise(ctx, tx, p)
	case EventSetUpsert:
		var p SetEvent
		if err := decodeEvent(ev, &p); err != nil {
			return false, err
		}
		return o.upsertSet(ctx, tx, p)
	case EventWorkoutDelete, EventExerciseDelete, EventSetDelete:
		var p DeleteEvent
		if err := decodeEvent(ev, &p); err != nil {
			return false, err
		}
		return o.deleteRow(ctx, tx, ev.Action, p)
	default:
		o.logger.Warn("Skipping unknown pull event", "id", ev.ID, "action", ev.Action)
		return false, nil
	}
}

func decodeEvent(ev syncapi.PullEvent, dst any) error {
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", syncapi.ErrMalformedResponse, ev.Action, err)
	}
	return nil
}

// lookup resolves a row by server id first, then by client id
func lookup[T any](ctx context.Context, serverID int64, clientID string,
	byServer func(context.Context, int64) (T, error),
	byClient func(context.Context, string) (T, error),
) (T, bool, error) {
	var zero T
	if serverID != 0 {
		row, err := byServer(ctx, serverID)
		if err == nil {
			return row, true, nil
		}
		if !errors.Is(err, localstore.ErrNotFound) {
			return zero, false, err
		}
	}
	if clientID != "" {
		row, err := byClient(ctx, clientID)
		if err == nil {
			return row, true, nil
		}
		if !errors.Is(err, localstore.ErrNotFound) {
			return zero, false, err
		}
	}
	return zero, false, nil
}

func newClientID(clientID string) string {
	if clientID != "" {
		return clientID
	}
	return uuid.NewString()
}

func (o *Orchestrator) upsertWorkout(ctx context.Context, tx localstore.Ops, p WorkoutEvent) (bool, error) {
	w, found, err := lookup(ctx, p.ServerID, p.ClientID, tx.GetWorkoutByServerID, tx.GetWorkoutByClientID)
	if err != nil {
		return false, err
	}
	status := localstore.WorkoutStatus(p.Status)
	if status != localstore.StatusCompleted {
		status = localstore.StatusDraft
	}
	if !found {
		sid := p.ServerID
		_, err := tx.CreateWorkout(ctx, localstore.Workout{
			ClientID:  newClientID(p.ClientID),
			ServerID:  &sid,
			Title:     p.Title,
			Status:    status,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		})
		return err == nil, err
	}
	if w.DeletedAt != nil {
		// Deleted locally; the delete mutation will reach the server.
		return false, nil
	}
	if w.ServerID == nil && p.ServerID != 0 {
		if _, err := tx.SetWorkoutServerID(ctx, w.ClientID, p.ServerID); err != nil {
			return false, err
		}
	}
	w.Title = p.Title
	w.Status = status
	if p.UpdatedAt > w.UpdatedAt {
		w.UpdatedAt = p.UpdatedAt
	}
	return true, tx.UpdateWorkout(ctx, w)
}

func (o *Orchestrator) upsertExercise(ctx context.Context, tx localstore.Ops, p ExerciseEvent) (bool, error) {
	parent, ok, err := lookup(ctx, p.WorkoutServerID, p.WorkoutClientID, tx.GetWorkoutByServerID, tx.GetWorkoutByClientID)
	if err != nil {
		return false, err
	}
	if !ok {
		o.logger.Warn("Skipping exercise event for unknown workout",
			"server_id", p.ServerID, "workout_server_id", p.WorkoutServerID)
		return false, nil
	}

	e, found, err := lookup(ctx, p.ServerID, p.ClientID, tx.GetExerciseByServerID, tx.GetExerciseByClientID)
	if err != nil {
		return false, err
	}
	if !found {
		sid := p.ServerID
		_, err := tx.AddExercise(ctx, localstore.WorkoutExercise{
			ClientID:    newClientID(p.ClientID),
			ServerID:    &sid,
			WorkoutID:   parent.ID,
			ExerciseID:  p.ExerciseID,
			OrderIndex:  p.OrderIndex,
			PlannedSets: p.PlannedSets,
		})
		return err == nil, err
	}
	if e.DeletedAt != nil {
		return false, nil
	}
	if e.ServerID == nil && p.ServerID != 0 {
		if _, err := tx.SetExerciseServerID(ctx, e.ClientID, p.ServerID); err != nil {
			return false, err
		}
	}
	e.ExerciseID = p.ExerciseID
	e.OrderIndex = p.OrderIndex
	e.PlannedSets = p.PlannedSets
	return true, tx.UpdateExercise(ctx, e)
}

func (o *Orchestrator) upsertSet(ctx context.Context, tx localstore.Ops, p SetEvent) (bool, error) {
	parent, ok, err := lookup(ctx, p.WorkoutExerciseServerID, p.WorkoutExerciseClientID, tx.GetExerciseByServerID, tx.GetExerciseByClientID)
	if err != nil {
		return false, err
	}
	if !ok {
		o.logger.Warn("Skipping set event for unknown exercise",
			"server_id", p.ServerID, "workout_exercise_server_id", p.WorkoutExerciseServerID)
		return false, nil
	}

	s, found, err := lookup(ctx, p.ServerID, p.ClientID, tx.GetSetByServerID, tx.GetSetByClientID)
	if err != nil {
		return false, err
	}
	if !found {
		sid := p.ServerID
		_, err := tx.AddSet(ctx, localstore.WorkoutSet{
			ClientID:          newClientID(p.ClientID),
			ServerID:          &sid,
			WorkoutExerciseID: parent.ID,
			Reps:              p.Reps,
			Weight:            p.Weight,
			RPE:               p.RPE,
			DoneAt:            p.DoneAt,
		})
		return err == nil, err
	}
	if s.DeletedAt != nil {
		return false, nil
	}
	if s.ServerID == nil && p.ServerID != 0 {
		if _, err := tx.SetSetServerID(ctx, s.ClientID, p.ServerID); err != nil {
			return false, err
		}
	}
	s.Reps = p.Reps
	s.Weight = p.Weight
	s.RPE = p.RPE
	s.DoneAt = p.DoneAt
	return true, tx.UpdateSet(ctx, s)
}

func (o *Orchestrator) deleteRow(ctx context.Context, tx localstore.Ops, action string, p DeleteEvent) (bool, error) {
	at := o.now().UnixMilli()
	switch action {
	case EventWorkoutDelete:
		w, found, err := lookup(ctx, p.ServerID, p.ClientID, tx.GetWorkoutByServerID, tx.GetWorkoutByClientID)
		if err != nil || !found || w.DeletedAt != nil {
			return false, err
		}
		return true, tx.SoftDeleteWorkout(ctx, w.ID, at)
	case EventExerciseDelete:
		e, found, err := lookup(ctx, p.ServerID, p.ClientID, tx.GetExerciseByServerID, tx.GetExerciseByClientID)
		if err != nil || !found || e.DeletedAt != nil {
			return false, err
		}
		return true, tx.SoftDeleteExercise(ctx, e.ID, at)
	default:
		s, found, err := lookup(ctx, p.ServerID, p.ClientID, tx.GetSetByServerID, tx.GetSetByClientID)
		if err != nil || !found || s.DeletedAt != nil {
			return false, err
		}
		return true, tx.SoftDeleteSet(ctx, s.ID, at)
	}
}
