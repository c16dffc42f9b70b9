// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/mutation"
	"github.com/gorillax/workoutsync/syncapi"
	"github.com/gorillax/workoutsync/syncer"
)

// WorkoutRow is the server copy of a workout
type WorkoutRow struct {
	ServerID  int64
	ClientID  string
	Title     string
	Status    string
	CreatedAt int64
	UpdatedAt int64
	Deleted   bool
}

// ExerciseRow is the server copy of a workout exercise
type ExerciseRow struct {
	ServerID    int64
	ClientID    string
	WorkoutID   int64 // Server id of the workout
	ExerciseID  string
	OrderIndex  int
	PlannedSets *int
	Deleted     bool
}

// SetRow is the server copy of a workout set
type SetRow struct {
	ServerID   int64
	ClientID   string
	ExerciseID int64 // Server id of the workout exercise
	Reps       int
	Weight     *float64
	RPE        *float64
	DoneAt     *int64
	Deleted    bool
}

// Share is a published workout
type Share struct {
	ShareID   string
	OwnerID   string
	WorkoutID int64
	CreatedAt int64
}

type event struct {
	syncapi.PullEvent
	at       int64
	deviceID string
}

// dataset is everything one user owns. Rows are addressed by server id and
// resolved from client ids through the index maps.
type dataset struct {
	workouts  map[int64]*WorkoutRow
	exercises map[int64]*ExerciseRow
	sets      map[int64]*SetRow

	workoutByClient  map[string]int64
	exerciseByClient map[string]int64
	setByClient      map[string]int64

	// acknowledged results by device and queue id, replayed on re-push
	acks   map[string]syncapi.PushResult
	events []event
	shares map[string]Share
}

func newDataset() *dataset {
	return &dataset{
		workouts:         make(map[int64]*WorkoutRow),
		exercises:        make(map[int64]*ExerciseRow),
		sets:             make(map[int64]*SetRow),
		workoutByClient:  make(map[string]int64),
		exerciseByClient: make(map[string]int64),
		setByClient:      make(map[string]int64),
		acks:             make(map[string]syncapi.PushResult),
		shares:           make(map[string]Share),
	}
}

// applier applies one push batch under the server lock
type applier struct {
	s        *Server
	d        *dataset
	deviceID string
	logger   *slog.Logger
}

// apply runs one mutation and returns the server id it created, if any.
// Mutations that refer to rows the server does not know are consumed as
// no-ops so they cannot block the client's queue.
func (a *applier) apply(m syncapi.PushMutation) (*int64, error) {
	p, err := mutation.Decode(mutation.Action(m.Action), m.Payload)
	if err != nil {
		return nil, err
	}

	switch v := p.(type) {
	case mutation.CreateWorkout:
		if id, ok := a.d.workoutByClient[v.ClientID]; ok {
			return &id, nil
		}
		row := &WorkoutRow{
			ServerID:  a.s.nextID(),
			ClientID:  v.ClientID,
			Title:     v.Title,
			Status:    statusOrDraft(v.Status),
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		}
		a.d.workouts[row.ServerID] = row
		a.d.workoutByClient[row.ClientID] = row.ServerID
		a.emitWorkout(row)
		return &row.ServerID, nil

	case mutation.UpdateWorkoutTitle:
		row := a.liveWorkout(v.ClientID)
		if row == nil {
			return nil, nil
		}
		row.Title = v.Title
		row.UpdatedAt = a.s.tick()
		a.emitWorkout(row)

	case mutation.CompleteWorkout:
		row := a.liveWorkout(v.ClientID)
		if row == nil {
			return nil, nil
		}
		row.Status = statusOrDraft(v.Status)
		row.UpdatedAt = a.s.tick()
		a.emitWorkout(row)

	case mutation.DeleteWorkout:
		row := a.liveWorkout(v.ClientID)
		if row == nil {
			return nil, nil
		}
		row.Deleted = true
		for _, e := range a.d.exercises {
			if e.WorkoutID == row.ServerID && !e.Deleted {
				a.deleteExercise(e)
			}
		}
		a.emit(syncer.EventWorkoutDelete, syncer.DeleteEvent{ServerID: row.ServerID, ClientID: row.ClientID})

	case mutation.AddExercise:
		if id, ok := a.d.exerciseByClient[v.ClientID]; ok {
			return &id, nil
		}
		parent := a.liveWorkout(v.WorkoutClientID)
		if parent == nil {
			a.logger.Warn("Dropping exercise for unknown workout", "workout_client_id", v.WorkoutClientID)
			return nil, nil
		}
		row := &ExerciseRow{
			ServerID:    a.s.nextID(),
			ClientID:    v.ClientID,
			WorkoutID:   parent.ServerID,
			ExerciseID:  v.ExerciseID,
			OrderIndex:  v.OrderIndex,
			PlannedSets: v.PlannedSets,
		}
		a.d.exercises[row.ServerID] = row
		a.d.exerciseByClient[row.ClientID] = row.ServerID
		a.emitExercise(row)
		return &row.ServerID, nil

	case mutation.UpdateExercisePlan:
		row := a.liveExercise(v.ClientID)
		if row == nil {
			return nil, nil
		}
		row.PlannedSets = v.PlannedSets
		a.emitExercise(row)

	case mutation.RemoveExercise:
		row := a.liveExercise(v.ClientID)
		if row == nil {
			return nil, nil
		}
		a.deleteExercise(row)

	case mutation.AddSet:
		if id, ok := a.d.setByClient[v.ClientID]; ok {
			return &id, nil
		}
		parent := a.liveExercise(v.WorkoutExerciseClientID)
		if parent == nil {
			a.logger.Warn("Dropping set for unknown exercise", "workout_exercise_client_id", v.WorkoutExerciseClientID)
			return nil, nil
		}
		row := &SetRow{ServerID: a.s.nextID(), ClientID: v.ClientID, ExerciseID: parent.ServerID}
		setFields(row, v.Payload)
		a.d.sets[row.ServerID] = row
		a.d.setByClient[row.ClientID] = row.ServerID
		a.emitSet(row)
		return &row.ServerID, nil

	case mutation.UpdateSet:
		row := a.liveSet(v.ClientID)
		if row == nil {
			return nil, nil
		}
		setFields(row, v.Payload)
		a.emitSet(row)

	case mutation.RemoveSet:
		row := a.liveSet(v.ClientID)
		if row == nil {
			return nil, nil
		}
		row.Deleted = true
		a.emit(syncer.EventSetDelete, syncer.DeleteEvent{ServerID: row.ServerID, ClientID: row.ClientID})

	case mutation.ShareWorkout:
		row := a.liveWorkout(v.WorkoutClientID)
		if row == nil {
			return nil, nil
		}
		if _, detail := a.s.share(a.d, row, v.UserID); detail != "" {
			a.logger.Warn("Deferred share rejected", "workout_server_id", row.ServerID, "detail", detail)
		}

	default:
		return nil, fmt.Errorf("unhandled action %s", m.Action)
	}
	return nil, nil
}

func (a *applier) liveWorkout(clientID string) *WorkoutRow {
	row := a.d.workouts[a.d.workoutByClient[clientID]]
	if row == nil || row.Deleted {
		return nil
	}
	return row
}

func (a *applier) liveExercise(clientID string) *ExerciseRow {
	row := a.d.exercises[a.d.exerciseByClient[clientID]]
	if row == nil || row.Deleted {
		return nil
	}
	return row
}

func (a *applier) liveSet(clientID string) *SetRow {
	row := a.d.sets[a.d.setByClient[clientID]]
	if row == nil || row.Deleted {
		return nil
	}
	return row
}

func (a *applier) deleteExercise(row *ExerciseRow) {
	row.Deleted = true
	for _, s := range a.d.sets {
		if s.ExerciseID == row.ServerID {
			s.Deleted = true
		}
	}
	a.emit(syncer.EventExerciseDelete, syncer.DeleteEvent{ServerID: row.ServerID, ClientID: row.ClientID})
}

func (a *applier) emitWorkout(row *WorkoutRow) {
	a.emit(syncer.EventWorkoutUpsert, syncer.WorkoutEvent{
		ServerID:  row.ServerID,
		ClientID:  row.ClientID,
		Title:     row.Title,
		Status:    row.Status,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	})
}

func (a *applier) emitExercise(row *ExerciseRow) {
	parent := a.d.workouts[row.WorkoutID]
	a.emit(syncer.EventExerciseUpsert, syncer.ExerciseEvent{
		ServerID:        row.ServerID,
		ClientID:        row.ClientID,
		WorkoutServerID: parent.ServerID,
		WorkoutClientID: parent.ClientID,
		ExerciseID:      row.ExerciseID,
		OrderIndex:      row.OrderIndex,
		PlannedSets:     row.PlannedSets,
	})
}

func (a *applier) emitSet(row *SetRow) {
	parent := a.d.exercises[row.ExerciseID]
	a.emit(syncer.EventSetUpsert, syncer.SetEvent{
		ServerID:                row.ServerID,
		ClientID:                row.ClientID,
		WorkoutExerciseServerID: parent.ServerID,
		WorkoutExerciseClientID: parent.ClientID,
		Reps:                    row.Reps,
		Weight:                  row.Weight,
		RPE:                     row.RPE,
		DoneAt:                  row.DoneAt,
	})
}

func (a *applier) emit(action string, payload any) {
	raw, _ := json.Marshal(payload) // event payloads are plain structs
	at := a.s.tick()
	a.d.events = append(a.d.events, event{
		PullEvent: syncapi.PullEvent{
			ID:        a.s.nextID(),
			Action:    action,
			Payload:   raw,
			CreatedAt: syncapi.EventTime(at),
		},
		at:       at,
		deviceID: a.deviceID,
	})
}

func setFields(row *SetRow, f mutation.SetFields) {
	row.Reps = f.Reps
	row.Weight = f.Weight
	row.RPE = f.RPE
	row.DoneAt = f.DoneAt
}

func statusOrDraft(s string) string {
	if s == string(localstore.StatusCompleted) {
		return s
	}
	return string(localstore.StatusDraft)
}

func newShareID() string {
	return "sh_" + uuid.NewString()[:8]
}
