// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package mutation defines the queued sync intents: one strongly typed
// payload per action, their wire encoding, and the Queue that persists them.
package mutation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action is the wire tag identifying a mutation kind
type Action string

const (
	ActionCreateWorkout      Action = "create-workout"
	ActionUpdateWorkoutTitle Action = "update-workout-title"
	ActionCompleteWorkout    Action = "complete-workout"
	ActionDeleteWorkout      Action = "delete-workout"
	ActionAddExercise        Action = "add-exercise"
	ActionUpdateExercisePlan Action = "update-exercise-plan"
	ActionRemoveExercise     Action = "remove-exercise"
	ActionAddSet             Action = "add-set"
	ActionUpdateSet          Action = "update-set"
	ActionRemoveSet          Action = "remove-set"
	ActionShareWorkout       Action = "share-workout"
)

// Actions lists every known action in a stable order
var Actions = []Action{
	ActionCreateWorkout,
	ActionUpdateWorkoutTitle,
	ActionCompleteWorkout,
	ActionDeleteWorkout,
	ActionAddExercise,
	ActionUpdateExercisePlan,
	ActionRemoveExercise,
	ActionAddSet,
	ActionUpdateSet,
	ActionRemoveSet,
	ActionShareWorkout,
}

// ErrUnknownAction is returned by Decode for tags it does not recognize
var ErrUnknownAction = errors.New("unknown mutation action")

// Entity names the local table whose server id an acknowledged mutation assigns
type Entity int

const (
	EntityNone Entity = iota
	EntityWorkout
	EntityWorkoutExercise
	EntityWorkoutSet
)

func (e Entity) String() string {
	switch e {
	case EntityWorkout:
		return "workout"
	case EntityWorkoutExercise:
		return "workout_exercise"
	case EntityWorkoutSet:
		return "workout_set"
	default:
		return "none"
	}
}

// EntityFor maps an action to the entity it creates. Only creating actions
// carry a server id back; everything else maps to EntityNone.
func EntityFor(a Action) Entity {
	switch a {
	case ActionCreateWorkout:
		return EntityWorkout
	case ActionAddExercise:
		return EntityWorkoutExercise
	case ActionAddSet:
		return EntityWorkoutSet
	case ActionUpdateWorkoutTitle, ActionCompleteWorkout, ActionDeleteWorkout,
		ActionUpdateExercisePlan, ActionRemoveExercise,
		ActionUpdateSet, ActionRemoveSet, ActionShareWorkout:
		return EntityNone
	default:
		return EntityNone
	}
}

// Payload is implemented by exactly the payload structs of this package
type Payload interface {
	Action() Action
	// ClientIDs returns every client id the mutation refers to, its own first
	ClientIDs() []string
	isPayload()
}

// CreateWorkout creates a draft workout on the server
type CreateWorkout struct {
	ClientID  string `json:"client_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// UpdateWorkoutTitle renames a workout
type UpdateWorkoutTitle struct {
	WorkoutID int64  `json:"workoutId"`
	ClientID  string `json:"client_id"`
	Title     string `json:"title"`
}

// CompleteWorkout moves a workout to the completed status
type CompleteWorkout struct {
	WorkoutID int64  `json:"workoutId"`
	ClientID  string `json:"client_id"`
	Status    string `json:"status"`
}

// DeleteWorkout deletes a workout the server already knows about
type DeleteWorkout struct {
	WorkoutID int64  `json:"workoutId"`
	ClientID  string `json:"client_id"`
	ServerID  *int64 `json:"server_id,omitempty"`
}

// AddExercise appends an exercise to a workout
type AddExercise struct {
	WorkoutID       int64  `json:"workoutId"`
	WorkoutClientID string `json:"workout_client_id"`
	ExerciseID      string `json:"exerciseId"`
	OrderIndex      int    `json:"orderIndex"`
	ClientID        string `json:"client_id"`
	PlannedSets     *int   `json:"plannedSets"`
}

// UpdateExercisePlan changes the planned set count of an exercise
type UpdateExercisePlan struct {
	WorkoutExerciseID int64  `json:"workoutExerciseId"`
	ClientID          string `json:"client_id"`
	PlannedSets       *int   `json:"plannedSets"`
}

// RemoveExercise deletes an exercise the server already knows about
type RemoveExercise struct {
	WorkoutExerciseID int64  `json:"workoutExerciseId"`
	ClientID          string `json:"client_id"`
	ServerID          *int64 `json:"server_id,omitempty"`
}

// SetFields is the nested body of set mutations
type SetFields struct {
	Reps   int      `json:"reps"`
	Weight *float64 `json:"weight"`
	RPE    *float64 `json:"rpe"`
	DoneAt *int64   `json:"done_at"`
}

// AddSet logs a set under an exercise
type AddSet struct {
	WorkoutExerciseID       int64     `json:"workoutExerciseId"`
	WorkoutExerciseClientID string    `json:"workout_exercise_client_id"`
	ClientID                string    `json:"client_id"`
	Payload                 SetFields `json:"payload"`
}

// UpdateSet replaces the fields of a logged set
type UpdateSet struct {
	WorkoutSetID int64     `json:"workoutSetId"`
	ClientID     string    `json:"client_id"`
	Payload      SetFields `json:"payload"`
}

// RemoveSet deletes a set the server already knows about
type RemoveSet struct {
	WorkoutSetID int64  `json:"workoutSetId"`
	ClientID     string `json:"client_id"`
	ServerID     *int64 `json:"server_id,omitempty"`
}

// ShareWorkout is a deferred share requested while offline
type ShareWorkout struct {
	WorkoutID       int64  `json:"workoutId"`
	WorkoutClientID string `json:"workout_client_id"`
	UserID          string `json:"userId"`
}

func (CreateWorkout) Action() Action      { return ActionCreateWorkout }
func (UpdateWorkoutTitle) Action() Action { return ActionUpdateWorkoutTitle }
func (CompleteWorkout) Action() Action    { return ActionCompleteWorkout }
func (DeleteWorkout) Action() Action      { return ActionDeleteWorkout }
func (AddExercise) Action() Action        { return ActionAddExercise }
func (UpdateExercisePlan) Action() Action { return ActionUpdateExercisePlan }
func (RemoveExercise) Action() Action     { return ActionRemoveExercise }
func (AddSet) Action() Action             { return ActionAddSet }
func (UpdateSet) Action() Action          { return ActionUpdateSet }
func (RemoveSet) Action() Action          { return ActionRemoveSet }
func (ShareWorkout) Action() Action       { return ActionShareWorkout }

func (p CreateWorkout) ClientIDs() []string      { return []string{p.ClientID} }
func (p UpdateWorkoutTitle) ClientIDs() []string { return []string{p.ClientID} }
func (p CompleteWorkout) ClientIDs() []string    { return []string{p.ClientID} }
func (p DeleteWorkout) ClientIDs() []string      { return []string{p.ClientID} }
func (p AddExercise) ClientIDs() []string        { return []string{p.ClientID, p.WorkoutClientID} }
func (p UpdateExercisePlan) ClientIDs() []string { return []string{p.ClientID} }
func (p RemoveExercise) ClientIDs() []string     { return []string{p.ClientID} }
func (p AddSet) ClientIDs() []string             { return []string{p.ClientID, p.WorkoutExerciseClientID} }
func (p UpdateSet) ClientIDs() []string          { return []string{p.ClientID} }
func (p RemoveSet) ClientIDs() []string          { return []string{p.ClientID} }
func (p ShareWorkout) ClientIDs() []string       { return []string{p.WorkoutClientID} }

func (CreateWorkout) isPayload()      {}
func (UpdateWorkoutTitle) isPayload() {}
func (CompleteWorkout) isPayload()    {}
func (DeleteWorkout) isPayload()      {}
func (AddExercise) isPayload()        {}
func (UpdateExercisePlan) isPayload() {}
func (RemoveExercise) isPayload()     {}
func (AddSet) isPayload()             {}
func (UpdateSet) isPayload()          {}
func (RemoveSet) isPayload()          {}
func (ShareWorkout) isPayload()       {}

// Encode serializes a payload for the queue and the push request
func Encode(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("failed to encode mutation: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Action(), err)
	}
	return data, nil
}

// Decode parses raw into the payload struct for action
func Decode(action Action, raw json.RawMessage) (Payload, error) {
	switch action {
	case ActionCreateWorkout:
		return decodeAs[CreateWorkout](action, raw)
	case ActionUpdateWorkoutTitle:
		return decodeAs[UpdateWorkoutTitle](action, raw)
	case ActionCompleteWorkout:
		return decodeAs[CompleteWorkout](action, raw)
	case ActionDeleteWorkout:
		return decodeAs[DeleteWorkout](action, raw)
	case ActionAddExercise:
		return decodeAs[AddExercise](action, raw)
	case ActionUpdateExercisePlan:
		return decodeAs[UpdateExercisePlan](action, raw)
	case ActionRemoveExercise:
		return decodeAs[RemoveExercise](action, raw)
	case ActionAddSet:
		return decodeAs[AddSet](action, raw)
	case ActionUpdateSet:
		return decodeAs[UpdateSet](action, raw)
	case ActionRemoveSet:
		return decodeAs[RemoveSet](action, raw)
	case ActionShareWorkout:
		return decodeAs[ShareWorkout](action, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func decodeAs[T Payload](action Action, raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", action, err)
	}
	return p, nil
}

// CreatedClientID returns the client id of the row a creating payload made,
// or "" for payloads that create nothing.
func CreatedClientID(p Payload) string {
	switch v := p.(type) {
	case CreateWorkout:
		return v.ClientID
	case AddExercise:
		return v.ClientID
	case AddSet:
		return v.ClientID
	default:
		return ""
	}
}
