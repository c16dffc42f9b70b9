// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"encoding/json"
)

// WorkoutStatus is the lifecycle state of a workout
type WorkoutStatus string

const (
	StatusDraft     WorkoutStatus = "draft"
	StatusCompleted WorkoutStatus = "completed"
)

// MutationStatus is the delivery state of a queued mutation
type MutationStatus string

const (
	MutationPending   MutationStatus = "pending"
	MutationCompleted MutationStatus = "completed"
	MutationFailed    MutationStatus = "failed"
)

// Workout is one training session row
type Workout struct {
	ID        int64         `json:"id"`                   // Store-assigned local primary key
	ClientID  string        `json:"client_id"`            // Stable id generated at creation time
	ServerID  *int64        `json:"server_id"`            // Assigned once the creating mutation is acknowledged
	UserID    *string       `json:"user_id,omitempty"`    // Owner, when known
	Title     string        `json:"title"`                // Display title
	Status    WorkoutStatus `json:"status"`               // draft | completed
	CreatedAt int64         `json:"created_at"`           // Epoch milliseconds
	UpdatedAt int64         `json:"updated_at"`           // Epoch milliseconds
	DeletedAt *int64        `json:"deleted_at,omitempty"` // Soft-delete marker
}

// WorkoutExercise is an exercise chosen within a workout
type WorkoutExercise struct {
	ID          int64  `json:"id"`
	ClientID    string `json:"client_id"`
	ServerID    *int64 `json:"server_id"`
	WorkoutID   int64  `json:"workout_id"`
	ExerciseID  string `json:"exercise_id"`  // Catalog identifier
	OrderIndex  int    `json:"order_index"`  // Zero-based position, gaps tolerated
	PlannedSets *int   `json:"planned_sets"` // Optional target count
	DeletedAt   *int64 `json:"deleted_at,omitempty"`
}

// WorkoutSet is one logged (or planned) set
type WorkoutSet struct {
	ID                int64    `json:"id"`
	ClientID          string   `json:"client_id"`
	ServerID          *int64   `json:"server_id"`
	WorkoutExerciseID int64    `json:"workout_exercise_id"`
	Reps              int      `json:"reps"`
	Weight            *float64 `json:"weight"`  // Kilograms
	RPE               *float64 `json:"rpe"`     // 0-10 perceived exertion
	DoneAt            *int64   `json:"done_at"` // nil means planned, not performed
	DeletedAt         *int64   `json:"deleted_at,omitempty"`
}

// MutationRecord is one row of the mutation queue. Content (action, payload,
// created_at) never changes after insertion; only status, attempts and
// last_error do.
type MutationRecord struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Status    MutationStatus  `json:"status"`
	Attempts  int             `json:"attempts"`
	CreatedAt int64           `json:"created_at"`
	LastError *string         `json:"last_error"`
}

// UserProfile is the locally cached profile of the signed-in user
type UserProfile struct {
	ID                   string `json:"id"`
	Username             string `json:"username"`
	ConsentToPublicShare bool   `json:"consent_to_public_share"`
	CreatedAt            int64  `json:"created_at"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (w Workout) clone() Workout {
	w.ServerID = clonePtr(w.ServerID)
	w.UserID = clonePtr(w.UserID)
	w.DeletedAt = clonePtr(w.DeletedAt)
	return w
}

func (e WorkoutExercise) clone() WorkoutExercise {
	e.ServerID = clonePtr(e.ServerID)
	e.PlannedSets = clonePtr(e.PlannedSets)
	e.DeletedAt = clonePtr(e.DeletedAt)
	return e
}

func (s WorkoutSet) clone() WorkoutSet {
	s.ServerID = clonePtr(s.ServerID)
	s.Weight = clonePtr(s.Weight)
	s.RPE = clonePtr(s.RPE)
	s.DoneAt = clonePtr(s.DoneAt)
	s.DeletedAt = clonePtr(s.DeletedAt)
	return s
}

func (m MutationRecord) clone() MutationRecord {
	if m.Payload != nil {
		m.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	m.LastError = clonePtr(m.LastError)
	return m
}
