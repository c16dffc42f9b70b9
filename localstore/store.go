// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package localstore provides the local persistent store for workouts,
// exercises, sets, the mutation queue and the sync checkpoint.
//
// Two backends satisfy the same LocalStore contract: a durable SQLite store
// and a volatile in-process store. Open selects one of them once at startup.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// ErrNotFound is returned when a row addressed by id does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidTimestamp rejects checkpoints that cannot be a server time
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Kind identifies the backend behind a LocalStore
type Kind string

const (
	KindDurable  Kind = "durable"
	KindVolatile Kind = "volatile"
)

// Ops is the row-level API. Both a LocalStore and a transaction opened with
// LocalStore.Update satisfy it.
type Ops interface {
	CreateWorkout(ctx context.Context, w Workout) (Workout, error)
	GetWorkout(ctx context.Context, id int64) (Workout, error)
	GetWorkoutByClientID(ctx context.Context, clientID string) (Workout, error)
	GetWorkoutByServerID(ctx context.Context, serverID int64) (Workout, error)
	ListWorkouts(ctx context.Context) ([]Workout, error)
	UpdateWorkout(ctx context.Context, w Workout) error
	SoftDeleteWorkout(ctx context.Context, id int64, at int64) error
	PurgeWorkout(ctx context.Context, id int64) error
	SetWorkoutServerID(ctx context.Context, clientID string, serverID int64) (bool, error)

	AddExercise(ctx context.Context, e WorkoutExercise) (WorkoutExercise, error)
	GetExercise(ctx context.Context, id int64) (WorkoutExercise, error)
	GetExerciseByClientID(ctx context.Context, clientID string) (WorkoutExercise, error)
	GetExerciseByServerID(ctx context.Context, serverID int64) (WorkoutExercise, error)
	ListExercises(ctx context.Context, workoutID int64) ([]WorkoutExercise, error)
	UpdateExercise(ctx context.Context, e WorkoutExercise) error
	SoftDeleteExercise(ctx context.Context, id int64, at int64) error
	PurgeExercise(ctx context.Context, id int64) error
	SetExerciseServerID(ctx context.Context, clientID string, serverID int64) (bool, error)

	AddSet(ctx context.Context, s WorkoutSet) (WorkoutSet, error)
	GetSet(ctx context.Context, id int64) (WorkoutSet, error)
	GetSetByClientID(ctx context.Context, clientID string) (WorkoutSet, error)
	GetSetByServerID(ctx context.Context, serverID int64) (WorkoutSet, error)
	ListSets(ctx context.Context, exerciseID int64) ([]WorkoutSet, error)
	UpdateSet(ctx context.Context, s WorkoutSet) error
	SoftDeleteSet(ctx context.Context, id int64, at int64) error
	PurgeSet(ctx context.Context, id int64) error
	SetSetServerID(ctx context.Context, clientID string, serverID int64) (bool, error)

	EnqueueMutation(ctx context.Context, action string, payload json.RawMessage, createdAt int64) (int64, error)
	CountPendingMutations(ctx context.Context) (int, error)
	ListPendingMutations(ctx context.Context, limit int) ([]MutationRecord, error)
	ListMutations(ctx context.Context, limit int) ([]MutationRecord, error)
	GetMutation(ctx context.Context, id int64) (MutationRecord, error)
	MarkMutationCompleted(ctx context.Context, id int64) error
	MarkMutationFailed(ctx context.Context, id int64, message string) error
	RemoveMutation(ctx context.Context, id int64) error

	LastPullTimestamp(ctx context.Context) (int64, error)
	SetLastPullTimestamp(ctx context.Context, ts int64) error

	UserProfile(ctx context.Context) (*UserProfile, error)
	SaveUserProfile(ctx context.Context, p UserProfile) error
}

// LocalStore is the capability interface implemented by the durable and the
// volatile backends. Writers are serialized: at most one Update callback runs
// at a time.
type LocalStore interface {
	Ops
	// Update runs fn inside a transaction. If fn returns an error nothing it
	// wrote is kept.
	Update(ctx context.Context, fn func(tx Ops) error) error
	Kind() Kind
	Close() error
}

// Options controls backend selection in Open
type Options struct {
	Path     string // SQLite file path; empty selects the volatile store
	Volatile bool   // Force the volatile store
	Logger   *slog.Logger
}

// Open returns the durable store at opts.Path, or the volatile store when no
// path is configured or the storage engine is unavailable.
func Open(ctx context.Context, opts Options) (LocalStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Volatile || opts.Path == "" {
		logger.Info("Using volatile local store")
		return NewMemoryStore(), nil
	}

	store, err := OpenSQLite(ctx, opts.Path)
	if err != nil {
		logger.Warn("SQLite store unavailable, falling back to volatile store",
			"path", opts.Path, "error", err)
		return NewMemoryStore(), nil
	}
	return store, nil
}

const lastPullKey = "last_pull_timestamp"

var (
	_ LocalStore = (*SQLiteStore)(nil)
	_ LocalStore = (*MemoryStore)(nil)
)
