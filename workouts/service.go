// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package workouts is the local domain API the application uses to read and
// change workouts. Every change is written to the local store together with
// the mutation that will replay it on the server.
package workouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gorillax/workoutsync/connectivity"
	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/mutation"
	"github.com/gorillax/workoutsync/syncapi"
)

var (
	// ErrConsentRequired is returned when sharing without public-share consent
	ErrConsentRequired = errors.New("consent to public share required")
	// ErrInvalidInput rejects arguments that violate a domain rule
	ErrInvalidInput = errors.New("invalid input")
	// ErrWorkoutNotCompleted is returned by the server for drafts
	ErrWorkoutNotCompleted = errors.New("workout not completed")
	// ErrNotFound is returned for missing or deleted rows
	ErrNotFound = localstore.ErrNotFound
)

// DefaultTitle names drafts created without a title
const DefaultTitle = "New workout"

// Notifier is told that new mutations are waiting
type Notifier interface {
	Trigger()
}

// Sharer publishes a synced workout
type Sharer interface {
	ShareWorkout(ctx context.Context, workoutServerID int64, userID string) (*syncapi.ShareResponse, error)
}

// ProfileSource returns the signed-in user's profile, or nil when unknown
type ProfileSource interface {
	UserProfile(ctx context.Context) (*localstore.UserProfile, error)
}

// Options configures a Service. Every field is optional.
type Options struct {
	Sharer   Sharer
	Profiles ProfileSource // Defaults to the store
	Notifier Notifier
	Clock    func() time.Time
	Logger   *slog.Logger
	NewID    func() string // Client id generator, defaults to UUIDv4
}

// Service is the workouts façade
type Service struct {
	store    localstore.LocalStore
	conn     connectivity.Source
	sharer   Sharer
	profiles ProfileSource
	notifier Notifier
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// WorkoutWithRelations is a workout joined with its live exercises and sets
type WorkoutWithRelations struct {
	Workout   localstore.Workout           `json:"workout"`
	Exercises []localstore.WorkoutExercise `json:"exercises"`
	Sets      []localstore.WorkoutSet      `json:"sets"`
}

// SetInput carries the editable fields of a set
type SetInput struct {
	Reps   int
	Weight *float64
	RPE    *float64
	DoneAt *int64
}

// ShareResult reports the outcome of ShareWorkout. Exactly one of Queued
// and Share is meaningful.
type ShareResult struct {
	Queued     bool
	MutationID int64 // Queue id when Queued
	ShareID    string
	Share      *syncapi.ShareResponse
}

// New creates a Service over store. A nil conn is treated as always online.
func New(store localstore.LocalStore, conn connectivity.Source, opts Options) *Service {
	s := &Service{
		store:    store,
		conn:     conn,
		sharer:   opts.Sharer,
		profiles: opts.Profiles,
		notifier: opts.Notifier,
		now:      opts.Clock,
		newID:    opts.NewID,
		logger:   opts.Logger,
	}
	if s.conn == nil {
		s.conn = connectivity.Always{}
	}
	if s.profiles == nil {
		s.profiles = store
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// mutate runs fn in one store transaction with a queue bound to it, then
// nudges the notifier when online.
func (s *Service) mutate(ctx context.Context, fn func(tx localstore.Ops, q *mutation.Queue) error) error {
	err := s.store.Update(ctx, func(tx localstore.Ops) error {
		return fn(tx, mutation.NewQueue(tx, s.now))
	})
	if err != nil {
		return err
	}
	if s.notifier != nil && s.conn.IsOnline() {
		s.notifier.Trigger()
	}
	return nil
}

// CreateDraft creates a draft workout and queues create-workout
func (s *Service) CreateDraft(ctx context.Context, title string) (localstore.Workout, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := s.now().UnixMilli()
	var created localstore.Workout
	err := s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		w, err := tx.CreateWorkout(ctx, localstore.Workout{
			ClientID:  s.newID(),
			Title:     title,
			Status:    localstore.StatusDraft,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, mutation.CreateWorkout{
			ClientID:  w.ClientID,
			Title:     w.Title,
			Status:    string(w.Status),
			CreatedAt: w.CreatedAt,
			UpdatedAt: w.UpdatedAt,
		}); err != nil {
			return err
		}
		created = w
		return nil
	})
	if err != nil {
		return localstore.Workout{}, fmt.Errorf("failed to create draft: %w", err)
	}
	return created, nil
}

// UpdateTitle renames a workout. Completed workouts may be renamed too.
func (s *Service) UpdateTitle(ctx context.Context, workoutID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidInput)
	}
	return s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		w, err := liveWorkout(ctx, tx, workoutID)
		if err != nil {
			return err
		}
		w.Title = title
		w.UpdatedAt = s.now().UnixMilli()
		if err := tx.UpdateWorkout(ctx, w); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.UpdateWorkoutTitle{WorkoutID: w.ID, ClientID: w.ClientID, Title: title})
		return err
	})
}

// CompleteWorkout moves a workout to the completed status
func (s *Service) CompleteWorkout(ctx context.Context, workoutID int64) error {
	return s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		w, err := liveWorkout(ctx, tx, workoutID)
		if err != nil {
			return err
		}
		w.Status = localstore.StatusCompleted
		w.UpdatedAt = s.now().UnixMilli()
		if err := tx.UpdateWorkout(ctx, w); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.CompleteWorkout{
			WorkoutID: w.ID,
			ClientID:  w.ClientID,
			Status:    string(localstore.StatusCompleted),
		})
		return err
	})
}

// DeleteWorkout removes a workout. A draft the server never saw is purged
// with its queued mutations; anything else is soft-deleted and queued.
func (s *Service) DeleteWorkout(ctx context.Context, workoutID int64) error {
	return s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		w, err := liveWorkout(ctx, tx, workoutID)
		if err != nil {
			return err
		}
		localOnly, err := s.localOnly(ctx, q, w.ServerID, w.ClientID)
		if err != nil {
			return err
		}
		if localOnly {
			ids, err := workoutClientIDs(ctx, tx, w)
			if err != nil {
				return err
			}
			if err := tx.PurgeWorkout(ctx, w.ID); err != nil {
				return err
			}
			return s.dropQueued(ctx, q, ids)
		}
		if err := tx.SoftDeleteWorkout(ctx, w.ID, s.now().UnixMilli()); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.DeleteWorkout{WorkoutID: w.ID, ClientID: w.ClientID, ServerID: w.ServerID})
		return err
	})
}

// AddExercise appends exerciseID to a workout, after every live exercise
func (s *Service) AddExercise(ctx context.Context, workoutID int64, exerciseID string, plannedSets *int) (localstore.WorkoutExercise, error) {
	exerciseID = strings.TrimSpace(exerciseID)
	if exerciseID == "" {
		return localstore.WorkoutExercise{}, fmt.Errorf("%w: empty exercise id", ErrInvalidInput)
	}
	if err := validatePlannedSets(plannedSets); err != nil {
		return localstore.WorkoutExercise{}, err
	}
	var added localstore.WorkoutExercise
	err := s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		w, err := liveWorkout(ctx, tx, workoutID)
		if err != nil {
			return err
		}
		existing, err := tx.ListExercises(ctx, w.ID)
		if err != nil {
			return err
		}
		order := 0
		for _, e := range existing {
			if e.OrderIndex >= order {
				order = e.OrderIndex + 1
			}
		}
		e, err := tx.AddExercise(ctx, localstore.WorkoutExercise{
			ClientID:    s.newID(),
			WorkoutID:   w.ID,
			ExerciseID:  exerciseID,
			OrderIndex:  order,
			PlannedSets: plannedSets,
		})
		if err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, mutation.AddExercise{
			WorkoutID:       w.ID,
			WorkoutClientID: w.ClientID,
			ExerciseID:      e.ExerciseID,
			OrderIndex:      e.OrderIndex,
			ClientID:        e.ClientID,
			PlannedSets:     e.PlannedSets,
		}); err != nil {
			return err
		}
		added = e
		return nil
	})
	if err != nil {
		return localstore.WorkoutExercise{}, fmt.Errorf("failed to add exercise: %w", err)
	}
	return added, nil
}

// UpdateExercisePlan changes the planned set count. nil clears it.
func (s *Service) UpdateExercisePlan(ctx context.Context, workoutExerciseID int64, plannedSets *int) error {
	if err := validatePlannedSets(plannedSets); err != nil {
		return err
	}
	return s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		e, err := liveExercise(ctx, tx, workoutExerciseID)
		if err != nil {
			return err
		}
		e.PlannedSets = plannedSets
		if err := tx.UpdateExercise(ctx, e); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.UpdateExercisePlan{
			WorkoutExerciseID: e.ID,
			ClientID:          e.ClientID,
			PlannedSets:       plannedSets,
		})
		return err
	})
}

// RemoveExercise removes an exercise and its sets from a workout
func (s *Service) RemoveExercise(ctx context.Context, workoutExerciseID int64) error {
	return s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		e, err := liveExercise(ctx, tx, workoutExerciseID)
		if err != nil {
			return err
		}
		localOnly, err := s.localOnly(ctx, q, e.ServerID, e.ClientID)
		if err != nil {
			return err
		}
		if localOnly {
			ids, err := exerciseClientIDs(ctx, tx, e)
			if err != nil {
				return err
			}
			if err := tx.PurgeExercise(ctx, e.ID); err != nil {
				return err
			}
			return s.dropQueued(ctx, q, ids)
		}
		if err := tx.SoftDeleteExercise(ctx, e.ID, s.now().UnixMilli()); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.RemoveExercise{WorkoutExerciseID: e.ID, ClientID: e.ClientID, ServerID: e.ServerID})
		return err
	})
}

// AddSet logs a set under an exercise
func (s *Service) AddSet(ctx context.Context, workoutExerciseID int64, in SetInput) (localstore.WorkoutSet, error) {
	if err := in.validate(); err != nil {
		return localstore.WorkoutSet{}, err
	}
	var added localstore.WorkoutSet
	err := s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		e, err := liveExercise(ctx, tx, workoutExerciseID)
		if err != nil {
			return err
		}
		set, err := tx.AddSet(ctx, localstore.WorkoutSet{
			ClientID:          s.newID(),
			WorkoutExerciseID: e.ID,
			Reps:              in.Reps,
			Weight:            in.Weight,
			RPE:               in.RPE,
			DoneAt:            in.DoneAt,
		})
		if err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, mutation.AddSet{
			WorkoutExerciseID:       e.ID,
			WorkoutExerciseClientID: e.ClientID,
			ClientID:                set.ClientID,
			Payload:                 in.fields(),
		}); err != nil {
			return err
		}
		added = set
		return nil
	})
	if err != nil {
		return localstore.WorkoutSet{}, fmt.Errorf("failed to add set: %w", err)
	}
	return added, nil
}

// UpdateSet replaces every editable field of a set
func (s *Service) UpdateSet(ctx context.Context, setID int64, in SetInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		set, err := liveSet(ctx, tx, setID)
		if err != nil {
			return err
		}
		set.Reps = in.Reps
		set.Weight = in.Weight
		set.RPE = in.RPE
		set.DoneAt = in.DoneAt
		if err := tx.UpdateSet(ctx, set); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.UpdateSet{WorkoutSetID: set.ID, ClientID: set.ClientID, Payload: in.fields()})
		return err
	})
}

// RemoveSet removes one set
func (s *Service) RemoveSet(ctx context.Context, setID int64) error {
	return s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
		set, err := liveSet(ctx, tx, setID)
		if err != nil {
			return err
		}
		localOnly, err := s.localOnly(ctx, q, set.ServerID, set.ClientID)
		if err != nil {
			return err
		}
		if localOnly {
			if err := tx.PurgeSet(ctx, set.ID); err != nil {
				return err
			}
			return s.dropQueued(ctx, q, []string{set.ClientID})
		}
		if err := tx.SoftDeleteSet(ctx, set.ID, s.now().UnixMilli()); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.RemoveSet{WorkoutSetID: set.ID, ClientID: set.ClientID, ServerID: set.ServerID})
		return err
	})
}

// ShareWorkout publishes a workout for the signed-in user. Without consent it
// fails with ErrConsentRequired before doing anything else. When the share
// cannot be sent right away it is queued and the result reports Queued.
func (s *Service) ShareWorkout(ctx context.Context, workoutID int64) (ShareResult, error) {
	profile, err := s.profiles.UserProfile(ctx)
	if err != nil {
		return ShareResult{}, fmt.Errorf("failed to load user profile: %w", err)
	}
	if profile == nil || !profile.ConsentToPublicShare {
		return ShareResult{}, ErrConsentRequired
	}

	w, err := liveWorkout(ctx, s.store, workoutID)
	if err != nil {
		return ShareResult{}, err
	}

	if w.ServerID == nil || s.sharer == nil || !s.conn.IsOnline() {
		var id int64
		err := s.mutate(ctx, func(tx localstore.Ops, q *mutation.Queue) error {
			var err error
			id, err = q.Enqueue(ctx, mutation.ShareWorkout{
				WorkoutID:       w.ID,
				WorkoutClientID: w.ClientID,
				UserID:          profile.ID,
			})
			return err
		})
		if err != nil {
			return ShareResult{}, fmt.Errorf("failed to queue share: %w", err)
		}
		s.logger.Info("Share queued", "workout_id", w.ID, "mutation_id", id)
		return ShareResult{Queued: true, MutationID: id}, nil
	}

	resp, err := s.sharer.ShareWorkout(ctx, *w.ServerID, profile.ID)
	if err != nil {
		var httpErr *syncapi.HTTPError
		if errors.As(err, &httpErr) {
			switch {
			case httpErr.StatusCode == http.StatusForbidden:
				return ShareResult{}, ErrConsentRequired
			case httpErr.Detail == syncapi.DetailWorkoutNotCompleted:
				return ShareResult{}, ErrWorkoutNotCompleted
			case httpErr.StatusCode == http.StatusNotFound:
				return ShareResult{}, ErrNotFound
			}
		}
		return ShareResult{}, fmt.Errorf("failed to share workout: %w", err)
	}
	s.logger.Info("Workout shared", "workout_id", w.ID, "share_id", resp.ShareID)
	return ShareResult{ShareID: resp.ShareID, Share: resp}, nil
}

// List returns every live workout with its exercises and sets
func (s *Service) List(ctx context.Context) ([]WorkoutWithRelations, error) {
	all, err := s.store.ListWorkouts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workouts: %w", err)
	}
	out := make([]WorkoutWithRelations, 0, len(all))
	for _, w := range all {
		full, err := s.withRelations(ctx, w)
		if err != nil {
			return nil, err
		}
		out = append(out, full)
	}
	return out, nil
}

// Get returns one live workout with its exercises and sets
func (s *Service) Get(ctx context.Context, workoutID int64) (WorkoutWithRelations, error) {
	w, err := liveWorkout(ctx, s.store, workoutID)
	if err != nil {
		return WorkoutWithRelations{}, err
	}
	return s.withRelations(ctx, w)
}

// PendingMutations returns the number of mutations not yet acknowledged
func (s *Service) PendingMutations(ctx context.Context) (int, error) {
	return mutation.NewQueue(s.store, s.now).CountPending(ctx)
}

func (s *Service) withRelations(ctx context.Context, w localstore.Workout) (WorkoutWithRelations, error) {
	exercises, err := s.store.ListExercises(ctx, w.ID)
	if err != nil {
		return WorkoutWithRelations{}, fmt.Errorf("failed to list exercises of workout %d: %w", w.ID, err)
	}
	full := WorkoutWithRelations{
		Workout:   w,
		Exercises: exercises,
		Sets:      []localstore.WorkoutSet{},
	}
	for _, e := range exercises {
		sets, err := s.store.ListSets(ctx, e.ID)
		if err != nil {
			return WorkoutWithRelations{}, fmt.Errorf("failed to list sets of exercise %d: %w", e.ID, err)
		}
		full.Sets = append(full.Sets, sets...)
	}
	return full, nil
}

// localOnly reports whether the server has never seen the row: it has no
// server id and its creating mutation is still queued.
func (s *Service) localOnly(ctx context.Context, q *mutation.Queue, serverID *int64, clientID string) (bool, error) {
	if serverID != nil {
		return false, nil
	}
	pending, err := q.ListPending(ctx, 0)
	if err != nil {
		return false, err
	}
	for _, m := range pending {
		if m.Payload != nil && mutation.CreatedClientID(m.Payload) == clientID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) dropQueued(ctx context.Context, q *mutation.Queue, clientIDs []string) error {
	n, err := q.RemoveReferencing(ctx, clientIDs)
	if err != nil {
		return err
	}
	s.logger.Info("Purged local-only rows", "rows", len(clientIDs), "mutations_removed", n)
	return nil
}

func workoutClientIDs(ctx context.Context, ops localstore.Ops, w localstore.Workout) ([]string, error) {
	ids := []string{w.ClientID}
	exercises, err := ops.ListExercises(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range exercises {
		more, err := exerciseClientIDs(ctx, ops, e)
		if err != nil {
			return nil, err
		}
		ids = append(ids, more...)
	}
	return ids, nil
}

func exerciseClientIDs(ctx context.Context, ops localstore.Ops, e localstore.WorkoutExercise) ([]string, error) {
	ids := []string{e.ClientID}
	sets, err := ops.ListSets(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		ids = append(ids, set.ClientID)
	}
	return ids, nil
}

func liveWorkout(ctx context.Context, ops localstore.Ops, id int64) (localstore.Workout, error) {
	w, err := ops.GetWorkout(ctx, id)
	if err != nil {
		return localstore.Workout{}, err
	}
	if w.DeletedAt != nil {
		return localstore.Workout{}, fmt.Errorf("workout %d: %w", id, ErrNotFound)
	}
	return w, nil
}

func liveExercise(ctx context.Context, ops localstore.Ops, id int64) (localstore.WorkoutExercise, error) {
	e, err := ops.GetExercise(ctx, id)
	if err != nil {
		return localstore.WorkoutExercise{}, err
	}
	if e.DeletedAt != nil {
		return localstore.WorkoutExercise{}, fmt.Errorf("workout exercise %d: %w", id, ErrNotFound)
	}
	if _, err := liveWorkout(ctx, ops, e.WorkoutID); err != nil {
		return localstore.WorkoutExercise{}, err
	}
	return e, nil
}

func liveSet(ctx context.Context, ops localstore.Ops, id int64) (localstore.WorkoutSet, error) {
	set, err := ops.GetSet(ctx, id)
	if err != nil {
		return localstore.WorkoutSet{}, err
	}
	if set.DeletedAt != nil {
		return localstore.WorkoutSet{}, fmt.Errorf("workout set %d: %w", id, ErrNotFound)
	}
	if _, err := liveExercise(ctx, ops, set.WorkoutExerciseID); err != nil {
		return localstore.WorkoutSet{}, err
	}
	return set, nil
}

func validatePlannedSets(n *int) error {
	if n != nil && *n < 0 {
		return fmt.Errorf("%w: planned sets must not be negative", ErrInvalidInput)
	}
	return nil
}

func (in SetInput) validate() error {
	if in.Reps < 0 {
		return fmt.Errorf("%w: reps must not be negative", ErrInvalidInput)
	}
	if in.Weight != nil && *in.Weight < 0 {
		return fmt.Errorf("%w: weight must not be negative", ErrInvalidInput)
	}
	if in.RPE != nil && (*in.RPE < 0 || *in.RPE > 10) {
		return fmt.Errorf("%w: rpe must be between 0 and 10", ErrInvalidInput)
	}
	return nil
}

func (in SetInput) fields() mutation.SetFields {
	return mutation.SetFields{Reps: in.Reps, Weight: in.Weight, RPE: in.RPE, DoneAt: in.DoneAt}
}
