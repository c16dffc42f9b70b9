// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is the volatile LocalStore. It keeps the same contract as
// SQLiteStore but loses everything when the process exits.
type MemoryStore struct {
	*memOps
	mu    sync.Mutex
	state *memState
}

type memState struct {
	workouts  map[int64]Workout
	exercises map[int64]WorkoutExercise
	sets      map[int64]WorkoutSet
	mutations map[int64]MutationRecord
	lastPull  int64
	profile   *UserProfile

	nextWorkoutID  int64
	nextExerciseID int64
	nextSetID      int64
	nextMutationID int64
}

// NewMemoryStore returns an empty volatile store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		state: &memState{
			workouts:  make(map[int64]Workout),
			exercises: make(map[int64]WorkoutExercise),
			sets:      make(map[int64]WorkoutSet),
			mutations: make(map[int64]MutationRecord),
		},
	}
	s.memOps = &memOps{store: s}
	return s
}

func (st *memState) clone() *memState {
	c := *st
	c.workouts = make(map[int64]Workout, len(st.workouts))
	for id, w := range st.workouts {
		c.workouts[id] = w.clone()
	}
	c.exercises = make(map[int64]WorkoutExercise, len(st.exercises))
	for id, e := range st.exercises {
		c.exercises[id] = e.clone()
	}
	c.sets = make(map[int64]WorkoutSet, len(st.sets))
	for id, s := range st.sets {
		c.sets[id] = s.clone()
	}
	c.mutations = make(map[int64]MutationRecord, len(st.mutations))
	for id, m := range st.mutations {
		c.mutations[id] = m.clone()
	}
	c.profile = clonePtr(st.profile)
	return &c
}

// Kind reports KindVolatile
func (s *MemoryStore) Kind() Kind { return KindVolatile }

// Close is a no-op; the data simply goes away with the store
func (s *MemoryStore) Close() error { return nil }

// Update runs fn against a private copy of the state and publishes the copy
// only when fn succeeds. fn must only use the Ops it is given.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Ops) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(&memOps{st: draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

// memOps implements Ops either directly on the store (locking per call) or
// on a transaction-local state owned by Update.
type memOps struct {
	store *MemoryStore
	st    *memState
}

func (o *memOps) begin() (*memState, func()) {
	if o.store == nil {
		return o.st, func() {}
	}
	o.store.mu.Lock()
	return o.store.state, o.store.mu.Unlock
}

// ---- workouts ----

func (o *memOps) CreateWorkout(_ context.Context, w Workout) (Workout, error) {
	st, done := o.begin()
	defer done()
	st.nextWorkoutID++
	w.ID = st.nextWorkoutID
	w = w.clone()
	st.workouts[w.ID] = w
	return w.clone(), nil
}

func (o *memOps) findWorkout(st *memState, match func(Workout) bool, key any) (Workout, error) {
	for _, id := range slices.Sorted(maps.Keys(st.workouts)) {
		if w := st.workouts[id]; match(w) {
			return w.clone(), nil
		}
	}
	return Workout{}, notFound("workout", key)
}

func (o *memOps) GetWorkout(_ context.Context, id int64) (Workout, error) {
	st, done := o.begin()
	defer done()
	w, ok := st.workouts[id]
	if !ok {
		return Workout{}, notFound("workout", id)
	}
	return w.clone(), nil
}

func (o *memOps) GetWorkoutByClientID(_ context.Context, clientID string) (Workout, error) {
	st, done := o.begin()
	defer done()
	return o.findWorkout(st, func(w Workout) bool { return w.ClientID == clientID }, clientID)
}

func (o *memOps) GetWorkoutByServerID(_ context.Context, serverID int64) (Workout, error) {
	st, done := o.begin()
	defer done()
	return o.findWorkout(st, func(w Workout) bool { return w.ServerID != nil && *w.ServerID == serverID }, serverID)
}

func (o *memOps) ListWorkouts(_ context.Context) ([]Workout, error) {
	st, done := o.begin()
	defer done()
	var workouts []Workout
	for _, w := range st.workouts {
		if w.DeletedAt == nil {
			workouts = append(workouts, w.clone())
		}
	}
	slices.SortFunc(workouts, func(a, b Workout) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return workouts, nil
}

func (o *memOps) UpdateWorkout(_ context.Context, w Workout) error {
	st, done := o.begin()
	defer done()
	cur, ok := st.workouts[w.ID]
	if !ok {
		return notFound("workout", w.ID)
	}
	cur.Title = w.Title
	cur.Status = w.Status
	cur.UserID = clonePtr(w.UserID)
	cur.UpdatedAt = w.UpdatedAt
	st.workouts[w.ID] = cur
	return nil
}

func (o *memOps) SoftDeleteWorkout(_ context.Context, id int64, at int64) error {
	st, done := o.begin()
	defer done()
	cur, ok := st.workouts[id]
	if !ok {
		return notFound("workout", id)
	}
	cur.DeletedAt = &at
	cur.UpdatedAt = at
	st.workouts[id] = cur
	return nil
}

func (o *memOps) PurgeWorkout(_ context.Context, id int64) error {
	st, done := o.begin()
	defer done()
	if _, ok := st.workouts[id]; !ok {
		return notFound("workout", id)
	}
	for eid, e := range st.exercises {
		if e.WorkoutID == id {
			purgeExerciseLocked(st, eid)
		}
	}
	delete(st.workouts, id)
	return nil
}

func (o *memOps) SetWorkoutServerID(_ context.Context, clientID string, serverID int64) (bool, error) {
	st, done := o.begin()
	defer done()
	updated := false
	for id, w := range st.workouts {
		if w.ClientID == clientID {
			w.ServerID = &serverID
			st.workouts[id] = w
			updated = true
		}
	}
	return updated, nil
}

// ---- workout exercises ----

func (o *memOps) AddExercise(_ context.Context, e WorkoutExercise) (WorkoutExercise, error) {
	st, done := o.begin()
	defer done()
	if _, ok := st.workouts[e.WorkoutID]; !ok {
		return WorkoutExercise{}, fmt.Errorf("failed to insert workout exercise: %w", notFound("workout", e.WorkoutID))
	}
	st.nextExerciseID++
	e.ID = st.nextExerciseID
	e = e.clone()
	st.exercises[e.ID] = e
	return e.clone(), nil
}

func (o *memOps) findExercise(st *memState, match func(WorkoutExercise) bool, key any) (WorkoutExercise, error) {
	for _, id := range slices.Sorted(maps.Keys(st.exercises)) {
		if e := st.exercises[id]; match(e) {
			return e.clone(), nil
		}
	}
	return WorkoutExercise{}, notFound("workout exercise", key)
}

func (o *memOps) GetExercise(_ context.Context, id int64) (WorkoutExercise, error) {
	st, done := o.begin()
	defer done()
	e, ok := st.exercises[id]
	if !ok {
		return WorkoutExercise{}, notFound("workout exercise", id)
	}
	return e.clone(), nil
}

func (o *memOps) GetExerciseByClientID(_ context.Context, clientID string) (WorkoutExercise, error) {
	st, done := o.begin()
	defer done()
	return o.findExercise(st, func(e WorkoutExercise) bool { return e.ClientID == clientID }, clientID)
}

func (o *memOps) GetExerciseByServerID(_ context.Context, serverID int64) (WorkoutExercise, error) {
	st, done := o.begin()
	defer done()
	return o.findExercise(st, func(e WorkoutExercise) bool { return e.ServerID != nil && *e.ServerID == serverID }, serverID)
}

func (o *memOps) ListExercises(_ context.Context, workoutID int64) ([]WorkoutExercise, error) {
	st, done := o.begin()
	defer done()
	var exercises []WorkoutExercise
	for _, e := range st.exercises {
		if e.WorkoutID == workoutID && e.DeletedAt == nil {
			exercises = append(exercises, e.clone())
		}
	}
	slices.SortFunc(exercises, func(a, b WorkoutExercise) int {
		if c := cmp.Compare(a.OrderIndex, b.OrderIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return exercises, nil
}

func (o *memOps) UpdateExercise(_ context.Context, e WorkoutExercise) error {
	st, done := o.begin()
	defer done()
	cur, ok := st.exercises[e.ID]
	if !ok {
		return notFound("workout exercise", e.ID)
	}
	cur.ExerciseID = e.ExerciseID
	cur.OrderIndex = e.OrderIndex
	cur.PlannedSets = clonePtr(e.PlannedSets)
	st.exercises[e.ID] = cur
	return nil
}

func (o *memOps) SoftDeleteExercise(_ context.Context, id int64, at int64) error {
	st, done := o.begin()
	defer done()
	cur, ok := st.exercises[id]
	if !ok {
		return notFound("workout exercise", id)
	}
	cur.DeletedAt = &at
	st.exercises[id] = cur
	return nil
}

func purgeExerciseLocked(st *memState, id int64) {
	for sid, s := range st.sets {
		if s.WorkoutExerciseID == id {
			delete(st.sets, sid)
		}
	}
	delete(st.exercises, id)
}

func (o *memOps) PurgeExercise(_ context.Context, id int64) error {
	st, done := o.begin()
	defer done()
	if _, ok := st.exercises[id]; !ok {
		return notFound("workout exercise", id)
	}
	purgeExerciseLocked(st, id)
	return nil
}

func (o *memOps) SetExerciseServerID(_ context.Context, clientID string, serverID int64) (bool, error) {
	st, done := o.begin()
	defer done()
	updated := false
	for id, e := range st.exercises {
		if e.ClientID == clientID {
			e.ServerID = &serverID
			st.exercises[id] = e
			updated = true
		}
	}
	return updated, nil
}

// ---- workout sets ----

func (o *memOps) AddSet(_ context.Context, s WorkoutSet) (WorkoutSet, error) {
	st, done := o.begin()
	defer done()
	if _, ok := st.exercises[s.WorkoutExerciseID]; !ok {
		return WorkoutSet{}, fmt.Errorf("failed to insert workout set: %w", notFound("workout exercise", s.WorkoutExerciseID))
	}
	st.nextSetID++
	s.ID = st.nextSetID
	s = s.clone()
	st.sets[s.ID] = s
	return s.clone(), nil
}

func (o *memOps) findSet(st *memState, match func(WorkoutSet) bool, key any) (WorkoutSet, error) {
	for _, id := range slices.Sorted(maps.Keys(st.sets)) {
		if s := st.sets[id]; match(s) {
			return s.clone(), nil
		}
	}
	return WorkoutSet{}, notFound("workout set", key)
}

func (o *memOps) GetSet(_ context.Context, id int64) (WorkoutSet, error) {
	st, done := o.begin()
	defer done()
	s, ok := st.sets[id]
	if !ok {
		return WorkoutSet{}, notFound("workout set", id)
	}
	return s.clone(), nil
}

func (o *memOps) GetSetByClientID(_ context.Context, clientID string) (WorkoutSet, error) {
	st, done := o.begin()
	defer done()
	return o.findSet(st, func(s WorkoutSet) bool { return s.ClientID == clientID }, clientID)
}

func (o *memOps) GetSetByServerID(_ context.Context, serverID int64) (WorkoutSet, error) {
	st, done := o.begin()
	defer done()
	return o.findSet(st, func(s WorkoutSet) bool { return s.ServerID != nil && *s.ServerID == serverID }, serverID)
}

func (o *memOps) ListSets(_ context.Context, exerciseID int64) ([]WorkoutSet, error) {
	st, done := o.begin()
	defer done()
	var sets []WorkoutSet
	for _, s := range st.sets {
		if s.WorkoutExerciseID == exerciseID && s.DeletedAt == nil {
			sets = append(sets, s.clone())
		}
	}
	slices.SortFunc(sets, func(a, b WorkoutSet) int { return cmp.Compare(a.ID, b.ID) })
	return sets, nil
}

func (o *memOps) UpdateSet(_ context.Context, s WorkoutSet) error {
	st, done := o.begin()
	defer done()
	cur, ok := st.sets[s.ID]
	if !ok {
		return notFound("workout set", s.ID)
	}
	cur.Reps = s.Reps
	cur.Weight = clonePtr(s.Weight)
	cur.RPE = clonePtr(s.RPE)
	cur.DoneAt = clonePtr(s.DoneAt)
	st.sets[s.ID] = cur
	return nil
}

func (o *memOps) SoftDeleteSet(_ context.Context, id int64, at int64) error {
	st, done := o.begin()
	defer done()
	cur, ok := st.sets[id]
	if !ok {
		return notFound("workout set", id)
	}
	cur.DeletedAt = &at
	st.sets[id] = cur
	return nil
}

func (o *memOps) PurgeSet(_ context.Context, id int64) error {
	st, done := o.begin()
	defer done()
	if _, ok := st.sets[id]; !ok {
		return notFound("workout set", id)
	}
	delete(st.sets, id)
	return nil
}

func (o *memOps) SetSetServerID(_ context.Context, clientID string, serverID int64) (bool, error) {
	st, done := o.begin()
	defer done()
	updated := false
	for id, s := range st.sets {
		if s.ClientID == clientID {
			s.ServerID = &serverID
			st.sets[id] = s
			updated = true
		}
	}
	return updated, nil
}

// ---- mutation queue ----

func (o *memOps) EnqueueMutation(_ context.Context, action string, payload json.RawMessage, createdAt int64) (int64, error) {
	if action == "" {
		return 0, fmt.Errorf("failed to enqueue mutation: empty action")
	}
	st, done := o.begin()
	defer done()
	st.nextMutationID++
	m := MutationRecord{
		ID:        st.nextMutationID,
		Action:    action,
		Payload:   payload,
		Status:    MutationPending,
		CreatedAt: createdAt,
	}
	st.mutations[m.ID] = m.clone()
	return m.ID, nil
}

func (o *memOps) CountPendingMutations(_ context.Context) (int, error) {
	st, done := o.begin()
	defer done()
	n := 0
	for _, m := range st.mutations {
		if m.Status != MutationCompleted {
			n++
		}
	}
	return n, nil
}

func (o *memOps) listMutations(st *memState, pendingOnly bool, limit int) []MutationRecord {
	var records []MutationRecord
	for _, id := range slices.Sorted(maps.Keys(st.mutations)) {
		m := st.mutations[id]
		if pendingOnly && m.Status == MutationCompleted {
			continue
		}
		records = append(records, m.clone())
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records
}

func (o *memOps) ListPendingMutations(_ context.Context, limit int) ([]MutationRecord, error) {
	st, done := o.begin()
	defer done()
	return o.listMutations(st, true, limit), nil
}

func (o *memOps) ListMutations(_ context.Context, limit int) ([]MutationRecord, error) {
	st, done := o.begin()
	defer done()
	return o.listMutations(st, false, limit), nil
}

func (o *memOps) GetMutation(_ context.Context, id int64) (MutationRecord, error) {
	st, done := o.begin()
	defer done()
	m, ok := st.mutations[id]
	if !ok {
		return MutationRecord{}, notFound("mutation", id)
	}
	return m.clone(), nil
}

func (o *memOps) MarkMutationCompleted(_ context.Context, id int64) error {
	st, done := o.begin()
	defer done()
	m, ok := st.mutations[id]
	if !ok {
		return notFound("mutation", id)
	}
	m.Status = MutationCompleted
	m.LastError = nil
	st.mutations[id] = m
	return nil
}

func (o *memOps) MarkMutationFailed(_ context.Context, id int64, message string) error {
	st, done := o.begin()
	defer done()
	m, ok := st.mutations[id]
	if !ok {
		return notFound("mutation", id)
	}
	m.Status = MutationFailed
	m.Attempts++
	m.LastError = &message
	st.mutations[id] = m
	return nil
}

func (o *memOps) RemoveMutation(_ context.Context, id int64) error {
	st, done := o.begin()
	defer done()
	if _, ok := st.mutations[id]; !ok {
		return notFound("mutation", id)
	}
	delete(st.mutations, id)
	return nil
}

// ---- sync state ----

func (o *memOps) LastPullTimestamp(_ context.Context) (int64, error) {
	st, done := o.begin()
	defer done()
	return st.lastPull, nil
}

func (o *memOps) SetLastPullTimestamp(_ context.Context, ts int64) error {
	if ts < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, ts)
	}
	st, done := o.begin()
	defer done()
	st.lastPull = ts
	return nil
}

// ---- user profile ----

func (o *memOps) UserProfile(_ context.Context) (*UserProfile, error) {
	st, done := o.begin()
	defer done()
	return clonePtr(st.profile), nil
}

func (o *memOps) SaveUserProfile(_ context.Context, p UserProfile) error {
	st, done := o.begin()
	defer done()
	st.profile = &p
	return nil
}
