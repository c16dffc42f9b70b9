package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gorillax/workoutsync/connectivity"
	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/mutation"
	"github.com/gorillax/workoutsync/syncapi"
)

const serverTime = "2025-03-01T10:00:00Z"

var serverTimeMs = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()

// fakeTransport records calls; by default it acknowledges every mutation and
// returns an empty pull at serverTime.
type fakeTransport struct {
	mu       sync.Mutex
	pushes   [][]syncapi.PushMutation
	pulls    []int64
	nextID   int64
	pushFunc func(batch []syncapi.PushMutation) (*syncapi.PushResponse, error)
	pullFunc func(since int64) (*syncapi.PullResponse, error)
}

func (f *fakeTransport) Push(_ context.Context, batch []syncapi.PushMutation) (*syncapi.PushResponse, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, batch)
	fn := f.pushFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(batch)
	}
	resp := &syncapi.PushResponse{Processed: len(batch), ServerTime: serverTime}
	for _, m := range batch {
		f.mu.Lock()
		f.nextID++
		id := 7000 + f.nextID
		f.mu.Unlock()
		resp.Results = append(resp.Results, syncapi.PushResult{QueueID: m.QueueID, ServerID: &id})
	}
	return resp, nil
}

func (f *fakeTransport) Pull(_ context.Context, since int64) (*syncapi.PullResponse, error) {
	f.mu.Lock()
	f.pulls = append(f.pulls, since)
	fn := f.pullFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(since)
	}
	return &syncapi.PullResponse{ServerTime: serverTime, Events: []syncapi.PullEvent{}}, nil
}

func (f *fakeTransport) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeTransport) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

// countingStore counts write transactions
type countingStore struct {
	localstore.LocalStore
	updates atomic.Int32
}

func (c *countingStore) Update(ctx context.Context, fn func(tx localstore.Ops) error) error {
	c.updates.Add(1)
	return c.LocalStore.Update(ctx, fn)
}

func i64(v int64) *int64 { return &v }

func newHarness(t *testing.T, online bool) (*Orchestrator, localstore.LocalStore, *fakeTransport, *connectivity.Manual) {
	t.Helper()
	store := localstore.NewMemoryStore()
	transport := &fakeTransport{}
	conn := connectivity.NewManual(online)
	cfg := DefaultConfig()
	o := New(store, transport, conn, cfg)
	return o, store, transport, conn
}

// seedSyncedExercise creates a workout and an exercise that already have server ids
func seedSyncedExercise(t *testing.T, ctx context.Context, store localstore.LocalStore) localstore.WorkoutExercise {
	t.Helper()
	w, err := store.CreateWorkout(ctx, localstore.Workout{
		ClientID: "w-1", ServerID: i64(10), Title: "Push", Status: localstore.StatusDraft, CreatedAt: 1, UpdatedAt: 1,
	})
	require.NoError(t, err)
	e, err := store.AddExercise(ctx, localstore.WorkoutExercise{
		ClientID: "e-1", ServerID: i64(20), WorkoutID: w.ID, ExerciseID: "bench-press",
	})
	require.NoError(t, err)
	return e
}

func enqueue(t *testing.T, ctx context.Context, ops localstore.Ops, p mutation.Payload) int64 {
	t.Helper()
	id, err := mutation.NewQueue(ops, nil).Enqueue(ctx, p)
	require.NoError(t, err)
	return id
}

func TestDrainSkipsWhenOffline(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, false)
	enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "w-1", Title: "A"})

	var published []int
	cancel := o.OnPendingChange(func(n int) { published = append(published, n) })
	defer cancel()

	rep := o.Drain(ctx)
	require.Equal(t, SkipOffline, rep.Skipped)
	require.Equal(t, 1, rep.Pending)
	require.Equal(t, 1, o.Pending())
	require.Equal(t, []int{1}, published)
	require.Zero(t, transport.pushCount())
	require.Zero(t, transport.pullCount())

	n, err := store.CountPendingMutations(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAddSetReconciliationScenario(t *testing.T) {
	ctx := context.Background()
	o, store, transport, conn := newHarness(t, false)
	e := seedSyncedExercise(t, ctx, store)

	// Offline: row write plus enqueue
	err := store.Update(ctx, func(tx localstore.Ops) error {
		if _, err := tx.AddSet(ctx, localstore.WorkoutSet{ClientID: "cid-1", WorkoutExerciseID: e.ID, Reps: 8}); err != nil {
			return err
		}
		_, err := mutation.NewQueue(tx, nil).Enqueue(ctx, mutation.AddSet{
			WorkoutExerciseID: e.ID, WorkoutExerciseClientID: "e-1", ClientID: "cid-1",
			Payload: mutation.SetFields{Reps: 8},
		})
		return err
	})
	require.NoError(t, err)
	n, err := store.CountPendingMutations(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	transport.pushFunc = func(batch []syncapi.PushMutation) (*syncapi.PushResponse, error) {
		require.Len(t, batch, 1)
		require.Equal(t, "add-set", batch[0].Action)
		return &syncapi.PushResponse{
			Processed:  1,
			ServerTime: serverTime,
			Results:    []syncapi.PushResult{{QueueID: batch[0].QueueID, ServerID: i64(7001)}},
		}, nil
	}

	conn.SetOnline(true)
	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 1, rep.Pushed)
	require.Equal(t, 1, rep.Acknowledged)
	require.Zero(t, rep.Pending)
	require.Equal(t, 0, o.Pending())
	require.Equal(t, serverTimeMs, rep.Checkpoint)

	set, err := store.GetSetByClientID(ctx, "cid-1")
	require.NoError(t, err)
	require.NotNil(t, set.ServerID)
	require.Equal(t, int64(7001), *set.ServerID)

	all, err := store.ListMutations(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, all)

	ts, err := store.LastPullTimestamp(ctx)
	require.NoError(t, err)
	require.Equal(t, serverTimeMs, ts)
}

func TestDrainPushesEveryMutationOnceInFIFOOrder(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	transport := &fakeTransport{}
	conn := connectivity.NewManual(false)
	o := New(store, transport, conn, &Config{BatchSize: 2})

	var ids []int64
	for _, cid := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: cid, Title: cid}))
	}

	conn.SetOnline(true)
	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 5, rep.Pushed)
	require.Equal(t, 5, rep.Acknowledged)
	require.Zero(t, rep.Pending)

	require.Len(t, transport.pushes, 3)
	var sent []int64
	for _, batch := range transport.pushes {
		require.LessOrEqual(t, len(batch), 2)
		for _, m := range batch {
			sent = append(sent, m.QueueID)
		}
	}
	require.Equal(t, ids, sent)
	require.Equal(t, 1, transport.pullCount())
}

func TestTransportErrorFailsWholeBatchAndSkipsPull(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	require.NoError(t, store.SetLastPullTimestamp(ctx, 1234))

	first := enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "a"})
	second := enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "b"})

	transport.pushFunc = func([]syncapi.PushMutation) (*syncapi.PushResponse, error) {
		return nil, errors.New("connection reset")
	}
	rep := o.Drain(ctx)
	require.Error(t, rep.Err)
	require.Equal(t, 2, rep.Failed)
	require.Equal(t, 2, rep.Pending)
	require.Zero(t, transport.pullCount())

	for _, id := range []int64{first, second} {
		m, err := store.GetMutation(ctx, id)
		require.NoError(t, err)
		require.Equal(t, localstore.MutationFailed, m.Status)
		require.Equal(t, 1, m.Attempts)
		require.Contains(t, *m.LastError, "connection reset")
	}
	ts, err := store.LastPullTimestamp(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1234), ts)

	// Failed mutations are retried on the next pass
	transport.pushFunc = nil
	rep = o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 2, rep.Acknowledged)
	require.Zero(t, rep.Pending)
}

func TestMalformedPushResponseIsTreatedAsTransportError(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	id := enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "a"})

	transport.pushFunc = func([]syncapi.PushMutation) (*syncapi.PushResponse, error) {
		return nil, syncapi.ErrMalformedResponse
	}
	rep := o.Drain(ctx)
	require.ErrorIs(t, rep.Err, syncapi.ErrMalformedResponse)

	m, err := store.GetMutation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, m.Attempts)
}

func TestUnacknowledgedMutationsStayPending(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	a := enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "a"})
	b := enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "b"})
	c := enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "c"})

	transport.pushFunc = func(batch []syncapi.PushMutation) (*syncapi.PushResponse, error) {
		return &syncapi.PushResponse{
			Processed:  1,
			ServerTime: serverTime,
			Results:    []syncapi.PushResult{{QueueID: b, ServerID: i64(99)}},
		}, nil
	}
	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 1, rep.Acknowledged)
	require.Zero(t, rep.Failed)
	require.Equal(t, 2, rep.Pending)
	require.Equal(t, 1, transport.pushCount(), "pushing stops after a partial acknowledgement")
	require.Equal(t, 1, transport.pullCount())

	for _, id := range []int64{a, c} {
		m, err := store.GetMutation(ctx, id)
		require.NoError(t, err)
		require.Equal(t, localstore.MutationPending, m.Status)
		require.Zero(t, m.Attempts)
	}
	_, err := store.GetMutation(ctx, b)
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestAcknowledgementForDeletedRowIsConsumed(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)

	// The creating mutation is queued but its row is gone
	enqueue(t, ctx, store, mutation.AddSet{ClientID: "gone", WorkoutExerciseClientID: "e-x"})

	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 1, rep.Acknowledged)
	require.Zero(t, rep.Pending)
	require.Equal(t, 1, transport.pushCount())
}

func TestReconcilesEachEntityKind(t *testing.T) {
	ctx := context.Background()
	o, store, _, _ := newHarness(t, true)

	err := store.Update(ctx, func(tx localstore.Ops) error {
		q := mutation.NewQueue(tx, nil)
		w, err := tx.CreateWorkout(ctx, localstore.Workout{ClientID: "w", Title: "t", Status: localstore.StatusDraft})
		if err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, mutation.CreateWorkout{ClientID: "w", Title: "t"}); err != nil {
			return err
		}
		e, err := tx.AddExercise(ctx, localstore.WorkoutExercise{ClientID: "e", WorkoutID: w.ID, ExerciseID: "squat"})
		if err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, mutation.AddExercise{WorkoutClientID: "w", ClientID: "e", ExerciseID: "squat"}); err != nil {
			return err
		}
		if _, err := tx.AddSet(ctx, localstore.WorkoutSet{ClientID: "s", WorkoutExerciseID: e.ID, Reps: 5}); err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, mutation.AddSet{WorkoutExerciseClientID: "e", ClientID: "s"}); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, mutation.UpdateWorkoutTitle{ClientID: "w", Title: "renamed"})
		return err
	})
	require.NoError(t, err)

	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 4, rep.Acknowledged)

	w, err := store.GetWorkoutByClientID(ctx, "w")
	require.NoError(t, err)
	require.Equal(t, int64(7001), *w.ServerID)
	e, err := store.GetExerciseByClientID(ctx, "e")
	require.NoError(t, err)
	require.Equal(t, int64(7002), *e.ServerID)
	s, err := store.GetSetByClientID(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, int64(7003), *s.ServerID)
}

func TestIdleDrainWritesNothing(t *testing.T) {
	ctx := context.Background()
	inner := localstore.NewMemoryStore()
	require.NoError(t, inner.SetLastPullTimestamp(ctx, serverTimeMs))
	store := &countingStore{LocalStore: inner}
	transport := &fakeTransport{}
	o := New(store, transport, connectivity.Always{}, nil)

	for range 2 {
		rep := o.Drain(ctx)
		require.NoError(t, rep.Err)
		require.Zero(t, rep.Pushed)
		require.Zero(t, rep.Pulled)
		require.Equal(t, serverTimeMs, rep.Checkpoint)
	}
	require.Zero(t, transport.pushCount())
	require.Equal(t, 2, transport.pullCount())
	require.Zero(t, store.updates.Load())
}

func TestPullAppliesEventsInOrder(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)

	events := []syncapi.PullEvent{
		{ID: 1, Action: EventWorkoutUpsert, Payload: json.RawMessage(`{"server_id":100,"client_id":"rw","title":"Remote","status":"draft","created_at":5,"updated_at":5}`)},
		{ID: 2, Action: EventExerciseUpsert, Payload: json.RawMessage(`{"server_id":200,"client_id":"re","workout_server_id":100,"exercise_id":"deadlift","order_index":0,"planned_sets":3}`)},
		{ID: 3, Action: EventSetUpsert, Payload: json.RawMessage(`{"server_id":300,"client_id":"rs","workout_exercise_server_id":200,"reps":5,"weight":140}`)},
		{ID: 4, Action: EventSetUpsert, Payload: json.RawMessage(`{"server_id":300,"client_id":"rs","workout_exercise_server_id":200,"reps":6,"weight":140}`)},
		{ID: 5, Action: "cheer-received", Payload: json.RawMessage(`{}`)},
		{ID: 6, Action: EventWorkoutUpsert, Payload: json.RawMessage(`{"server_id":100,"title":"Remote renamed","status":"completed","updated_at":9}`)},
	}
	transport.pullFunc = func(since int64) (*syncapi.PullResponse, error) {
		require.Zero(t, since)
		return &syncapi.PullResponse{ServerTime: serverTime, Events: events}, nil
	}

	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 6, rep.Pulled)
	require.Equal(t, 5, rep.Applied)
	require.Equal(t, serverTimeMs, rep.Checkpoint)

	w, err := store.GetWorkoutByServerID(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "rw", w.ClientID)
	require.Equal(t, "Remote renamed", w.Title)
	require.Equal(t, localstore.StatusCompleted, w.Status)

	exercises, err := store.ListExercises(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, exercises, 1)
	sets, err := store.ListSets(ctx, exercises[0].ID)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Equal(t, 6, sets[0].Reps, "later event wins")

	// A delete event soft-deletes the row
	transport.pullFunc = func(since int64) (*syncapi.PullResponse, error) {
		require.Equal(t, serverTimeMs, since)
		return &syncapi.PullResponse{ServerTime: "2025-03-01T10:05:00Z", Events: []syncapi.PullEvent{
			{ID: 7, Action: EventSetDelete, Payload: json.RawMessage(`{"server_id":300}`)},
		}}, nil
	}
	rep = o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 1, rep.Applied)
	sets, err = store.ListSets(ctx, exercises[0].ID)
	require.NoError(t, err)
	require.Empty(t, sets)
}

func TestPullEventAttachesServerIDToLocalRow(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	_, err := store.CreateWorkout(ctx, localstore.Workout{ClientID: "local", Title: "Mine", Status: localstore.StatusDraft})
	require.NoError(t, err)

	transport.pullFunc = func(int64) (*syncapi.PullResponse, error) {
		return &syncapi.PullResponse{ServerTime: serverTime, Events: []syncapi.PullEvent{
			{ID: 1, Action: EventWorkoutUpsert, Payload: json.RawMessage(`{"server_id":55,"client_id":"local","title":"Mine","status":"draft"}`)},
		}}, nil
	}
	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)

	w, err := store.GetWorkoutByClientID(ctx, "local")
	require.NoError(t, err)
	require.Equal(t, int64(55), *w.ServerID)
	workouts, err := store.ListWorkouts(ctx)
	require.NoError(t, err)
	require.Len(t, workouts, 1, "no duplicate row")
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	require.NoError(t, store.SetLastPullTimestamp(ctx, serverTimeMs+60_000))

	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, serverTimeMs+60_000, rep.Checkpoint)

	ts, err := store.LastPullTimestamp(ctx)
	require.NoError(t, err)
	require.Equal(t, serverTimeMs+60_000, ts)
	require.Equal(t, []int64{serverTimeMs + 60_000}, transport.pulls)
}

func TestMalformedPullLeavesCheckpointAndRows(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)

	transport.pullFunc = func(int64) (*syncapi.PullResponse, error) {
		return &syncapi.PullResponse{ServerTime: serverTime, Events: []syncapi.PullEvent{
			{ID: 1, Action: EventWorkoutUpsert, Payload: json.RawMessage(`{"server_id":1,"client_id":"x","title":"ok"}`)},
			{ID: 2, Action: EventSetUpsert, Payload: json.RawMessage(`{"reps":"many"}`)},
		}}, nil
	}
	rep := o.Drain(ctx)
	require.ErrorIs(t, rep.Err, syncapi.ErrMalformedResponse)

	workouts, err := store.ListWorkouts(ctx)
	require.NoError(t, err)
	require.Empty(t, workouts, "partial apply rolled back")
	ts, err := store.LastPullTimestamp(ctx)
	require.NoError(t, err)
	require.Zero(t, ts)

	transport.pullFunc = func(int64) (*syncapi.PullResponse, error) {
		return &syncapi.PullResponse{ServerTime: "garbage"}, nil
	}
	rep = o.Drain(ctx)
	require.ErrorIs(t, rep.Err, syncapi.ErrMalformedResponse)
}

func TestPullErrorDoesNotThrow(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	require.NoError(t, store.SetLastPullTimestamp(ctx, 42))
	transport.pullFunc = func(int64) (*syncapi.PullResponse, error) {
		return nil, &syncapi.HTTPError{StatusCode: 502}
	}
	rep := o.Drain(ctx)
	var httpErr *syncapi.HTTPError
	require.ErrorAs(t, rep.Err, &httpErr)
	require.Equal(t, int64(42), rep.Checkpoint)
}

func TestConcurrentDrainIsSkipped(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "a"})

	entered := make(chan struct{})
	release := make(chan struct{})
	transport.pushFunc = func(batch []syncapi.PushMutation) (*syncapi.PushResponse, error) {
		close(entered)
		<-release
		return &syncapi.PushResponse{ServerTime: serverTime}, nil
	}

	done := make(chan Report, 1)
	go func() { done <- o.Drain(ctx) }()
	<-entered

	rep := o.Drain(ctx)
	require.Equal(t, SkipInFlight, rep.Skipped)
	require.Equal(t, 1, rep.Pending)

	close(release)
	first := <-done
	require.Equal(t, SkipNone, first.Skipped)
	require.Equal(t, 1, transport.pushCount())
}

func TestPauseSwitches(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "a"})

	o.PausePush()
	rep := o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Zero(t, transport.pushCount())
	require.Equal(t, 1, transport.pullCount())
	require.Equal(t, 1, rep.Pending)

	o.ResumePush()
	o.PausePull()
	rep = o.Drain(ctx)
	require.NoError(t, rep.Err)
	require.Equal(t, 1, transport.pushCount())
	require.Equal(t, 1, transport.pullCount())
	require.Zero(t, rep.Pending)
	o.ResumePull()
}

func TestPendingSubscribers(t *testing.T) {
	ctx := context.Background()
	o, store, transport, _ := newHarness(t, true)
	enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "a"})
	enqueue(t, ctx, store, mutation.CreateWorkout{ClientID: "b"})
	transport.pushFunc = func(batch []syncapi.PushMutation) (*syncapi.PushResponse, error) {
		return &syncapi.PushResponse{ServerTime: serverTime, Results: []syncapi.PushResult{{QueueID: batch[0].QueueID}}}, nil
	}

	var seen []int
	cancel := o.OnPendingChange(func(n int) { seen = append(seen, n) })
	o.Drain(ctx)
	cancel()
	o.Drain(ctx)

	require.Equal(t, []int{1}, seen)
	require.Equal(t, 0, o.Pending())
}

func TestTriggerCoalesces(t *testing.T) {
	o, _, _, _ := newHarness(t, true)
	for range 5 {
		o.Trigger()
	}
	require.Len(t, o.trigger, 1)
}

func TestRunDrainsOnMountAndOnReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := localstore.NewMemoryStore()
	transport := &fakeTransport{}
	conn := connectivity.NewManual(true)
	o := New(store, transport, conn, &Config{Interval: time.Hour, BackoffMin: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// Initial pass on start
	require.Eventually(t, func() bool { return transport.pullCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.SetOnline(false)
	enqueue(t, context.Background(), store, mutation.CreateWorkout{ClientID: "offline"})
	conn.SetOnline(true)

	require.Eventually(t, func() bool { return transport.pushCount() == 1 && o.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunRetriesWithBackoffAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := localstore.NewMemoryStore()
	var failures atomic.Int32
	transport := &fakeTransport{}
	transport.pullFunc = func(int64) (*syncapi.PullResponse, error) {
		if failures.Add(1) <= 2 {
			return nil, errors.New("server unavailable")
		}
		return &syncapi.PullResponse{ServerTime: serverTime}, nil
	}
	o := New(store, transport, connectivity.Always{}, &Config{Interval: time.Hour, BackoffMin: 5 * time.Millisecond, BackoffMax: 10 * time.Millisecond})

	go func() { _ = o.Run(ctx) }()

	require.Eventually(t, func() bool {
		ts, err := store.LastPullTimestamp(context.Background())
		return err == nil && ts == serverTimeMs
	}, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, transport.pullCount(), 3)
}
