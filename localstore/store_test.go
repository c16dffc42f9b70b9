package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// backends returns a constructor per LocalStore implementation so every
// contract test runs against both.
func backends() map[string]func(t *testing.T) LocalStore {
	return map[string]func(t *testing.T) LocalStore{
		"sqlite": func(t *testing.T) LocalStore {
			s, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"memory": func(t *testing.T) LocalStore {
			return NewMemoryStore()
		},
	}
}

func seedWorkout(t *testing.T, ctx context.Context, ops Ops) (Workout, WorkoutExercise, WorkoutSet) {
	t.Helper()
	w, err := ops.CreateWorkout(ctx, Workout{
		ClientID: "w-1", Title: "Push day", Status: StatusDraft, CreatedAt: 1000, UpdatedAt: 1000,
	})
	require.NoError(t, err)
	e, err := ops.AddExercise(ctx, WorkoutExercise{
		ClientID: "e-1", WorkoutID: w.ID, ExerciseID: "bench-press", OrderIndex: 0, PlannedSets: ptr(3),
	})
	require.NoError(t, err)
	s, err := ops.AddSet(ctx, WorkoutSet{
		ClientID: "s-1", WorkoutExerciseID: e.ID, Reps: 8, Weight: ptr(80.0), RPE: ptr(8.5), DoneAt: ptr(int64(1500)),
	})
	require.NoError(t, err)
	return w, e, s
}

func TestWorkoutCRUD(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			w, e, s := seedWorkout(t, ctx, store)
			require.NotZero(t, w.ID)
			require.Nil(t, w.ServerID)

			got, err := store.GetWorkoutByClientID(ctx, "w-1")
			require.NoError(t, err)
			require.Equal(t, w.ID, got.ID)
			require.Equal(t, "Push day", got.Title)
			require.Equal(t, StatusDraft, got.Status)

			got.Title = "Chest day"
			got.Status = StatusCompleted
			got.UpdatedAt = 2000
			require.NoError(t, store.UpdateWorkout(ctx, got))

			got, err = store.GetWorkout(ctx, w.ID)
			require.NoError(t, err)
			require.Equal(t, "Chest day", got.Title)
			require.Equal(t, StatusCompleted, got.Status)
			require.Equal(t, int64(2000), got.UpdatedAt)

			exercises, err := store.ListExercises(ctx, w.ID)
			require.NoError(t, err)
			require.Len(t, exercises, 1)
			require.Equal(t, e.ID, exercises[0].ID)
			require.Equal(t, 3, *exercises[0].PlannedSets)

			sets, err := store.ListSets(ctx, e.ID)
			require.NoError(t, err)
			require.Len(t, sets, 1)
			require.Equal(t, s.ID, sets[0].ID)
			require.Equal(t, 80.0, *sets[0].Weight)
			require.Equal(t, 8.5, *sets[0].RPE)
			require.Equal(t, int64(1500), *sets[0].DoneAt)

			_, err = store.GetWorkout(ctx, 9999)
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, store.UpdateWorkout(ctx, Workout{ID: 9999}), ErrNotFound)
		})
	}
}

func TestListWorkoutsNewestFirstSkipsDeleted(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			for i, title := range []string{"a", "b", "c"} {
				_, err := store.CreateWorkout(ctx, Workout{
					ClientID: title, Title: title, Status: StatusDraft,
					CreatedAt: int64(100 * (i + 1)), UpdatedAt: int64(100 * (i + 1)),
				})
				require.NoError(t, err)
			}
			b, err := store.GetWorkoutByClientID(ctx, "b")
			require.NoError(t, err)
			require.NoError(t, store.SoftDeleteWorkout(ctx, b.ID, 999))

			workouts, err := store.ListWorkouts(ctx)
			require.NoError(t, err)
			require.Len(t, workouts, 2)
			require.Equal(t, "c", workouts[0].Title)
			require.Equal(t, "a", workouts[1].Title)

			deleted, err := store.GetWorkout(ctx, b.ID)
			require.NoError(t, err)
			require.NotNil(t, deleted.DeletedAt)
			require.Equal(t, int64(999), *deleted.DeletedAt)
		})
	}
}

func TestServerIDAssignmentByClientID(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			seedWorkout(t, ctx, store)

			ok, err := store.SetWorkoutServerID(ctx, "w-1", 100)
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = store.SetExerciseServerID(ctx, "e-1", 200)
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = store.SetSetServerID(ctx, "s-1", 7001)
			require.NoError(t, err)
			require.True(t, ok)

			set, err := store.GetSetByClientID(ctx, "s-1")
			require.NoError(t, err)
			require.Equal(t, int64(7001), *set.ServerID)

			bySrv, err := store.GetSetByServerID(ctx, 7001)
			require.NoError(t, err)
			require.Equal(t, set.ID, bySrv.ID)

			w, err := store.GetWorkoutByServerID(ctx, 100)
			require.NoError(t, err)
			require.Equal(t, "w-1", w.ClientID)

			e, err := store.GetExerciseByServerID(ctx, 200)
			require.NoError(t, err)
			require.Equal(t, "e-1", e.ClientID)

			// Unknown client ids are a no-op, not an error
			ok, err = store.SetSetServerID(ctx, "missing", 1)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestPurgeWorkoutRemovesChildren(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			w, e, s := seedWorkout(t, ctx, store)

			require.NoError(t, store.PurgeWorkout(ctx, w.ID))

			_, err := store.GetWorkout(ctx, w.ID)
			require.ErrorIs(t, err, ErrNotFound)
			_, err = store.GetExercise(ctx, e.ID)
			require.ErrorIs(t, err, ErrNotFound)
			_, err = store.GetSet(ctx, s.ID)
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, store.PurgeWorkout(ctx, w.ID), ErrNotFound)
		})
	}
}

func TestExerciseAndSetSoftDelete(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			w, e, s := seedWorkout(t, ctx, store)

			require.NoError(t, store.SoftDeleteSet(ctx, s.ID, 10))
			sets, err := store.ListSets(ctx, e.ID)
			require.NoError(t, err)
			require.Empty(t, sets)

			require.NoError(t, store.SoftDeleteExercise(ctx, e.ID, 11))
			exercises, err := store.ListExercises(ctx, w.ID)
			require.NoError(t, err)
			require.Empty(t, exercises)

			// Soft-deleted rows are still addressable for reconciliation
			got, err := store.GetExerciseByClientID(ctx, "e-1")
			require.NoError(t, err)
			require.Equal(t, int64(11), *got.DeletedAt)
		})
	}
}

func TestMutationQueueLifecycle(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			var ids []int64
			for i := 0; i < 3; i++ {
				id, err := store.EnqueueMutation(ctx, "add-set", json.RawMessage(`{"client_id":"c"}`), int64(i))
				require.NoError(t, err)
				ids = append(ids, id)
			}
			require.Less(t, ids[0], ids[1])
			require.Less(t, ids[1], ids[2])

			n, err := store.CountPendingMutations(ctx)
			require.NoError(t, err)
			require.Equal(t, 3, n)

			batch, err := store.ListPendingMutations(ctx, 2)
			require.NoError(t, err)
			require.Len(t, batch, 2)
			require.Equal(t, ids[0], batch[0].ID)
			require.Equal(t, ids[1], batch[1].ID)
			require.Equal(t, MutationPending, batch[0].Status)
			require.JSONEq(t, `{"client_id":"c"}`, string(batch[0].Payload))

			require.NoError(t, store.MarkMutationFailed(ctx, ids[0], "boom"))
			require.NoError(t, store.MarkMutationFailed(ctx, ids[0], "boom again"))
			m, err := store.GetMutation(ctx, ids[0])
			require.NoError(t, err)
			require.Equal(t, MutationFailed, m.Status)
			require.Equal(t, 2, m.Attempts)
			require.Equal(t, "boom again", *m.LastError)

			// Failed mutations are still pending delivery
			n, err = store.CountPendingMutations(ctx)
			require.NoError(t, err)
			require.Equal(t, 3, n)

			require.NoError(t, store.MarkMutationCompleted(ctx, ids[0]))
			m, err = store.GetMutation(ctx, ids[0])
			require.NoError(t, err)
			require.Equal(t, MutationCompleted, m.Status)
			require.Nil(t, m.LastError)

			n, err = store.CountPendingMutations(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			all, err := store.ListMutations(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)

			require.NoError(t, store.RemoveMutation(ctx, ids[0]))
			require.ErrorIs(t, store.RemoveMutation(ctx, ids[0]), ErrNotFound)
			require.ErrorIs(t, store.MarkMutationCompleted(ctx, ids[0]), ErrNotFound)
		})
	}
}

func TestLastPullTimestamp(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			ts, err := store.LastPullTimestamp(ctx)
			require.NoError(t, err)
			require.Zero(t, ts)

			require.NoError(t, store.SetLastPullTimestamp(ctx, 1700000000000))
			require.NoError(t, store.SetLastPullTimestamp(ctx, 1700000000500))
			ts, err = store.LastPullTimestamp(ctx)
			require.NoError(t, err)
			require.Equal(t, int64(1700000000500), ts)

			require.ErrorIs(t, store.SetLastPullTimestamp(ctx, -1), ErrInvalidTimestamp)
		})
	}
}

func TestUserProfile(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			p, err := store.UserProfile(ctx)
			require.NoError(t, err)
			require.Nil(t, p)

			require.NoError(t, store.SaveUserProfile(ctx, UserProfile{ID: "u1", Username: "ann", CreatedAt: 1}))
			require.NoError(t, store.SaveUserProfile(ctx, UserProfile{ID: "u1", Username: "ann", ConsentToPublicShare: true, CreatedAt: 1}))

			p, err = store.UserProfile(ctx)
			require.NoError(t, err)
			require.NotNil(t, p)
			require.Equal(t, "ann", p.Username)
			require.True(t, p.ConsentToPublicShare)
		})
	}
}

func TestFailedProfileSaveKeepsPreviousProfile(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveUserProfile(ctx, UserProfile{ID: "u1", Username: "ann", CreatedAt: 1}))
	_, err = store.DB().ExecContext(ctx, `
		CREATE TRIGGER reject_profile BEFORE INSERT ON user_profile
		WHEN NEW.id = 'u2'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	require.Error(t, store.SaveUserProfile(ctx, UserProfile{ID: "u2", Username: "bob", CreatedAt: 2}))

	p, err := store.UserProfile(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "u1", p.ID)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			errBoom := errors.New("boom")

			err := store.Update(ctx, func(tx Ops) error {
				w, err := tx.CreateWorkout(ctx, Workout{ClientID: "x", Title: "x", Status: StatusDraft})
				require.NoError(t, err)
				_, err = tx.EnqueueMutation(ctx, "create-workout", json.RawMessage(`{}`), 1)
				require.NoError(t, err)
				_, err = tx.GetWorkout(ctx, w.ID)
				require.NoError(t, err)
				return errBoom
			})
			require.ErrorIs(t, err, errBoom)

			workouts, err := store.ListWorkouts(ctx)
			require.NoError(t, err)
			require.Empty(t, workouts)
			n, err := store.CountPendingMutations(ctx)
			require.NoError(t, err)
			require.Zero(t, n)

			err = store.Update(ctx, func(tx Ops) error {
				_, err := tx.CreateWorkout(ctx, Workout{ClientID: "y", Title: "y", Status: StatusDraft})
				return err
			})
			require.NoError(t, err)
			workouts, err = store.ListWorkouts(ctx)
			require.NoError(t, err)
			require.Len(t, workouts, 1)
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	volatile, err := Open(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, KindVolatile, volatile.Kind())

	durable, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "workouts.db")})
	require.NoError(t, err)
	defer durable.Close()
	require.Equal(t, KindDurable, durable.Kind())

	forced, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "x.db"), Volatile: true})
	require.NoError(t, err)
	require.Equal(t, KindVolatile, forced.Kind())
}

func TestOpenFallsBackToVolatile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "missing-dir", "nested", "workouts.db")

	store, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	require.Equal(t, KindVolatile, store.Kind())

	// Same contract as the durable store
	_, err = store.CreateWorkout(ctx, Workout{ClientID: "a", Title: "a", Status: StatusDraft})
	require.NoError(t, err)
	workouts, err := store.ListWorkouts(ctx)
	require.NoError(t, err)
	require.Len(t, workouts, 1)
}

func TestOpenHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAdditiveMigration(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Tables as shipped by an early release: no client/server ids, no planned_sets
	legacy, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE workouts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE workout_exercises (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workout_id INTEGER NOT NULL,
			exercise_id TEXT NOT NULL,
			order_index INTEGER NOT NULL
		);
		INSERT INTO workouts (title, status, created_at, updated_at) VALUES ('old', 'completed', 1, 1);
		INSERT INTO workout_exercises (workout_id, exercise_id, order_index) VALUES (1, 'squat', 0);
	`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	cols, err := tableColumns(ctx, store.DB(), "workout_exercises")
	require.NoError(t, err)
	for _, name := range []string{"client_id", "server_id", "planned_sets", "deleted_at"} {
		require.Contains(t, cols, name)
	}

	workouts, err := store.ListWorkouts(ctx)
	require.NoError(t, err)
	require.Len(t, workouts, 1)
	require.Equal(t, "old", workouts[0].Title)
	require.Empty(t, workouts[0].ClientID)
	require.Nil(t, workouts[0].ServerID)

	exercises, err := store.ListExercises(ctx, workouts[0].ID)
	require.NoError(t, err)
	require.Len(t, exercises, 1)
	require.Nil(t, exercises[0].PlannedSets)

	// Reopening is idempotent
	require.NoError(t, store.Close())
	again, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
