package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gorillax/workoutsync/localstore"
)

func intPtr(v int) *int { return &v }

func TestPayloadWireShapes(t *testing.T) {
	weight := 80.0
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{
			name:    "create-workout",
			payload: CreateWorkout{ClientID: "w-1", Title: "Legs", Status: "draft", CreatedAt: 1, UpdatedAt: 1},
			want:    `{"client_id":"w-1","title":"Legs","status":"draft","created_at":1,"updated_at":1}`,
		},
		{
			name:    "add-exercise",
			payload: AddExercise{WorkoutID: 1, WorkoutClientID: "w-1", ExerciseID: "squat", OrderIndex: 2, ClientID: "e-1", PlannedSets: intPtr(4)},
			want:    `{"workoutId":1,"workout_client_id":"w-1","exerciseId":"squat","orderIndex":2,"client_id":"e-1","plannedSets":4}`,
		},
		{
			name:    "add-set",
			payload: AddSet{WorkoutExerciseID: 3, WorkoutExerciseClientID: "e-1", ClientID: "cid-1", Payload: SetFields{Reps: 8, Weight: &weight}},
			want:    `{"workoutExerciseId":3,"workout_exercise_client_id":"e-1","client_id":"cid-1","payload":{"reps":8,"weight":80,"rpe":null,"done_at":null}}`,
		},
		{
			name:    "update-exercise-plan",
			payload: UpdateExercisePlan{WorkoutExerciseID: 3, ClientID: "e-1", PlannedSets: intPtr(5)},
			want:    `{"workoutExerciseId":3,"client_id":"e-1","plannedSets":5}`,
		},
		{
			name:    "share-workout",
			payload: ShareWorkout{WorkoutID: 1, WorkoutClientID: "w-1", UserID: "u-1"},
			want:    `{"workoutId":1,"workout_client_id":"w-1","userId":"u-1"}`,
		},
		{
			name:    "delete-workout without server id",
			payload: DeleteWorkout{WorkoutID: 1, ClientID: "w-1"},
			want:    `{"workoutId":1,"client_id":"w-1"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.payload)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(raw))

			back, err := Decode(tt.payload.Action(), raw)
			require.NoError(t, err)
			require.Equal(t, tt.payload, back)
		})
	}
}

func TestDecodeRejectsUnknownAction(t *testing.T) {
	_, err := Decode("teleport-workout", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = Decode(ActionAddSet, json.RawMessage(`{"payload":`))
	require.Error(t, err)
}

func TestEveryActionDecodes(t *testing.T) {
	for _, a := range Actions {
		p, err := Decode(a, json.RawMessage(`{}`))
		require.NoError(t, err, a)
		require.Equal(t, a, p.Action())
	}
}

func TestEntityFor(t *testing.T) {
	require.Equal(t, EntityWorkout, EntityFor(ActionCreateWorkout))
	require.Equal(t, EntityWorkoutExercise, EntityFor(ActionAddExercise))
	require.Equal(t, EntityWorkoutSet, EntityFor(ActionAddSet))
	for _, a := range []Action{
		ActionUpdateWorkoutTitle, ActionCompleteWorkout, ActionDeleteWorkout,
		ActionUpdateExercisePlan, ActionRemoveExercise, ActionUpdateSet,
		ActionRemoveSet, ActionShareWorkout,
	} {
		require.Equal(t, EntityNone, EntityFor(a), a)
	}

	require.Equal(t, "cid-1", CreatedClientID(AddSet{ClientID: "cid-1"}))
	require.Empty(t, CreatedClientID(UpdateSet{ClientID: "cid-1"}))
}

func TestQueueFIFOAndStatus(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	now := time.UnixMilli(1_700_000_000_000)
	q := NewQueue(store, func() time.Time { return now })

	first, err := q.Enqueue(ctx, CreateWorkout{ClientID: "w-1", Title: "A", Status: "draft"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, AddExercise{WorkoutClientID: "w-1", ClientID: "e-1", ExerciseID: "squat"})
	require.NoError(t, err)

	pending, err := q.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first, pending[0].ID)
	require.Equal(t, second, pending[1].ID)
	require.Equal(t, ActionCreateWorkout, pending[0].Action)
	require.Equal(t, int64(1_700_000_000_000), pending[0].CreatedAt)
	require.IsType(t, AddExercise{}, pending[1].Payload)

	require.NoError(t, q.MarkFailed(ctx, first, errors.New("connection refused")))
	pending, err = q.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, pending[0].Attempts)
	require.Equal(t, "connection refused", *pending[0].LastError)
	// Content is untouched by status transitions
	require.Equal(t, ActionCreateWorkout, pending[0].Action)

	require.NoError(t, q.MarkCompleted(ctx, first))
	n, err := q.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, q.Remove(ctx, first))
	all, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestListPendingKeepsUndecodableRecords(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	_, err := store.EnqueueMutation(ctx, "legacy-action", json.RawMessage(`{}`), 1)
	require.NoError(t, err)

	q := NewQueue(store, nil)
	pending, err := q.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Nil(t, pending[0].Payload)
	require.ErrorIs(t, pending[0].DecodeErr, ErrUnknownAction)
}

func TestRemoveReferencing(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	q := NewQueue(store, nil)

	_, err := q.Enqueue(ctx, CreateWorkout{ClientID: "w-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, AddExercise{WorkoutClientID: "w-1", ClientID: "e-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, AddSet{WorkoutExerciseClientID: "e-1", ClientID: "s-1"})
	require.NoError(t, err)
	keep, err := q.Enqueue(ctx, CreateWorkout{ClientID: "w-2"})
	require.NoError(t, err)

	removed, err := q.RemoveReferencing(ctx, []string{"w-1", "e-1", "s-1"})
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	left, err := q.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, keep, left[0].ID)

	removed, err = q.RemoveReferencing(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, removed)
}
