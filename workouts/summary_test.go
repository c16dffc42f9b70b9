package workouts

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gorillax/workoutsync/localstore"
)

func TestCalculateWorkoutVolume(t *testing.T) {
	w := WorkoutWithRelations{Sets: []localstore.WorkoutSet{
		{Reps: 8, Weight: ptr(80.0)},
		{Reps: 10, Weight: ptr(60.0)},
		{Reps: 12, Weight: nil},
	}}
	require.Equal(t, 1240.0, CalculateWorkoutVolume(w))
	require.Zero(t, CalculateExerciseVolume(nil))
}

func TestWorkoutDuration(t *testing.T) {
	at := func(ms int64) localstore.WorkoutSet { return localstore.WorkoutSet{DoneAt: ptr(ms)} }

	_, ok := WorkoutDuration(nil)
	require.False(t, ok)
	_, ok = WorkoutDuration([]localstore.WorkoutSet{at(1000), {}})
	require.False(t, ok, "one performed set")
	_, ok = WorkoutDuration([]localstore.WorkoutSet{at(1000), at(1000)})
	require.False(t, ok, "no elapsed time")

	d, ok := WorkoutDuration([]localstore.WorkoutSet{at(5000), at(1000), {}, at(3000)})
	require.True(t, ok)
	require.Equal(t, int64(4000), d)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "less than a minute"},
		{-5, "less than a minute"},
		{20_000, "1 min"},
		{89_000, "1 min"},
		{45 * 60_000, "45 min"},
		{60 * 60_000, "1 h"},
		{65 * 60_000, "1 h 5 min"},
		{125*60_000 + 40_000, "2 h 6 min"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, FormatDuration(tc.ms), "ms=%d", tc.ms)
	}
}

func TestExerciseProgression(t *testing.T) {
	workouts := []WorkoutWithRelations{
		{
			Workout:   localstore.Workout{ID: 2, Title: "Later", UpdatedAt: 2000},
			Exercises: []localstore.WorkoutExercise{{ID: 20, ExerciseID: "Bench-Press"}, {ID: 21, ExerciseID: "row"}},
			Sets: []localstore.WorkoutSet{
				{WorkoutExerciseID: 20, Reps: 5, Weight: ptr(100.0)},
				{WorkoutExerciseID: 21, Reps: 10, Weight: ptr(50.0)},
			},
		},
		{
			Workout:   localstore.Workout{ID: 1, Title: "Earlier", UpdatedAt: 1000},
			Exercises: []localstore.WorkoutExercise{{ID: 10, ExerciseID: "bench-press"}},
			Sets:      []localstore.WorkoutSet{{WorkoutExerciseID: 10, Reps: 5, Weight: ptr(90.0)}},
		},
		{
			Workout:   localstore.Workout{ID: 3, Title: "Legs", UpdatedAt: 3000},
			Exercises: []localstore.WorkoutExercise{{ID: 30, ExerciseID: "squat"}},
		},
	}

	points := ExerciseProgression(workouts, " BENCH-press ")
	require.Equal(t, []ProgressPoint{
		{WorkoutID: 1, Date: 1000, Value: 450, Title: "Earlier"},
		{WorkoutID: 2, Date: 2000, Value: 500, Title: "Later"},
	}, points)

	require.Empty(t, ExerciseProgression(workouts, ""))
	require.Empty(t, ExerciseProgression(workouts, "deadlift"))
}
