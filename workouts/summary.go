// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package workouts

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gorillax/workoutsync/localstore"
)

// CalculateWorkoutVolume sums reps*weight over every set of w. Sets without
// a weight count as zero.
func CalculateWorkoutVolume(w WorkoutWithRelations) float64 {
	return CalculateExerciseVolume(w.Sets)
}

// CalculateExerciseVolume sums reps*weight over sets
func CalculateExerciseVolume(sets []localstore.WorkoutSet) float64 {
	var total float64
	for _, s := range sets {
		if s.Weight == nil {
			continue
		}
		total += *s.Weight * float64(s.Reps)
	}
	return total
}

// WorkoutDuration returns the span in milliseconds between the first and the
// last performed set. ok is false with fewer than two distinct timestamps.
func WorkoutDuration(sets []localstore.WorkoutSet) (ms int64, ok bool) {
	var minAt, maxAt int64
	n := 0
	for _, s := range sets {
		if s.DoneAt == nil {
			continue
		}
		at := *s.DoneAt
		if n == 0 || at < minAt {
			minAt = at
		}
		if n == 0 || at > maxAt {
			maxAt = at
		}
		n++
	}
	if n < 2 || maxAt <= minAt {
		return 0, false
	}
	return maxAt - minAt, true
}

// FormatDuration renders ms as "1 h 5 min", "45 min" or "1 min", rounding
// to the nearest minute.
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "less than a minute"
	}
	total := int64(math.Round(float64(ms) / 60000))
	if total <= 1 {
		return "1 min"
	}
	hours, minutes := total/60, total%60
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%d h %d min", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%d h", hours)
	default:
		return fmt.Sprintf("%d min", total)
	}
}

// ProgressPoint is the volume of one exercise within one workout
type ProgressPoint struct {
	WorkoutID int64   `json:"workout_id"`
	Date      int64   `json:"date"` // Workout updated_at
	Value     float64 `json:"value"`
	Title     string  `json:"title"`
}

// ExerciseProgression returns, oldest first, the volume of exerciseID in every
// workout that contains it. Exercise ids match case-insensitively.
func ExerciseProgression(all []WorkoutWithRelations, exerciseID string) []ProgressPoint {
	want := strings.ToLower(strings.TrimSpace(exerciseID))
	if want == "" {
		return nil
	}
	var points []ProgressPoint
	for _, w := range all {
		matched := map[int64]bool{}
		for _, e := range w.Exercises {
			if strings.ToLower(e.ExerciseID) == want {
				matched[e.ID] = true
			}
		}
		if len(matched) == 0 {
			continue
		}
		var sets []localstore.WorkoutSet
		for _, s := range w.Sets {
			if matched[s.WorkoutExerciseID] {
				sets = append(sets, s)
			}
		}
		points = append(points, ProgressPoint{
			WorkoutID: w.Workout.ID,
			Date:      w.Workout.UpdatedAt,
			Value:     CalculateExerciseVolume(sets),
			Title:     w.Workout.Title,
		})
	}
	slices.SortStableFunc(points, func(a, b ProgressPoint) int {
		return cmp.Compare(a.Date, b.Date)
	})
	return points
}
