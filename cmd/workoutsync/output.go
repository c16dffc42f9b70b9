// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/workouts"
)

// render writes v in the selected format. text is used for the text format.
func render(w io.Writer, format string, v any, text func(w io.Writer) error) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func (a *app) render(v any, text func(w io.Writer) error) error {
	return render(a.out, a.format, v, text)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func formatServerID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}

func formatOptional[T any](p *T) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}

func writeWorkoutTable(w io.Writer, list []workouts.WorkoutWithRelations) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tEXERCISES\tSETS\tVOLUME\tSERVER ID\tCREATED")
	for _, item := range list {
		wo := item.Workout
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%.1f\t%s\t%s\n",
			wo.ID, wo.Title, wo.Status, len(item.Exercises), len(item.Sets),
			workouts.CalculateWorkoutVolume(item), formatServerID(wo.ServerID), formatMillis(wo.CreatedAt))
	}
	return tw.Flush()
}

func writeWorkoutDetail(w io.Writer, item workouts.WorkoutWithRelations) error {
	wo := item.Workout
	fmt.Fprintf(w, "Workout %d: %s (%s)\n", wo.ID, wo.Title, wo.Status)
	fmt.Fprintf(w, "  client id: %s  server id: %s\n", wo.ClientID, formatServerID(wo.ServerID))
	fmt.Fprintf(w, "  created: %s  volume: %.1f kg\n", formatMillis(wo.CreatedAt), workouts.CalculateWorkoutVolume(item))
	if ms, ok := workouts.WorkoutDuration(item.Sets); ok {
		fmt.Fprintf(w, "  duration: %s\n", workouts.FormatDuration(ms))
	}

	bySet := make(map[int64][]localstore.WorkoutSet)
	for _, s := range item.Sets {
		bySet[s.WorkoutExerciseID] = append(bySet[s.WorkoutExerciseID], s)
	}
	for _, e := range item.Exercises {
		sets := bySet[e.ID]
		fmt.Fprintf(w, "\n  [%d] %s (exercise %d, planned %s, volume %.1f kg)\n",
			e.OrderIndex, e.ExerciseID, e.ID, formatOptional(e.PlannedSets), workouts.CalculateExerciseVolume(sets))
		for _, s := range sets {
			var b strings.Builder
			fmt.Fprintf(&b, "      set %d: %d reps", s.ID, s.Reps)
			if s.Weight != nil {
				fmt.Fprintf(&b, " x %g kg", *s.Weight)
			}
			if s.RPE != nil {
				fmt.Fprintf(&b, " @ RPE %g", *s.RPE)
			}
			if s.DoneAt == nil {
				b.WriteString(" (planned)")
			}
			fmt.Fprintln(w, b.String())
		}
	}
	return nil
}

func writeQueueTable(w io.Writer, records []localstore.MutationRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTION\tSTATUS\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Action, r.Status, r.Attempts, formatMillis(r.CreatedAt), formatOptional(r.LastError))
	}
	return tw.Flush()
}
