// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gorillax/workoutsync/workouts"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// NewWorkoutCommand groups the workout lifecycle commands
func NewWorkoutCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workout",
		Aliases: []string{"w"},
		Short:   "Create, inspect and share workouts",
	}
	cmd.AddCommand(
		newWorkoutCreateCommand(opts),
		newWorkoutListCommand(opts),
		newWorkoutShowCommand(opts),
		newWorkoutRenameCommand(opts),
		newWorkoutCompleteCommand(opts),
		newWorkoutDeleteCommand(opts),
		newWorkoutShareCommand(opts),
		newWorkoutProgressCommand(opts),
	)
	return cmd
}

func newWorkoutCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create [title]",
		Short: "Start a draft workout",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			w, err := a.svc.CreateDraft(cmd.Context(), title)
			if err != nil {
				return err
			}
			return a.render(w, func(out io.Writer) error {
				_, err := fmt.Fprintf(out, "Created workout %d: %s\n", w.ID, w.Title)
				return err
			})
		}),
	}
}

func newWorkoutListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workouts, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			list, err := a.svc.List(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(list, func(out io.Writer) error {
				if len(list) == 0 {
					_, err := fmt.Fprintln(out, "No workouts")
					return err
				}
				return writeWorkoutTable(out, list)
			})
		}),
	}
}

func newWorkoutShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workout-id>",
		Short: "Show a workout with its exercises and sets",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			item, err := a.svc.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.render(item, func(out io.Writer) error {
				return writeWorkoutDetail(out, item)
			})
		}),
	}
}

func newWorkoutRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <workout-id> <title>",
		Short: "Change a workout's title",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.svc.UpdateTitle(cmd.Context(), id, args[1])
		}),
	}
}

func newWorkoutCompleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <workout-id>",
		Short: "Mark a workout completed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.svc.CompleteWorkout(cmd.Context(), id)
		}),
	}
}

func newWorkoutDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workout-id>",
		Short: "Delete a workout and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.svc.DeleteWorkout(cmd.Context(), id)
		}),
	}
}

type shareView struct {
	Queued        bool   `json:"queued" yaml:"queued"`
	MutationID    int64  `json:"mutation_id,omitempty" yaml:"mutation_id,omitempty"`
	ShareID       string `json:"share_id,omitempty" yaml:"share_id,omitempty"`
	WorkoutTitle  string `json:"workout_title,omitempty" yaml:"workout_title,omitempty"`
	ExerciseCount int    `json:"exercise_count,omitempty" yaml:"exercise_count,omitempty"`
	SetCount      int    `json:"set_count,omitempty" yaml:"set_count,omitempty"`
}

func newWorkoutShareCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "share <workout-id>",
		Short: "Publish a completed workout, or queue the share while offline",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a.refreshConnectivity(ctx)
			res, err := a.svc.ShareWorkout(ctx, id)
			if err != nil {
				return err
			}
			view := shareView{Queued: res.Queued, MutationID: res.MutationID, ShareID: res.ShareID}
			if res.Share != nil {
				view.WorkoutTitle = res.Share.WorkoutTitle
				view.ExerciseCount = res.Share.ExerciseCount
				view.SetCount = res.Share.SetCount
			}
			return a.render(view, func(out io.Writer) error {
				if res.Queued {
					_, err := fmt.Fprintf(out, "Share queued as mutation %d, it is sent on the next sync\n", res.MutationID)
					return err
				}
				_, err := fmt.Fprintf(out, "Shared as %s\n", res.ShareID)
				return err
			})
		}),
	}
}

func newWorkoutProgressCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <exercise-id>",
		Short: "Show the volume trend of an exercise across completed workouts",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			list, err := a.svc.List(cmd.Context())
			if err != nil {
				return err
			}
			points := workouts.ExerciseProgression(list, args[0])
			return a.render(points, func(out io.Writer) error {
				if len(points) == 0 {
					_, err := fmt.Fprintf(out, "No completed workouts with %s\n", args[0])
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tWORKOUT\tVOLUME")
				for _, p := range points {
					fmt.Fprintf(tw, "%s\t%s\t%.1f\n", formatMillis(p.Date), p.Title, p.Value)
				}
				return tw.Flush()
			})
		}),
	}
}

// NewExerciseCommand groups the commands editing a workout's exercises
func NewExerciseCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exercise",
		Aliases: []string{"ex"},
		Short:   "Add, plan and remove exercises within a workout",
	}

	var planned int
	add := &cobra.Command{
		Use:   "add <workout-id> <exercise-id>",
		Short: "Append an exercise to a workout",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var plannedSets *int
			if cmd.Flags().Changed("planned") {
				plannedSets = &planned
			}
			e, err := a.svc.AddExercise(cmd.Context(), id, strings.TrimSpace(args[1]), plannedSets)
			if err != nil {
				return err
			}
			return a.render(e, func(out io.Writer) error {
				_, err := fmt.Fprintf(out, "Added %s as exercise %d at position %d\n", e.ExerciseID, e.ID, e.OrderIndex)
				return err
			})
		}),
	}
	add.Flags().IntVar(&planned, "planned", 0, "planned number of sets")

	var planValue int
	var clearPlan bool
	plan := &cobra.Command{
		Use:   "plan <exercise-id>",
		Short: "Set or clear the planned set count",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var plannedSets *int
			if !clearPlan {
				plannedSets = &planValue
			}
			return a.svc.UpdateExercisePlan(cmd.Context(), id, plannedSets)
		}),
	}
	plan.Flags().IntVar(&planValue, "sets", 0, "planned number of sets")
	plan.Flags().BoolVar(&clearPlan, "clear", false, "remove the plan")
	plan.MarkFlagsMutuallyExclusive("sets", "clear")
	plan.MarkFlagsOneRequired("sets", "clear")

	remove := &cobra.Command{
		Use:   "remove <exercise-id>",
		Short: "Remove an exercise and its sets",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.svc.RemoveExercise(cmd.Context(), id)
		}),
	}

	cmd.AddCommand(add, plan, remove)
	return cmd
}

// setFlags binds the editable fields of a set
type setFlags struct {
	reps    int
	weight  float64
	rpe     float64
	planned bool
}

func (f *setFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.reps, "reps", 0, "repetitions")
	cmd.Flags().Float64Var(&f.weight, "weight", 0, "weight in kilograms")
	cmd.Flags().Float64Var(&f.rpe, "rpe", 0, "rate of perceived exertion (0-10)")
	cmd.Flags().BoolVar(&f.planned, "planned", false, "record the set as planned, not performed")
	_ = cmd.MarkFlagRequired("reps")
}

func (f *setFlags) input(cmd *cobra.Command, now time.Time) workouts.SetInput {
	in := workouts.SetInput{Reps: f.reps}
	if cmd.Flags().Changed("weight") {
		w := f.weight
		in.Weight = &w
	}
	if cmd.Flags().Changed("rpe") {
		r := f.rpe
		in.RPE = &r
	}
	if !f.planned {
		done := now.UnixMilli()
		in.DoneAt = &done
	}
	return in
}

// NewSetCommand groups the commands editing logged sets
func NewSetCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Log, edit and remove sets",
	}

	var addFlags setFlags
	add := &cobra.Command{
		Use:   "add <exercise-id>",
		Short: "Log a set for a workout exercise",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := a.svc.AddSet(cmd.Context(), id, addFlags.input(cmd, time.Now()))
			if err != nil {
				return err
			}
			return a.render(s, func(out io.Writer) error {
				_, err := fmt.Fprintf(out, "Logged set %d: %d reps x %s kg\n", s.ID, s.Reps, formatOptional(s.Weight))
				return err
			})
		}),
	}
	addFlags.bind(add)

	var updateFlags setFlags
	update := &cobra.Command{
		Use:   "update <set-id>",
		Short: "Replace the fields of a set",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.svc.UpdateSet(cmd.Context(), id, updateFlags.input(cmd, time.Now()))
		}),
	}
	updateFlags.bind(update)

	remove := &cobra.Command{
		Use:   "remove <set-id>",
		Short: "Remove a set",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.svc.RemoveSet(cmd.Context(), id)
		}),
	}

	cmd.AddCommand(add, update, remove)
	return cmd
}
