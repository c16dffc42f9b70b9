// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gorillax/workoutsync/localstore"
)

// NewQueueCommand inspects the outbound mutation queue
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect changes waiting to be pushed",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued mutations in push order",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			records, err := a.store.ListMutations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.render(records, func(out io.Writer) error {
				if len(records) == 0 {
					_, err := fmt.Fprintln(out, "Queue is empty")
					return err
				}
				return writeQueueTable(out, records)
			})
		}),
	}
	list.Flags().IntVar(&limit, "limit", 100, "maximum number of mutations to show")

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of pending mutations",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			n, err := a.svc.PendingMutations(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(map[string]int{"pending": n}, func(out io.Writer) error {
				_, err := fmt.Fprintln(out, n)
				return err
			})
		}),
	}

	cmd.AddCommand(list, count)
	return cmd
}

// NewProfileCommand manages the locally cached user profile
func NewProfileCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or set the signed-in user profile",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the cached profile",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			p, err := a.store.UserProfile(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(p, func(out io.Writer) error {
				if p == nil {
					_, err := fmt.Fprintln(out, "No profile")
					return err
				}
				_, err := fmt.Fprintf(out, "%s (%s), public sharing consent: %t\n", p.Username, p.ID, p.ConsentToPublicShare)
				return err
			})
		}),
	}

	var username string
	var consent bool
	set := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Cache the profile of the signed-in user",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			p := localstore.UserProfile{
				ID:                   args[0],
				Username:             username,
				ConsentToPublicShare: consent,
				CreatedAt:            time.Now().UnixMilli(),
			}
			return a.store.Update(ctx, func(tx localstore.Ops) error {
				existing, err := tx.UserProfile(ctx)
				if err != nil {
					return err
				}
				if existing != nil && existing.ID == p.ID {
					p.CreatedAt = existing.CreatedAt
				}
				return tx.SaveUserProfile(ctx, p)
			})
		}),
	}
	set.Flags().StringVar(&username, "username", "", "display name")
	set.Flags().BoolVar(&consent, "consent", false, "consent to public workout sharing")

	cmd.AddCommand(show, set)
	return cmd
}
