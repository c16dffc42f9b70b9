// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gorillax/workoutsync/connectivity"
	"github.com/gorillax/workoutsync/internal/auth"
	"github.com/gorillax/workoutsync/internal/config"
	"github.com/gorillax/workoutsync/internal/logging"
	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/syncapi"
	"github.com/gorillax/workoutsync/syncer"
	"github.com/gorillax/workoutsync/workouts"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigFile string
	Format     string // text | json | yaml
	Verbose    bool
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command of the workoutsync CLI
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "workoutsync",
		Short: "Offline-first workout log with background sync",
		Long: `workoutsync keeps a local workout log that works offline and
synchronizes it with the remote sync API whenever a connection is available.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default ./workoutsync.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWorkoutCommand(opts))
	cmd.AddCommand(NewExerciseCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewDevServerCommand(opts))

	return cmd
}

// app is the object graph shared by the commands
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   localstore.LocalStore
	client  *syncapi.Client
	conn    connectivity.Source
	probe   *connectivity.Probe    // set in probe mode
	flag    *connectivity.FlagFile // set in flagfile mode
	orch    *syncer.Orchestrator
	svc     *workouts.Service
	out     io.Writer
	format  string
	closers []io.Closer
}

func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(cfg.Log, opts.Verbose)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		out:     cmd.OutOrStdout(),
		format:  opts.Format,
		closers: []io.Closer{logCloser},
	}

	ctx := cmd.Context()
	path := cfg.Store.Path
	store, err := localstore.Open(ctx, localstore.Options{Path: path, Volatile: cfg.Store.Volatile, Logger: logger})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	a.store = store
	a.closers = append([]io.Closer{store}, a.closers...)

	tokens, err := a.tokenSource(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = syncapi.NewClient(cfg.Server.BaseURL, tokens, logger)
	if cfg.Server.Timeout > 0 {
		a.client.HTTP.Timeout = cfg.Server.Timeout
	}

	switch cfg.Connectivity.Mode {
	case config.ConnectivityAlways:
		a.conn = connectivity.Always{}
	case config.ConnectivityFlagFile:
		a.flag = connectivity.NewFlagFile(cfg.Connectivity.FlagFile, logger)
		a.conn = a.flag
	default:
		a.probe = connectivity.NewProbe(a.client.Ping, cfg.Connectivity.ProbeInterval, logger)
		a.conn = a.probe
	}

	a.orch = syncer.New(store, a.client, a.conn, cfg.SyncerConfig(), syncer.WithLogger(logger))
	a.svc = workouts.New(store, a.conn, workouts.Options{
		Sharer:   a.client,
		Notifier: a.orch,
		Logger:   logger,
	})
	return a, nil
}

// tokenSource signs tokens for the configured user, or for the cached
// profile when no user is configured. It returns nil without a secret.
func (a *app) tokenSource(ctx context.Context) (syncapi.TokenFunc, error) {
	if a.cfg.Auth.Secret == "" {
		return nil, nil
	}
	userID := a.cfg.Auth.UserID
	if userID == "" {
		profile, err := a.store.UserProfile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load user profile: %w", err)
		}
		if profile == nil {
			a.logger.Debug("No user configured, requests are sent without a token")
			return nil, nil
		}
		userID = profile.ID
	}
	deviceID := a.cfg.Auth.DeviceID
	if deviceID == "" {
		host, _ := os.Hostname()
		deviceID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(host+":"+a.cfg.Store.Path)).String()
	}
	ttl := a.cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return auth.NewTokenSource(auth.NewJWTAuth(a.cfg.Auth.Secret), userID, deviceID, ttl).Token, nil
}

// refreshConnectivity samples the connectivity source once, for commands
// that do not run its watcher.
func (a *app) refreshConnectivity(ctx context.Context) bool {
	switch {
	case a.probe != nil:
		return a.probe.Check(ctx)
	case a.flag != nil:
		return a.flag.Refresh()
	default:
		return a.conn.IsOnline()
	}
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Error("Failed to close resource", "error", err)
		}
	}
}

// withApp adapts a command body that needs the app graph
func withApp(opts *RootOptions, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}
