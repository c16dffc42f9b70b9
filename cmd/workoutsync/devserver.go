// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gorillax/workoutsync/internal/config"
	"github.com/gorillax/workoutsync/internal/devserver"
	"github.com/gorillax/workoutsync/internal/logging"
)

// NewDevServerCommand serves the in-memory development sync server
func NewDevServerCommand(opts *RootOptions) *cobra.Command {
	var addr, seed string

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory sync server for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.ConfigFile)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.Log, opts.Verbose)
			if err != nil {
				return err
			}
			defer closer.Close()

			if !cmd.Flags().Changed("addr") {
				addr = cfg.DevServer.Addr
			}

			srv := devserver.New(devserver.Config{JWTSecret: cfg.Auth.Secret, Logger: logger})
			if seed != "" {
				f, err := os.Open(seed)
				if err != nil {
					return fmt.Errorf("failed to open seed file: %w", err)
				}
				err = srv.LoadSeed(f)
				f.Close()
				if err != nil {
					return err
				}
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      60 * time.Second,
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				logger.Info("Dev sync server listening", "addr", addr, "auth", cfg.Auth.Secret != "")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("Shutting down dev sync server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&seed, "seed", "", "YAML file with users to register")
	return cmd
}
