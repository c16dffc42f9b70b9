// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"time"
)

// Trigger requests a pass from Run without blocking. Triggers that arrive
// while one is already waiting collapse into it.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run is the scheduler. It drains once on start and then whenever Trigger is
// called, connectivity comes back, or Interval elapses. A failed pass is
// retried with exponential backoff between BackoffMin and BackoffMax.
func (o *Orchestrator) Run(ctx context.Context) error {
	unsubscribe := o.conn.OnTransitionToOnline(func() {
		o.logger.Info("Connectivity restored, scheduling sync")
		o.Trigger()
	})
	defer unsubscribe()

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	retry := time.NewTimer(time.Hour)
	if !retry.Stop() {
		<-retry.C
	}
	defer retry.Stop()

	backoff := o.config.BackoffMin
	o.Trigger()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.trigger:
		case <-ticker.C:
		case <-retry.C:
		}

		rep := o.Drain(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case rep.Err != nil:
			o.logger.Info("Sync pass failed, retrying", "backoff", backoff, "error", rep.Err)
			retry.Reset(backoff)
			// Exponential backoff on error
			backoff *= 2
			if backoff > o.config.BackoffMax {
				backoff = o.config.BackoffMax
			}
		case rep.Skipped == SkipNone:
			// Reset backoff on success
			backoff = o.config.BackoffMin
		}
	}
}
