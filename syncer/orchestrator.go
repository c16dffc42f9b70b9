// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncer drains the mutation queue to the server, writes
// server-assigned ids back onto local rows, and applies remote change events.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorillax/workoutsync/connectivity"
	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/mutation"
	"github.com/gorillax/workoutsync/syncapi"
)

// Transport is the remote half of a drain pass. *syncapi.Client satisfies it.
type Transport interface {
	Push(ctx context.Context, mutations []syncapi.PushMutation) (*syncapi.PushResponse, error)
	Pull(ctx context.Context, since int64) (*syncapi.PullResponse, error)
}

// Config holds the orchestrator's batching and scheduling knobs
type Config struct {
	BatchSize         int           // mutations per push, e.g. 20
	MaxBatchesPerPass int           // upper bound on pushes in one pass
	Interval          time.Duration // scheduled pass period
	BackoffMin        time.Duration // 1s
	BackoffMax        time.Duration // 60s
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:         20,
		MaxBatchesPerPass: 50,
		Interval:          30 * time.Second,
		BackoffMin:        1 * time.Second,
		BackoffMax:        60 * time.Second,
	}
}

// SkipReason explains why Drain did nothing
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipOffline  SkipReason = "offline"
	SkipInFlight SkipReason = "in_flight"
)

// Report summarizes one drain pass
type Report struct {
	Skipped      SkipReason
	Pushed       int   // mutations sent
	Acknowledged int   // acknowledged, reconciled and removed
	Failed       int   // marked failed after a transport error
	Pulled       int   // events received
	Applied      int   // events that changed local state
	Pending      int   // queue size after the pass
	Checkpoint   int64 // last-pull timestamp after the pass
	Err          error // first error that ended the pass early
}

// Orchestrator coordinates queue draining and remote-change ingestion
type Orchestrator struct {
	store     localstore.LocalStore
	transport Transport
	conn      connectivity.Source
	config    *Config
	logger    *slog.Logger
	now       func() time.Time

	inFlight atomic.Bool
	trigger  chan struct{}
	pending  atomic.Int64

	subsMu  sync.Mutex
	subsSeq int
	subs    map[int]func(int)

	// Pause switches (atomic): allow callers to suspend sync activity deterministically
	pushPaused int32
	pullPaused int32
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator. A nil config uses DefaultConfig.
func New(store localstore.LocalStore, transport Transport, conn connectivity.Source, config *Config, opts ...Option) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxBatchesPerPass <= 0 {
		config.MaxBatchesPerPass = def.MaxBatchesPerPass
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = def.BackoffMin
	}
	if config.BackoffMax < config.BackoffMin {
		config.BackoffMax = config.BackoffMin
	}
	o := &Orchestrator{
		store:     store,
		transport: transport,
		conn:      conn,
		config:    config,
		logger:    slog.Default(),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
		subs:      make(map[int]func(int)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PausePush suspends the push phase of subsequent passes
func (o *Orchestrator) PausePush() { atomic.StoreInt32(&o.pushPaused, 1) }

// ResumePush resumes the push phase
func (o *Orchestrator) ResumePush() { atomic.StoreInt32(&o.pushPaused, 0) }

// PausePull suspends the pull phase of subsequent passes
func (o *Orchestrator) PausePull() { atomic.StoreInt32(&o.pullPaused, 1) }

// ResumePull resumes the pull phase
func (o *Orchestrator) ResumePull() { atomic.StoreInt32(&o.pullPaused, 0) }

// Pending returns the queue size published by the last pass
func (o *Orchestrator) Pending() int { return int(o.pending.Load()) }

// OnPendingChange registers fn to receive the queue size after every pass
func (o *Orchestrator) OnPendingChange(fn func(pending int)) (cancel func()) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	id := o.subsSeq
	o.subsSeq++
	o.subs[id] = fn
	return func() {
		o.subsMu.Lock()
		delete(o.subs, id)
		o.subsMu.Unlock()
	}
}

// Drain runs one push-then-pull pass. Network and server errors never escape
// as a panic or a returned error; they end the pass and are reported in
// Report.Err. A call made while another pass is running returns immediately.
func (o *Orchestrator) Drain(ctx context.Context) Report {
	if !o.conn.IsOnline() {
		o.logger.Debug("Drain skipped: offline")
		rep := Report{Skipped: SkipOffline}
		o.publishPending(ctx, &rep)
		return rep
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("Drain skipped: pass already in flight")
		// The running pass publishes the count when it ends.
		rep := Report{Skipped: SkipInFlight}
		if n, err := o.store.CountPendingMutations(ctx); err == nil {
			rep.Pending = n
		} else {
			rep.Pending = o.Pending()
		}
		return rep
	}
	defer o.inFlight.Store(false)

	start := time.Now()
	var rep Report

	if atomic.LoadInt32(&o.pushPaused) == 0 {
		if err := o.pushPending(ctx, &rep); err != nil {
			rep.Err = err
		}
	}
	if rep.Err == nil && atomic.LoadInt32(&o.pullPaused) == 0 {
		if err := o.pullRemote(ctx, &rep); err != nil {
			rep.Err = err
		}
	}
	if rep.Checkpoint == 0 {
		if ts, err := o.store.LastPullTimestamp(ctx); err == nil {
			rep.Checkpoint = ts
		}
	}
	o.publishPending(ctx, &rep)

	if rep.Err != nil {
		o.logger.Warn("Drain pass ended with error",
			"error", rep.Err, "pushed", rep.Pushed, "failed", rep.Failed, "pending", rep.Pending)
	} else {
		o.logger.Debug("Drain pass completed",
			"pushed", rep.Pushed, "acknowledged", rep.Acknowledged,
			"pulled", rep.Pulled, "applied", rep.Applied,
			"pending", rep.Pending, "checkpoint", rep.Checkpoint,
			"duration", time.Since(start))
	}
	return rep
}

// pushPending sends pending mutations in FIFO batches. It stops early when a
// batch is not fully acknowledged.
func (o *Orchestrator) pushPending(ctx context.Context, rep *Report) error {
	queue := mutation.NewQueue(o.store, o.now)
	for range o.config.MaxBatchesPerPass {
		batch, err := queue.ListPending(ctx, o.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list pending mutations: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		wire := make([]syncapi.PushMutation, len(batch))
		for i, m := range batch {
			if m.DecodeErr != nil {
				// Pushed verbatim; only reconciliation needs the typed payload.
				o.logger.Warn("Pushing mutation with undecodable payload",
					"queue_id", m.ID, "action", m.Action, "error", m.DecodeErr)
			}
			wire[i] = syncapi.PushMutation{
				QueueID:   m.ID,
				Action:    string(m.Action),
				Payload:   m.Raw,
				CreatedAt: m.CreatedAt,
			}
		}

		rep.Pushed += len(wire)
		resp, err := o.transport.Push(ctx, wire)
		if err != nil {
			o.failBatch(ctx, batch, err, rep)
			return fmt.Errorf("push failed: %w", err)
		}

		acked := o.acknowledge(ctx, batch, resp, rep)
		if acked < len(batch) {
			o.logger.Debug("Push batch partially acknowledged",
				"sent", len(batch), "acknowledged", acked)
			return nil
		}
	}
	return nil
}

// failBatch marks every mutation of an attempted batch failed
func (o *Orchestrator) failBatch(ctx context.Context, batch []mutation.Mutation, cause error, rep *Report) {
	err := o.store.Update(ctx, func(tx localstore.Ops) error {
		q := mutation.NewQueue(tx, o.now)
		for _, m := range batch {
			if err := q.MarkFailed(ctx, m.ID, cause); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to record push failure", "error", err, "batch", len(batch))
		return
	}
	rep.Failed += len(batch)
}

// acknowledge consumes the push results and returns how many mutations of
// batch were acknowledged and removed.
func (o *Orchestrator) acknowledge(ctx context.Context, batch []mutation.Mutation, resp *syncapi.PushResponse, rep *Report) int {
	byID := make(map[int64]mutation.Mutation, len(batch))
	for _, m := range batch {
		byID[m.ID] = m
	}

	acked := 0
	for _, res := range resp.Results {
		m, ok := byID[res.QueueID]
		if !ok {
			o.logger.Warn("Push result for a mutation outside the batch", "queue_id", res.QueueID)
			continue
		}
		delete(byID, res.QueueID)

		err := o.store.Update(ctx, func(tx localstore.Ops) error {
			q := mutation.NewQueue(tx, o.now)
			if err := q.MarkCompleted(ctx, m.ID); err != nil {
				if errors.Is(err, localstore.ErrNotFound) {
					// Dropped locally while in flight (purged draft)
					o.logger.Info("Acknowledged mutation no longer queued", "queue_id", m.ID, "action", m.Action)
					return nil
				}
				return err
			}
			if err := o.reconcile(ctx, tx, m, res.ServerID); err != nil {
				return err
			}
			return q.Remove(ctx, m.ID)
		})
		if err != nil {
			// Rolled back: the mutation stays pending and is pushed again.
			o.logger.Error("Failed to apply acknowledgement",
				"queue_id", m.ID, "action", m.Action, "error", err)
			continue
		}
		acked++
	}
	rep.Acknowledged += acked
	return acked
}

// reconcile writes serverID onto the row the mutation created. A row that no
// longer exists makes this a no-op so the acknowledgement is still consumed.
func (o *Orchestrator) reconcile(ctx context.Context, tx localstore.Ops, m mutation.Mutation, serverID *int64) error {
	entity := mutation.EntityFor(m.Action)
	if entity == mutation.EntityNone || serverID == nil {
		return nil
	}
	if m.Payload == nil {
		o.logger.Warn("Cannot reconcile undecodable mutation", "queue_id", m.ID, "action", m.Action)
		return nil
	}
	clientID := mutation.CreatedClientID(m.Payload)
	if clientID == "" {
		o.logger.Warn("Acknowledged mutation carries no client_id", "queue_id", m.ID, "action", m.Action)
		return nil
	}

	var (
		found bool
		err   error
	)
	switch entity {
	case mutation.EntityWorkout:
		found, err = tx.SetWorkoutServerID(ctx, clientID, *serverID)
	case mutation.EntityWorkoutExercise:
		found, err = tx.SetExerciseServerID(ctx, clientID, *serverID)
	case mutation.EntityWorkoutSet:
		found, err = tx.SetSetServerID(ctx, clientID, *serverID)
	}
	if err != nil {
		return fmt.Errorf("failed to reconcile %s %s: %w", entity, clientID, err)
	}
	if !found {
		o.logger.Info("Acknowledged row no longer exists locally",
			"entity", entity.String(), "client_id", clientID, "server_id", *serverID)
	}
	return nil
}

// pullRemote fetches events since the checkpoint and applies them together
// with the new checkpoint in one transaction.
func (o *Orchestrator) pullRemote(ctx context.Context, rep *Report) error {
	since, err := o.store.LastPullTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	rep.Checkpoint = since

	resp, err := o.transport.Pull(ctx, since)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	serverTime := resp.ServerTimeMs
	if serverTime == 0 {
		serverTime, err = syncapi.ParseServerTime(resp.ServerTime)
		if err != nil {
			return fmt.Errorf("pull failed: %w: %v", syncapi.ErrMalformedResponse, err)
		}
	}
	rep.Pulled = len(resp.Events)

	next := max(since, serverTime)
	if len(resp.Events) == 0 && next == since {
		return nil
	}

	applied := 0
	err = o.store.Update(ctx, func(tx localstore.Ops) error {
		applied = 0
		for _, ev := range resp.Events {
			changed, err := o.applyEvent(ctx, tx, ev)
			if err != nil {
				return fmt.Errorf("failed to apply event %d (%s): %w", ev.ID, ev.Action, err)
			}
			if changed {
				applied++
			}
		}
		if next != since {
			return tx.SetLastPullTimestamp(ctx, next)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rep.Applied = applied
	rep.Checkpoint = next
	return nil
}

func (o *Orchestrator) publishPending(ctx context.Context, rep *Report) {
	n, err := o.store.CountPendingMutations(ctx)
	if err != nil {
		o.logger.Error("Failed to count pending mutations", "error", err)
		rep.Pending = o.Pending()
		return
	}
	rep.Pending = n
	o.pending.Store(int64(n))

	o.subsMu.Lock()
	fns := make([]func(int), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subsMu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}
