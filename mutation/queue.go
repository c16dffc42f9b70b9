// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/gorillax/workoutsync/localstore"
)

// Mutation is a queue record with its payload decoded
type Mutation struct {
	ID        int64
	Action    Action
	Payload   Payload // nil when DecodeErr is set
	Raw       json.RawMessage
	Status    localstore.MutationStatus
	Attempts  int
	CreatedAt int64
	LastError *string
	DecodeErr error
}

// Queue is the append-only log of sync intents. It writes through whatever
// localstore.Ops it is given, so a Queue built on a transaction takes part in
// that transaction.
type Queue struct {
	ops localstore.Ops
	now func() time.Time
}

// NewQueue returns a Queue over ops. A nil now uses time.Now.
func NewQueue(ops localstore.Ops, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{ops: ops, now: now}
}

// Enqueue stores p as a new pending record and returns its id. It never
// touches the network.
func (q *Queue) Enqueue(ctx context.Context, p Payload) (int64, error) {
	raw, err := Encode(p)
	if err != nil {
		return 0, err
	}
	id, err := q.ops.EnqueueMutation(ctx, string(p.Action()), raw, q.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CountPending returns the number of records not yet completed
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	return q.ops.CountPendingMutations(ctx)
}

// ListPending returns up to limit pending records, oldest first. Records
// whose payload cannot be decoded are still returned, with DecodeErr set.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]Mutation, error) {
	records, err := q.ops.ListPendingMutations(ctx, limit)
	if err != nil {
		return nil, err
	}
	return decodeRecords(records), nil
}

// List returns up to limit records of any status, oldest first
func (q *Queue) List(ctx context.Context, limit int) ([]Mutation, error) {
	records, err := q.ops.ListMutations(ctx, limit)
	if err != nil {
		return nil, err
	}
	return decodeRecords(records), nil
}

func decodeRecords(records []localstore.MutationRecord) []Mutation {
	out := make([]Mutation, 0, len(records))
	for _, r := range records {
		m := Mutation{
			ID:        r.ID,
			Action:    Action(r.Action),
			Raw:       r.Payload,
			Status:    r.Status,
			Attempts:  r.Attempts,
			CreatedAt: r.CreatedAt,
			LastError: r.LastError,
		}
		m.Payload, m.DecodeErr = Decode(m.Action, r.Payload)
		out = append(out, m)
	}
	return out
}

// MarkCompleted records the server's acknowledgement
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	return q.ops.MarkMutationCompleted(ctx, id)
}

// MarkFailed bumps the attempt counter and stores cause for diagnostics.
// The record stays in the queue.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return q.ops.MarkMutationFailed(ctx, id, msg)
}

// Remove deletes a record permanently
func (q *Queue) Remove(ctx context.Context, id int64) error {
	return q.ops.RemoveMutation(ctx, id)
}

// RemoveReferencing deletes every record whose payload refers to one of
// clientIDs and returns how many were removed. Undecodable records are kept.
func (q *Queue) RemoveReferencing(ctx context.Context, clientIDs []string) (int, error) {
	if len(clientIDs) == 0 {
		return 0, nil
	}
	all, err := q.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range all {
		if m.Payload == nil {
			continue
		}
		if !slices.ContainsFunc(m.Payload.ClientIDs(), func(id string) bool {
			return id != "" && slices.Contains(clientIDs, id)
		}) {
			continue
		}
		if err := q.ops.RemoveMutation(ctx, m.ID); err != nil {
			return removed, fmt.Errorf("failed to remove mutation %d: %w", m.ID, err)
		}
		removed++
	}
	return removed, nil
}
