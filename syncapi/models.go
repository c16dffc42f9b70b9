// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// REST/JSON models for the sync and share endpoints

// PushRequest carries a FIFO batch of queued mutations
type PushRequest struct {
	Mutations []PushMutation `json:"mutations"`
}

// PushMutation is one queued intent as sent to the server
type PushMutation struct {
	QueueID   int64           `json:"queue_id"`   // Local mutation_queue id, echoed back on acknowledgement
	Action    string          `json:"action"`     // Wire tag, e.g. "add-set"
	Payload   json.RawMessage `json:"payload"`    // Action specific body, references rows by client_id
	CreatedAt int64           `json:"created_at"` // Epoch milliseconds at enqueue time
}

// PushResponse is the server's answer to a push. A queue id absent from
// Results means "not yet acknowledged".
type PushResponse struct {
	Processed  int          `json:"processed"`
	ServerTime string       `json:"server_time"` // ISO-8601
	Results    []PushResult `json:"results"`
}

// PushResult acknowledges one mutation
type PushResult struct {
	QueueID  int64  `json:"queue_id"`
	ServerID *int64 `json:"server_id"` // Assigned id for creating actions, null otherwise
}

// PullResponse carries remote change events, oldest first
type PullResponse struct {
	ServerTime string      `json:"server_time"` // ISO-8601 watermark for the next pull
	Events     []PullEvent `json:"events"`

	// ServerTimeMs is ServerTime parsed to epoch milliseconds by the client
	ServerTimeMs int64 `json:"-"`
}

// PullEvent is one remote change
type PullEvent struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"` // e.g. "workout-upsert"
	Payload   json.RawMessage `json:"payload"`
	CreatedAt EventTime       `json:"created_at"`
}

// EventTime is an event timestamp in epoch milliseconds. Servers send it
// either as a number or as an ISO-8601 string; it is always written as a
// number.
type EventTime int64

func (t *EventTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ms, err := ParseServerTime(s)
		if err != nil {
			return err
		}
		*t = EventTime(ms)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid event time %s: %w", data, err)
	}
	if ms, err := n.Int64(); err == nil {
		*t = EventTime(ms)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("invalid event time %s: %w", data, err)
	}
	*t = EventTime(int64(f))
	return nil
}

// ShareRequest asks the server to publish a completed workout
type ShareRequest struct {
	UserID string `json:"user_id"`
}

// ShareResponse describes a created share
type ShareResponse struct {
	ShareID       string `json:"share_id"`
	OwnerID       string `json:"owner_id"`
	OwnerUsername string `json:"owner_username"`
	WorkoutTitle  string `json:"workout_title"`
	ExerciseCount int    `json:"exercise_count"`
	SetCount      int    `json:"set_count"`
	CreatedAt     string `json:"created_at"`
}

// ErrorResponse is the body of a non-success response
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// Error details returned by the share endpoint
const (
	DetailUserWithoutConsent  = "user_without_consent"
	DetailWorkoutNotCompleted = "workout_not_completed"
	DetailWorkoutNotFound     = "workout_not_found"
)
