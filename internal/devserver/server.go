// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package devserver is an in-memory implementation of the remote sync and
// share API. It backs integration tests and local demos of the client.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gorillax/workoutsync/internal/auth"
	"github.com/gorillax/workoutsync/localstore"
	"github.com/gorillax/workoutsync/syncapi"
)

const anonymousUser = "anonymous"

// Config holds configuration for the server
type Config struct {
	JWTSecret string // Empty disables authentication
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Server keeps one dataset per authenticated user
type Server struct {
	auth   *auth.JWTAuth
	logger *slog.Logger
	clock  func() time.Time

	mu         sync.Mutex
	data       map[string]*dataset
	users      map[string]SeedUser
	lastID     int64
	lastTick   int64
	failPushes int
}

// New creates a server
func New(config Config) *Server {
	s := &Server{
		logger: config.Logger,
		clock:  config.Clock,
		data:   make(map[string]*dataset),
		users:  make(map[string]SeedUser),
		lastID: 7000,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if config.JWTSecret != "" {
		s.auth = auth.NewJWTAuth(config.JWTSecret)
	}
	return s
}

// Handler returns the HTTP routes of the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /sync/push", s.protect(http.HandlerFunc(s.handlePush)))
	mux.Handle("GET /sync/pull", s.protect(http.HandlerFunc(s.handlePull)))
	mux.Handle("POST /share/workouts/{id}", s.protect(http.HandlerFunc(s.handleShare)))
	return s.logRequests(mux)
}

// NewTestServer starts s on a loopback httptest server
func (s *Server) NewTestServer() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

// GenerateToken issues a bearer token accepted by this server
func (s *Server) GenerateToken(userID, deviceID string, ttl time.Duration) (string, error) {
	if s.auth == nil {
		return "", fmt.Errorf("authentication disabled")
	}
	return s.auth.GenerateToken(userID, deviceID, ttl)
}

// Auth returns the authenticator, nil when authentication is disabled
func (s *Server) Auth() *auth.JWTAuth {
	return s.auth
}

// FailNextPushes makes the next n pushes answer 503
func (s *Server) FailNextPushes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPushes = n
}

// SeedUser is a known user and their sharing consent
type SeedUser struct {
	ID                   string `yaml:"id"`
	Username             string `yaml:"username"`
	ConsentToPublicShare bool   `yaml:"consent_to_public_share"`
}

// Seed is the YAML fixture format accepted by LoadSeed
type Seed struct {
	Users []SeedUser `yaml:"users"`
}

// LoadSeed registers the users of a YAML fixture
func (s *Server) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode seed: %w", err)
	}
	for _, u := range seed.Users {
		s.SetUser(u)
	}
	return nil
}

// SetUser registers or replaces a user
func (s *Server) SetUser(u SeedUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Workouts returns userID's workouts ordered by server id, deleted ones included
func (s *Server) Workouts(userID string) []WorkoutRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.dataset(userID).workouts)
}

// Exercises returns userID's exercises ordered by server id
func (s *Server) Exercises(userID string) []ExerciseRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.dataset(userID).exercises)
}

// Sets returns userID's sets ordered by server id
func (s *Server) Sets(userID string) []SetRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.dataset(userID).sets)
}

// Shares returns userID's shares
func (s *Server) Shares(userID string) []Share {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Share, 0, len(s.dataset(userID).shares))
	for _, sh := range s.dataset(userID).shares {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

func snapshot[T any](rows map[int64]*T) []T {
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, *rows[id])
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, syncapi.HealthResponse{Status: "ok"})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	userID, deviceID := identity(r)

	var req syncapi.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPushes > 0 {
		s.failPushes--
		s.writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}

	d := s.dataset(userID)
	a := &applier{s: s, d: d, deviceID: deviceID, logger: s.logger}
	resp := syncapi.PushResponse{Results: make([]syncapi.PushResult, 0, len(req.Mutations))}
	for _, m := range req.Mutations {
		key := deviceID + "/" + strconv.FormatInt(m.QueueID, 10)
		if prev, ok := d.acks[key]; ok {
			s.logger.Debug("Replaying acknowledged mutation", "queue_id", m.QueueID, "device_id", deviceID)
			resp.Results = append(resp.Results, prev)
			continue
		}
		serverID, err := a.apply(m)
		if err != nil {
			s.logger.Warn("Consuming undecodable mutation", "queue_id", m.QueueID, "action", m.Action, "error", err)
		}
		result := syncapi.PushResult{QueueID: m.QueueID, ServerID: serverID}
		d.acks[key] = result
		resp.Results = append(resp.Results, result)
	}
	resp.Processed = len(resp.Results)
	resp.ServerTime = syncapi.FormatServerTime(s.tick())

	s.logger.Info("Push processed", "user_id", userID, "device_id", deviceID, "mutations", len(req.Mutations))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	userID, deviceID := identity(r)

	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dataset(userID)
	resp := syncapi.PullResponse{Events: []syncapi.PullEvent{}}
	for _, ev := range d.events {
		if ev.at <= since {
			continue
		}
		// Skip the caller's own changes
		if deviceID != "" && ev.deviceID == deviceID {
			continue
		}
		resp.Events = append(resp.Events, ev.PullEvent)
	}
	resp.ServerTime = syncapi.FormatServerTime(s.tick())
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)

	workoutID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid workout id")
		return
	}
	var req syncapi.ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.UserID == "" {
		req.UserID = userID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dataset(userID)
	row := d.workouts[workoutID]
	if row == nil || row.Deleted {
		s.writeError(w, http.StatusNotFound, syncapi.DetailWorkoutNotFound)
		return
	}
	sh, detail := s.share(d, row, req.UserID)
	switch detail {
	case "":
	case syncapi.DetailUserWithoutConsent:
		s.writeError(w, http.StatusForbidden, detail)
		return
	default:
		s.writeError(w, http.StatusBadRequest, detail)
		return
	}

	resp := syncapi.ShareResponse{
		ShareID:       sh.ShareID,
		OwnerID:       sh.OwnerID,
		OwnerUsername: s.users[sh.OwnerID].Username,
		WorkoutTitle:  row.Title,
		CreatedAt:     syncapi.FormatServerTime(sh.CreatedAt),
	}
	for _, e := range d.exercises {
		if e.WorkoutID != row.ServerID || e.Deleted {
			continue
		}
		resp.ExerciseCount++
		for _, set := range d.sets {
			if set.ExerciseID == e.ServerID && !set.Deleted {
				resp.SetCount++
			}
		}
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

// share creates a share of row for userID or returns the error detail that
// prevents it. Callers hold s.mu.
func (s *Server) share(d *dataset, row *WorkoutRow, userID string) (Share, string) {
	if !s.users[userID].ConsentToPublicShare {
		return Share{}, syncapi.DetailUserWithoutConsent
	}
	if row.Status != string(localstore.StatusCompleted) {
		return Share{}, syncapi.DetailWorkoutNotCompleted
	}
	sh := Share{
		ShareID:   newShareID(),
		OwnerID:   userID,
		WorkoutID: row.ServerID,
		CreatedAt: s.tick(),
	}
	d.shares[sh.ShareID] = sh
	return sh, ""
}

func (s *Server) dataset(userID string) *dataset {
	d, ok := s.data[userID]
	if !ok {
		d = newDataset()
		s.data[userID] = d
	}
	return d
}

func (s *Server) nextID() int64 {
	s.lastID++
	return s.lastID
}

// tick returns a strictly increasing server time in epoch milliseconds, so
// no event can share a timestamp with a pull watermark
func (s *Server) tick() int64 {
	ms := s.clock().UnixMilli()
	if ms <= s.lastTick {
		ms = s.lastTick + 1
	}
	s.lastTick = ms
	return ms
}

func (s *Server) protect(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth.Middleware(next)
}

func identity(r *http.Request) (userID, deviceID string) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		userID = anonymousUser
	}
	deviceID, _ = auth.DeviceID(r.Context())
	return userID, deviceID
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, syncapi.ErrorResponse{Detail: detail})
	s.logger.Debug("HTTP error response", "status_code", status, "detail", detail)
}
