// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package connectivity provides the online/offline signal the sync
// orchestrator subscribes to.
package connectivity

import (
	"sync"
	"sync/atomic"
)

// Source reports whether the device is online and announces transitions
// from offline to online.
type Source interface {
	IsOnline() bool
	// OnTransitionToOnline registers fn and returns a function that
	// unregisters it. fn runs on the goroutine that observed the transition
	// and must not block.
	OnTransitionToOnline(fn func()) (cancel func())
}

// subscribers is the callback registry shared by every Source here
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (s *subscribers) add(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func())
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// state is an online flag that fires subscribers on false->true
type state struct {
	online atomic.Bool
	subs   subscribers
}

func (s *state) IsOnline() bool { return s.online.Load() }

func (s *state) OnTransitionToOnline(fn func()) func() { return s.subs.add(fn) }

// set stores v and reports whether it was an offline->online transition
func (s *state) set(v bool) bool {
	prev := s.online.Swap(v)
	if !prev && v {
		s.subs.fire()
		return true
	}
	return false
}

// Manual is a Source switched explicitly by the caller
type Manual struct {
	state
}

// NewManual returns a Manual source in the given state
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online.Store(online)
	return m
}

// SetOnline updates the state; callbacks fire only on offline->online
func (m *Manual) SetOnline(online bool) { m.set(online) }

// Always is a Source that is permanently online
type Always struct{}

func (Always) IsOnline() bool                      { return true }
func (Always) OnTransitionToOnline(func()) func() { return func() {} }

var (
	_ Source = (*Manual)(nil)
	_ Source = Always{}
	_ Source = (*Probe)(nil)
	_ Source = (*FlagFile)(nil)
)
