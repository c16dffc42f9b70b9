// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// PingFunc returns nil when the remote API is reachable
type PingFunc func(ctx context.Context) error

// Probe derives connectivity from periodic pings of the remote API. It starts
// offline; the first successful ping counts as a transition to online.
type Probe struct {
	state
	ping     PingFunc
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProbe creates a probe that pings every interval
func NewProbe(ping PingFunc, interval time.Duration, logger *slog.Logger) *Probe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := interval / 2
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Probe{ping: ping, interval: interval, timeout: timeout, logger: logger}
}

// Check pings once and updates the state
func (p *Probe) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.ping(pingCtx)
	online := err == nil
	was := p.IsOnline()
	if p.set(online) {
		p.logger.Info("Connectivity restored")
	} else if was && !online {
		p.logger.Warn("Connectivity lost", "error", err)
	}
	return online
}

// Run pings immediately and then on every interval until ctx is done
func (p *Probe) Run(ctx context.Context) error {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
