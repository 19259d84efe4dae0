// Package health tracks consecutive failures of a supervised
// component and computes the exponential backoff applied between
// attempts.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config tunes the supervisor.
type Config struct {
	// MaxRetries aborts (or invokes OnFatal) after this many
	// consecutive failures. 0 means unbounded.
	MaxRetries int

	// BaseDelay is the first backoff step. Default 1s.
	BaseDelay time.Duration

	// MaxBackoff caps the delay. Default 60s.
	MaxBackoff time.Duration

	// OnFatal runs when MaxRetries is reached. When nil, the
	// supervisor reports should-continue=false and the owner stops.
	OnFatal func(err error)
}

// Supervisor is safe for concurrent use.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	failures int
}

// New applies defaults and builds a supervisor.
func New(cfg Config, log *slog.Logger) *Supervisor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, log: log}
}

// RecordSuccess resets the failure counter, logging the recovery if
// there were prior failures.
func (s *Supervisor) RecordSuccess() {
	s.mu.Lock()
	prior := s.failures
	s.failures = 0
	s.mu.Unlock()

	if prior > 0 {
		s.log.Info("recovered after failures", "failures", prior)
	}
}

// RecordFailure increments the counter and reports whether the owner
// should continue. At MaxRetries the fatal callback fires (when set)
// and the result is false.
func (s *Supervisor) RecordFailure(err error) bool {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	s.log.Warn("failure recorded", "consecutive", failures, "error", err)

	if s.cfg.MaxRetries > 0 && failures >= s.cfg.MaxRetries {
		s.log.Error("failure threshold reached",
			"failures", failures, "max_retries", s.cfg.MaxRetries)
		if s.cfg.OnFatal != nil {
			s.cfg.OnFatal(err)
		}
		return false
	}
	return true
}

// Failures returns the current consecutive-failure count.
func (s *Supervisor) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// CurrentBackoff is min(max, base·2^(failures-1)), or zero when
// healthy.
func (s *Supervisor) CurrentBackoff() time.Duration {
	s.mu.Lock()
	failures := s.failures
	s.mu.Unlock()

	if failures <= 0 {
		return 0
	}

	delay := s.cfg.BaseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if delay > s.cfg.MaxBackoff {
		delay = s.cfg.MaxBackoff
	}
	return delay
}

// Backoff suspends for the current backoff, failing fast on
// cancellation.
func (s *Supervisor) Backoff(ctx context.Context) error {
	delay := s.CurrentBackoff()
	if delay == 0 {
		return nil
	}

	s.log.Debug("backing off", "delay", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
