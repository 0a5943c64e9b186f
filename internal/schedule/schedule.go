// Package schedule gates unattended cycle runs on a cron expression. The
// schedule command fires a full run whenever the expression matches and no
// run is already in flight.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages recurring cycle runs
type Scheduler struct {
	sched    cron.Schedule
	expr     string
	lastRun  time.Time
	running  bool
	mu       sync.RWMutex
	stopChan chan struct{}
	log      *zap.Logger
}

// Parse parses a five-field cron expression
func Parse(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// New creates a scheduler for the given cron expression
func New(expr string, log *zap.Logger) (*Scheduler, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}

	return &Scheduler{
		sched:    sched,
		expr:     expr,
		stopChan: make(chan struct{}),
		log:      log,
	}, nil
}

// Expr returns the schedule's cron expression
func (s *Scheduler) Expr() string {
	return s.expr
}

// NextRun returns the next time the schedule fires
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := s.lastRun
	if last.IsZero() {
		return s.sched.Next(time.Now())
	}
	return s.sched.Next(last)
}

// ShouldRun reports whether a run is due at now and none is in flight.
// Before the first run the schedule is evaluated against a day-old
// baseline so a freshly started scheduler fires at the next match.
func (s *Scheduler) ShouldRun(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.running {
		return false
	}

	last := s.lastRun
	if last.IsZero() {
		last = now.Add(-24 * time.Hour)
	}
	return now.After(s.sched.Next(last))
}

// MarkRunning marks a run as currently in flight
func (s *Scheduler) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// MarkComplete records the completion time of a run
func (s *Scheduler) MarkComplete(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = now
}

// Start begins the scheduler loop, polling every interval
func (s *Scheduler) Start(interval time.Duration, runFunc func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			if !s.ShouldRun(now) {
				continue
			}
			s.MarkRunning()
			go func() {
				if err := runFunc(); err != nil {
					s.log.Error(fmt.Sprintf("Scheduled run failed: %v", err))
				}
				s.MarkComplete(time.Now())
			}()
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}
