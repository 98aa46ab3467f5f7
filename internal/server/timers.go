package server

import (
	"context"
	"sync"
	"time"

	"insider/internal/coordinator"
	"insider/internal/game"

	"go.uber.org/zap"
)

const (
	deadlineCheckTimeout = 5 * time.Second
	// minTimerDelay keeps a rescheduled check from spinning when the clocks disagree.
	minTimerDelay = 100 * time.Millisecond
)

// deadlineTimers holds at most one pending deadline check per session.
type deadlineTimers struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	check   func(ctx context.Context, sessionID string)
	now     func() time.Time
	logger  *zap.Logger
	stopped bool
}

func newDeadlineTimers(check func(ctx context.Context, sessionID string), now func() time.Time, logger *zap.Logger) *deadlineTimers {
	return &deadlineTimers{
		timers: make(map[string]*time.Timer),
		check:  check,
		now:    now,
		logger: logger,
	}
}

// Schedule replaces the session's pending check with one that fires at deadlineEpoch.
func (t *deadlineTimers) Schedule(sessionID string, deadlineEpoch int64) {
	delay := game.Remaining(game.FromEpoch(deadlineEpoch), t.now())
	if delay < minTimerDelay {
		delay = minTimerDelay
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if existing, ok := t.timers[sessionID]; ok {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.timers[sessionID] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, sessionID)
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), deadlineCheckTimeout)
		defer cancel()
		t.check(ctx, sessionID)
	})
	t.timers[sessionID] = timer
	t.logger.Debug("deadline scheduled", zap.String("session_id", sessionID), zap.Duration("in", delay))
}

func (t *deadlineTimers) Cancel(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[sessionID]; ok {
		timer.Stop()
		delete(t.timers, sessionID)
	}
}

// Pending reports whether a check is armed for the session.
func (t *deadlineTimers) Pending(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[sessionID]
	return ok
}

func (t *deadlineTimers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

// checkDeadline runs the timeout edge for a session whose timer fired. A check that finds
// the deadline still ahead re-arms itself.
func (s *Server) checkDeadline(ctx context.Context, sessionID string) {
	view, err := s.coord.CheckDeadline(ctx, sessionID)
	if err != nil {
		code := coordinator.CodeOf(err)
		if code.Expected() || code == coordinator.CodeSuspended || code == coordinator.CodeNotFound {
			s.logger.Debug("deadline check skipped", zap.String("session_id", sessionID), zap.String("code", string(code)))
		} else {
			s.logger.Error("deadline check failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	if view.Applied {
		s.logger.Info("deadline advanced", zap.String("session_id", sessionID), zap.String("phase", view.Phase.String()))
		return
	}
	if view.Phase.Timed() && view.DeadlineEpoch > 0 {
		s.timers.Schedule(sessionID, view.DeadlineEpoch)
	}
}
