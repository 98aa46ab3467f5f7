package client

import (
	"context"

	"insider/internal/coordinator"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const recentIDCapacity = 512

// Handler receives envelopes after deduplication and staleness checks.
type Handler func(ctx context.Context, envelope coordinator.Envelope)

// recentIDs remembers the last few envelope ids in insertion order.
type recentIDs struct {
	ids   map[string]struct{}
	order []string
	next  int
}

func newRecentIDs(capacity int) *recentIDs {
	return &recentIDs{ids: make(map[string]struct{}, capacity), order: make([]string, capacity)}
}

// add reports false when id was already seen.
func (r *recentIDs) add(id string) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	if old := r.order[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.order[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.order)
	return true
}

// Subscribe registers handler for event. Use coordinator.EventSnapshot to observe
// reconnect snapshots.
func (c *Client) Subscribe(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Dispatch delivers an envelope to its handlers. A redelivered envelope, or a broadcast
// older than the session version already seen, is dropped and Dispatch reports false.
func (c *Client) Dispatch(ctx context.Context, envelope coordinator.Envelope) bool {
	c.mu.Lock()
	if envelope.ID != "" && !c.seen.add(envelope.ID) {
		c.mu.Unlock()
		return false
	}
	if b := envelope.Broadcast; b != nil && b.SessionID != "" && b.Version > 0 {
		if b.Version < c.versions[b.SessionID] {
			c.mu.Unlock()
			c.logger.Debug("stale broadcast dropped",
				zap.String("event", envelope.Event),
				zap.String("session_id", b.SessionID),
				zap.Int64("version", b.Version))
			return false
		}
		c.versions[b.SessionID] = b.Version
	}
	handlers := append([]Handler(nil), c.handlers[envelope.Event]...)
	c.mu.Unlock()

	switch {
	case envelope.Snapshot != nil:
		c.applySnapshot(*envelope.Snapshot)
	case envelope.Broadcast != nil:
		c.observeServerNow(envelope.Broadcast.ServerNow)
	}
	for _, handler := range handlers {
		handler(ctx, envelope)
	}
	return true
}

// applySnapshot takes the snapshot as the new baseline: server time, session version and
// pending actions.
func (c *Client) applySnapshot(snap coordinator.Snapshot) {
	c.observeServerNow(snap.ServerNow)
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Session != nil && snap.Session.Version > c.versions[snap.Session.ID] {
		c.versions[snap.Session.ID] = snap.Session.Version
	}
	c.reconcile(snap)
}

// AutoTally closes a voting round as soon as a vote_cast broadcast says every quorum
// member has voted. Losing the race to another client is harmless.
func (c *Client) AutoTally() {
	c.Subscribe(coordinator.EventVoteCast, func(ctx context.Context, envelope coordinator.Envelope) {
		b := envelope.Broadcast
		if b == nil || b.SessionID == "" {
			return
		}
		allVoted, _ := b.Payload["all_voted"].(bool)
		if !allVoted {
			return
		}
		voteType, _ := b.Payload["vote_type"].(string)
		round := 0
		if r, ok := b.Payload["round"].(float64); ok {
			round = int(r)
		}
		view, err := c.TallyVotes(ctx, b.SessionID, voteType, round)
		switch {
		case err == nil:
			c.logger.Debug("auto tally", zap.String("session_id", b.SessionID), zap.String("outcome", string(view.Outcome)))
		case errors.Is(err, coordinator.ErrIncompleteVoting):
		default:
			c.logger.Warn("auto tally failed", zap.String("session_id", b.SessionID), zap.Error(err))
		}
	})
}
