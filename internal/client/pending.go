package client

import (
	"strconv"
	"strings"
	"time"

	"insider/internal/coordinator"

	"github.com/pkg/errors"
)

type PendingState string

const (
	PendingRequested PendingState = "REQUESTED"
	PendingConfirmed PendingState = "CONFIRMED"
	PendingRejected  PendingState = "REJECTED"
)

// Pending is the local state of an action the server has not confirmed yet.
type Pending struct {
	Key         string
	State       PendingState
	Err         error
	RequestedAt time.Time
}

// Pending returns the tracked state for key.
func (c *Client) Pending(key string) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// VoteKey names the pending entry SubmitVote tracks.
func VoteKey(sessionID, voteType string, round int) string {
	return voteKey(sessionID, voteType, round)
}

func (c *Client) track(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key] = &Pending{Key: key, State: PendingRequested, RequestedAt: c.now()}
}

// settle records the server's answer. A transport failure leaves the action requested so
// the next snapshot can tell whether it landed.
func (c *Client) settle(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if !ok {
		return
	}
	var typed *coordinator.Error
	switch {
	case err == nil:
		p.State, p.Err = PendingConfirmed, nil
	case errors.Is(err, coordinator.ErrAlreadyVoted):
		p.State, p.Err = PendingConfirmed, nil
	case errors.As(err, &typed) && typed.Code != coordinator.CodeUnavailable:
		p.State, p.Err = PendingRejected, err
	default:
		p.Err = err
	}
}

// reconcile confirms requested votes that the snapshot shows as cast. c.mu must be held.
func (c *Client) reconcile(snap coordinator.Snapshot) {
	if snap.Session == nil || snap.Session.Votes == nil {
		return
	}
	progress := snap.Session.Votes
	player := c.playerID
	voted := false
	for _, id := range progress.Voted {
		if id == player {
			voted = true
			break
		}
	}
	if !voted {
		return
	}
	prefix := "vote:" + snap.Session.ID + ":" + string(progress.VoteType) + ":"
	for key, p := range c.pending {
		if p.State != PendingRequested || !strings.HasPrefix(key, prefix) {
			continue
		}
		round := strings.TrimPrefix(key, prefix)
		if round == "0" || round == strconv.Itoa(progress.Round) {
			p.State, p.Err = PendingConfirmed, nil
		}
	}
}
