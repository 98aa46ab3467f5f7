package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"insider/internal/coordinator"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error struct {
		Code      coordinator.Code `json:"code"`
		Message   string           `json:"message"`
		Retryable bool             `json:"retryable"`
	} `json:"error"`
}

// do sends one request. Failures come back as *coordinator.Error so callers can match
// them with errors.Is against the coordinator sentinels.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &coordinator.Error{Code: coordinator.CodeUnavailable, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &coordinator.Error{Code: coordinator.CodeUnavailable, Message: "read response", Err: err}
	}
	var failure errorResponse
	if resp.StatusCode >= http.StatusBadRequest || resp.StatusCode == http.StatusAccepted {
		if json.Unmarshal(raw, &failure) == nil && failure.Error.Code != "" {
			return &coordinator.Error{Code: failure.Error.Code, Message: failure.Error.Message}
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return &coordinator.Error{
				Code:    coordinator.CodeUnavailable,
				Message: fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode),
			}
		}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

// transient marks failures worth retrying unchanged. INCOMPLETE_VOTING is excluded so a
// retried tally never spins waiting for ballots.
func transient(err error) bool {
	var typed *coordinator.Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == coordinator.CodeUnavailable || typed.Code == coordinator.CodeRateLimited
}

func (c *Client) retry(ctx context.Context, what string, op func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(c.backoff(), ctx), func(err error, wait time.Duration) {
		c.logger.Debug("retrying", zap.String("call", what), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})
}

func (c *Client) CreateRoom(ctx context.Context, nickname string) (coordinator.JoinResult, error) {
	var res coordinator.JoinResult
	if err := c.do(ctx, http.MethodPost, "/api/rooms", map[string]any{"nickname": nickname}, &res); err != nil {
		return res, err
	}
	c.SetPlayerID(res.PlayerID)
	c.observeServerNow(res.ServerNow)
	return res, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID, nickname string) (coordinator.JoinResult, error) {
	var res coordinator.JoinResult
	path := "/api/rooms/" + url.PathEscape(roomID) + "/players"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"nickname": nickname}, &res); err != nil {
		return res, err
	}
	c.SetPlayerID(res.PlayerID)
	c.observeServerNow(res.ServerNow)
	return res, nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	path := "/api/rooms/" + url.PathEscape(roomID) + "/players/" + url.PathEscape(c.player())
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) Heartbeat(ctx context.Context, roomID string) (coordinator.PresenceView, error) {
	var res coordinator.PresenceView
	path := "/api/rooms/" + url.PathEscape(roomID) + "/players/" + url.PathEscape(c.player()) + "/heartbeat"
	err := c.do(ctx, http.MethodPost, path, nil, &res)
	return res, err
}

func (c *Client) StartSession(ctx context.Context, roomID string, difficulty string) (coordinator.StartResult, error) {
	var res coordinator.StartResult
	path := "/api/rooms/" + url.PathEscape(roomID) + "/sessions"
	err := c.do(ctx, http.MethodPost, path, map[string]any{"player_id": c.player(), "difficulty": difficulty}, &res)
	if err == nil {
		c.observeServerNow(res.ServerNow)
	}
	return res, err
}

// Snapshot reads the room, or a specific session when sessionID is set. Reads are retried.
func (c *Client) Snapshot(ctx context.Context, roomID, sessionID string) (coordinator.Snapshot, error) {
	path := "/api/rooms/" + url.PathEscape(roomID)
	if sessionID != "" {
		path = "/api/sessions/" + url.PathEscape(sessionID)
	}
	if player := c.player(); player != "" {
		path += "?player_id=" + url.QueryEscape(player)
	}
	var snap coordinator.Snapshot
	err := c.retry(ctx, "snapshot", func() error {
		return c.do(ctx, http.MethodGet, path, nil, &snap)
	})
	if err != nil {
		return coordinator.Snapshot{}, err
	}
	c.applySnapshot(snap)
	return snap, nil
}

func (c *Client) ConfirmRole(ctx context.Context, sessionID string) (coordinator.PhaseView, error) {
	return c.phaseCall(ctx, sessionID, "/roles/confirm", map[string]any{"player_id": c.player()})
}

func (c *Client) SelectTopic(ctx context.Context, sessionID, text string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/topic"
	return c.do(ctx, http.MethodPost, path, map[string]any{"player_id": c.player(), "text": text}, nil)
}

func (c *Client) ReportAnswer(ctx context.Context, sessionID, answererID string) (coordinator.PhaseView, error) {
	return c.phaseCall(ctx, sessionID, "/answer", map[string]any{
		"player_id":   c.player(),
		"answerer_id": answererID,
	})
}

// TransitionPhase proposes a move; deadlineEpoch of zero lets the server pick the deadline.
func (c *Client) TransitionPhase(ctx context.Context, sessionID string, to string, deadlineEpoch int64) (coordinator.PhaseView, error) {
	payload := map[string]any{"to_phase": to, "player_id": c.player()}
	if deadlineEpoch > 0 {
		payload["deadline_epoch"] = deadlineEpoch
	}
	return c.phaseCall(ctx, sessionID, "/transition", payload)
}

func (c *Client) CheckDeadline(ctx context.Context, sessionID string) (coordinator.PhaseView, error) {
	return c.phaseCall(ctx, sessionID, "/deadline", nil)
}

func (c *Client) phaseCall(ctx context.Context, sessionID, suffix string, payload any) (coordinator.PhaseView, error) {
	var view coordinator.PhaseView
	path := "/api/sessions/" + url.PathEscape(sessionID) + suffix
	if err := c.do(ctx, http.MethodPost, path, payload, &view); err != nil {
		return view, err
	}
	c.observeServerNow(view.ServerNow)
	return view, nil
}

// SubmitVote casts the caller's ballot. Votes are insert-if-absent on the server, so the
// call is retried; ALREADY_VOTED after a retry means an earlier attempt landed.
func (c *Client) SubmitVote(ctx context.Context, sessionID, voteType, value string, round int) (coordinator.VoteReceipt, error) {
	key := voteKey(sessionID, voteType, round)
	c.track(key)
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/votes"
	payload := map[string]any{
		"player_id": c.player(),
		"vote_type": voteType,
		"value":     value,
		"round":     round,
	}
	var receipt coordinator.VoteReceipt
	attempts := 0
	err := c.retry(ctx, "vote", func() error {
		attempts++
		err := c.do(ctx, http.MethodPost, path, payload, &receipt)
		if attempts > 1 && errors.Is(err, coordinator.ErrAlreadyVoted) {
			return nil
		}
		return err
	})
	c.settle(key, err)
	return receipt, err
}

// TallyVotes asks the server to close a voting round. INCOMPLETE_VOTING is returned as an
// error with Retryable set; callers wait for the next vote_cast.
func (c *Client) TallyVotes(ctx context.Context, sessionID, voteType string, round int) (coordinator.TallyView, error) {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/tally"
	payload := map[string]any{"vote_type": voteType, "round": round}
	var view coordinator.TallyView
	err := c.retry(ctx, "tally", func() error {
		return c.do(ctx, http.MethodPost, path, payload, &view)
	})
	if err != nil {
		return coordinator.TallyView{}, err
	}
	c.observeServerNow(view.ServerNow)
	return view, nil
}

func voteKey(sessionID, voteType string, round int) string {
	return "vote:" + sessionID + ":" + voteType + ":" + strconv.Itoa(round)
}
