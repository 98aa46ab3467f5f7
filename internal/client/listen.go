package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"insider/internal/coordinator"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func (c *Client) websocketURL(roomID string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u += "/ws/rooms/" + url.PathEscape(roomID)
	if player := c.player(); player != "" {
		u += "?player_id=" + url.QueryEscape(player)
	}
	return u
}

// Listen subscribes to the room and dispatches every envelope until ctx is done. Dropped
// connections are re-dialled with backoff; each reconnect starts with a fresh snapshot.
func (c *Client) Listen(ctx context.Context, roomID string) error {
	for {
		conn, err := c.dial(ctx, roomID)
		if err != nil {
			return err
		}
		err = c.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info("websocket dropped, reconnecting", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (c *Client) dial(ctx context.Context, roomID string) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		var resp *http.Response
		var err error
		conn, resp, err = websocket.DefaultDialer.DialContext(ctx, c.websocketURL(roomID), nil)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if resp != nil && resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError &&
			resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(errors.Wrapf(err, "dial room %s: status %d", roomID, resp.StatusCode))
		}
		return err
	}, backoff.WithContext(c.backoff(), ctx))
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope coordinator.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			c.logger.Warn("undecodable envelope", zap.Error(err))
			continue
		}
		c.Dispatch(ctx, envelope)
	}
}
