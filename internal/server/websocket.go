package server

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"insider/internal/coordinator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// subscriber is one websocket connection. gorilla allows a single concurrent writer, so
// writes go through mu.
type subscriber struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	roomID   string
	playerID string
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *subscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub groups subscribers by room. Session channels are routed through the room the
// broadcast belongs to.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*subscriber]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[*subscriber]struct{}),
		logger: logger.Named("hub"),
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.rooms[sub.roomID]
	if group == nil {
		group = make(map[*subscriber]struct{})
		h.rooms[sub.roomID] = group
	}
	group[sub] = struct{}{}
}

// remove closes the connection and reports whether the player has no other live
// connection in the room.
func (h *Hub) remove(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = sub.conn.Close()
	group := h.rooms[sub.roomID]
	delete(group, sub)
	if len(group) == 0 {
		delete(h.rooms, sub.roomID)
		return true
	}
	for other := range group {
		if other.playerID == sub.playerID {
			return false
		}
	}
	return true
}

func (h *Hub) members(roomID string) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.rooms[roomID]
	subs := make([]*subscriber, 0, len(group))
	for sub := range group {
		subs = append(subs, sub)
	}
	return subs
}

// Count is the number of live subscribers of a room.
func (h *Hub) Count(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// Publish sends one envelope, with one id, to every subscriber of the broadcast's room.
func (h *Hub) Publish(_ context.Context, channel, event string, b coordinator.Broadcast) {
	envelope := coordinator.Envelope{
		ID:        uuid.NewString(),
		Channel:   channel,
		Event:     event,
		Broadcast: &b,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("envelope encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	for _, sub := range h.members(b.RoomID) {
		if err := sub.write(data); err != nil {
			h.logger.Debug("subscriber dropped", zap.String("room_id", sub.roomID), zap.Error(err))
			h.remove(sub)
		}
	}
}

func (h *Hub) send(sub *subscriber, envelope coordinator.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return sub.write(data)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()
	for _, group := range rooms {
		for sub := range group {
			_ = sub.conn.Close()
		}
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(s.cfg.AllowedOrigins, origin) || slices.Contains(s.cfg.AllowedOrigins, "*")
		},
	}
}

// handleWebsocket subscribes a client to its room. A player_id marks the player connected
// for as long as the socket lives; every inbound message counts as a heartbeat.
func (s *Server) handleWebsocket(c *gin.Context) {
	roomID := c.Param("roomID")
	var query viewerQuery
	if !bindQuery(c, &query) {
		return
	}
	ctx := c.Request.Context()
	if query.PlayerID != "" {
		if _, err := s.coord.Heartbeat(ctx, roomID, query.PlayerID); err != nil {
			writeError(c, err)
			return
		}
	}
	snap, err := s.coord.Snapshot(ctx, coordinator.SnapshotRequest{RoomID: roomID, ViewerID: query.PlayerID})
	if err != nil {
		writeError(c, err)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	sub := &subscriber{conn: conn, roomID: roomID, playerID: query.PlayerID}
	s.hub.add(sub)
	s.logger.Info("ws connected",
		zap.String("room_id", roomID),
		zap.String("player_id", query.PlayerID),
		zap.String("remote", c.Request.RemoteAddr))

	if err := s.hub.send(sub, coordinator.Envelope{
		ID:       uuid.NewString(),
		Channel:  coordinator.RoomChannel(roomID),
		Event:    coordinator.EventSnapshot,
		Snapshot: &snap,
	}); err != nil {
		s.hub.remove(sub)
		return
	}
	go s.readWS(sub)
}

func (s *Server) readWS(sub *subscriber) {
	done := make(chan struct{})
	defer func() {
		close(done)
		last := s.hub.remove(sub)
		if sub.playerID == "" || !last {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if _, err := s.coord.Disconnect(ctx, sub.roomID, sub.playerID); err != nil {
			s.logger.Debug("disconnect on close failed", zap.String("room_id", sub.roomID), zap.Error(err))
		}
	}()

	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sub.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			s.logger.Info("ws disconnected", zap.String("room_id", sub.roomID), zap.String("player_id", sub.playerID), zap.Error(err))
			return
		}
		_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		if sub.playerID == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_, err := s.coord.Heartbeat(ctx, sub.roomID, sub.playerID)
		cancel()
		if err != nil {
			s.logger.Debug("ws heartbeat failed", zap.String("room_id", sub.roomID), zap.Error(err))
		}
	}
}
