package coordinator

import (
	"context"
	"strings"

	"insider/internal/db"
	"insider/internal/game"

	"go.uber.org/zap"
)

func normalizeNickname(nickname string) string {
	return strings.Join(strings.Fields(nickname), " ")
}

// CreateRoom opens a lobby with its creator as host.
func (c *Coordinator) CreateRoom(ctx context.Context, nickname string) (JoinResult, error) {
	nickname = normalizeNickname(nickname)
	if nickname == "" {
		return JoinResult{}, newError(CodeValidation, "nickname is required")
	}
	now := c.now()
	room := db.Room{ID: c.newID(), Phase: string(game.PhaseLobby)}
	host := db.Player{
		ID:         c.newID(),
		RoomID:     room.ID,
		Nickname:   nickname,
		IsHost:     true,
		Connected:  true,
		LastSeenAt: now,
		JoinedAt:   now,
	}
	room.HostPlayerID = host.ID
	if err := c.store.CreateRoom(ctx, room, host); err != nil {
		return JoinResult{}, fromStore(err, "room")
	}
	c.logger.Info("room created", zap.String("room_id", room.ID), zap.String("host_id", host.ID))
	return JoinResult{RoomID: room.ID, PlayerID: host.ID, IsHost: true, ServerNow: game.Epoch(now)}, nil
}

func (c *Coordinator) JoinRoom(ctx context.Context, roomID, nickname string) (JoinResult, error) {
	nickname = normalizeNickname(nickname)
	if nickname == "" {
		return JoinResult{}, newError(CodeValidation, "nickname is required")
	}
	room, err := c.loadRoom(ctx, roomID)
	if err != nil {
		return JoinResult{}, err
	}
	if room.Suspended {
		return JoinResult{}, newError(CodeSuspended, "room is suspended")
	}
	players, err := c.store.ListPlayers(ctx, roomID)
	if err != nil {
		return JoinResult{}, fromStore(err, "players")
	}
	if len(players) >= c.cfg.MaxPlayers {
		return JoinResult{}, newErrorf(CodeConflict, "room is full (%d players)", c.cfg.MaxPlayers)
	}

	now := c.now()
	player := db.Player{
		ID:         c.newID(),
		RoomID:     roomID,
		Nickname:   nickname,
		Connected:  true,
		LastSeenAt: now,
		JoinedAt:   now,
	}
	if err := c.store.AddPlayer(ctx, player); err != nil {
		return JoinResult{}, fromStore(err, "room")
	}
	c.logger.Info("player joined", zap.String("room_id", roomID), zap.String("player_id", player.ID))
	c.publish(ctx, RoomChannel(roomID), EventPresenceChanged, c.roomBroadcast(room, map[string]any{
		"player_id": player.ID,
		"nickname":  player.Nickname,
		"joined":    true,
		"connected": true,
	}))
	return JoinResult{RoomID: roomID, PlayerID: player.ID, ServerNow: game.Epoch(now)}, nil
}

// LeaveRoom removes a player. The room is deleted with its last player; a departing host
// hands over to the earliest remaining player.
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	room, err := c.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := c.store.GetPlayer(ctx, roomID, playerID); err != nil {
		return fromStore(err, "player")
	}
	if err := c.store.RemovePlayer(ctx, roomID, playerID); err != nil {
		return fromStore(err, "player")
	}
	remaining, err := c.store.ListPlayers(ctx, roomID)
	if err != nil {
		return fromStore(err, "players")
	}
	if len(remaining) == 0 {
		if err := c.store.DeleteRoom(ctx, roomID); err != nil {
			return fromStore(err, "room")
		}
		c.logger.Info("room closed", zap.String("room_id", roomID))
		return nil
	}

	c.publish(ctx, RoomChannel(roomID), EventPresenceChanged, c.roomBroadcast(room, map[string]any{
		"player_id": playerID,
		"left":      true,
		"connected": false,
	}))
	if room.HostPlayerID == playerID {
		return c.delegateHost(ctx, room, remaining)
	}
	return nil
}

// delegateHost makes the earliest connected player host, or the earliest player when
// nobody is connected.
func (c *Coordinator) delegateHost(ctx context.Context, room db.Room, players []db.Player) error {
	next := ""
	for _, player := range players {
		if player.ID == room.HostPlayerID {
			continue
		}
		if player.Connected {
			next = player.ID
			break
		}
		if next == "" {
			next = player.ID
		}
	}
	if next == "" {
		return nil
	}
	if err := c.store.SetRoomHost(ctx, room.ID, next); err != nil {
		return fromStore(err, "room")
	}
	c.logger.Info("host delegated",
		zap.String("room_id", room.ID),
		zap.String("from", room.HostPlayerID),
		zap.String("to", next))
	c.publish(ctx, RoomChannel(room.ID), EventHostChanged, c.roomBroadcast(room, map[string]any{
		"host_player_id":   next,
		"previous_host_id":   room.HostPlayerID,
	}))
	return nil
}

// Heartbeat marks a player connected and refreshes last_seen_at.
func (c *Coordinator) Heartbeat(ctx context.Context, roomID, playerID string) (PresenceView, error) {
	return c.setPresence(ctx, roomID, playerID, true)
}

// Disconnect marks a player disconnected immediately, e.g. when their socket closes.
func (c *Coordinator) Disconnect(ctx context.Context, roomID, playerID string) (PresenceView, error) {
	return c.setPresence(ctx, roomID, playerID, false)
}

func (c *Coordinator) setPresence(ctx context.Context, roomID, playerID string, connected bool) (PresenceView, error) {
	room, err := c.loadRoom(ctx, roomID)
	if err != nil {
		return PresenceView{}, err
	}
	now := c.now()
	changed, err := c.store.SetPlayerConnected(ctx, roomID, playerID, connected, now)
	if err != nil {
		return PresenceView{}, fromStore(err, "player")
	}
	view := PresenceView{PlayerID: playerID, Connected: connected, ServerNow: game.Epoch(now)}
	if !changed {
		return view, nil
	}
	c.publish(ctx, RoomChannel(roomID), EventPresenceChanged, c.roomBroadcast(room, map[string]any{
		"player_id": playerID,
		"connected": connected,
	}))
	c.announceVoteProgress(ctx, roomID)
	if !connected && room.HostPlayerID == playerID {
		players, err := c.store.ListPlayers(ctx, roomID)
		if err != nil {
			return view, fromStore(err, "players")
		}
		if hasConnected(players) {
			if err := c.delegateHost(ctx, room, players); err != nil {
				return view, err
			}
		}
	}
	return view, nil
}

func hasConnected(players []db.Player) bool {
	for _, player := range players {
		if player.Connected {
			return true
		}
	}
	return false
}

// SweepPresence disconnects players whose last heartbeat is older than the presence
// timeout and moves the host role away from disconnected hosts. It returns how many
// players were disconnected.
func (c *Coordinator) SweepPresence(ctx context.Context) (int, error) {
	stale, err := c.store.DisconnectStale(ctx, c.now().Add(-c.cfg.PresenceTimeout))
	if err != nil {
		return 0, fromStore(err, "players")
	}
	byRoom := make(map[string][]string)
	order := make([]string, 0)
	for _, player := range stale {
		if _, seen := byRoom[player.RoomID]; !seen {
			order = append(order, player.RoomID)
		}
		byRoom[player.RoomID] = append(byRoom[player.RoomID], player.ID)
	}

	for _, roomID := range order {
		room, err := c.store.GetRoom(ctx, roomID)
		if err != nil {
			c.logger.Warn("presence sweep skipped room", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		for _, playerID := range byRoom[roomID] {
			c.publish(ctx, RoomChannel(roomID), EventPresenceChanged, c.roomBroadcast(room, map[string]any{
				"player_id": playerID,
				"connected": false,
			}))
			if playerID != room.HostPlayerID {
				continue
			}
			players, err := c.store.ListPlayers(ctx, roomID)
			if err != nil {
				return len(stale), fromStore(err, "players")
			}
			if hasConnected(players) {
				if err := c.delegateHost(ctx, room, players); err != nil {
					return len(stale), err
				}
			}
		}
		c.announceVoteProgress(ctx, roomID)
	}
	if len(stale) > 0 {
		c.logger.Debug("presence sweep", zap.Int("disconnected", len(stale)))
	}
	return len(stale), nil
}

// SetSuspended pauses or resumes a room. Only the host may do it.
func (c *Coordinator) SetSuspended(ctx context.Context, roomID, callerID string, suspended bool) (RoomView, error) {
	room, err := c.loadRoom(ctx, roomID)
	if err != nil {
		return RoomView{}, err
	}
	if callerID == "" || callerID != room.HostPlayerID {
		return RoomView{}, newError(CodeForbidden, "only the host can suspend the room")
	}
	if room.Suspended != suspended {
		if err := c.store.SetRoomSuspended(ctx, roomID, suspended); err != nil {
			return RoomView{}, fromStore(err, "room")
		}
		room.Suspended = suspended
		c.logger.Info("room suspension changed", zap.String("room_id", roomID), zap.Bool("suspended", suspended))
		c.publish(ctx, RoomChannel(roomID), EventRoomSuspended, c.roomBroadcast(room, map[string]any{
			"suspended": suspended,
		}))
	}
	return roomView(room), nil
}

func roomView(room db.Room) RoomView {
	return RoomView{
		ID:           room.ID,
		Phase:        game.Phase(room.Phase),
		HostPlayerID: room.HostPlayerID,
		Suspended:    room.Suspended,
	}
}
