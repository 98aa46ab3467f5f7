package coordinator

import (
	"context"

	"insider/internal/db"
	"insider/internal/game"
	"insider/internal/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type StartRequest struct {
	RoomID string
	// CallerID, when set, must be the host.
	CallerID   string
	Difficulty string
}

// StartSession deals roles and draws topic options for a room in the lobby. Concurrent
// starters all receive the single session that won.
func (c *Coordinator) StartSession(ctx context.Context, req StartRequest) (StartResult, error) {
	difficulty, err := game.ParseDifficulty(req.Difficulty)
	if err != nil {
		return StartResult{}, &Error{Code: CodeValidation, Message: "unknown difficulty", Err: err}
	}
	room, err := c.loadRoom(ctx, req.RoomID)
	if err != nil {
		return StartResult{}, err
	}
	if room.Suspended {
		return StartResult{}, newError(CodeSuspended, "room is suspended")
	}
	if req.CallerID != "" && req.CallerID != room.HostPlayerID {
		return StartResult{}, newError(CodeForbidden, "only the host can start a session")
	}
	if game.Phase(room.Phase) != game.PhaseLobby {
		return c.existingSession(ctx, room)
	}

	players, err := c.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return StartResult{}, fromStore(err, "players")
	}
	connected := make([]string, 0, len(players))
	for _, player := range players {
		if player.Connected {
			connected = append(connected, player.ID)
		}
	}
	if len(connected) < game.MinPlayers {
		return StartResult{}, newErrorf(CodeNotEnoughPlayers, "%d connected players, need %d", len(connected), game.MinPlayers)
	}

	previousMaster := ""
	latest, err := c.store.LatestSession(ctx, room.ID)
	switch {
	case err == nil:
		previousMaster = latest.MasterID
	case errors.Is(err, store.ErrNotFound):
	default:
		return StartResult{}, fromStore(err, "session")
	}

	assignment, err := game.Deal(connected, previousMaster, c.rng)
	if err != nil {
		if errors.Is(err, game.ErrNotEnoughPlayers) {
			return StartResult{}, &Error{Code: CodeNotEnoughPlayers, Message: "not enough players", Err: err}
		}
		return StartResult{}, &Error{Code: CodeUnavailable, Message: "role deal failed", Err: err}
	}
	options, err := c.drawTopics(ctx, room.ID, difficulty)
	if err != nil {
		return StartResult{}, err
	}

	now := c.now()
	session := db.GameSession{
		ID:               c.newID(),
		RoomID:           room.ID,
		Difficulty:       string(difficulty),
		Phase:            string(game.PhaseDeal),
		StartedAt:        now,
		PreviousMasterID: previousMaster,
		MasterID:         assignment.MasterID,
		InsiderID:        assignment.InsiderID,
		Version:          1,
	}
	roles := make([]db.Role, 0, len(assignment.Roles))
	for _, id := range connected {
		roles = append(roles, db.Role{SessionID: session.ID, PlayerID: id, Role: assignment.Roles[id]})
	}
	texts := make([]string, 0, len(options))
	for _, option := range options {
		texts = append(texts, option.Text)
	}
	topic := db.Topic{
		SessionID:  session.ID,
		RoomID:     room.ID,
		Text:       texts[0],
		Difficulty: string(difficulty),
		Options:    texts,
	}

	err = c.store.CreateSession(ctx, store.NewSession{Session: session, Roles: roles, Topic: topic})
	if errors.Is(err, store.ErrStale) {
		c.logger.Debug("session start lost race", zap.String("room_id", room.ID))
		current, getErr := c.loadRoom(ctx, room.ID)
		if getErr != nil {
			return StartResult{}, getErr
		}
		return c.existingSession(ctx, current)
	}
	if err != nil {
		return StartResult{}, fromStore(err, "session")
	}

	c.logger.Info("session started",
		zap.String("room_id", room.ID),
		zap.String("session_id", session.ID),
		zap.String("difficulty", string(difficulty)),
		zap.Int("players", len(connected)))

	c.publish(ctx, RoomChannel(room.ID), EventSessionStarted, c.sessionBroadcast(session, map[string]any{
		"master_id":  session.MasterID,
		"difficulty": session.Difficulty,
		"players":    connected,
	}))
	c.publish(ctx, SessionChannel(session.ID), EventPhaseChanged, c.sessionBroadcast(session, map[string]any{
		"reason": string(game.EventStart),
	}))

	result := StartResult{
		SessionID:       session.ID,
		RoomID:          room.ID,
		Phase:           game.PhaseDeal,
		RoleAssignments: make([]RoleAssignment, 0, len(roles)),
		TopicOptions:    texts,
		ServerNow:       game.Epoch(now),
		Version:         session.Version,
	}
	for _, role := range roles {
		result.RoleAssignments = append(result.RoleAssignments, RoleAssignment{PlayerID: role.PlayerID, Role: role.Role})
	}
	return result, nil
}

// existingSession answers a start request for a room that already left the lobby.
func (c *Coordinator) existingSession(ctx context.Context, room db.Room) (StartResult, error) {
	session, err := c.store.LatestSession(ctx, room.ID)
	if err != nil {
		return StartResult{}, fromStore(err, "session")
	}
	if game.Phase(session.Phase) == game.PhaseResult {
		return StartResult{}, newError(CodeInvalidPhase, "room has not returned to the lobby")
	}
	rows, err := c.store.ListRoles(ctx, session.ID)
	if err != nil {
		return StartResult{}, fromStore(err, "roles")
	}
	topic, err := c.store.GetTopic(ctx, session.ID)
	if err != nil {
		return StartResult{}, fromStore(err, "topic")
	}
	result := StartResult{
		SessionID:       session.ID,
		RoomID:          session.RoomID,
		Phase:           game.Phase(session.Phase),
		RoleAssignments: make([]RoleAssignment, 0, len(rows)),
		TopicOptions:    []string(topic.Options),
		ServerNow:       game.Epoch(c.now()),
		Version:         session.Version,
	}
	for _, row := range rows {
		result.RoleAssignments = append(result.RoleAssignments, RoleAssignment{PlayerID: row.PlayerID, Role: row.Role})
	}
	return result, nil
}

// drawTopics offers the Master fresh options. Topics already played in the room are skipped
// until the pool runs dry, then the history is ignored.
func (c *Coordinator) drawTopics(ctx context.Context, roomID string, difficulty game.Difficulty) ([]game.Topic, error) {
	entries, err := c.store.ListTopicLibrary(ctx, difficulty)
	if err != nil {
		return nil, fromStore(err, "topic library")
	}
	pool := make([]game.Topic, 0, len(entries))
	for _, entry := range entries {
		pool = append(pool, game.Topic{Text: entry.Text, Difficulty: game.Difficulty(entry.Difficulty)})
	}
	if len(pool) == 0 {
		pool = game.FallbackTopics()
	}

	played, err := c.store.UsedTopics(ctx, roomID)
	if err != nil {
		return nil, fromStore(err, "topics")
	}
	used := make(map[string]struct{}, len(played))
	for _, text := range played {
		used[game.TopicKey(text)] = struct{}{}
	}

	options, err := game.DrawTopics(pool, difficulty, used, c.cfg.TopicOptions, c.rng)
	if errors.Is(err, game.ErrNoTopics) && len(used) > 0 {
		c.logger.Info("topic pool exhausted, recycling", zap.String("room_id", roomID), zap.String("difficulty", string(difficulty)))
		options, err = game.DrawTopics(pool, difficulty, nil, c.cfg.TopicOptions, c.rng)
	}
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Message: "no topics available", Err: err}
	}
	return options, nil
}

// ConfirmRole marks a player as having seen their role. Once every connected role holder
// has confirmed, the topic reveal starts.
func (c *Coordinator) ConfirmRole(ctx context.Context, sessionID, playerID string) (PhaseView, error) {
	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return PhaseView{}, err
	}
	if err := c.ensureActive(ctx, session.RoomID); err != nil {
		return PhaseView{}, err
	}
	phase := game.Phase(session.Phase)
	if phase != game.PhaseDeal {
		if phase.Rank() > game.PhaseDeal.Rank() {
			return c.phaseView(session, false), nil
		}
		return PhaseView{}, newErrorf(CodeInvalidPhase, "roles cannot be confirmed in %s", phase)
	}
	r, err := c.loadRoster(ctx, session)
	if err != nil {
		return PhaseView{}, err
	}
	if _, ok := r.roles[playerID]; !ok {
		return PhaseView{}, newError(CodeForbidden, "player holds no role in this session")
	}
	if err := c.store.SetPlayerReady(ctx, session.RoomID, playerID, true); err != nil {
		return PhaseView{}, fromStore(err, "player")
	}
	c.publish(ctx, SessionChannel(session.ID), EventRoleConfirmed, c.sessionBroadcast(session, map[string]any{
		"player_id": playerID,
	}))

	players, err := c.store.ListPlayers(ctx, session.RoomID)
	if err != nil {
		return PhaseView{}, fromStore(err, "players")
	}
	waiting := 0
	for _, player := range players {
		if _, ok := r.roles[player.ID]; ok && player.Connected && !player.Ready {
			waiting++
		}
	}
	if waiting > 0 {
		return c.phaseView(session, false), nil
	}
	deadline := game.DeadlineAfter(c.now(), c.cfg.TopicDuration)
	return c.moveTo(ctx, session, game.PhaseTopic, deadline, game.EventRolesConfirmed)
}

// SelectTopic lets the Master swap the secret word for another offered option.
func (c *Coordinator) SelectTopic(ctx context.Context, sessionID, callerID, text string) error {
	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := c.ensureActive(ctx, session.RoomID); err != nil {
		return err
	}
	if callerID == "" || callerID != session.MasterID {
		return newError(CodeForbidden, "only the Master can choose the topic")
	}
	switch game.Phase(session.Phase) {
	case game.PhaseDeal, game.PhaseTopic:
	default:
		return newErrorf(CodeInvalidPhase, "topic is fixed in %s", session.Phase)
	}
	topic, err := c.store.GetTopic(ctx, session.ID)
	if err != nil {
		return fromStore(err, "topic")
	}
	key := game.TopicKey(text)
	for _, option := range topic.Options {
		if game.TopicKey(option) != key {
			continue
		}
		if err := c.store.SetTopicText(ctx, session.ID, option); err != nil {
			return fromStore(err, "topic")
		}
		c.logger.Debug("topic selected", zap.String("session_id", session.ID))
		return nil
	}
	return newError(CodeValidation, "topic was not offered")
}
