package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"insider/internal/db"
	"insider/internal/game"
)

type voteKey struct {
	sessionID string
	playerID  string
	voteType  string
	round     int
}

// Memory keeps everything in process behind one mutex. It is used when no database is
// configured and in tests; it honours the same conditional-write contract as Postgres.
type Memory struct {
	mu           sync.Mutex
	now          func() time.Time
	nextID       uint
	rooms        map[string]*db.Room
	players      map[string]*db.Player
	sessions     map[string]*db.GameSession
	roomSessions map[string][]string
	roles        map[string][]db.Role
	topics       map[string]*db.Topic
	library      []db.TopicLibrary
	votes        map[voteKey]db.Vote
	results      map[string]db.Result
	events       []db.Event
}

func NewMemory() *Memory {
	return &Memory{
		now:          func() time.Time { return time.Now().UTC() },
		nextID:       1,
		rooms:        make(map[string]*db.Room),
		players:      make(map[string]*db.Player),
		sessions:     make(map[string]*db.GameSession),
		roomSessions: make(map[string][]string),
		roles:        make(map[string][]db.Role),
		topics:       make(map[string]*db.Topic),
		votes:        make(map[voteKey]db.Vote),
		results:      make(map[string]db.Result),
	}
}

// SeedTopicLibrary adds library entries, skipping (difficulty, text) pairs already present.
func (m *Memory) SeedTopicLibrary(entries ...db.TopicLibrary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		exists := slices.ContainsFunc(m.library, func(existing db.TopicLibrary) bool {
			return existing.Difficulty == entry.Difficulty && existing.Text == entry.Text
		})
		if exists {
			continue
		}
		entry.ID = m.id()
		m.library = append(m.library, entry)
	}
}

// Events returns a copy of the audit log.
func (m *Memory) Events() []db.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

func (m *Memory) id() uint {
	id := m.nextID
	m.nextID++
	return id
}

func (m *Memory) CreateRoom(_ context.Context, room db.Room, host db.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	room.CreatedAt, room.UpdatedAt = now, now
	host.RoomID = room.ID
	host.CreatedAt, host.UpdatedAt = now, now
	m.rooms[room.ID] = &room
	m.players[host.ID] = &host
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (db.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return db.Room{}, ErrNotFound
	}
	return *room, nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return ErrNotFound
	}
	delete(m.rooms, roomID)
	for id, player := range m.players {
		if player.RoomID == roomID {
			delete(m.players, id)
		}
	}
	return nil
}

func (m *Memory) SetRoomHost(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	player, ok := m.players[playerID]
	if !ok || player.RoomID != roomID {
		return ErrNotFound
	}
	now := m.now()
	for _, p := range m.players {
		if p.RoomID == roomID && p.IsHost {
			p.IsHost = false
			p.UpdatedAt = now
		}
	}
	player.IsHost = true
	player.UpdatedAt = now
	room.HostPlayerID = playerID
	room.UpdatedAt = now
	return nil
}

func (m *Memory) SetRoomSuspended(_ context.Context, roomID string, suspended bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.Suspended = suspended
	room.UpdatedAt = m.now()
	return nil
}

func (m *Memory) CASRoomPhase(_ context.Context, roomID string, expected, next game.Phase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return false, ErrNotFound
	}
	if room.Phase != string(expected) {
		return false, nil
	}
	room.Phase = string(next)
	room.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) AddPlayer(_ context.Context, player db.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[player.RoomID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.players {
		if existing.RoomID == player.RoomID && existing.Nickname == player.Nickname {
			return ErrDuplicateNickname
		}
	}
	now := m.now()
	player.CreatedAt, player.UpdatedAt = now, now
	m.players[player.ID] = &player
	return nil
}

func (m *Memory) GetPlayer(_ context.Context, roomID, playerID string) (db.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	player, ok := m.players[playerID]
	if !ok || player.RoomID != roomID {
		return db.Player{}, ErrNotFound
	}
	return *player, nil
}

func (m *Memory) ListPlayers(_ context.Context, roomID string) ([]db.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	players := make([]db.Player, 0)
	for _, player := range m.players {
		if player.RoomID == roomID {
			players = append(players, *player)
		}
	}
	sortPlayers(players)
	return players, nil
}

func sortPlayers(players []db.Player) {
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})
}

func (m *Memory) RemovePlayer(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	player, ok := m.players[playerID]
	if !ok || player.RoomID != roomID {
		return ErrNotFound
	}
	delete(m.players, playerID)
	return nil
}

func (m *Memory) SetPlayerConnected(_ context.Context, roomID, playerID string, connected bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	player, ok := m.players[playerID]
	if !ok || player.RoomID != roomID {
		return false, ErrNotFound
	}
	changed := player.Connected != connected
	player.Connected = connected
	if connected {
		player.LastSeenAt = at
	}
	player.UpdatedAt = m.now()
	return changed, nil
}

func (m *Memory) DisconnectStale(_ context.Context, before time.Time) ([]db.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := make([]db.Player, 0)
	for _, player := range m.players {
		if player.Connected && player.LastSeenAt.Before(before) {
			player.Connected = false
			player.UpdatedAt = m.now()
			stale = append(stale, *player)
		}
	}
	sortPlayers(stale)
	return stale, nil
}

func (m *Memory) SetPlayerReady(_ context.Context, roomID, playerID string, ready bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	player, ok := m.players[playerID]
	if !ok || player.RoomID != roomID {
		return ErrNotFound
	}
	player.Ready = ready
	player.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ResetReady(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetReadyLocked(roomID)
	return nil
}

func (m *Memory) resetReadyLocked(roomID string) {
	now := m.now()
	for _, player := range m.players {
		if player.RoomID == roomID && player.Ready {
			player.Ready = false
			player.UpdatedAt = now
		}
	}
}

func (m *Memory) CountConnectedPlayers(_ context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, player := range m.players {
		if player.RoomID == roomID && player.Connected {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CreateSession(_ context.Context, ns NewSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := ns.Session
	room, ok := m.rooms[session.RoomID]
	if !ok {
		return ErrNotFound
	}
	if room.Phase != string(game.PhaseLobby) {
		return ErrStale
	}
	for _, id := range m.roomSessions[session.RoomID] {
		if m.sessions[id].Phase != string(game.PhaseResult) {
			return ErrStale
		}
	}

	now := m.now()
	room.Phase = string(game.PhaseDeal)
	room.UpdatedAt = now
	m.resetReadyLocked(room.ID)

	session.Candidates = slices.Clone(session.Candidates)
	session.CreatedAt, session.UpdatedAt = now, now
	m.sessions[session.ID] = &session
	m.roomSessions[session.RoomID] = append(m.roomSessions[session.RoomID], session.ID)

	roles := make([]db.Role, 0, len(ns.Roles))
	for _, role := range ns.Roles {
		role.ID = m.id()
		role.SessionID = session.ID
		role.CreatedAt = now
		roles = append(roles, role)
	}
	m.roles[session.ID] = roles

	topic := ns.Topic
	topic.ID = m.id()
	topic.SessionID = session.ID
	topic.RoomID = session.RoomID
	topic.Options = slices.Clone(topic.Options)
	topic.CreatedAt, topic.UpdatedAt = now, now
	m.topics[session.ID] = &topic
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (db.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return db.GameSession{}, ErrNotFound
	}
	return copySession(session), nil
}

func (m *Memory) LatestSession(_ context.Context, roomID string) (db.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.roomSessions[roomID]
	if len(ids) == 0 {
		return db.GameSession{}, ErrNotFound
	}
	return copySession(m.sessions[ids[len(ids)-1]]), nil
}

func copySession(session *db.GameSession) db.GameSession {
	out := *session
	out.Candidates = slices.Clone(session.Candidates)
	if session.DeadlineAt != nil {
		deadline := *session.DeadlineAt
		out.DeadlineAt = &deadline
	}
	return out
}

func (m *Memory) AdvanceSession(_ context.Context, sessionID string, guard Guard, next Advance, result *db.Result) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if session.Phase != string(guard.Phase) || session.VoteRound != guard.VoteRound {
		return false, nil
	}
	if result != nil {
		if _, exists := m.results[sessionID]; exists {
			return false, ErrResultExists
		}
	}

	now := m.now()
	session.Phase = string(next.Phase)
	session.DeadlineAt = nil
	if next.DeadlineAt != nil {
		deadline := *next.DeadlineAt
		session.DeadlineAt = &deadline
	}
	if next.AnswererID != "" {
		session.AnswererID = next.AnswererID
	}
	session.VoteRound = next.VoteRound
	session.Candidates = slices.Clone(next.Candidates)
	session.Version++
	session.UpdatedAt = now

	if room, ok := m.rooms[session.RoomID]; ok {
		room.Phase = string(next.Phase)
		room.UpdatedAt = now
	}
	if result != nil {
		result.ID = m.id()
		result.SessionID = sessionID
		result.CreatedAt = now
		m.results[sessionID] = *result
	}
	return true, nil
}

func (m *Memory) ListRoles(_ context.Context, sessionID string) ([]db.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(m.roles[sessionID]), nil
}

func (m *Memory) GetTopic(_ context.Context, sessionID string) (db.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	topic, ok := m.topics[sessionID]
	if !ok {
		return db.Topic{}, ErrNotFound
	}
	out := *topic
	out.Options = slices.Clone(topic.Options)
	return out, nil
}

func (m *Memory) SetTopicText(_ context.Context, sessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	topic, ok := m.topics[sessionID]
	if !ok {
		return ErrNotFound
	}
	topic.Text = text
	topic.UpdatedAt = m.now()
	return nil
}

func (m *Memory) UsedTopics(_ context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := make([]string, 0)
	for _, id := range m.roomSessions[roomID] {
		if topic, ok := m.topics[id]; ok {
			used = append(used, topic.Text)
		}
	}
	return used, nil
}

func (m *Memory) ListTopicLibrary(_ context.Context, difficulty game.Difficulty) ([]db.TopicLibrary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]db.TopicLibrary, 0)
	for _, entry := range m.library {
		if entry.Difficulty == string(difficulty) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m *Memory) InsertVoteIfAbsent(_ context.Context, vote *db.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[vote.SessionID]; !ok {
		return ErrNotFound
	}
	key := voteKey{sessionID: vote.SessionID, playerID: vote.PlayerID, voteType: vote.VoteType, round: vote.Round}
	if _, exists := m.votes[key]; exists {
		return ErrDuplicateVote
	}
	vote.ID = m.id()
	vote.CreatedAt = m.now()
	m.votes[key] = *vote
	return nil
}

func (m *Memory) ListVotes(_ context.Context, sessionID string, voteType game.VoteType, round int) ([]db.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	votes := make([]db.Vote, 0)
	for key, vote := range m.votes {
		if key.sessionID == sessionID && key.voteType == string(voteType) && key.round == round {
			votes = append(votes, vote)
		}
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].ID < votes[j].ID })
	return votes, nil
}

func (m *Memory) CountVotes(ctx context.Context, sessionID string, voteType game.VoteType, round int) (int, error) {
	votes, err := m.ListVotes(ctx, sessionID, voteType, round)
	return len(votes), err
}

func (m *Memory) InsertResultIfAbsent(_ context.Context, result *db.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[result.SessionID]; !ok {
		return ErrNotFound
	}
	if _, exists := m.results[result.SessionID]; exists {
		return ErrResultExists
	}
	result.ID = m.id()
	result.CreatedAt = m.now()
	m.results[result.SessionID] = *result
	return nil
}

func (m *Memory) GetResult(_ context.Context, sessionID string) (db.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.results[sessionID]
	if !ok {
		return db.Result{}, ErrNotFound
	}
	return result, nil
}

func (m *Memory) AppendEvent(_ context.Context, event db.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.id()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now()
	}
	m.events = append(m.events, event)
	return nil
}
