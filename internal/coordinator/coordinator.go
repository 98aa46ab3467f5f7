// Package coordinator is the only writer of game phases and the only publisher of game
// events. It keeps no game state of its own: every operation reads the store, checks the
// expected phase, applies one conditional write and publishes what changed.
package coordinator

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"insider/internal/db"
	"insider/internal/game"
	"insider/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Publisher is the event bus. Publish is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, broadcast Broadcast)
}

type Config struct {
	TopicDuration    time.Duration
	QuestionDuration time.Duration
	PresenceTimeout  time.Duration
	TopicOptions     int
	MaxPlayers       int
}

func DefaultConfig() Config {
	return Config{
		TopicDuration:    10 * time.Second,
		QuestionDuration: 300 * time.Second,
		PresenceTimeout:  30 * time.Second,
		TopicOptions:     game.DefaultTopicOptions,
		MaxPlayers:       12,
	}
}

type Coordinator struct {
	store  store.Store
	bus    Publisher
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	rng    game.Rand
	newID  func() string
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithRand(rng game.Rand) Option {
	return func(c *Coordinator) { c.rng = &lockedRand{r: rng} }
}

func WithIDs(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

func New(st store.Store, bus Publisher, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	defaults := DefaultConfig()
	if cfg.TopicDuration <= 0 {
		cfg.TopicDuration = defaults.TopicDuration
	}
	if cfg.QuestionDuration <= 0 {
		cfg.QuestionDuration = defaults.QuestionDuration
	}
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = defaults.PresenceTimeout
	}
	if cfg.TopicOptions <= 0 {
		cfg.TopicOptions = defaults.TopicOptions
	}
	if cfg.MaxPlayers < game.MinPlayers {
		cfg.MaxPlayers = defaults.MaxPlayers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		store:  st,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		rng:    &lockedRand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))},
		newID:  newUUID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newUUID() string {
	return uuid.NewString()
}

type lockedRand struct {
	mu sync.Mutex
	r  game.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (c *Coordinator) loadSession(ctx context.Context, sessionID string) (db.GameSession, error) {
	if sessionID == "" {
		return db.GameSession{}, newError(CodeValidation, "session_id is required")
	}
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return db.GameSession{}, fromStore(err, "session")
	}
	return session, nil
}

// loadRoomSession also checks that the session belongs to roomID when one is given.
func (c *Coordinator) loadRoomSession(ctx context.Context, sessionID, roomID string) (db.GameSession, error) {
	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return db.GameSession{}, err
	}
	if roomID != "" && session.RoomID != roomID {
		return db.GameSession{}, newError(CodeNotFound, "session not found in room")
	}
	return session, nil
}

func (c *Coordinator) loadRoom(ctx context.Context, roomID string) (db.Room, error) {
	if roomID == "" {
		return db.Room{}, newError(CodeValidation, "room_id is required")
	}
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return db.Room{}, fromStore(err, "room")
	}
	return room, nil
}

func (c *Coordinator) ensureActive(ctx context.Context, roomID string) error {
	room, err := c.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Suspended {
		return newError(CodeSuspended, "room is suspended")
	}
	return nil
}

type roster struct {
	roles     map[string]game.Role
	masterID  string
	insiderID string
}

func (c *Coordinator) loadRoster(ctx context.Context, session db.GameSession) (roster, error) {
	rows, err := c.store.ListRoles(ctx, session.ID)
	if err != nil {
		return roster{}, fromStore(err, "roles")
	}
	r := roster{roles: make(map[string]game.Role, len(rows)), masterID: session.MasterID, insiderID: session.InsiderID}
	for _, row := range rows {
		r.roles[row.PlayerID] = row.Role
	}
	return r, nil
}

// quorum is the connected players of the room who hold a role in the session.
func (c *Coordinator) quorum(ctx context.Context, session db.GameSession, r roster) ([]string, error) {
	players, err := c.store.ListPlayers(ctx, session.RoomID)
	if err != nil {
		return nil, fromStore(err, "players")
	}
	ids := make([]string, 0, len(players))
	for _, player := range players {
		if !player.Connected {
			continue
		}
		if _, ok := r.roles[player.ID]; ok {
			ids = append(ids, player.ID)
		}
	}
	return ids, nil
}

func deadlineOf(session db.GameSession) time.Time {
	if session.DeadlineAt == nil {
		return time.Time{}
	}
	return *session.DeadlineAt
}

func (c *Coordinator) phaseView(session db.GameSession, applied bool) PhaseView {
	return PhaseView{
		SessionID:     session.ID,
		Phase:         game.Phase(session.Phase),
		DeadlineEpoch: game.Epoch(deadlineOf(session)),
		ServerNow:     game.Epoch(c.now()),
		Version:       session.Version,
		VoteRound:     session.VoteRound,
		Candidates:    []string(session.Candidates),
		AnswererID:    session.AnswererID,
		Applied:       applied,
	}
}

func (c *Coordinator) sessionBroadcast(session db.GameSession, payload map[string]any) Broadcast {
	return Broadcast{
		RoomID:        session.RoomID,
		SessionID:     session.ID,
		Phase:         game.Phase(session.Phase),
		DeadlineEpoch: game.Epoch(deadlineOf(session)),
		ServerNow:     game.Epoch(c.now()),
		Version:       session.Version,
		Payload:       payload,
	}
}

func (c *Coordinator) roomBroadcast(room db.Room, payload map[string]any) Broadcast {
	return Broadcast{
		RoomID:    room.ID,
		Phase:     game.Phase(room.Phase),
		ServerNow: game.Epoch(c.now()),
		Payload:   payload,
	}
}

// publish records the event in the audit log and hands it to the bus. Neither failure
// is returned: the store already holds the state the event describes.
func (c *Coordinator) publish(ctx context.Context, channel, event string, b Broadcast) {
	payload, err := json.Marshal(b)
	if err == nil {
		err = c.store.AppendEvent(ctx, db.Event{
			RoomID:    b.RoomID,
			SessionID: b.SessionID,
			Type:      event,
			Payload:   payload,
		})
	}
	if err != nil {
		c.logger.Warn("event log append failed",
			zap.String("event", event),
			zap.String("room_id", b.RoomID),
			zap.String("session_id", b.SessionID),
			zap.Error(err))
	}
	if c.bus != nil {
		c.bus.Publish(ctx, channel, event, b)
	}
}

// advance applies one guarded session write. When it loses the race it returns the
// session as the winner left it and applied=false.
func (c *Coordinator) advance(ctx context.Context, session db.GameSession, next store.Advance, result *db.Result, reason string) (db.GameSession, bool, error) {
	guard := store.Guard{Phase: game.Phase(session.Phase), VoteRound: session.VoteRound}
	applied, err := c.store.AdvanceSession(ctx, session.ID, guard, next, result)
	if err != nil && !errors.Is(err, store.ErrResultExists) {
		c.logger.Error("session advance failed",
			zap.String("session_id", session.ID),
			zap.String("from", session.Phase),
			zap.String("to", string(next.Phase)),
			zap.Error(err))
		return db.GameSession{}, false, fromStore(err, "session")
	}
	current, getErr := c.loadSession(ctx, session.ID)
	if getErr != nil {
		return db.GameSession{}, false, getErr
	}
	if !applied {
		c.logger.Debug("transition lost race",
			zap.String("session_id", session.ID),
			zap.String("from", session.Phase),
			zap.String("to", string(next.Phase)),
			zap.String("now", current.Phase))
		return current, false, nil
	}
	c.logger.Info("phase transition",
		zap.String("session_id", session.ID),
		zap.String("room_id", session.RoomID),
		zap.String("from", session.Phase),
		zap.String("to", current.Phase),
		zap.String("reason", reason),
		zap.Int64("version", current.Version))
	return current, true, nil
}
