package store

import (
	"context"
	"time"

	"insider/internal/db"
	"insider/internal/game"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres implements Store with GORM. Conditional writes are single UPDATE statements
// guarded by WHERE clauses; duplicates are rejected by unique indexes.
type Postgres struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPostgres(conn *gorm.DB) *Postgres {
	return &Postgres{
		db:  conn,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, what)
}

func (p *Postgres) CreateRoom(ctx context.Context, room db.Room, host db.Player) error {
	host.RoomID = room.ID
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&host).Error
	})
	if err != nil {
		return errors.Wrap(err, "create room")
	}
	return nil
}

func (p *Postgres) GetRoom(ctx context.Context, roomID string) (db.Room, error) {
	var room db.Room
	if err := p.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error; err != nil {
		return db.Room{}, notFound(err, "get room")
	}
	return room, nil
}

func (p *Postgres) DeleteRoom(ctx context.Context, roomID string) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&db.Player{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", roomID).Delete(&db.Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, "delete room")
}

func (p *Postgres) SetRoomHost(ctx context.Context, roomID, playerID string) error {
	now := p.now()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Player{}).
			Where("room_id = ? AND id = ?", roomID, playerID).
			Updates(map[string]any{"is_host": true, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&db.Player{}).
			Where("room_id = ? AND id <> ? AND is_host", roomID, playerID).
			Updates(map[string]any{"is_host": false, "updated_at": now}).Error; err != nil {
			return err
		}
		res = tx.Model(&db.Room{}).
			Where("id = ?", roomID).
			Updates(map[string]any{"host_player_id": playerID, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, "set room host")
}

func (p *Postgres) SetRoomSuspended(ctx context.Context, roomID string, suspended bool) error {
	res := p.db.WithContext(ctx).Model(&db.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]any{"suspended": suspended, "updated_at": p.now()})
	if res.Error != nil {
		return errors.Wrap(res.Error, "set room suspended")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CASRoomPhase(ctx context.Context, roomID string, expected, next game.Phase) (bool, error) {
	res := p.db.WithContext(ctx).Model(&db.Room{}).
		Where("id = ? AND phase = ?", roomID, string(expected)).
		Updates(map[string]any{"phase": string(next), "updated_at": p.now()})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "cas room phase")
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := p.GetRoom(ctx, roomID); err != nil {
		return false, err
	}
	return false, nil
}

func (p *Postgres) AddPlayer(ctx context.Context, player db.Player) error {
	if err := p.db.WithContext(ctx).Create(&player).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateNickname
		}
		return errors.Wrap(err, "add player")
	}
	return nil
}

func (p *Postgres) GetPlayer(ctx context.Context, roomID, playerID string) (db.Player, error) {
	var player db.Player
	err := p.db.WithContext(ctx).Where("room_id = ? AND id = ?", roomID, playerID).First(&player).Error
	if err != nil {
		return db.Player{}, notFound(err, "get player")
	}
	return player, nil
}

func (p *Postgres) ListPlayers(ctx context.Context, roomID string) ([]db.Player, error) {
	var players []db.Player
	err := p.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC, id ASC").
		Find(&players).Error
	if err != nil {
		return nil, errors.Wrap(err, "list players")
	}
	return players, nil
}

func (p *Postgres) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	res := p.db.WithContext(ctx).Where("room_id = ? AND id = ?", roomID, playerID).Delete(&db.Player{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "remove player")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetPlayerConnected(ctx context.Context, roomID, playerID string, connected bool, at time.Time) (bool, error) {
	changed := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var player db.Player
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ? AND id = ?", roomID, playerID).
			First(&player).Error; err != nil {
			return err
		}
		changed = player.Connected != connected
		updates := map[string]any{"connected": connected, "updated_at": p.now()}
		if connected {
			updates["last_seen_at"] = at
		}
		return tx.Model(&db.Player{}).Where("id = ?", playerID).Updates(updates).Error
	})
	if err != nil {
		return false, notFound(err, "set player connected")
	}
	return changed, nil
}

func (p *Postgres) DisconnectStale(ctx context.Context, before time.Time) ([]db.Player, error) {
	var stale []db.Player
	err := p.db.WithContext(ctx).Model(&stale).
		Clauses(clause.Returning{}).
		Where("connected AND last_seen_at < ?", before).
		Updates(map[string]any{"connected": false, "updated_at": p.now()}).Error
	if err != nil {
		return nil, errors.Wrap(err, "disconnect stale players")
	}
	sortPlayers(stale)
	return stale, nil
}

func (p *Postgres) SetPlayerReady(ctx context.Context, roomID, playerID string, ready bool) error {
	res := p.db.WithContext(ctx).Model(&db.Player{}).
		Where("room_id = ? AND id = ?", roomID, playerID).
		Updates(map[string]any{"ready": ready, "updated_at": p.now()})
	if res.Error != nil {
		return errors.Wrap(res.Error, "set player ready")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ResetReady(ctx context.Context, roomID string) error {
	err := p.db.WithContext(ctx).Model(&db.Player{}).
		Where("room_id = ? AND ready", roomID).
		Updates(map[string]any{"ready": false, "updated_at": p.now()}).Error
	return errors.Wrap(err, "reset ready")
}

func (p *Postgres) CountConnectedPlayers(ctx context.Context, roomID string) (int, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&db.Player{}).
		Where("room_id = ? AND connected", roomID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count connected players")
	}
	return int(count), nil
}

func (p *Postgres) CreateSession(ctx context.Context, ns NewSession) error {
	session := ns.Session
	now := p.now()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Room{}).
			Where("id = ? AND phase = ?", session.RoomID, string(game.PhaseLobby)).
			Updates(map[string]any{"phase": string(game.PhaseDeal), "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&db.Room{}).Where("id = ?", session.RoomID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrStale
		}
		if err := tx.Model(&db.Player{}).
			Where("room_id = ? AND ready", session.RoomID).
			Updates(map[string]any{"ready": false, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Create(&session).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrStale
			}
			return err
		}
		roles := make([]db.Role, 0, len(ns.Roles))
		for _, role := range ns.Roles {
			role.SessionID = session.ID
			roles = append(roles, role)
		}
		if len(roles) > 0 {
			if err := tx.Create(&roles).Error; err != nil {
				return err
			}
		}
		topic := ns.Topic
		topic.SessionID = session.ID
		topic.RoomID = session.RoomID
		return tx.Create(&topic).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, ErrNotFound):
		return errors.Cause(err)
	default:
		return errors.Wrap(err, "create session")
	}
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (db.GameSession, error) {
	var session db.GameSession
	if err := p.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		return db.GameSession{}, notFound(err, "get session")
	}
	return session, nil
}

func (p *Postgres) LatestSession(ctx context.Context, roomID string) (db.GameSession, error) {
	var session db.GameSession
	err := p.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("started_at DESC, created_at DESC").
		First(&session).Error
	if err != nil {
		return db.GameSession{}, notFound(err, "latest session")
	}
	return session, nil
}

var errLostRace = errors.New("session moved on")

func (p *Postgres) AdvanceSession(ctx context.Context, sessionID string, guard Guard, next Advance, result *db.Result) (bool, error) {
	now := p.now()
	updates := map[string]any{
		"phase":       string(next.Phase),
		"deadline_at": next.DeadlineAt,
		"vote_round":  next.VoteRound,
		"candidates":  datatypes.JSONSlice[string](next.Candidates),
		"version":     gorm.Expr("version + 1"),
		"updated_at":  now,
	}
	if next.AnswererID != "" {
		updates["answerer_id"] = next.AnswererID
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.GameSession{}).
			Where("id = ? AND phase = ? AND vote_round = ?", sessionID, string(guard.Phase), guard.VoteRound).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}

		var session db.GameSession
		if err := tx.Select("id", "room_id").Where("id = ?", sessionID).First(&session).Error; err != nil {
			return err
		}
		if err := tx.Model(&db.Room{}).
			Where("id = ?", session.RoomID).
			Updates(map[string]any{"phase": string(next.Phase), "updated_at": now}).Error; err != nil {
			return err
		}

		if result == nil {
			return nil
		}
		result.SessionID = sessionID
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(result)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrResultExists
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errLostRace):
		if _, getErr := p.GetSession(ctx, sessionID); getErr != nil {
			return false, getErr
		}
		return false, nil
	case errors.Is(err, ErrResultExists):
		return false, ErrResultExists
	default:
		return false, errors.Wrap(err, "advance session")
	}
}

func (p *Postgres) ListRoles(ctx context.Context, sessionID string) ([]db.Role, error) {
	var roles []db.Role
	if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&roles).Error; err != nil {
		return nil, errors.Wrap(err, "list roles")
	}
	if len(roles) == 0 {
		if _, err := p.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (p *Postgres) GetTopic(ctx context.Context, sessionID string) (db.Topic, error) {
	var topic db.Topic
	if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&topic).Error; err != nil {
		return db.Topic{}, notFound(err, "get topic")
	}
	return topic, nil
}

func (p *Postgres) SetTopicText(ctx context.Context, sessionID, text string) error {
	res := p.db.WithContext(ctx).Model(&db.Topic{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"text": text, "updated_at": p.now()})
	if res.Error != nil {
		return errors.Wrap(res.Error, "set topic text")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UsedTopics(ctx context.Context, roomID string) ([]string, error) {
	var texts []string
	if err := p.db.WithContext(ctx).Model(&db.Topic{}).Where("room_id = ?", roomID).Pluck("text", &texts).Error; err != nil {
		return nil, errors.Wrap(err, "used topics")
	}
	return texts, nil
}

func (p *Postgres) ListTopicLibrary(ctx context.Context, difficulty game.Difficulty) ([]db.TopicLibrary, error) {
	var entries []db.TopicLibrary
	err := p.db.WithContext(ctx).
		Where("difficulty = ?", string(difficulty)).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "list topic library")
	}
	return entries, nil
}

func (p *Postgres) InsertVoteIfAbsent(ctx context.Context, vote *db.Vote) error {
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(vote)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicateVote
		}
		return errors.Wrap(res.Error, "insert vote")
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateVote
	}
	return nil
}

func (p *Postgres) ListVotes(ctx context.Context, sessionID string, voteType game.VoteType, round int) ([]db.Vote, error) {
	var votes []db.Vote
	err := p.db.WithContext(ctx).
		Where("session_id = ? AND vote_type = ? AND round = ?", sessionID, string(voteType), round).
		Order("id ASC").
		Find(&votes).Error
	if err != nil {
		return nil, errors.Wrap(err, "list votes")
	}
	return votes, nil
}

func (p *Postgres) CountVotes(ctx context.Context, sessionID string, voteType game.VoteType, round int) (int, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&db.Vote{}).
		Where("session_id = ? AND vote_type = ? AND round = ?", sessionID, string(voteType), round).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count votes")
	}
	return int(count), nil
}

func (p *Postgres) InsertResultIfAbsent(ctx context.Context, result *db.Result) error {
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(result)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrResultExists
		}
		return errors.Wrap(res.Error, "insert result")
	}
	if res.RowsAffected == 0 {
		return ErrResultExists
	}
	return nil
}

func (p *Postgres) GetResult(ctx context.Context, sessionID string) (db.Result, error) {
	var result db.Result
	if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&result).Error; err != nil {
		return db.Result{}, notFound(err, "get result")
	}
	return result, nil
}

func (p *Postgres) AppendEvent(ctx context.Context, event db.Event) error {
	if err := p.db.WithContext(ctx).Create(&event).Error; err != nil {
		return errors.Wrap(err, "append event")
	}
	return nil
}
