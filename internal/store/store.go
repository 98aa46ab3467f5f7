// Package store is the durable state boundary of the coordinator. Every implementation
// must make the conditional writes atomic: the coordinator holds no locks of its own.
package store

import (
	"context"
	"errors"
	"time"

	"insider/internal/db"
	"insider/internal/game"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateNickname = errors.New("nickname already taken")
	ErrDuplicateVote     = errors.New("duplicate vote")
	ErrResultExists      = errors.New("result exists")
	// ErrStale means a compare-and-set lost against a concurrent writer.
	ErrStale = errors.New("stale write")
)

// Guard is the state a session must still be in for an Advance to apply.
type Guard struct {
	Phase     game.Phase
	VoteRound int
}

// Advance is the new phase state of a session. Answerer is only written when non-empty.
type Advance struct {
	Phase      game.Phase
	DeadlineAt *time.Time
	AnswererID string
	VoteRound  int
	Candidates []string
}

// NewSession is everything written when a session starts.
type NewSession struct {
	Session db.GameSession
	Roles   []db.Role
	Topic   db.Topic
}

type Store interface {
	CreateRoom(ctx context.Context, room db.Room, host db.Player) error
	GetRoom(ctx context.Context, roomID string) (db.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	SetRoomHost(ctx context.Context, roomID, playerID string) error
	SetRoomSuspended(ctx context.Context, roomID string, suspended bool) error
	// CASRoomPhase moves the room to next only if it is still in expected.
	CASRoomPhase(ctx context.Context, roomID string, expected, next game.Phase) (bool, error)

	AddPlayer(ctx context.Context, player db.Player) error
	GetPlayer(ctx context.Context, roomID, playerID string) (db.Player, error)
	ListPlayers(ctx context.Context, roomID string) ([]db.Player, error)
	RemovePlayer(ctx context.Context, roomID, playerID string) error
	// SetPlayerConnected records presence and reports whether the connected flag flipped.
	SetPlayerConnected(ctx context.Context, roomID, playerID string, connected bool, at time.Time) (bool, error)
	// DisconnectStale marks connected players not seen since before as disconnected.
	DisconnectStale(ctx context.Context, before time.Time) ([]db.Player, error)
	SetPlayerReady(ctx context.Context, roomID, playerID string, ready bool) error
	ResetReady(ctx context.Context, roomID string) error
	CountConnectedPlayers(ctx context.Context, roomID string) (int, error)

	// CreateSession moves the room LOBBY -> DEAL and writes the session, its roles and its
	// topic in one transaction. It returns ErrStale when the room already left the lobby.
	CreateSession(ctx context.Context, session NewSession) error
	GetSession(ctx context.Context, sessionID string) (db.GameSession, error)
	LatestSession(ctx context.Context, roomID string) (db.GameSession, error)
	// AdvanceSession applies next only while the session matches guard, mirrors the phase
	// onto the room and bumps the version. A non-nil result is inserted in the same
	// transaction. A lost race returns false and no error.
	AdvanceSession(ctx context.Context, sessionID string, guard Guard, next Advance, result *db.Result) (bool, error)

	ListRoles(ctx context.Context, sessionID string) ([]db.Role, error)
	GetTopic(ctx context.Context, sessionID string) (db.Topic, error)
	SetTopicText(ctx context.Context, sessionID, text string) error
	UsedTopics(ctx context.Context, roomID string) ([]string, error)
	ListTopicLibrary(ctx context.Context, difficulty game.Difficulty) ([]db.TopicLibrary, error)

	// InsertVoteIfAbsent returns ErrDuplicateVote when the player already voted in this
	// (session, vote type, round).
	InsertVoteIfAbsent(ctx context.Context, vote *db.Vote) error
	ListVotes(ctx context.Context, sessionID string, voteType game.VoteType, round int) ([]db.Vote, error)
	CountVotes(ctx context.Context, sessionID string, voteType game.VoteType, round int) (int, error)

	// InsertResultIfAbsent returns ErrResultExists when the session already has a result.
	InsertResultIfAbsent(ctx context.Context, result *db.Result) error
	GetResult(ctx context.Context, sessionID string) (db.Result, error)

	AppendEvent(ctx context.Context, event db.Event) error
}
