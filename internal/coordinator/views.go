package coordinator

import (
	"insider/internal/game"
)

// Broadcast event names.
const (
	EventSessionStarted  = "session_started"
	EventPhaseChanged    = "phase_changed"
	EventVoteCast        = "vote_cast"
	EventRunoffStarted   = "runoff_started"
	EventResultPublished = "result_published"
	EventPresenceChanged = "presence_changed"
	EventHostChanged     = "host_changed"
	EventRoleConfirmed   = "role_confirmed"
	EventRoomSuspended   = "room_suspended"
	EventSnapshot        = "snapshot"
)

func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

func RoomChannel(roomID string) string {
	return "room:" + roomID
}

// Broadcast is the body of every published event.
type Broadcast struct {
	RoomID        string         `json:"room_id"`
	SessionID     string         `json:"session_id,omitempty"`
	Phase         game.Phase     `json:"phase,omitempty"`
	DeadlineEpoch int64          `json:"deadline_epoch"`
	ServerNow     int64          `json:"server_now"`
	Version       int64          `json:"version"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Envelope is what travels over the wire. ID is unique per publish so subscribers can
// drop redeliveries.
type Envelope struct {
	ID        string     `json:"id"`
	Channel   string     `json:"channel"`
	Event     string     `json:"event"`
	Broadcast *Broadcast `json:"broadcast,omitempty"`
	Snapshot  *Snapshot  `json:"snapshot,omitempty"`
}

type JoinResult struct {
	RoomID    string `json:"room_id"`
	PlayerID  string `json:"player_id"`
	IsHost    bool   `json:"is_host"`
	ServerNow int64  `json:"server_now"`
}

type RoleAssignment struct {
	PlayerID string    `json:"player_id"`
	Role     game.Role `json:"role"`
}

type StartResult struct {
	SessionID       string           `json:"session_id"`
	RoomID          string           `json:"room_id"`
	Phase           game.Phase       `json:"phase"`
	RoleAssignments []RoleAssignment `json:"role_assignments"`
	TopicOptions    []string         `json:"topic_options"`
	ServerNow       int64            `json:"server_now"`
	Version         int64            `json:"version"`
}

// PhaseView is the authoritative phase of a session after an operation.
type PhaseView struct {
	SessionID     string     `json:"session_id"`
	Phase         game.Phase `json:"phase"`
	DeadlineEpoch int64      `json:"deadline_epoch"`
	ServerNow     int64      `json:"server_now"`
	Version       int64      `json:"version"`
	VoteRound     int        `json:"vote_round"`
	Candidates    []string   `json:"candidates,omitempty"`
	AnswererID    string     `json:"answerer_id,omitempty"`
	// Applied is false when a concurrent caller already made the same move.
	Applied bool `json:"applied"`
}

type VoteReceipt struct {
	VoteID   uint          `json:"vote_id"`
	VoteType game.VoteType `json:"vote_type"`
	Round    int           `json:"round"`
	Voted    int           `json:"voted"`
	Quorum   int           `json:"quorum"`
	AllVoted bool          `json:"all_voted"`
}

type ResultView struct {
	Outcome          game.Outcome `json:"outcome"`
	RevealedPlayerID string       `json:"revealed_player_id,omitempty"`
}

type TallyView struct {
	Outcome       game.Decision `json:"outcome"`
	SessionID     string        `json:"session_id"`
	VoteType      game.VoteType `json:"vote_type"`
	Round         int           `json:"round"`
	Phase         game.Phase    `json:"phase"`
	NextRound     int           `json:"next_round,omitempty"`
	Candidates    []string      `json:"candidates,omitempty"`
	Result        *ResultView   `json:"result,omitempty"`
	Yes           int           `json:"yes,omitempty"`
	No            int           `json:"no,omitempty"`
	Counts        []game.Count  `json:"counts,omitempty"`
	DeadlineEpoch int64         `json:"deadline_epoch"`
	ServerNow     int64         `json:"server_now"`
	Version       int64         `json:"version"`
	Applied       bool          `json:"applied"`
}

type PresenceView struct {
	PlayerID  string `json:"player_id"`
	Connected bool   `json:"connected"`
	ServerNow int64  `json:"server_now"`
}

type RoomView struct {
	ID           string     `json:"id"`
	Phase        game.Phase `json:"phase"`
	HostPlayerID string     `json:"host_player_id"`
	Suspended    bool       `json:"suspended"`
}

type PlayerView struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	IsHost    bool   `json:"is_host"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
}

// VoteProgress says who has voted in the current round, never for whom.
type VoteProgress struct {
	VoteType game.VoteType `json:"vote_type"`
	Round    int           `json:"round"`
	Voted    []string      `json:"voted"`
	Quorum   int           `json:"quorum"`
}

type SessionView struct {
	ID            string               `json:"id"`
	Phase         game.Phase           `json:"phase"`
	Difficulty    game.Difficulty      `json:"difficulty"`
	StartedAt     int64                `json:"started_at"`
	DeadlineEpoch int64                `json:"deadline_epoch"`
	Version       int64                `json:"version"`
	VoteRound     int                  `json:"vote_round"`
	Candidates    []string             `json:"candidates,omitempty"`
	MasterID      string               `json:"master_id"`
	AnswererID    string               `json:"answerer_id,omitempty"`
	ViewerRole    game.Role            `json:"viewer_role,omitempty"`
	Topic         string               `json:"topic,omitempty"`
	TopicOptions  []string             `json:"topic_options,omitempty"`
	Votes         *VoteProgress        `json:"votes,omitempty"`
	Result        *ResultView          `json:"result,omitempty"`
	Roles         map[string]game.Role `json:"roles,omitempty"`
}

// Snapshot is the single authoritative read clients reconcile against.
type Snapshot struct {
	Room      RoomView     `json:"room"`
	Players   []PlayerView `json:"players"`
	Session   *SessionView `json:"session,omitempty"`
	ServerNow int64        `json:"server_now"`
}
