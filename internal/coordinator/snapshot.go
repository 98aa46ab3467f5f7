package coordinator

import (
	"context"
	"slices"

	"insider/internal/db"
	"insider/internal/game"
	"insider/internal/store"

	"github.com/pkg/errors"
)

type SnapshotRequest struct {
	RoomID    string
	SessionID string
	// ViewerID decides which secrets the snapshot carries.
	ViewerID string
}

// Snapshot is the one read clients reconcile against after a missed or reordered event.
// Without a session id it describes the room's latest session, if any.
func (c *Coordinator) Snapshot(ctx context.Context, req SnapshotRequest) (Snapshot, error) {
	var (
		session    db.GameSession
		hasSession bool
	)
	if req.SessionID != "" {
		s, err := c.loadRoomSession(ctx, req.SessionID, req.RoomID)
		if err != nil {
			return Snapshot{}, err
		}
		session, hasSession = s, true
		req.RoomID = s.RoomID
	}
	room, err := c.loadRoom(ctx, req.RoomID)
	if err != nil {
		return Snapshot{}, err
	}
	if !hasSession {
		s, err := c.store.LatestSession(ctx, room.ID)
		switch {
		case err == nil:
			session, hasSession = s, true
		case errors.Is(err, store.ErrNotFound):
		default:
			return Snapshot{}, fromStore(err, "session")
		}
	}

	players, err := c.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return Snapshot{}, fromStore(err, "players")
	}
	snap := Snapshot{
		Room:      roomView(room),
		Players:   make([]PlayerView, 0, len(players)),
		ServerNow: game.Epoch(c.now()),
	}
	for _, player := range players {
		snap.Players = append(snap.Players, PlayerView{
			ID:        player.ID,
			Nickname:  player.Nickname,
			IsHost:    player.IsHost,
			Connected: player.Connected,
			Ready:     player.Ready,
		})
	}
	if hasSession {
		view, err := c.sessionView(ctx, session, req.ViewerID)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Session = &view
	}
	return snap, nil
}

func (c *Coordinator) sessionView(ctx context.Context, session db.GameSession, viewerID string) (SessionView, error) {
	phase := game.Phase(session.Phase)
	view := SessionView{
		ID:            session.ID,
		Phase:         phase,
		Difficulty:    game.Difficulty(session.Difficulty),
		StartedAt:     game.Epoch(session.StartedAt),
		DeadlineEpoch: game.Epoch(deadlineOf(session)),
		Version:       session.Version,
		VoteRound:     session.VoteRound,
		Candidates:    []string(session.Candidates),
		MasterID:      session.MasterID,
		AnswererID:    session.AnswererID,
	}
	r, err := c.loadRoster(ctx, session)
	if err != nil {
		return SessionView{}, err
	}
	view.ViewerRole = r.roles[viewerID]

	topic, err := c.store.GetTopic(ctx, session.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return SessionView{}, fromStore(err, "topic")
	}
	if err == nil {
		if view.ViewerRole.KnowsTopic() || phase == game.PhaseResult {
			view.Topic = topic.Text
		}
		if view.ViewerRole == game.RoleMaster && (phase == game.PhaseDeal || phase == game.PhaseTopic) {
			view.TopicOptions = []string(topic.Options)
		}
	}

	if voteType, ok := game.VoteTypeFor(phase); ok {
		quorum, err := c.quorum(ctx, session, r)
		if err != nil {
			return SessionView{}, err
		}
		round := ballotRound(session)
		votes, err := c.store.ListVotes(ctx, session.ID, voteType, round)
		if err != nil {
			return SessionView{}, fromStore(err, "votes")
		}
		voted := votedIn(votes, quorum)
		slices.Sort(voted)
		view.Votes = &VoteProgress{VoteType: voteType, Round: round, Voted: voted, Quorum: len(quorum)}
	}

	if phase == game.PhaseResult {
		result, err := c.store.GetResult(ctx, session.ID)
		switch {
		case err == nil:
			view.Result = &ResultView{Outcome: game.Outcome(result.Outcome), RevealedPlayerID: result.RevealedPlayerID}
		case !errors.Is(err, store.ErrNotFound):
			return SessionView{}, fromStore(err, "result")
		}
		view.Roles = r.roles
	}
	return view, nil
}
