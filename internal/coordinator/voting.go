package coordinator

import (
	"context"
	"slices"
	"strings"

	"insider/internal/db"
	"insider/internal/game"
	"insider/internal/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type SubmitVoteRequest struct {
	SessionID string
	PlayerID  string
	VoteType  string
	Value     string
	// Round is the round the voter saw; zero means the current one.
	Round int
}

// ballotRound is the round ballots of the current phase are recorded under. VOTE1 has a
// single round.
func ballotRound(session db.GameSession) int {
	if game.Phase(session.Phase) == game.PhaseVote1 || session.VoteRound < 1 {
		return 1
	}
	return session.VoteRound
}

// SubmitVote records one ballot. The broadcast says how many have voted, never for whom.
func (c *Coordinator) SubmitVote(ctx context.Context, req SubmitVoteRequest) (VoteReceipt, error) {
	voteType, err := game.ParseVoteType(req.VoteType)
	if err != nil {
		return VoteReceipt{}, &Error{Code: CodeInvalidVote, Message: "unknown vote type", Err: err}
	}
	session, err := c.loadSession(ctx, req.SessionID)
	if err != nil {
		return VoteReceipt{}, err
	}
	if err := c.ensureActive(ctx, session.RoomID); err != nil {
		return VoteReceipt{}, err
	}
	phase := game.Phase(session.Phase)
	if accepted, ok := game.VoteTypeFor(phase); !ok || accepted != voteType {
		return VoteReceipt{}, newErrorf(CodeInvalidPhase, "%s ballots are not accepted in %s", voteType, phase)
	}
	round := ballotRound(session)
	if req.Round != 0 && req.Round != round {
		return VoteReceipt{}, newErrorf(CodeRoundMismatch, "round %d is not the current round %d", req.Round, round)
	}
	r, err := c.loadRoster(ctx, session)
	if err != nil {
		return VoteReceipt{}, err
	}
	if _, ok := r.roles[req.PlayerID]; !ok {
		return VoteReceipt{}, newError(CodeForbidden, "player holds no role in this session")
	}
	value, err := ballotValue(voteType, req.Value, req.PlayerID, session, r)
	if err != nil {
		return VoteReceipt{}, err
	}

	vote := &db.Vote{
		SessionID: session.ID,
		PlayerID:  req.PlayerID,
		VoteType:  string(voteType),
		Round:     round,
		Value:     value,
	}
	if err := c.store.InsertVoteIfAbsent(ctx, vote); err != nil {
		return VoteReceipt{}, fromStore(err, "vote")
	}

	quorum, err := c.quorum(ctx, session, r)
	if err != nil {
		return VoteReceipt{}, err
	}
	votes, err := c.store.ListVotes(ctx, session.ID, voteType, round)
	if err != nil {
		return VoteReceipt{}, fromStore(err, "votes")
	}
	voted := votedIn(votes, quorum)
	receipt := VoteReceipt{
		VoteID:   vote.ID,
		VoteType: voteType,
		Round:    round,
		Voted:    len(voted),
		Quorum:   len(quorum),
		AllVoted: len(quorum) > 0 && len(voted) == len(quorum),
	}
	c.logger.Debug("vote recorded",
		zap.String("session_id", session.ID),
		zap.String("vote_type", string(voteType)),
		zap.Int("round", round),
		zap.Int("voted", receipt.Voted),
		zap.Int("quorum", receipt.Quorum))
	c.publish(ctx, SessionChannel(session.ID), EventVoteCast, c.sessionBroadcast(session, map[string]any{
		"player_id": req.PlayerID,
		"vote_type": string(voteType),
		"round":     round,
		"voted":     receipt.Voted,
		"quorum":    receipt.Quorum,
		"all_voted": receipt.AllVoted,
	}))
	return receipt, nil
}

func ballotValue(voteType game.VoteType, raw, voterID string, session db.GameSession, r roster) (string, error) {
	value := strings.TrimSpace(raw)
	switch voteType {
	case game.VoteType1:
		value = strings.ToLower(value)
		if value != game.BallotYes && value != game.BallotNo {
			return "", newError(CodeInvalidVote, "answer vote must be yes or no")
		}
		return value, nil
	case game.VoteType2:
		if value == voterID {
			return "", newError(CodeInvalidVote, "players cannot vote for themselves")
		}
		if _, ok := r.roles[value]; !ok {
			return "", newError(CodeInvalidVote, "target holds no role in this session")
		}
		if len(session.Candidates) > 0 && !slices.Contains([]string(session.Candidates), value) {
			return "", newError(CodeInvalidVote, "target is not a runoff candidate")
		}
		return value, nil
	default:
		return "", newErrorf(CodeInvalidVote, "unknown vote type %q", voteType)
	}
}

// votedIn lists the quorum members that have a ballot, in quorum order.
func votedIn(votes []db.Vote, quorum []string) []string {
	have := make(map[string]struct{}, len(votes))
	for _, vote := range votes {
		have[vote.PlayerID] = struct{}{}
	}
	voted := make([]string, 0, len(quorum))
	for _, id := range quorum {
		if _, ok := have[id]; ok {
			voted = append(voted, id)
		}
	}
	return voted
}

// announceVoteProgress republishes the vote count of the room's running ballot after
// presence changed, since the quorum may now be complete without another vote.
func (c *Coordinator) announceVoteProgress(ctx context.Context, roomID string) {
	session, err := c.store.LatestSession(ctx, roomID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("vote progress skipped", zap.String("room_id", roomID), zap.Error(err))
		}
		return
	}
	voteType, ok := game.VoteTypeFor(game.Phase(session.Phase))
	if !ok {
		return
	}
	r, err := c.loadRoster(ctx, session)
	if err != nil {
		c.logger.Warn("vote progress skipped", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	quorum, err := c.quorum(ctx, session, r)
	if err != nil {
		c.logger.Warn("vote progress skipped", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	round := ballotRound(session)
	votes, err := c.store.ListVotes(ctx, session.ID, voteType, round)
	if err != nil {
		c.logger.Warn("vote progress skipped", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	voted := votedIn(votes, quorum)
	c.publish(ctx, SessionChannel(session.ID), EventVoteCast, c.sessionBroadcast(session, map[string]any{
		"vote_type": string(voteType),
		"round":     round,
		"voted":     len(voted),
		"quorum":    len(quorum),
		"all_voted": len(quorum) > 0 && len(voted) == len(quorum),
		"reason":    "presence",
	}))
}

type TallyRequest struct {
	SessionID string
	RoomID    string
	VoteType  string
	// Round is optional; zero tallies the current round.
	Round int
}

// TallyVotes decides the current voting round once everyone in the quorum voted. Any number
// of callers may race: exactly one applies the decision and the rest read it back.
func (c *Coordinator) TallyVotes(ctx context.Context, req TallyRequest) (TallyView, error) {
	voteType, err := game.ParseVoteType(req.VoteType)
	if err != nil {
		return TallyView{}, &Error{Code: CodeValidation, Message: "unknown vote type", Err: err}
	}
	session, err := c.loadRoomSession(ctx, req.SessionID, req.RoomID)
	if err != nil {
		return TallyView{}, err
	}
	phase := game.Phase(session.Phase)
	if phase == game.PhaseResult {
		return c.settledTally(ctx, session, voteType, req.Round)
	}
	switch voteType {
	case game.VoteType1:
		switch phase {
		case game.PhaseVote1:
		case game.PhaseVote2, game.PhaseVote2Runoff:
			return c.settledTally(ctx, session, voteType, req.Round)
		default:
			return TallyView{}, newErrorf(CodeInvalidPhase, "%s is not tallied in %s", voteType, phase)
		}
	case game.VoteType2:
		if phase != game.PhaseVote2 && phase != game.PhaseVote2Runoff {
			return TallyView{}, newErrorf(CodeInvalidPhase, "%s is not tallied in %s", voteType, phase)
		}
		if req.Round > session.VoteRound {
			return TallyView{}, newErrorf(CodeRoundMismatch, "round %d has not started", req.Round)
		}
		if req.Round != 0 && req.Round < session.VoteRound {
			return c.settledTally(ctx, session, voteType, req.Round)
		}
	}
	if err := c.ensureActive(ctx, session.RoomID); err != nil {
		return TallyView{}, err
	}

	r, err := c.loadRoster(ctx, session)
	if err != nil {
		return TallyView{}, err
	}
	quorum, err := c.quorum(ctx, session, r)
	if err != nil {
		return TallyView{}, err
	}
	round := ballotRound(session)
	votes, err := c.store.ListVotes(ctx, session.ID, voteType, round)
	if err != nil {
		return TallyView{}, fromStore(err, "votes")
	}
	// An unscoped tally racing the one that opened this runoff reports the tied round.
	if req.Round == 0 && phase == game.PhaseVote2Runoff && len(votes) == 0 {
		return c.settledTally(ctx, session, voteType, session.VoteRound-1)
	}
	ballots := make([]game.Ballot, 0, len(votes))
	for _, vote := range votes {
		ballots = append(ballots, game.Ballot{PlayerID: vote.PlayerID, Value: vote.Value})
	}

	tally, err := game.Tally(game.TallyInput{
		VoteType:   voteType,
		Round:      round,
		Quorum:     quorum,
		Ballots:    ballots,
		AnswererID: session.AnswererID,
		InsiderID:  session.InsiderID,
		MasterID:   session.MasterID,
	})
	switch {
	case errors.Is(err, game.ErrIncompleteVoting):
		voted := votedIn(votes, quorum)
		return TallyView{}, newErrorf(CodeIncompleteVoting, "%d of %d players have voted", len(voted), len(quorum))
	case errors.Is(err, game.ErrInvalidBallot):
		return TallyView{}, &Error{Code: CodeInvalidVote, Message: "recorded ballot is invalid", Err: err}
	case err != nil:
		return TallyView{}, &Error{Code: CodeUnavailable, Message: "tally failed", Err: err}
	}

	var (
		next   store.Advance
		result *db.Result
		event  game.Event
	)
	switch tally.Decision {
	case game.DecisionResolved:
		next = store.Advance{Phase: game.PhaseResult, VoteRound: session.VoteRound}
		result = &db.Result{
			SessionID:        session.ID,
			Outcome:          string(tally.Outcome),
			RevealedPlayerID: tally.RevealedPlayerID,
		}
		event = game.EventVote2Resolved
		if voteType == game.VoteType1 {
			event = game.EventVote1Accepted
		}
	case game.DecisionProceed:
		next = store.Advance{Phase: game.PhaseVote2, VoteRound: tally.NextRound}
		event = game.EventVote1Rejected
	case game.DecisionRunoff:
		next = store.Advance{Phase: game.PhaseVote2Runoff, VoteRound: tally.NextRound, Candidates: tally.Candidates}
		event = game.EventVote2Tied
	}
	if _, err := game.Next(phase, event); err != nil {
		return TallyView{}, &Error{Code: CodeInvalidTransition, Message: "illegal edge", Err: err}
	}

	current, applied, err := c.advance(ctx, session, next, result, string(event))
	if err != nil {
		return TallyView{}, err
	}
	if !applied {
		return c.settledTally(ctx, current, voteType, round)
	}

	switch tally.Decision {
	case game.DecisionResolved:
		c.announceResult(ctx, current, *result, event)
	case game.DecisionRunoff:
		c.publish(ctx, SessionChannel(current.ID), EventPhaseChanged, c.sessionBroadcast(current, map[string]any{
			"reason": string(event),
		}))
		c.publish(ctx, SessionChannel(current.ID), EventRunoffStarted, c.sessionBroadcast(current, map[string]any{
			"round":      current.VoteRound,
			"candidates": tally.Candidates,
			"counts":     tally.Counts,
		}))
	default:
		c.publish(ctx, SessionChannel(current.ID), EventPhaseChanged, c.sessionBroadcast(current, map[string]any{
			"reason": string(event),
			"yes":    tally.Yes,
			"no":     tally.No,
		}))
	}

	view := c.tallyView(current, tally.Decision, voteType, tally.Round)
	view.Yes, view.No, view.Counts = tally.Yes, tally.No, tally.Counts
	view.Applied = true
	if result != nil {
		view.Result = &ResultView{Outcome: tally.Outcome, RevealedPlayerID: tally.RevealedPlayerID}
	}
	return view, nil
}

// settledTally describes a round that was already decided, from the session as it is now.
func (c *Coordinator) settledTally(ctx context.Context, session db.GameSession, voteType game.VoteType, round int) (TallyView, error) {
	if round < 1 {
		round = 1
	}
	switch game.Phase(session.Phase) {
	case game.PhaseResult:
		result, err := c.store.GetResult(ctx, session.ID)
		if err != nil {
			return TallyView{}, fromStore(err, "result")
		}
		view := c.tallyView(session, game.DecisionResolved, voteType, round)
		view.Result = &ResultView{Outcome: game.Outcome(result.Outcome), RevealedPlayerID: result.RevealedPlayerID}
		return view, nil
	case game.PhaseVote2:
		return c.tallyView(session, game.DecisionProceed, voteType, round), nil
	case game.PhaseVote2Runoff:
		return c.tallyView(session, game.DecisionRunoff, voteType, round), nil
	default:
		return TallyView{}, newErrorf(CodeInvalidPhase, "%s has no decided round", session.Phase)
	}
}

func (c *Coordinator) tallyView(session db.GameSession, decision game.Decision, voteType game.VoteType, round int) TallyView {
	view := TallyView{
		Outcome:       decision,
		SessionID:     session.ID,
		VoteType:      voteType,
		Round:         round,
		Phase:         game.Phase(session.Phase),
		DeadlineEpoch: game.Epoch(deadlineOf(session)),
		ServerNow:     game.Epoch(c.now()),
		Version:       session.Version,
	}
	if decision != game.DecisionResolved {
		view.NextRound = session.VoteRound
		view.Candidates = []string(session.Candidates)
	}
	return view
}
