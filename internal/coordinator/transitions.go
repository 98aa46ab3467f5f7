package coordinator

import (
	"context"
	"time"

	"insider/internal/db"
	"insider/internal/game"
	"insider/internal/store"

	"go.uber.org/zap"
)

// clockSkew is how early a client may ask for a timed edge whose deadline it saw expire.
const clockSkew = time.Second

type ReportAnswerRequest struct {
	SessionID  string
	RoomID     string
	AnswererID string
	CallerID   string
}

// ReportAnswer records who guessed the word and moves QUESTION to DEBATE. DEBATE inherits
// what was left of the QUESTION deadline.
func (c *Coordinator) ReportAnswer(ctx context.Context, req ReportAnswerRequest) (PhaseView, error) {
	session, err := c.loadRoomSession(ctx, req.SessionID, req.RoomID)
	if err != nil {
		return PhaseView{}, err
	}
	if err := c.ensureActive(ctx, session.RoomID); err != nil {
		return PhaseView{}, err
	}
	if req.CallerID == "" || req.CallerID != session.MasterID {
		return PhaseView{}, newError(CodeForbidden, "only the Master can report the answer")
	}
	phase := game.Phase(session.Phase)
	if phase == game.PhaseDebate && session.AnswererID == req.AnswererID {
		return c.phaseView(session, false), nil
	}
	if phase != game.PhaseQuestion {
		return PhaseView{}, newErrorf(CodeInvalidPhase, "answers are reported in QUESTION, session is in %s", phase)
	}
	now := c.now()
	questionDeadline := deadlineOf(session)
	if game.Expired(questionDeadline, now) {
		return PhaseView{}, newError(CodeTimeExpired, "question time is over")
	}
	r, err := c.loadRoster(ctx, session)
	if err != nil {
		return PhaseView{}, err
	}
	role, ok := r.roles[req.AnswererID]
	if !ok {
		return PhaseView{}, newError(CodeValidation, "answerer holds no role in this session")
	}
	if role == game.RoleMaster {
		return PhaseView{}, newError(CodeValidation, "the Master cannot be the answerer")
	}

	deadline := game.Inherit(questionDeadline, now)
	next := store.Advance{
		Phase:      game.PhaseDebate,
		DeadlineAt: &deadline,
		AnswererID: req.AnswererID,
	}
	current, applied, err := c.advance(ctx, session, next, nil, string(game.EventAnswerReported))
	if err != nil {
		return PhaseView{}, err
	}
	if !applied {
		if game.Phase(current.Phase) == game.PhaseResult && current.AnswererID == "" {
			return PhaseView{}, newError(CodeTimeExpired, "question time is over")
		}
		return c.phaseView(current, false), nil
	}
	c.publish(ctx, SessionChannel(current.ID), EventPhaseChanged, c.sessionBroadcast(current, map[string]any{
		"reason":      string(game.EventAnswerReported),
		"answerer_id": current.AnswererID,
	}))
	return c.phaseView(current, true), nil
}

type TransitionRequest struct {
	SessionID string
	RoomID    string
	ToPhase   string
	CallerID  string
	// DeadlineEpoch optionally proposes the deadline of the target phase in Unix ms.
	DeadlineEpoch *int64
}

// TransitionPhase performs a client-requested edge. Edges decided by votes or by the
// answer report are refused; a target at or behind the current phase is a stale success.
func (c *Coordinator) TransitionPhase(ctx context.Context, req TransitionRequest) (PhaseView, error) {
	to, err := game.ParsePhase(req.ToPhase)
	if err != nil {
		return PhaseView{}, &Error{Code: CodeInvalidPhase, Message: "unknown phase", Err: err}
	}
	session, err := c.loadRoomSession(ctx, req.SessionID, req.RoomID)
	if err != nil {
		return PhaseView{}, err
	}
	if to == game.PhaseLobby {
		return c.resetRoom(ctx, session)
	}
	from := game.Phase(session.Phase)
	if to.Rank() <= from.Rank() {
		return c.phaseView(session, false), nil
	}
	event, ok := game.EventBetween(from, to)
	if !ok {
		return PhaseView{}, newErrorf(CodeInvalidTransition, "%s cannot move to %s", from, to)
	}
	if err := c.ensureActive(ctx, session.RoomID); err != nil {
		return PhaseView{}, err
	}

	if event == game.EventRolesConfirmed || event == game.EventDebateEnded {
		if err := c.ensureHostOrMaster(ctx, session, req.CallerID); err != nil {
			return PhaseView{}, err
		}
	}

	now := c.now()
	switch event {
	case game.EventRolesConfirmed:
		return c.moveTo(ctx, session, to, c.proposedDeadline(req.DeadlineEpoch, c.cfg.TopicDuration), event)
	case game.EventTopicRevealed:
		if !game.Expired(deadlineOf(session), now.Add(clockSkew)) {
			return PhaseView{}, newError(CodeInvalidTransition, "topic reveal is still running")
		}
		return c.moveTo(ctx, session, to, c.proposedDeadline(req.DeadlineEpoch, c.cfg.QuestionDuration), event)
	case game.EventQuestionTimeout:
		if !game.Expired(deadlineOf(session), now) {
			return PhaseView{}, newError(CodeInvalidTransition, "question time is still running")
		}
		return c.endQuestion(ctx, session)
	case game.EventDebateEnded:
		return c.moveTo(ctx, session, to, time.Time{}, event)
	default:
		return PhaseView{}, newErrorf(CodeInvalidTransition, "%s to %s is decided by the game, not requested", from, to)
	}
}

// ensureHostOrMaster admits the room host and the session's Master; the edges they may
// skip ahead otherwise happen on their own.
func (c *Coordinator) ensureHostOrMaster(ctx context.Context, session db.GameSession, callerID string) error {
	if callerID == "" {
		return newError(CodeForbidden, "player_id is required for this transition")
	}
	if callerID == session.MasterID {
		return nil
	}
	room, err := c.loadRoom(ctx, session.RoomID)
	if err != nil {
		return err
	}
	if callerID != room.HostPlayerID {
		return newError(CodeForbidden, "only the host or the Master can advance this phase")
	}
	return nil
}

// proposedDeadline honours a client deadline when it lies in the future and no further
// out than the phase duration.
func (c *Coordinator) proposedDeadline(epoch *int64, d time.Duration) time.Time {
	now := c.now()
	fallback := game.DeadlineAfter(now, d)
	if epoch == nil {
		return fallback
	}
	proposed := game.FromEpoch(*epoch)
	if !proposed.After(now) || proposed.After(fallback) {
		return fallback
	}
	return proposed
}

// CheckDeadline performs the timeout edge of the current phase once its deadline passed.
// It is a no-op before that, so timers and clients may call it freely.
func (c *Coordinator) CheckDeadline(ctx context.Context, sessionID string) (PhaseView, error) {
	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return PhaseView{}, err
	}
	phase := game.Phase(session.Phase)
	if !phase.Timed() || !game.Expired(deadlineOf(session), c.now()) {
		return c.phaseView(session, false), nil
	}
	if err := c.ensureActive(ctx, session.RoomID); err != nil {
		return PhaseView{}, err
	}
	switch phase {
	case game.PhaseTopic:
		return c.moveTo(ctx, session, game.PhaseQuestion, game.DeadlineAfter(c.now(), c.cfg.QuestionDuration), game.EventTopicRevealed)
	case game.PhaseQuestion:
		return c.endQuestion(ctx, session)
	case game.PhaseDebate:
		return c.moveTo(ctx, session, game.PhaseVote1, time.Time{}, game.EventDebateEnded)
	default:
		return c.phaseView(session, false), nil
	}
}

// moveTo applies a plain forward edge and announces it.
func (c *Coordinator) moveTo(ctx context.Context, session db.GameSession, to game.Phase, deadline time.Time, event game.Event) (PhaseView, error) {
	if _, err := game.Next(game.Phase(session.Phase), event); err != nil {
		return PhaseView{}, &Error{Code: CodeInvalidTransition, Message: "illegal edge", Err: err}
	}
	next := store.Advance{
		Phase:      to,
		VoteRound:  session.VoteRound,
		Candidates: []string(session.Candidates),
	}
	if !deadline.IsZero() {
		next.DeadlineAt = &deadline
	}
	current, applied, err := c.advance(ctx, session, next, nil, string(event))
	if err != nil {
		return PhaseView{}, err
	}
	if applied {
		c.publish(ctx, SessionChannel(current.ID), EventPhaseChanged, c.sessionBroadcast(current, map[string]any{
			"reason": string(event),
		}))
	}
	return c.phaseView(current, applied), nil
}

// endQuestion closes a QUESTION that ran out with nobody guessing the word.
func (c *Coordinator) endQuestion(ctx context.Context, session db.GameSession) (PhaseView, error) {
	result := &db.Result{
		SessionID: session.ID,
		Outcome:   string(game.ResolveOutcome(session.InsiderID, session.MasterID, "", false)),
	}
	next := store.Advance{Phase: game.PhaseResult, VoteRound: session.VoteRound}
	current, applied, err := c.advance(ctx, session, next, result, string(game.EventQuestionTimeout))
	if err != nil {
		return PhaseView{}, err
	}
	if applied {
		c.announceResult(ctx, current, *result, game.EventQuestionTimeout)
	}
	return c.phaseView(current, applied), nil
}

// announceResult publishes the phase change and the result, revealing every role.
func (c *Coordinator) announceResult(ctx context.Context, session db.GameSession, result db.Result, event game.Event) {
	c.publish(ctx, SessionChannel(session.ID), EventPhaseChanged, c.sessionBroadcast(session, map[string]any{
		"reason": string(event),
	}))
	payload := map[string]any{
		"outcome":            result.Outcome,
		"revealed_player_id": result.RevealedPlayerID,
		"master_id":          session.MasterID,
		"insider_id":         session.InsiderID,
	}
	if topic, err := c.store.GetTopic(ctx, session.ID); err == nil {
		payload["topic"] = topic.Text
	}
	c.publish(ctx, SessionChannel(session.ID), EventResultPublished, c.sessionBroadcast(session, payload))
	c.logger.Info("result published",
		zap.String("session_id", session.ID),
		zap.String("outcome", result.Outcome),
		zap.String("revealed_player_id", result.RevealedPlayerID))
}

// resetRoom returns a finished room to the lobby so the host can start again.
func (c *Coordinator) resetRoom(ctx context.Context, session db.GameSession) (PhaseView, error) {
	room, err := c.loadRoom(ctx, session.RoomID)
	if err != nil {
		return PhaseView{}, err
	}
	view := c.phaseView(session, false)
	view.Phase = game.Phase(room.Phase)
	if game.Phase(room.Phase) != game.PhaseResult {
		if game.Phase(room.Phase) == game.PhaseLobby || game.Phase(session.Phase) == game.PhaseResult {
			return view, nil
		}
		return PhaseView{}, newErrorf(CodeInvalidTransition, "%s cannot move to %s", session.Phase, game.PhaseLobby)
	}
	applied, err := c.store.CASRoomPhase(ctx, room.ID, game.PhaseResult, game.PhaseLobby)
	if err != nil {
		return PhaseView{}, fromStore(err, "room")
	}
	if !applied {
		current, err := c.loadRoom(ctx, room.ID)
		if err != nil {
			return PhaseView{}, err
		}
		view.Phase = game.Phase(current.Phase)
		return view, nil
	}
	if err := c.store.ResetReady(ctx, room.ID); err != nil {
		return PhaseView{}, fromStore(err, "players")
	}
	room.Phase = string(game.PhaseLobby)
	c.logger.Info("room reset", zap.String("room_id", room.ID), zap.String("session_id", session.ID))
	c.publish(ctx, RoomChannel(room.ID), EventPhaseChanged, c.roomBroadcast(room, map[string]any{
		"reason":     string(game.EventReset),
		"session_id": session.ID,
	}))
	view.Phase = game.PhaseLobby
	view.DeadlineEpoch = 0
	view.Applied = true
	return view, nil
}
