package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"insider/internal/coordinator"
	"insider/internal/game"
	"insider/internal/store"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yesVotes has the first yes players vote yes and the rest no.
func yesVotes(players []string, yes int) map[string]string {
	ballots := make(map[string]string, len(players))
	for i, id := range players {
		if i < yes {
			ballots[id] = game.BallotYes
		} else {
			ballots[id] = game.BallotNo
		}
	}
	return ballots
}

func TestVote1Outcomes(t *testing.T) {
	cases := []struct {
		name     string
		answerer func(dealt) string
		yes      int
		decision game.Decision
		outcome  game.Outcome
	}{
		{name: "answerer is the insider", answerer: func(d dealt) string { return d.insider }, yes: 4, decision: game.DecisionResolved, outcome: game.OutcomeCitizensWin},
		{name: "answerer is a citizen", answerer: func(d dealt) string { return d.citizens[0] }, yes: 4, decision: game.DecisionResolved, outcome: game.OutcomeInsiderWin},
		{name: "majority says no", answerer: func(d dealt) string { return d.insider }, yes: 2, decision: game.DecisionProceed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			d := h.deal(t, 5)
			answerer := tc.answerer(d)
			h.vote1(t, d, answerer)
			h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players, tc.yes))

			view := h.tally(t, d, game.VoteType1, 1)
			assert.Equal(t, tc.decision, view.Outcome)
			assert.True(t, view.Applied)
			assert.Equal(t, tc.yes, view.Yes)
			assert.Equal(t, 5-tc.yes, view.No)

			result, err := h.store.GetResult(ctx, d.sessionID)
			if tc.decision != game.DecisionResolved {
				assert.ErrorIs(t, err, store.ErrNotFound)
				assert.Equal(t, game.PhaseVote2, view.Phase)
				assert.Equal(t, 1, view.NextRound)
				assert.Nil(t, view.Result)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, game.PhaseResult, view.Phase)
			assert.Equal(t, string(tc.outcome), result.Outcome)
			assert.Equal(t, answerer, result.RevealedPlayerID)
			require.NotNil(t, view.Result)
			assert.Equal(t, tc.outcome, view.Result.Outcome)
			assert.Equal(t, answerer, view.Result.RevealedPlayerID)
		})
	}
}

func TestVote1ExactTieProceeds(t *testing.T) {
	h := newHarness(t)
	d := h.deal(t, 4)
	h.vote1(t, d, d.insider)
	h.castAll(t, d, game.VoteType1, 0, yesVotes(d.players, 2))

	view := h.tally(t, d, game.VoteType1, 0)
	assert.Equal(t, game.DecisionProceed, view.Outcome)
	assert.Equal(t, game.PhaseVote2, view.Phase)

	again := h.tally(t, d, game.VoteType1, 0)
	assert.Equal(t, game.DecisionProceed, again.Outcome)
	assert.False(t, again.Applied)
	assert.Equal(t, view.Version, again.Version)
}

func TestVote2Accusation(t *testing.T) {
	cases := []struct {
		name    string
		accused func(dealt) string
		outcome game.Outcome
	}{
		{name: "insider found", accused: func(d dealt) string { return d.insider }, outcome: game.OutcomeCitizensWin},
		{name: "master accused", accused: func(d dealt) string { return d.master }, outcome: game.OutcomeInsiderWin},
		{name: "citizen accused", accused: func(d dealt) string { return d.citizens[0] }, outcome: game.OutcomeInsiderWin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			d := h.deal(t, 5)
			h.vote1(t, d, d.citizens[1])
			h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players, 0))
			h.tally(t, d, game.VoteType1, 1)

			accused := tc.accused(d)
			ballots := map[string]string{}
			for _, id := range d.players {
				if id == accused {
					ballots[id] = firstOther(d.players, id)
				} else {
					ballots[id] = accused
				}
			}
			h.castAll(t, d, game.VoteType2, 1, ballots)

			view := h.tally(t, d, game.VoteType2, 1)
			assert.Equal(t, game.DecisionResolved, view.Outcome)
			require.NotNil(t, view.Result)
			assert.Equal(t, tc.outcome, view.Result.Outcome)
			assert.Equal(t, accused, view.Result.RevealedPlayerID)
			require.NotEmpty(t, view.Counts)
			assert.Equal(t, game.Count{PlayerID: accused, Votes: 4}, view.Counts[0])
		})
	}
}

func firstOther(players []string, id string) string {
	for _, other := range players {
		if other != id {
			return other
		}
	}
	return ""
}

func TestVote2TieStartsRunoff(t *testing.T) {
	h := newHarness(t)
	d := h.deal(t, 5)
	h.vote1(t, d, d.insider)
	h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players, 2))
	h.tally(t, d, game.VoteType1, 1)

	a, b, c, dd, e := d.players[0], d.players[1], d.players[2], d.players[3], d.players[4]
	h.castAll(t, d, game.VoteType2, 1, map[string]string{a: b, b: a, c: a, dd: b, e: c})

	view := h.tally(t, d, game.VoteType2, 1)
	assert.Equal(t, game.DecisionRunoff, view.Outcome)
	assert.Equal(t, game.PhaseVote2Runoff, view.Phase)
	assert.Equal(t, 2, view.NextRound)
	assert.Equal(t, []string{a, b}, view.Candidates)

	runoffs := h.bus.published(coordinator.EventRunoffStarted)
	require.Len(t, runoffs, 1)
	assert.Equal(t, 2, runoffs[0].Payload["round"])

	_, err := h.store.GetResult(context.Background(), d.sessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// a caller still tallying round 1 is told about the runoff
	late := h.tally(t, d, game.VoteType2, 1)
	assert.Equal(t, game.DecisionRunoff, late.Outcome)
	assert.False(t, late.Applied)
	assert.Equal(t, []string{a, b}, late.Candidates)

	_, err = h.coord.SubmitVote(context.Background(), coordinator.SubmitVoteRequest{
		SessionID: d.sessionID, PlayerID: dd, VoteType: "VOTE2", Value: c, Round: 2,
	})
	requireCode(t, err, coordinator.CodeInvalidVote)
}

func TestRunoffBound(t *testing.T) {
	h := newHarness(t)
	d := h.deal(t, 4)
	h.vote1(t, d, d.insider)
	h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players, 2))
	h.tally(t, d, game.VoteType1, 1)

	a, b, c, dd := d.players[0], d.players[1], d.players[2], d.players[3]
	deadlock := map[string]string{a: b, b: a, c: a, dd: b}

	for round := 1; round < game.MaxVoteRounds; round++ {
		h.castAll(t, d, game.VoteType2, round, deadlock)
		view := h.tally(t, d, game.VoteType2, round)
		require.Equal(t, game.DecisionRunoff, view.Outcome, "round %d", round)
		assert.Equal(t, round+1, view.NextRound)
	}

	h.castAll(t, d, game.VoteType2, game.MaxVoteRounds, deadlock)
	view := h.tally(t, d, game.VoteType2, game.MaxVoteRounds)
	assert.Equal(t, game.DecisionResolved, view.Outcome)
	assert.Equal(t, game.PhaseResult, view.Phase)
	require.NotNil(t, view.Result)
	assert.Equal(t, game.OutcomeInsiderWin, view.Result.Outcome)
	assert.Empty(t, view.Result.RevealedPlayerID)

	assert.Len(t, h.bus.published(coordinator.EventRunoffStarted), game.MaxVoteRounds-1)
	result, err := h.store.GetResult(context.Background(), d.sessionID)
	require.NoError(t, err)
	assert.Empty(t, result.RevealedPlayerID)
}

func TestConcurrentTallyResolvesOnce(t *testing.T) {
	h := newHarness(t)
	d := h.deal(t, 5)
	h.vote1(t, d, d.insider)
	h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players, 5))

	const callers = 16
	var (
		mu    sync.Mutex
		views []coordinator.TallyView
		wg    conc.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Go(func() {
			view, err := h.coord.TallyVotes(context.Background(), coordinator.TallyRequest{
				SessionID: d.sessionID,
				VoteType:  "VOTE1",
				Round:     1,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			views = append(views, view)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, views, callers)
	applied := 0
	for _, view := range views {
		assert.Equal(t, game.DecisionResolved, view.Outcome)
		require.NotNil(t, view.Result)
		assert.Equal(t, game.OutcomeCitizensWin, view.Result.Outcome)
		assert.Equal(t, d.insider, view.Result.RevealedPlayerID)
		if view.Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, h.bus.published(coordinator.EventResultPublished), 1)

	logged := 0
	for _, event := range h.store.Events() {
		if event.Type == coordinator.EventResultPublished {
			logged++
		}
	}
	assert.Equal(t, 1, logged)
}

func TestConcurrentRunoffTallyAgrees(t *testing.T) {
	h := newHarness(t)
	d := h.deal(t, 4)
	h.vote1(t, d, d.insider)
	h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players, 2))
	h.tally(t, d, game.VoteType1, 1)

	a, b, c, dd := d.players[0], d.players[1], d.players[2], d.players[3]
	h.castAll(t, d, game.VoteType2, 1, map[string]string{a: b, b: a, c: a, dd: b})

	const callers = 20
	var (
		mu    sync.Mutex
		views []coordinator.TallyView
		wg    conc.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Go(func() {
			view, err := h.coord.TallyVotes(context.Background(), coordinator.TallyRequest{
				SessionID: d.sessionID,
				VoteType:  "VOTE2",
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			views = append(views, view)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, views, callers)
	applied := 0
	for _, view := range views {
		assert.Equal(t, game.DecisionRunoff, view.Outcome)
		assert.Equal(t, game.PhaseVote2Runoff, view.Phase)
		assert.Equal(t, 2, view.NextRound)
		assert.ElementsMatch(t, []string{a, b}, view.Candidates)
		if view.Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, h.bus.published(coordinator.EventRunoffStarted), 1)

	session, err := h.store.GetSession(context.Background(), d.sessionID)
	require.NoError(t, err)
	assert.Equal(t, string(game.PhaseVote2Runoff), session.Phase)
	assert.Equal(t, 2, session.VoteRound)
}

func TestSubmitVoteUniqueness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.deal(t, 3)
	h.vote1(t, d, d.insider)

	first, err := h.coord.SubmitVote(ctx, coordinator.SubmitVoteRequest{SessionID: d.sessionID, PlayerID: d.players[0], VoteType: "VOTE1", Value: "YES"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Voted)
	assert.Equal(t, 3, first.Quorum)
	assert.False(t, first.AllVoted)

	_, err = h.coord.SubmitVote(ctx, coordinator.SubmitVoteRequest{SessionID: d.sessionID, PlayerID: d.players[0], VoteType: "VOTE1", Value: "no"})
	requireCode(t, err, coordinator.CodeAlreadyVoted)
	assert.True(t, errors.Is(err, coordinator.ErrAlreadyVoted))

	votes, err := h.store.ListVotes(ctx, d.sessionID, game.VoteType1, 1)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, game.BallotYes, votes[0].Value)

	cast := h.bus.published(coordinator.EventVoteCast)
	require.Len(t, cast, 1)
	assert.NotContains(t, cast[0].Payload, "value")
	assert.Equal(t, 1, cast[0].Payload["voted"])
}

func TestSubmitVoteRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.deal(t, 4)

	_, err := h.coord.SubmitVote(ctx, coordinator.SubmitVoteRequest{SessionID: d.sessionID, PlayerID: d.players[0], VoteType: "VOTE1", Value: "yes"})
	requireCode(t, err, coordinator.CodeInvalidPhase)

	h.vote1(t, d, d.insider)
	cases := []struct {
		name string
		req  coordinator.SubmitVoteRequest
		code coordinator.Code
	}{
		{name: "unknown type", req: coordinator.SubmitVoteRequest{PlayerID: d.players[0], VoteType: "VOTE3", Value: "yes"}, code: coordinator.CodeInvalidVote},
		{name: "accusation during answer vote", req: coordinator.SubmitVoteRequest{PlayerID: d.players[0], VoteType: "VOTE2", Value: d.players[1]}, code: coordinator.CodeInvalidPhase},
		{name: "future round", req: coordinator.SubmitVoteRequest{PlayerID: d.players[0], VoteType: "VOTE1", Value: "yes", Round: 2}, code: coordinator.CodeRoundMismatch},
		{name: "not yes or no", req: coordinator.SubmitVoteRequest{PlayerID: d.players[0], VoteType: "VOTE1", Value: "maybe"}, code: coordinator.CodeInvalidVote},
		{name: "outsider", req: coordinator.SubmitVoteRequest{PlayerID: "stranger", VoteType: "VOTE1", Value: "yes"}, code: coordinator.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.SessionID = d.sessionID
			_, err := h.coord.SubmitVote(ctx, tc.req)
			requireCode(t, err, tc.code)
		})
	}

	h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players, 0))
	h.tally(t, d, game.VoteType1, 1)
	_, err = h.coord.SubmitVote(ctx, coordinator.SubmitVoteRequest{SessionID: d.sessionID, PlayerID: d.players[0], VoteType: "VOTE2", Value: d.players[0]})
	requireCode(t, err, coordinator.CodeInvalidVote)
	_, err = h.coord.SubmitVote(ctx, coordinator.SubmitVoteRequest{SessionID: d.sessionID, PlayerID: d.players[0], VoteType: "VOTE2", Value: "stranger"})
	requireCode(t, err, coordinator.CodeInvalidVote)
}

func TestTallyIncompleteIsRetryable(t *testing.T) {
	h := newHarness(t)
	d := h.deal(t, 4)
	h.vote1(t, d, d.insider)
	h.castAll(t, d, game.VoteType1, 1, map[string]string{d.players[0]: "yes", d.players[1]: "no"})

	_, err := h.coord.TallyVotes(context.Background(), coordinator.TallyRequest{SessionID: d.sessionID, VoteType: "VOTE1"})
	requireCode(t, err, coordinator.CodeIncompleteVoting)
	assert.True(t, errors.Is(err, coordinator.ErrIncompleteVoting))
	var typed *coordinator.Error
	require.True(t, errors.As(err, &typed))
	assert.True(t, typed.Retryable())

	_, err = h.coord.TallyVotes(context.Background(), coordinator.TallyRequest{SessionID: d.sessionID, VoteType: "VOTE2"})
	requireCode(t, err, coordinator.CodeInvalidPhase)
}

func TestQuorumIgnoresDisconnectedPlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.deal(t, 5)
	h.vote1(t, d, d.insider)

	absent := d.citizens[len(d.citizens)-1]
	_, err := h.coord.Disconnect(ctx, d.roomID, absent)
	require.NoError(t, err)

	present := make([]string, 0, 4)
	for _, id := range d.players {
		if id != absent {
			present = append(present, id)
		}
	}
	ballots := yesVotes(present, 3)
	h.castAll(t, d, game.VoteType1, 1, ballots)

	view := h.tally(t, d, game.VoteType1, 1)
	assert.Equal(t, game.DecisionResolved, view.Outcome)
	assert.Equal(t, 3, view.Yes)
	assert.Equal(t, 1, view.No)
}

func TestDisconnectCompletingQuorumAnnouncesAllVoted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.deal(t, 4)
	h.vote1(t, d, d.insider)

	absent := d.players[3]
	h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players[:3], 3))
	cast := h.bus.published(coordinator.EventVoteCast)
	require.Len(t, cast, 3)
	assert.Equal(t, false, cast[2].Payload["all_voted"])

	_, err := h.coord.Disconnect(ctx, d.roomID, absent)
	require.NoError(t, err)

	cast = h.bus.published(coordinator.EventVoteCast)
	require.Len(t, cast, 4)
	last := cast[3].Payload
	assert.NotContains(t, last, "player_id")
	assert.Equal(t, "VOTE1", last["vote_type"])
	assert.Equal(t, 1, last["round"])
	assert.Equal(t, 3, last["voted"])
	assert.Equal(t, 3, last["quorum"])
	assert.Equal(t, true, last["all_voted"])

	view := h.tally(t, d, game.VoteType1, 0)
	assert.Equal(t, game.DecisionResolved, view.Outcome)
	assert.Equal(t, game.PhaseResult, view.Phase)
}

func TestPresenceSweepAnnouncesVoteProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.deal(t, 4)
	h.vote1(t, d, d.insider)

	h.castAll(t, d, game.VoteType1, 1, yesVotes(d.players[:3], 3))
	h.clock.Advance(h.cfg.PresenceTimeout + time.Second)
	for _, id := range d.players[:3] {
		_, err := h.coord.Heartbeat(ctx, d.roomID, id)
		require.NoError(t, err)
	}

	swept, err := h.coord.SweepPresence(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	cast := h.bus.published(coordinator.EventVoteCast)
	require.NotEmpty(t, cast)
	assert.Equal(t, true, cast[len(cast)-1].Payload["all_voted"])
}

func TestTallyAfterResultReadsResult(t *testing.T) {
	h := newHarness(t)
	d := h.deal(t, 3)
	h.question(t, d)
	h.clock.Advance(h.cfg.QuestionDuration)
	_, err := h.coord.CheckDeadline(context.Background(), d.sessionID)
	require.NoError(t, err)

	view := h.tally(t, d, game.VoteType1, 0)
	assert.Equal(t, game.DecisionResolved, view.Outcome)
	assert.False(t, view.Applied)
	require.NotNil(t, view.Result)
	assert.Equal(t, game.OutcomeAllLose, view.Result.Outcome)
}
