package coordinator_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"insider/internal/coordinator"
	"insider/internal/game"
	"insider/internal/store"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type busMock struct {
	mock.Mock
}

func (b *busMock) Publish(_ context.Context, channel, event string, broadcast coordinator.Broadcast) {
	b.Called(channel, event, broadcast)
}

// published returns the broadcasts sent for event, in order.
func (b *busMock) published(event string) []coordinator.Broadcast {
	out := make([]coordinator.Broadcast, 0)
	for _, call := range b.Calls {
		if call.Arguments.String(1) == event {
			out = append(out, call.Arguments.Get(2).(coordinator.Broadcast))
		}
	}
	return out
}

type harness struct {
	coord *coordinator.Coordinator
	store *store.Memory
	bus   *busMock
	clock *fakeClock
	cfg   coordinator.Config
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%03d", n.Add(1))
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := &busMock{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return()
	clock := &fakeClock{now: start}
	mem := store.NewMemory()
	cfg := coordinator.Config{
		TopicDuration:    10 * time.Second,
		QuestionDuration: 300 * time.Second,
		PresenceTimeout:  30 * time.Second,
		TopicOptions:     3,
		MaxPlayers:       8,
	}
	coord := coordinator.New(mem, bus, cfg, zap.NewNop(),
		coordinator.WithClock(clock.Now),
		coordinator.WithRand(rand.New(rand.NewPCG(7, 11))),
		coordinator.WithIDs(sequentialIDs()),
	)
	return &harness{coord: coord, store: mem, bus: bus, clock: clock, cfg: cfg}
}

// table creates a room with n players, the first being host. Players join one second apart.
func (h *harness) table(t *testing.T, n int) (string, []string) {
	t.Helper()
	ctx := context.Background()
	host, err := h.coord.CreateRoom(ctx, "host")
	require.NoError(t, err)
	ids := []string{host.PlayerID}
	for i := 1; i < n; i++ {
		h.clock.Advance(time.Second)
		joined, err := h.coord.JoinRoom(ctx, host.RoomID, fmt.Sprintf("player-%d", i))
		require.NoError(t, err)
		ids = append(ids, joined.PlayerID)
	}
	return host.RoomID, ids
}

type dealt struct {
	roomID    string
	sessionID string
	players   []string
	master    string
	insider   string
	citizens  []string
}

func (d dealt) notMaster() []string {
	out := make([]string, 0, len(d.players))
	for _, id := range d.players {
		if id != d.master {
			out = append(out, id)
		}
	}
	return out
}

func (h *harness) deal(t *testing.T, n int) dealt {
	t.Helper()
	roomID, players := h.table(t, n)
	res, err := h.coord.StartSession(context.Background(), coordinator.StartRequest{RoomID: roomID, Difficulty: "normal"})
	require.NoError(t, err)
	d := dealt{roomID: roomID, sessionID: res.SessionID, players: players}
	for _, assignment := range res.RoleAssignments {
		switch assignment.Role {
		case game.RoleMaster:
			d.master = assignment.PlayerID
		case game.RoleInsider:
			d.insider = assignment.PlayerID
		case game.RoleCitizen:
			d.citizens = append(d.citizens, assignment.PlayerID)
		}
	}
	require.NotEmpty(t, d.master)
	require.NotEmpty(t, d.insider)
	return d
}

// question plays a dealt session up to a running QUESTION phase.
func (h *harness) question(t *testing.T, d dealt) coordinator.PhaseView {
	t.Helper()
	ctx := context.Background()
	for _, id := range d.players {
		_, err := h.coord.ConfirmRole(ctx, d.sessionID, id)
		require.NoError(t, err)
	}
	h.clock.Advance(h.cfg.TopicDuration)
	view, err := h.coord.CheckDeadline(ctx, d.sessionID)
	require.NoError(t, err)
	require.Equal(t, game.PhaseQuestion, view.Phase)
	return view
}

// vote1 plays a dealt session up to VOTE1 with answerer having guessed the word.
func (h *harness) vote1(t *testing.T, d dealt, answerer string) {
	t.Helper()
	ctx := context.Background()
	h.question(t, d)
	_, err := h.coord.ReportAnswer(ctx, coordinator.ReportAnswerRequest{
		SessionID:  d.sessionID,
		RoomID:     d.roomID,
		AnswererID: answerer,
		CallerID:   d.master,
	})
	require.NoError(t, err)
	view, err := h.coord.TransitionPhase(ctx, coordinator.TransitionRequest{
		SessionID: d.sessionID,
		RoomID:    d.roomID,
		ToPhase:   string(game.PhaseVote1),
		CallerID:  d.master,
	})
	require.NoError(t, err)
	require.Equal(t, game.PhaseVote1, view.Phase)
}

func (h *harness) castAll(t *testing.T, d dealt, voteType game.VoteType, round int, ballots map[string]string) {
	t.Helper()
	for _, id := range d.players {
		value, ok := ballots[id]
		if !ok {
			continue
		}
		_, err := h.coord.SubmitVote(context.Background(), coordinator.SubmitVoteRequest{
			SessionID: d.sessionID,
			PlayerID:  id,
			VoteType:  string(voteType),
			Value:     value,
			Round:     round,
		})
		require.NoError(t, err)
	}
}

func (h *harness) tally(t *testing.T, d dealt, voteType game.VoteType, round int) coordinator.TallyView {
	t.Helper()
	view, err := h.coord.TallyVotes(context.Background(), coordinator.TallyRequest{
		SessionID: d.sessionID,
		RoomID:    d.roomID,
		VoteType:  string(voteType),
		Round:     round,
	})
	require.NoError(t, err)
	return view
}

func requireCode(t *testing.T, err error, code coordinator.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, coordinator.CodeOf(err), err.Error())
}
