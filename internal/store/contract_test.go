package store_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"insider/internal/db"
	"insider/internal/game"
	"insider/internal/store"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var epoch = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	room    db.Room
	players []db.Player
}

func seedRoom(t *testing.T, s store.Store, n int) fixture {
	t.Helper()
	ctx := context.Background()
	room := db.Room{ID: uuid.NewString(), Phase: string(game.PhaseLobby)}
	players := make([]db.Player, 0, n)
	for i := 0; i < n; i++ {
		players = append(players, db.Player{
			ID:         uuid.NewString(),
			RoomID:     room.ID,
			Nickname:   fmt.Sprintf("player-%d", i),
			Connected:  true,
			LastSeenAt: epoch,
			JoinedAt:   epoch.Add(time.Duration(i) * time.Second),
		})
	}
	players[0].IsHost = true
	room.HostPlayerID = players[0].ID
	require.NoError(t, s.CreateRoom(ctx, room, players[0]))
	for _, player := range players[1:] {
		require.NoError(t, s.AddPlayer(ctx, player))
	}
	return fixture{room: room, players: players}
}

func seedSession(t *testing.T, s store.Store, f fixture) db.GameSession {
	t.Helper()
	session := db.GameSession{
		ID:         uuid.NewString(),
		RoomID:     f.room.ID,
		Difficulty: string(game.DifficultyNormal),
		Phase:      string(game.PhaseDeal),
		StartedAt:  epoch,
		MasterID:   f.players[0].ID,
		InsiderID:  f.players[1].ID,
		Version:    1,
	}
	roles := []db.Role{
		{PlayerID: f.players[0].ID, Role: game.RoleMaster},
		{PlayerID: f.players[1].ID, Role: game.RoleInsider},
	}
	for _, player := range f.players[2:] {
		roles = append(roles, db.Role{PlayerID: player.ID, Role: game.RoleCitizen})
	}
	topic := db.Topic{
		Text:       "Volcano",
		Difficulty: string(game.DifficultyNormal),
		Options:    datatypes.JSONSlice[string]{"Volcano", "Passport"},
	}
	require.NoError(t, s.CreateSession(context.Background(), store.NewSession{Session: session, Roles: roles, Topic: topic}))
	return session
}

func runContract(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("rooms and players", func(t *testing.T) {
		f := seedRoom(t, s, 3)

		room, err := s.GetRoom(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, string(game.PhaseLobby), room.Phase)
		assert.Equal(t, f.players[0].ID, room.HostPlayerID)

		dup := f.players[1]
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, s.AddPlayer(ctx, dup), store.ErrDuplicateNickname)

		players, err := s.ListPlayers(ctx, f.room.ID)
		require.NoError(t, err)
		require.Len(t, players, 3)
		for i := range players {
			assert.Equal(t, f.players[i].ID, players[i].ID)
		}

		_, err = s.GetPlayer(ctx, f.room.ID, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetRoom(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.SetRoomHost(ctx, f.room.ID, f.players[2].ID))
		room, err = s.GetRoom(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, f.players[2].ID, room.HostPlayerID)
		former, err := s.GetPlayer(ctx, f.room.ID, f.players[0].ID)
		require.NoError(t, err)
		assert.False(t, former.IsHost)

		require.NoError(t, s.SetRoomSuspended(ctx, f.room.ID, true))
		room, err = s.GetRoom(ctx, f.room.ID)
		require.NoError(t, err)
		assert.True(t, room.Suspended)

		require.NoError(t, s.RemovePlayer(ctx, f.room.ID, f.players[1].ID))
		assert.ErrorIs(t, s.RemovePlayer(ctx, f.room.ID, f.players[1].ID), store.ErrNotFound)

		require.NoError(t, s.DeleteRoom(ctx, f.room.ID))
		_, err = s.GetRoom(ctx, f.room.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("presence", func(t *testing.T) {
		f := seedRoom(t, s, 3)

		changed, err := s.SetPlayerConnected(ctx, f.room.ID, f.players[1].ID, true, epoch.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = s.SetPlayerConnected(ctx, f.room.ID, f.players[2].ID, false, epoch)
		require.NoError(t, err)
		assert.True(t, changed)

		count, err := s.CountConnectedPlayers(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		stale, err := s.DisconnectStale(ctx, epoch.Add(30*time.Second))
		require.NoError(t, err)
		ids := make([]string, 0, len(stale))
		for _, player := range stale {
			if player.RoomID == f.room.ID {
				ids = append(ids, player.ID)
			}
		}
		assert.Equal(t, []string{f.players[0].ID}, ids)

		count, err = s.CountConnectedPlayers(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("room phase compare and set", func(t *testing.T) {
		f := seedRoom(t, s, 3)

		ok, err := s.CASRoomPhase(ctx, f.room.ID, game.PhaseDeal, game.PhaseTopic)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CASRoomPhase(ctx, f.room.ID, game.PhaseLobby, game.PhaseDeal)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.CASRoomPhase(ctx, uuid.NewString(), game.PhaseLobby, game.PhaseDeal)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("create session", func(t *testing.T) {
		f := seedRoom(t, s, 4)
		require.NoError(t, s.SetPlayerReady(ctx, f.room.ID, f.players[3].ID, true))
		session := seedSession(t, s, f)

		room, err := s.GetRoom(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, string(game.PhaseDeal), room.Phase)

		player, err := s.GetPlayer(ctx, f.room.ID, f.players[3].ID)
		require.NoError(t, err)
		assert.False(t, player.Ready)

		latest, err := s.LatestSession(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, latest.ID)
		assert.Equal(t, int64(1), latest.Version)

		roles, err := s.ListRoles(ctx, session.ID)
		require.NoError(t, err)
		assert.Len(t, roles, 4)

		topic, err := s.GetTopic(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "Volcano", topic.Text)
		assert.Equal(t, []string{"Volcano", "Passport"}, []string(topic.Options))

		require.NoError(t, s.SetTopicText(ctx, session.ID, "Passport"))
		used, err := s.UsedTopics(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Passport"}, used)

		again := session
		again.ID = uuid.NewString()
		err = s.CreateSession(ctx, store.NewSession{Session: again})
		assert.ErrorIs(t, err, store.ErrStale)
	})

	t.Run("advance session", func(t *testing.T) {
		f := seedRoom(t, s, 3)
		session := seedSession(t, s, f)
		deadline := epoch.Add(10 * time.Second)

		ok, err := s.AdvanceSession(ctx, session.ID,
			store.Guard{Phase: game.PhaseTopic},
			store.Advance{Phase: game.PhaseQuestion}, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.AdvanceSession(ctx, session.ID,
			store.Guard{Phase: game.PhaseDeal},
			store.Advance{Phase: game.PhaseTopic, DeadlineAt: &deadline}, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, string(game.PhaseTopic), got.Phase)
		assert.Equal(t, int64(2), got.Version)
		require.NotNil(t, got.DeadlineAt)
		assert.True(t, deadline.Equal(*got.DeadlineAt))

		room, err := s.GetRoom(ctx, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, string(game.PhaseTopic), room.Phase)

		ok, err = s.AdvanceSession(ctx, session.ID,
			store.Guard{Phase: game.PhaseTopic},
			store.Advance{Phase: game.PhaseVote2Runoff, VoteRound: 2, Candidates: []string{"a", "b"}, AnswererID: f.players[2].ID}, nil)
		require.NoError(t, err)
		require.True(t, ok)
		got, err = s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Nil(t, got.DeadlineAt)
		assert.Equal(t, 2, got.VoteRound)
		assert.Equal(t, []string{"a", "b"}, []string(got.Candidates))
		assert.Equal(t, f.players[2].ID, got.AnswererID)

		result := &db.Result{Outcome: string(game.OutcomeInsiderWin)}
		ok, err = s.AdvanceSession(ctx, session.ID,
			store.Guard{Phase: game.PhaseVote2Runoff, VoteRound: 2},
			store.Advance{Phase: game.PhaseResult, VoteRound: 2}, result)
		require.NoError(t, err)
		require.True(t, ok)

		stored, err := s.GetResult(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, string(game.OutcomeInsiderWin), stored.Outcome)
		assert.Empty(t, stored.RevealedPlayerID)

		err = s.InsertResultIfAbsent(ctx, &db.Result{SessionID: session.ID, Outcome: string(game.OutcomeCitizensWin)})
		assert.ErrorIs(t, err, store.ErrResultExists)

		_, err = s.AdvanceSession(ctx, uuid.NewString(), store.Guard{Phase: game.PhaseDeal}, store.Advance{Phase: game.PhaseTopic}, nil)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("result insert if absent", func(t *testing.T) {
		f := seedRoom(t, s, 3)
		session := seedSession(t, s, f)

		_, err := s.GetResult(ctx, session.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		first := &db.Result{SessionID: session.ID, Outcome: string(game.OutcomeAllLose)}
		require.NoError(t, s.InsertResultIfAbsent(ctx, first))
		assert.NotZero(t, first.ID)

		second := &db.Result{SessionID: session.ID, Outcome: string(game.OutcomeCitizensWin)}
		assert.ErrorIs(t, s.InsertResultIfAbsent(ctx, second), store.ErrResultExists)

		stored, err := s.GetResult(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, string(game.OutcomeAllLose), stored.Outcome)
	})

	t.Run("votes are unique per round", func(t *testing.T) {
		f := seedRoom(t, s, 3)
		session := seedSession(t, s, f)

		vote := &db.Vote{SessionID: session.ID, PlayerID: f.players[1].ID, VoteType: string(game.VoteType1), Round: 1, Value: "yes"}
		require.NoError(t, s.InsertVoteIfAbsent(ctx, vote))
		assert.NotZero(t, vote.ID)

		dup := &db.Vote{SessionID: session.ID, PlayerID: f.players[1].ID, VoteType: string(game.VoteType1), Round: 1, Value: "no"}
		assert.ErrorIs(t, s.InsertVoteIfAbsent(ctx, dup), store.ErrDuplicateVote)

		other := &db.Vote{SessionID: session.ID, PlayerID: f.players[1].ID, VoteType: string(game.VoteType2), Round: 1, Value: f.players[2].ID}
		require.NoError(t, s.InsertVoteIfAbsent(ctx, other))

		votes, err := s.ListVotes(ctx, session.ID, game.VoteType1, 1)
		require.NoError(t, err)
		require.Len(t, votes, 1)
		assert.Equal(t, "yes", votes[0].Value)

		count, err := s.CountVotes(ctx, session.ID, game.VoteType2, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("concurrent advance applies once", func(t *testing.T) {
		f := seedRoom(t, s, 3)
		session := seedSession(t, s, f)

		var applied atomic.Int32
		var wg conc.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Go(func() {
				result := &db.Result{Outcome: string(game.OutcomeCitizensWin), RevealedPlayerID: f.players[1].ID}
				ok, err := s.AdvanceSession(ctx, session.ID,
					store.Guard{Phase: game.PhaseDeal},
					store.Advance{Phase: game.PhaseResult}, result)
				assert.NoError(t, err)
				if ok {
					applied.Add(1)
				}
			})
		}
		wg.Wait()
		assert.Equal(t, int32(1), applied.Load())

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("events", func(t *testing.T) {
		f := seedRoom(t, s, 3)
		err := s.AppendEvent(ctx, db.Event{RoomID: f.room.ID, Type: "phase_changed", Payload: datatypes.JSON(`{"phase":"DEAL"}`)})
		assert.NoError(t, err)
	})
}
