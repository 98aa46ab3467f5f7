package server

import (
	"net/http"

	"insider/internal/coordinator"
	"insider/internal/game"

	"github.com/gin-gonic/gin"
)

type nicknameRequest struct {
	Nickname string `json:"nickname" binding:"required,nickname"`
}

type playerRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
}

type viewerQuery struct {
	PlayerID string `form:"player_id"`
}

type suspendRequest struct {
	PlayerID  string `json:"player_id" binding:"required"`
	Suspended bool   `json:"suspended"`
}

type startRequest struct {
	PlayerID   string `json:"player_id" binding:"required"`
	Difficulty string `json:"difficulty" binding:"omitempty,oneof=easy normal hard"`
}

type topicRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	Text     string `json:"text" binding:"required,topic"`
}

type answerRequest struct {
	RoomID     string `json:"room_id"`
	PlayerID   string `json:"player_id" binding:"required"`
	AnswererID string `json:"answerer_id" binding:"required"`
}

type voteRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	VoteType string `json:"vote_type" binding:"required"`
	Value    string `json:"value" binding:"required"`
	Round    int    `json:"round" binding:"gte=0,lte=3"`
}

type tallyRequest struct {
	RoomID   string `json:"room_id"`
	VoteType string `json:"vote_type" binding:"required"`
	Round    int    `json:"round" binding:"gte=0,lte=3"`
}

type transitionRequest struct {
	RoomID        string `json:"room_id"`
	PlayerID      string `json:"player_id"`
	ToPhase       string `json:"to_phase" binding:"required"`
	DeadlineEpoch *int64 `json:"deadline_epoch"`
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req nicknameRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.CreateRoom(c.Request.Context(), req.Nickname)
	respond(c, http.StatusCreated, res, err)
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	var req nicknameRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.JoinRoom(c.Request.Context(), c.Param("roomID"), req.Nickname)
	respond(c, http.StatusCreated, res, err)
}

func (s *Server) handleLeaveRoom(c *gin.Context) {
	if err := s.coord.LeaveRoom(c.Request.Context(), c.Param("roomID"), c.Param("playerID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	res, err := s.coord.Heartbeat(c.Request.Context(), c.Param("roomID"), c.Param("playerID"))
	respondOK(c, res, err)
}

func (s *Server) handleSuspend(c *gin.Context) {
	var req suspendRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.SetSuspended(c.Request.Context(), c.Param("roomID"), req.PlayerID, req.Suspended)
	respondOK(c, res, err)
}

func (s *Server) handleRoomSnapshot(c *gin.Context) {
	var query viewerQuery
	if !bindQuery(c, &query) {
		return
	}
	snap, err := s.coord.Snapshot(c.Request.Context(), coordinator.SnapshotRequest{
		RoomID:   c.Param("roomID"),
		ViewerID: query.PlayerID,
	})
	respondOK(c, snap, err)
}

func (s *Server) handleSessionSnapshot(c *gin.Context) {
	var query viewerQuery
	if !bindQuery(c, &query) {
		return
	}
	snap, err := s.coord.Snapshot(c.Request.Context(), coordinator.SnapshotRequest{
		SessionID: c.Param("sessionID"),
		ViewerID:  query.PlayerID,
	})
	respondOK(c, snap, err)
}

// handleStartSession only tells the caller their own role; the others learn theirs from
// their snapshot.
func (s *Server) handleStartSession(c *gin.Context) {
	var req startRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.StartSession(c.Request.Context(), coordinator.StartRequest{
		RoomID:     c.Param("roomID"),
		CallerID:   req.PlayerID,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	own := make([]coordinator.RoleAssignment, 0, 1)
	isMaster := false
	for _, assignment := range res.RoleAssignments {
		if assignment.PlayerID == req.PlayerID {
			own = append(own, assignment)
			isMaster = assignment.Role == game.RoleMaster
		}
	}
	res.RoleAssignments = own
	if !isMaster {
		res.TopicOptions = nil
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleConfirmRole(c *gin.Context) {
	var req playerRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.ConfirmRole(c.Request.Context(), c.Param("sessionID"), req.PlayerID)
	respondOK(c, res, err)
}

func (s *Server) handleSelectTopic(c *gin.Context) {
	var req topicRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.coord.SelectTopic(c.Request.Context(), c.Param("sessionID"), req.PlayerID, req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReportAnswer(c *gin.Context) {
	var req answerRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.ReportAnswer(c.Request.Context(), coordinator.ReportAnswerRequest{
		SessionID:  c.Param("sessionID"),
		RoomID:     req.RoomID,
		AnswererID: req.AnswererID,
		CallerID:   req.PlayerID,
	})
	respondOK(c, res, err)
}

func (s *Server) handleSubmitVote(c *gin.Context) {
	var req voteRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.SubmitVote(c.Request.Context(), coordinator.SubmitVoteRequest{
		SessionID: c.Param("sessionID"),
		PlayerID:  req.PlayerID,
		VoteType:  req.VoteType,
		Value:     req.Value,
		Round:     req.Round,
	})
	respond(c, http.StatusCreated, res, err)
}

func (s *Server) handleTally(c *gin.Context) {
	var req tallyRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.TallyVotes(c.Request.Context(), coordinator.TallyRequest{
		SessionID: c.Param("sessionID"),
		RoomID:    req.RoomID,
		VoteType:  req.VoteType,
		Round:     req.Round,
	})
	respondOK(c, res, err)
}

func (s *Server) handleTransition(c *gin.Context) {
	var req transitionRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.coord.TransitionPhase(c.Request.Context(), coordinator.TransitionRequest{
		SessionID:     c.Param("sessionID"),
		RoomID:        req.RoomID,
		ToPhase:       req.ToPhase,
		CallerID:      req.PlayerID,
		DeadlineEpoch: req.DeadlineEpoch,
	})
	respondOK(c, res, err)
}

func (s *Server) handleCheckDeadline(c *gin.Context) {
	res, err := s.coord.CheckDeadline(c.Request.Context(), c.Param("sessionID"))
	respondOK(c, res, err)
}
