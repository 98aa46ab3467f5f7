package game

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnknownPhase      = errors.New("unknown phase")
	ErrUnknownRole       = errors.New("unknown role")
	ErrUnknownVoteType   = errors.New("unknown vote type")
	ErrUnknownDifficulty = errors.New("unknown difficulty")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrNoTopics          = errors.New("no topics available")
	ErrIncompleteVoting  = errors.New("not all players have voted")
	ErrInvalidBallot     = errors.New("invalid ballot")
	ErrDealFailed        = errors.New("role deal failed")
)
