package game

const (
	// MinPlayers is the minimum number of connected players needed to deal roles.
	MinPlayers = 3

	// RecommendedMaxPlayers is the upper end of the recommended table size.
	RecommendedMaxPlayers = 8

	// MaxVoteRounds bounds VOTE2: round 1 plus at most two runoffs.
	MaxVoteRounds = 3

	// DefaultTopicOptions is how many topics the Master is offered per session.
	DefaultTopicOptions = 3

	// maxDealAttempts bounds the redraw loop when a deal comes out degenerate.
	maxDealAttempts = 8
)

const (
	BallotYes = "yes"
	BallotNo  = "no"
)
