package game

import (
	"fmt"
	"sort"
)

// Decision is what a tally asks the coordinator to do next.
type Decision string

const (
	DecisionResolved Decision = "RESOLVED"
	DecisionProceed  Decision = "PROCEED"
	DecisionRunoff   Decision = "RUNOFF"
)

// Ballot is one recorded vote. Value is "yes"/"no" for VOTE1 and a player id for VOTE2.
type Ballot struct {
	PlayerID string
	Value    string
}

// TallyInput is everything needed to decide a round without touching storage.
type TallyInput struct {
	VoteType   VoteType
	Round      int
	Quorum     []string
	Ballots    []Ballot
	AnswererID string
	InsiderID  string
	MasterID   string
}

// Count is the number of VOTE2 ballots naming one player.
type Count struct {
	PlayerID string `json:"player_id"`
	Votes    int    `json:"votes"`
}

// TallyResult describes the decided round.
type TallyResult struct {
	Decision         Decision
	VoteType         VoteType
	Round            int
	Outcome          Outcome
	RevealedPlayerID string
	NextRound        int
	Candidates       []string
	Yes              int
	No               int
	Counts           []Count
}

// Tally counts the ballots of one round. It returns ErrIncompleteVoting, without deciding
// anything, until every quorum member has exactly one ballot.
func Tally(in TallyInput) (TallyResult, error) {
	quorum := make(map[string]struct{}, len(in.Quorum))
	for _, id := range in.Quorum {
		if id != "" {
			quorum[id] = struct{}{}
		}
	}
	if len(quorum) == 0 {
		return TallyResult{}, fmt.Errorf("%w: empty quorum", ErrIncompleteVoting)
	}

	ballots := make(map[string]string, len(quorum))
	for _, ballot := range in.Ballots {
		if _, ok := quorum[ballot.PlayerID]; !ok {
			continue
		}
		if _, dup := ballots[ballot.PlayerID]; dup {
			continue
		}
		ballots[ballot.PlayerID] = ballot.Value
	}
	if len(ballots) != len(quorum) {
		return TallyResult{}, fmt.Errorf("%w: %d of %d", ErrIncompleteVoting, len(ballots), len(quorum))
	}

	switch in.VoteType {
	case VoteType1:
		return tallyAnswerer(in, ballots, len(quorum))
	case VoteType2:
		return tallyAccusation(in, ballots)
	default:
		return TallyResult{}, fmt.Errorf("%w: %q", ErrUnknownVoteType, in.VoteType)
	}
}

func tallyAnswerer(in TallyInput, ballots map[string]string, total int) (TallyResult, error) {
	result := TallyResult{VoteType: VoteType1, Round: 1}
	for playerID, value := range ballots {
		switch value {
		case BallotYes:
			result.Yes++
		case BallotNo:
			result.No++
		default:
			return TallyResult{}, fmt.Errorf("%w: %s voted %q", ErrInvalidBallot, playerID, value)
		}
	}
	// strict majority of the quorum; an exact split proceeds to VOTE2
	if result.Yes*2 > total {
		result.Decision = DecisionResolved
		result.RevealedPlayerID = in.AnswererID
		result.Outcome = ResolveOutcome(in.InsiderID, in.MasterID, in.AnswererID, true)
		return result, nil
	}
	result.Decision = DecisionProceed
	result.NextRound = 1
	return result, nil
}

func tallyAccusation(in TallyInput, ballots map[string]string) (TallyResult, error) {
	round := in.Round
	if round < 1 {
		round = 1
	}
	result := TallyResult{VoteType: VoteType2, Round: round}

	byTarget := make(map[string]int)
	for playerID, target := range ballots {
		if target == "" {
			return TallyResult{}, fmt.Errorf("%w: %s voted for nobody", ErrInvalidBallot, playerID)
		}
		byTarget[target]++
	}
	result.Counts = make([]Count, 0, len(byTarget))
	for target, votes := range byTarget {
		result.Counts = append(result.Counts, Count{PlayerID: target, Votes: votes})
	}
	sort.Slice(result.Counts, func(i, j int) bool {
		if result.Counts[i].Votes != result.Counts[j].Votes {
			return result.Counts[i].Votes > result.Counts[j].Votes
		}
		return result.Counts[i].PlayerID < result.Counts[j].PlayerID
	})

	top := result.Counts[0].Votes
	tied := make([]string, 0, len(result.Counts))
	for _, count := range result.Counts {
		if count.Votes == top {
			tied = append(tied, count.PlayerID)
		}
	}

	if len(tied) == 1 {
		result.Decision = DecisionResolved
		result.RevealedPlayerID = tied[0]
		result.Outcome = ResolveOutcome(in.InsiderID, in.MasterID, tied[0], true)
		return result, nil
	}
	if round < MaxVoteRounds {
		result.Decision = DecisionRunoff
		result.NextRound = round + 1
		result.Candidates = tied
		return result, nil
	}
	// deadlock after the last runoff: the Insider escapes
	result.Decision = DecisionResolved
	result.Outcome = ResolveOutcome(in.InsiderID, in.MasterID, "", true)
	return result, nil
}
