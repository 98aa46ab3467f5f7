package game

import "fmt"

// Phase is a step of the game. Rooms and sessions move through phases strictly forward.
type Phase string

const (
	PhaseLobby       Phase = "LOBBY"
	PhaseDeal        Phase = "DEAL"
	PhaseTopic       Phase = "TOPIC"
	PhaseQuestion    Phase = "QUESTION"
	PhaseDebate      Phase = "DEBATE"
	PhaseVote1       Phase = "VOTE1"
	PhaseVote2       Phase = "VOTE2"
	PhaseVote2Runoff Phase = "VOTE2_RUNOFF"
	PhaseResult      Phase = "RESULT"
)

// Event names the cause of a phase transition.
type Event string

const (
	EventStart           Event = "start"
	EventRolesConfirmed  Event = "roles_confirmed"
	EventTopicRevealed   Event = "topic_revealed"
	EventAnswerReported  Event = "answer_reported"
	EventQuestionTimeout Event = "question_timeout"
	EventDebateEnded     Event = "debate_ended"
	EventVote1Accepted   Event = "vote1_accepted"
	EventVote1Rejected   Event = "vote1_rejected"
	EventVote2Resolved   Event = "vote2_resolved"
	EventVote2Tied       Event = "vote2_tied"
	EventReset           Event = "reset"
)

var phaseTransitions = map[Phase]map[Event]Phase{
	PhaseLobby: {
		EventStart: PhaseDeal,
	},
	PhaseDeal: {
		EventRolesConfirmed: PhaseTopic,
	},
	PhaseTopic: {
		EventTopicRevealed: PhaseQuestion,
	},
	PhaseQuestion: {
		EventAnswerReported:  PhaseDebate,
		EventQuestionTimeout: PhaseResult,
	},
	PhaseDebate: {
		EventDebateEnded: PhaseVote1,
	},
	PhaseVote1: {
		EventVote1Accepted: PhaseResult,
		EventVote1Rejected: PhaseVote2,
	},
	PhaseVote2: {
		EventVote2Resolved: PhaseResult,
		EventVote2Tied:     PhaseVote2Runoff,
	},
	PhaseVote2Runoff: {
		EventVote2Resolved: PhaseResult,
		EventVote2Tied:     PhaseVote2Runoff,
	},
	PhaseResult: {
		EventReset: PhaseLobby,
	},
}

var phaseRanks = map[Phase]int{
	PhaseLobby:       0,
	PhaseDeal:        1,
	PhaseTopic:       2,
	PhaseQuestion:    3,
	PhaseDebate:      4,
	PhaseVote1:       5,
	PhaseVote2:       6,
	PhaseVote2Runoff: 7,
	PhaseResult:      8,
}

// Next returns the phase reached from current on event. It never mutates anything.
func Next(current Phase, event Event) (Phase, error) {
	edges, ok := phaseTransitions[current]
	if !ok {
		return "", fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, current)
	}
	next, ok := edges[event]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, current, event)
	}
	return next, nil
}

// EventBetween finds the event that moves from to to, if the edge exists.
func EventBetween(from, to Phase) (Event, bool) {
	for event, next := range phaseTransitions[from] {
		if next == to {
			return event, true
		}
	}
	return "", false
}

// ParsePhase validates a phase name coming from the outside world.
func ParsePhase(raw string) (Phase, error) {
	phase := Phase(raw)
	if _, ok := phaseRanks[phase]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, raw)
	}
	return phase, nil
}

func (p Phase) String() string {
	return string(p)
}

// Rank orders phases along the forward path; RESULT ranks highest.
func (p Phase) Rank() int {
	rank, ok := phaseRanks[p]
	if !ok {
		return -1
	}
	return rank
}

// Timed reports whether the phase is governed by a deadline.
func (p Phase) Timed() bool {
	switch p {
	case PhaseTopic, PhaseQuestion, PhaseDebate:
		return true
	default:
		return false
	}
}

// Voting reports whether votes of some type are accepted in the phase.
func (p Phase) Voting() bool {
	return p == PhaseVote1 || p == PhaseVote2 || p == PhaseVote2Runoff
}

// Active is true for every in-game phase of a session.
func (p Phase) Active() bool {
	return p != PhaseLobby && p != PhaseResult
}

// VoteTypeFor maps a voting phase to the ballot type it accepts.
func VoteTypeFor(p Phase) (VoteType, bool) {
	switch p {
	case PhaseVote1:
		return VoteType1, true
	case PhaseVote2, PhaseVote2Runoff:
		return VoteType2, true
	default:
		return "", false
	}
}
