package game

// ResolveOutcome derives the result of a session from the hidden roles.
// accusedID is the player the table settled on (the answerer for the VOTE1 shortcut),
// or empty when nobody was identified.
func ResolveOutcome(insiderID, masterID, accusedID string, wordGuessed bool) Outcome {
	if !wordGuessed {
		return OutcomeAllLose
	}
	switch accusedID {
	case "":
		return OutcomeInsiderWin
	case insiderID:
		return OutcomeCitizensWin
	case masterID:
		return OutcomeInsiderWin
	default:
		return OutcomeInsiderWin
	}
}
