package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveOutcome(t *testing.T) {
	cases := []struct {
		name    string
		accused string
		guessed bool
		want    Outcome
	}{
		{"word never guessed", "ins", false, OutcomeAllLose},
		{"insider caught", "ins", true, OutcomeCitizensWin},
		{"citizen accused", "cit", true, OutcomeInsiderWin},
		{"master accused", "mas", true, OutcomeInsiderWin},
		{"nobody identified", "", true, OutcomeInsiderWin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveOutcome("ins", "mas", tc.accused, tc.guessed))
		})
	}
}
