package game

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

func TestDealAssignsExactlyOneMasterAndInsider(t *testing.T) {
	rng := seeded()
	players := []string{"p1", "p2", "p3", "p4", "p5"}
	for i := 0; i < 50; i++ {
		assignment, err := Deal(players, "", rng)
		require.NoError(t, err)
		require.NoError(t, assignment.Validate())
		assert.Len(t, assignment.Roles, len(players))
		assert.NotEqual(t, assignment.MasterID, assignment.InsiderID)
		assert.Len(t, assignment.Citizens(), len(players)-2)
	}
}

func TestDealRequiresThreePlayers(t *testing.T) {
	_, err := Deal([]string{"p1", "p2", "p2", ""}, "", seeded())
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)
}

func TestDealRotatesMaster(t *testing.T) {
	rng := seeded()
	players := []string{"p1", "p2", "p3"}
	for i := 0; i < 50; i++ {
		assignment, err := Deal(players, "p2", rng)
		require.NoError(t, err)
		assert.NotEqual(t, "p2", assignment.MasterID)
	}
}

func TestValidateRejectsTwoMasters(t *testing.T) {
	a := Assignment{
		MasterID:  "p1",
		InsiderID: "p3",
		Roles:     map[string]Role{"p1": RoleMaster, "p2": RoleMaster, "p3": RoleInsider},
	}
	assert.ErrorIs(t, a.Validate(), ErrDealFailed)
}

func TestRoleText(t *testing.T) {
	text, err := RoleInsider.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "INSIDER", string(text))

	var r Role
	require.NoError(t, r.Scan([]byte("MASTER")))
	assert.Equal(t, RoleMaster, r)
	assert.True(t, r.KnowsTopic())
	assert.False(t, RoleCitizen.KnowsTopic())

	_, err = ParseRole("SPY")
	assert.ErrorIs(t, err, ErrUnknownRole)
	_, err = Role(9).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownRole)
}
