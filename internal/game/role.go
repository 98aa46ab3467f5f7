package game

import (
	"database/sql/driver"
	"fmt"
)

// Role is the hidden role a player holds for one session.
type Role uint8

const (
	RoleCitizen Role = iota + 1
	RoleMaster
	RoleInsider
)

// ParseRole converts the wire name of a role.
func ParseRole(raw string) (Role, error) {
	switch raw {
	case "MASTER":
		return RoleMaster, nil
	case "INSIDER":
		return RoleInsider, nil
	case "CITIZEN":
		return RoleCitizen, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "MASTER"
	case RoleInsider:
		return "INSIDER"
	case RoleCitizen:
		return "CITIZEN"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// KnowsTopic reports whether the role is shown the secret topic.
func (r Role) KnowsTopic() bool {
	switch r {
	case RoleMaster, RoleInsider:
		return true
	case RoleCitizen:
		return false
	default:
		return false
	}
}

func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleMaster, RoleInsider, RoleCitizen:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value stores the role by name so the column stays readable.
func (r Role) Value() (driver.Value, error) {
	text, err := r.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(text), nil
}

func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrUnknownRole, src)
	}
}

// Difficulty filters the topic pool.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(raw string) (Difficulty, error) {
	switch d := Difficulty(raw); d {
	case DifficultyEasy, DifficultyNormal, DifficultyHard:
		return d, nil
	case "":
		return DifficultyNormal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, raw)
	}
}

// VoteType distinguishes the answerer check from the accusation vote.
type VoteType string

const (
	VoteType1 VoteType = "VOTE1"
	VoteType2 VoteType = "VOTE2"
)

func ParseVoteType(raw string) (VoteType, error) {
	switch v := VoteType(raw); v {
	case VoteType1, VoteType2:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVoteType, raw)
	}
}

// Outcome is the terminal classification of a session.
type Outcome string

const (
	OutcomeCitizensWin Outcome = "CITIZENS_WIN"
	OutcomeInsiderWin  Outcome = "INSIDER_WIN"
	OutcomeAllLose     Outcome = "ALL_LOSE"
)
