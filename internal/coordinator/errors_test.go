package coordinator

import (
	"context"
	"net/http"
	"testing"

	"insider/internal/store"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestFromStore(t *testing.T) {
	cases := []struct {
		err  error
		code Code
	}{
		{err: store.ErrNotFound, code: CodeNotFound},
		{err: errors.Wrap(store.ErrDuplicateVote, "insert"), code: CodeAlreadyVoted},
		{err: store.ErrResultExists, code: CodeResultExists},
		{err: store.ErrDuplicateNickname, code: CodeConflict},
		{err: store.ErrStale, code: CodeStaleTransition},
		{err: errors.New("connection reset"), code: CodeUnavailable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, CodeOf(fromStore(tc.err, "thing")), tc.err.Error())
	}

	assert.ErrorIs(t, fromStore(context.Canceled, "thing"), context.Canceled)
	assert.Nil(t, fromStore(nil, "thing"))

	typed := newError(CodeForbidden, "no")
	assert.Same(t, typed, fromStore(typed, "thing"))
}

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := errors.Wrap(newErrorf(CodeRoundMismatch, "round %d", 2), "submit")
	assert.True(t, errors.Is(err, ErrRoundMismatch))
	assert.False(t, errors.Is(err, ErrInvalidVote))
	assert.Equal(t, CodeRoundMismatch, CodeOf(err))
	assert.Equal(t, "ROUND_MISMATCH: round 2", newErrorf(CodeRoundMismatch, "round %d", 2).Error())
}

func TestCodeClassification(t *testing.T) {
	assert.Equal(t, http.StatusAccepted, CodeIncompleteVoting.HTTPStatus())
	assert.Equal(t, http.StatusConflict, CodeAlreadyVoted.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, CodeForbidden.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, CodeInvalidVote.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, CodeUnavailable.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, CodeRateLimited.HTTPStatus())

	assert.True(t, CodeUnavailable.Retryable())
	assert.False(t, CodeForbidden.Retryable())
	assert.True(t, CodeAlreadyVoted.Expected())
	assert.False(t, CodeValidation.Expected())
	assert.Equal(t, CodeUnavailable, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
