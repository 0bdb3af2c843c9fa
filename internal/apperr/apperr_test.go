package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(Conflict("client %d already subscribed", 7)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsMatchesSentinelThroughWrapping(t *testing.T) {
	err := fmt.Errorf("renew: %w", InvalidState("subscription %d is terminated", 3))

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.True(t, IsKind(err, KindInvalidState))
}

func TestInternalUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("load subscription", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}
