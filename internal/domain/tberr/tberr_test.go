package tberr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := NotFound("part missing")
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindConflict))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boom"), KindFatal))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := Wrap(KindTryAgain, "storage operation failed", cause)

	require.True(t, Is(wrapped, KindTryAgain))
	assert.ErrorIs(t, wrapped, cause)
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(KindBadRequest, "type %s cannot attach to hook %d", "Chain", 7)
	assert.Contains(t, err.Error(), "Chain")
	assert.Contains(t, err.Error(), "7")
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Kind(99).String())
}
