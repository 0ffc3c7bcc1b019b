package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"tendabike.dev/engine/internal/domain/tberr"
)

func TestAddIsComponentwise(t *testing.T) {
	a := Usage{Time: 10, Distance: 100, Climb: 5, Descend: 5, Energy: 20, Count: 1}
	b := Usage{Time: 5, Distance: 50, Climb: 1, Descend: 1, Energy: 10, Count: 1}
	got := a.Add(b)
	assert.Equal(t, Usage{Time: 15, Distance: 150, Climb: 6, Descend: 6, Energy: 30, Count: 2}, got)
}

func TestNegateThenAddRestoresZero(t *testing.T) {
	a := Usage{Time: 3600, Distance: 30000, Climb: 300, Descend: 300, Energy: 600, Count: 1}
	got := a.Add(a.Negate())
	assert.True(t, got.IsZero())
}

func TestSubIsAddOfNegation(t *testing.T) {
	a := Usage{Time: 10, Count: 2}
	b := Usage{Time: 4, Count: 1}
	assert.Equal(t, Usage{Time: 6, Count: 1}, a.Sub(b))
}

func TestNegativeDetectsAnyNegativeField(t *testing.T) {
	assert.False(t, Usage{}.Negative())
	assert.True(t, Usage{Time: -1}.Negative())
	assert.True(t, Usage{Count: -1}.Negative())
}

func TestCheckWrittenRejectsNegative(t *testing.T) {
	err := CheckWritten(Usage{Distance: -1})
	assert.True(t, tberr.Is(err, tberr.KindFatal))
}

func TestCheckWrittenAcceptsZeroOrPositive(t *testing.T) {
	assert.NoError(t, CheckWritten(Usage{}))
	assert.NoError(t, CheckWritten(Usage{Time: 1}))
}

func TestNewIDIsUniqueAndOpaque(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, Zero, a)
}
