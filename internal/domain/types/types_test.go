package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubtypesIsReflexiveAndTransitive(t *testing.T) {
	cat := Default()

	ids := cat.Subtypes(PartBike)
	assert.Contains(t, ids, PartBike)
	assert.Contains(t, ids, PartWheel)
	assert.Contains(t, ids, PartTire) // transitive: Tire hooks onto Wheel, not Bike directly
	assert.Contains(t, ids, PartChain)
	assert.NotContains(t, ids, PartSki)
	assert.NotContains(t, ids, PartSkiBinding)
}

func TestSubtypesOfLeafIsJustItself(t *testing.T) {
	cat := Default()
	assert.Equal(t, []PartTypeID{PartTire}, cat.Subtypes(PartTire))
}

func TestHooksInclude(t *testing.T) {
	cat := Default()
	assert.True(t, cat.HooksInclude(PartChain, PartBike))
	assert.True(t, cat.HooksInclude(PartChain, PartChain))
	assert.False(t, cat.HooksInclude(PartChain, PartSki))
	assert.True(t, cat.HooksInclude(PartTire, PartWheel))
	assert.False(t, cat.HooksInclude(PartWheel, PartTire))
}

func TestActivityTypesForGearType(t *testing.T) {
	cat := Default()
	acts := cat.ActivityTypesFor(PartBike)
	names := make([]string, 0, len(acts))
	for _, a := range acts {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "Ride")
	assert.Contains(t, names, "Mountain Bike Ride")
	assert.NotContains(t, names, "Alpine Ski")
}

func TestIsMain(t *testing.T) {
	cat := Default()
	bike, _ := cat.PartType(PartBike)
	chain, _ := cat.PartType(PartChain)
	assert.True(t, bike.IsMain())
	assert.False(t, chain.IsMain())
}
