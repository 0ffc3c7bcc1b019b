// Package types is the Type Catalog: immutable tables of PartType and
// ActivityType. It declares which sub-types hook onto which gear type and
// which activity types consume which gear type, and exposes the
// transitive closure the Attachment Engine needs to find "all sub-parts
// of this assembly".
package types

// PartTypeID identifies a row in the PartType catalogue.
type PartTypeID int

// ActivityTypeID identifies a row in the ActivityType catalogue.
type ActivityTypeID int

// PartType describes one kind of part. Main parts (Main == ID) are
// "gear": parts that can be the direct subject of an Activity. Spares
// (Main != ID) are sub-parts that hook onto a gear, directly or
// transitively.
//
// Hooks lists the hook values this type may occupy: an attachment's
// Hook is always the attached part's own type id, so Hooks includes ID
// itself, plus the id of the type it nests under, whether that is the
// gear (a wheel under the bike) or another sub-part (a tire under a
// wheel). Gear types never occupy a hook, so their own Hooks stay empty.
type PartType struct {
	ID    PartTypeID
	Name  string
	Main  PartTypeID
	Hooks []PartTypeID
	Order int
}

// IsMain reports whether t is itself a main (gear) type.
func (t PartType) IsMain() bool {
	return t.Main == t.ID
}

// ActivityType describes one kind of recorded activity and the gear type
// it consumes.
type ActivityType struct {
	ID       ActivityTypeID
	Name     string
	GearType PartTypeID
}

// Catalog is the static, in-memory, immutable type catalogue. It is
// loaded once at process start and never mutated afterwards.
type Catalog struct {
	partTypes     map[PartTypeID]PartType
	activityTypes map[ActivityTypeID]ActivityType
}

// NewCatalog builds a Catalog from the given part and activity types.
// Production code uses Default(); tests may build a narrower catalog.
func NewCatalog(partTypes []PartType, activityTypes []ActivityType) *Catalog {
	c := &Catalog{
		partTypes:     make(map[PartTypeID]PartType, len(partTypes)),
		activityTypes: make(map[ActivityTypeID]ActivityType, len(activityTypes)),
	}
	for _, t := range partTypes {
		c.partTypes[t.ID] = t
	}
	for _, a := range activityTypes {
		c.activityTypes[a.ID] = a
	}
	return c
}

// PartType looks up a PartType by id.
func (c *Catalog) PartType(id PartTypeID) (PartType, bool) {
	t, ok := c.partTypes[id]
	return t, ok
}

// ActivityType looks up an ActivityType by id.
func (c *Catalog) ActivityType(id ActivityTypeID) (ActivityType, bool) {
	a, ok := c.activityTypes[id]
	return a, ok
}

// AllPartTypes returns every PartType ordered by its display Order.
func (c *Catalog) AllPartTypes() []PartType {
	out := make([]PartType, 0, len(c.partTypes))
	for _, t := range c.partTypes {
		out = append(out, t)
	}
	sortPartTypesByOrder(out)
	return out
}

func sortPartTypesByOrder(types []PartType) {
	for i := 1; i < len(types); i++ {
		for j := i; j > 0 && types[j].Order < types[j-1].Order; j-- {
			types[j], types[j-1] = types[j-1], types[j]
		}
	}
}

// Subtypes returns every PartTypeID that nests, directly or
// transitively, under self — i.e. the reflexive/transitive closure of
// "whose Hooks chain leads back to self" — used to find "all sub-parts
// of this assembly". self is included.
func (c *Catalog) Subtypes(self PartTypeID) []PartTypeID {
	remaining := c.AllPartTypes()
	found := c.filterTypes(self, &remaining)

	out := make([]PartTypeID, 0, len(found))
	for _, t := range found {
		out = append(out, t.ID)
	}
	return out
}

// filterTypes recursively extracts from remaining every type that hooks
// onto target (directly or transitively), removing them as it goes.
func (c *Catalog) filterTypes(target PartTypeID, remaining *[]PartType) []PartType {
	var matched []PartType
	kept := (*remaining)[:0:0]
	for _, t := range *remaining {
		if t.ID == target || containsHook(t.Hooks, target) {
			matched = append(matched, t)
		} else {
			kept = append(kept, t)
		}
	}
	*remaining = kept

	result := append([]PartType(nil), matched...)
	for _, t := range matched {
		result = append(result, c.filterTypes(t.ID, remaining)...)
	}
	return result
}

func containsHook(hooks []PartTypeID, id PartTypeID) bool {
	for _, h := range hooks {
		if h == id {
			return true
		}
	}
	return false
}

// ActivityTypesFor returns every ActivityType whose GearType is partType.
func (c *Catalog) ActivityTypesFor(partType PartTypeID) []ActivityType {
	var out []ActivityType
	for _, a := range c.activityTypes {
		if a.GearType == partType {
			out = append(out, a)
		}
	}
	return out
}

// HooksInclude reports whether partType may occupy hook: either hook is
// partType's own id, or it is the type partType nests under.
func (c *Catalog) HooksInclude(partType, hook PartTypeID) bool {
	t, ok := c.partTypes[partType]
	return ok && containsHook(t.Hooks, hook)
}
