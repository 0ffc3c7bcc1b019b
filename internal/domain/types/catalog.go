package types

// Default builds the production Type Catalog: the fixed set of gear and
// sub-part kinds this deployment understands, and the activity kinds
// that consume them. Tables are small and change rarely enough that a
// compiled-in catalogue (rather than a database table) matches how the
// original tracked them.
func Default() *Catalog {
	return NewCatalog(defaultPartTypes, defaultActivityTypes)
}

const (
	PartBike PartTypeID = iota + 1
	PartFrame
	PartWheel
	PartTire
	PartChain
	PartCassette
	PartFork
	PartSki
	PartSkiBinding
	PartSkiBoot
)

// Each non-gear type's Hooks lists the hook values it may legitimately
// occupy: its own id (an attachment's Hook always equals the attached
// part's own type) plus the id of the type it nests under, be that the
// gear itself or another sub-part. Bike and Ski are gear:
// nothing ever attaches them to a hook, so their own Hooks stay empty.
var defaultPartTypes = []PartType{
	{ID: PartBike, Name: "Bike", Main: PartBike, Order: 1},
	{ID: PartFrame, Name: "Frame", Main: PartBike, Order: 2, Hooks: []PartTypeID{PartFrame, PartBike}},
	{ID: PartFork, Name: "Fork", Main: PartBike, Order: 3, Hooks: []PartTypeID{PartFork, PartBike}},
	{ID: PartWheel, Name: "Wheel", Main: PartBike, Order: 4, Hooks: []PartTypeID{PartWheel, PartBike}},
	{ID: PartTire, Name: "Tire", Main: PartBike, Order: 5, Hooks: []PartTypeID{PartTire, PartWheel}},
	{ID: PartChain, Name: "Chain", Main: PartBike, Order: 6, Hooks: []PartTypeID{PartChain, PartBike}},
	{ID: PartCassette, Name: "Cassette", Main: PartBike, Order: 7, Hooks: []PartTypeID{PartCassette, PartBike}},

	{ID: PartSki, Name: "Ski", Main: PartSki, Order: 10},
	{ID: PartSkiBinding, Name: "Binding", Main: PartSki, Order: 11, Hooks: []PartTypeID{PartSkiBinding, PartSki}},
	{ID: PartSkiBoot, Name: "Boot", Main: PartSki, Order: 12, Hooks: []PartTypeID{PartSkiBoot, PartSki}},
}

const (
	ActRide ActivityTypeID = iota + 1
	ActMountainBike
	ActCommute
	ActAlpineSki
	ActNordicSki
)

var defaultActivityTypes = []ActivityType{
	{ID: ActRide, Name: "Ride", GearType: PartBike},
	{ID: ActMountainBike, Name: "Mountain Bike Ride", GearType: PartBike},
	{ID: ActCommute, Name: "Commute", GearType: PartBike},
	{ID: ActAlpineSki, Name: "Alpine Ski", GearType: PartSki},
	{ID: ActNordicSki, Name: "Nordic Ski", GearType: PartSki},
}
