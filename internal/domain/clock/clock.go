// Package clock centralises the engine's treatment of instants: the
// MAX-INSTANT sentinel for "still attached" and the coarse-grain rounding
// applied to every timestamp on input.
package clock

import "time"

// MaxInstant represents "still attached" / "forever". Using a sentinel
// rather than a nullable end time keeps every interval predicate total and
// avoids three-valued comparisons in the attachment timeline.
var MaxInstant = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

// Grain is the coarseness every instant is rounded to on input, chosen to
// avoid off-by-nanosecond interval math from clients that serialize
// sub-second precision.
const Grain = time.Minute

// Round truncates t down to Grain, in UTC. Attach/Detach/Activity times are
// rounded on input so that interval comparisons never hinge on
// sub-minute jitter from client clocks.
func Round(t time.Time) time.Time {
	return t.UTC().Truncate(Grain)
}

// IsForever reports whether t is the MAX-INSTANT sentinel.
func IsForever(t time.Time) bool {
	return t.Equal(MaxInstant)
}
