// Package usage implements the Usage Ledger: addressable accumulators
// referenced by every owning row (Part, Attachment, Service) by a stable
// opaque id instead of embedding counters directly.
package usage

import (
	"context"

	"github.com/google/uuid"

	"tendabike.dev/engine/internal/domain/tberr"
)

// ID is the opaque identifier of a Usage accumulator.
type ID string

// NewID allocates a fresh, globally unique usage id.
func NewID() ID {
	return ID(uuid.NewString())
}

// Zero is the ID value meaning "no usage accumulator assigned".
const Zero ID = ""

// Usage is the six-field accumulator: time, distance, climb, descend,
// energy and count. All fields use monotonic-accumulator semantics;
// negative values only ever appear transiently while negating a Usage for
// an undo and must never be written back negative.
type Usage struct {
	Time     int64
	Distance int64
	Climb    int64
	Descend  int64
	Energy   int64
	Count    int64
}

// Add returns the componentwise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Time:     u.Time + other.Time,
		Distance: u.Distance + other.Distance,
		Climb:    u.Climb + other.Climb,
		Descend:  u.Descend + other.Descend,
		Energy:   u.Energy + other.Energy,
		Count:    u.Count + other.Count,
	}
}

// Negate returns the componentwise negation of u, used to build the
// "unregister" side of a balanced register/unregister pair.
func (u Usage) Negate() Usage {
	return Usage{
		Time:     -u.Time,
		Distance: -u.Distance,
		Climb:    -u.Climb,
		Descend:  -u.Descend,
		Energy:   -u.Energy,
		Count:    -u.Count,
	}
}

// Sub returns u - other. In correct operation this never underflows below
// zero on a ledger row; callers that observe a negative result after
// writing it back must treat it as tberr.Fatal.
func (u Usage) Sub(other Usage) Usage {
	return u.Add(other.Negate())
}

// IsZero reports whether every field of u is zero.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Negative reports whether any field of u is negative. A ledger row
// observed negative after a write is an invariant violation (spec §4.2).
func (u Usage) Negative() bool {
	return u.Time < 0 || u.Distance < 0 || u.Climb < 0 || u.Descend < 0 || u.Energy < 0 || u.Count < 0
}

// Store is the Usage Ledger's persistence contract.
type Store interface {
	// Read returns the Usage for every requested id, keyed by id. Missing
	// ids yield a zero-initialized Usage rather than an error.
	Read(ctx context.Context, ids []ID) (map[ID]Usage, error)
	// Write upserts every (id, usage) pair in usages in one batch.
	Write(ctx context.Context, usages map[ID]Usage) error
	// Delete removes the ledger row for id and returns its prior value.
	Delete(ctx context.Context, id ID) (Usage, error)
	// ResetAll zeroes every row in the ledger, used by full rescans.
	ResetAll(ctx context.Context) error
}

// CheckWritten validates a usage value immediately before it is persisted,
// surfacing the "never underflows" invariant from spec §4.2 as a Fatal
// error rather than silently corrupting the ledger.
func CheckWritten(u Usage) error {
	if u.Negative() {
		return tberr.Fatal("usage ledger row went negative")
	}
	return nil
}
