// Package attachment is the Attachment Engine: the timeline of which
// part is attached to which gear/hook, when, and the usage that
// accumulated while it was there.
//
// Every attachment covers a half-open interval [Attached, Detached); an
// attachment still in effect carries Detached == clock.MaxInstant rather
// than a nullable end time, so every interval predicate stays total.
package attachment

import (
	"context"
	"time"

	"tendabike.dev/engine/internal/domain/clock"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"

	"tendabike.dev/engine/internal/domain/part"
)

// Event describes a requested attach or detach: move part.ID onto/off of
// gear's hook as of time.
//
// CascadeAll controls what happens to a part's own children when that
// part is displaced from its current position, either because Detach
// names it directly or because Attach is evicting it to make room for
// something else. When true, the children move with it onto the part
// itself, keeping the sub-assembly together but free of the gear; when
// false they are left where they are. It does not affect the unrelated
// carry in step 6 of Attach, which always moves the attached part's own
// children onto its new gear.
type Event struct {
	PartID     part.ID
	Time       time.Time
	Gear       part.ID
	Hook       types.PartTypeID
	CascadeAll bool
}

// Attachment is one row of the timeline.
type Attachment struct {
	PartID   part.ID
	Attached time.Time
	Gear     part.ID
	Hook     types.PartTypeID
	Detached time.Time
	Usage    usage.Usage
}

// Detail adds the sub-part's name and type, denormalized so a client can
// render an attachment even after the sub-part itself has been deleted.
type Detail struct {
	Attachment
	Name string
	What types.PartTypeID
}

// Store is the Attachment Engine's persistence contract. Every query that
// returns a candidate row for this event's mutation must take a row lock
// (FOR UPDATE in the Postgres adapter): attach/detach runs inside one
// transaction serialized per owner (spec's per-user advisory lock), but
// the row lock additionally protects the rows this event is about to
// rewrite against a concurrent event on the same timeline.
type Store interface {
	// Occupant returns the Attachment (if any) of a part whose type is
	// `what` occupying ev.Gear/ev.Hook at ev.Time.
	Occupant(ctx context.Context, ev Event, what types.PartTypeID) (*Attachment, error)
	// Next returns the next Attachment (attached after ev.Time) of a
	// different part of type `what` on the same gear/hook.
	Next(ctx context.Context, ev Event, what types.PartTypeID) (*Attachment, error)
	// At returns the Attachment (if any) covering ev.PartID at ev.Time.
	At(ctx context.Context, ev Event) (*Attachment, error)
	// After returns the next Attachment of ev.PartID strictly after ev.Time.
	After(ctx context.Context, ev Event) (*Attachment, error)
	// Adjacent returns the Attachment of ev.PartID/ev.Gear/ev.Hook whose
	// Detached equals ev.Time exactly, so it can be extended in place
	// instead of creating a new row.
	Adjacent(ctx context.Context, ev Event) (*Attachment, error)
	// Assembly returns every Attachment, at instant `at`, attached to
	// gear `target` whose part type is in subtypes. A nil subtypes means
	// unrestricted by type (used to find every part hanging off a gear,
	// regardless of hook type).
	Assembly(ctx context.Context, subtypes []types.PartTypeID, target part.ID, at time.Time) ([]Attachment, error)

	// Insert stores a brand-new Attachment row, its Usage already computed.
	Insert(ctx context.Context, a Attachment) (Attachment, error)
	// DeleteRow removes the Attachment row keyed by (PartID, Attached).
	DeleteRow(ctx context.Context, a Attachment) error

	// CountForPart reports how many Attachment rows reference id as
	// either the sub-part or the gear; used by the Part Registry's
	// delete guard.
	CountForPart(ctx context.Context, id part.ID) (int, error)

	// ForPart returns every Attachment row id was ever the sub-part of,
	// newest first, for rendering a part's attachment history.
	ForPart(ctx context.Context, id part.ID) ([]Attachment, error)

	// SumActivityUsage sums the usage of every Activity recorded against
	// gear whose start time falls in [from, to).
	SumActivityUsage(ctx context.Context, gear part.ID, from, to time.Time) (usage.Usage, error)

	// ApplyPartUsage adds delta to a part's Usage ledger row and touches
	// its lifetime window at `at`, returning the part's name and type.
	ApplyPartUsage(ctx context.Context, id part.ID, delta usage.Usage, at time.Time) (name string, what types.PartTypeID, err error)

	// RegisterUsage adds delta to the Usage of every Attachment covering
	// `gear` at `start` (attached ≤ start < detached) — the Activity
	// Registrar's bulk counter update, touching no timeline boundaries.
	RegisterUsage(ctx context.Context, gear part.ID, start time.Time, delta usage.Usage) ([]Detail, error)
}

// PartReader is the narrow part-lookup surface the Attachment Engine
// needs for authorization and type checks, kept separate from Store so
// callers can pass the Part Registry's own store directly.
type PartReader interface {
	Get(ctx context.Context, id part.ID) (part.Part, error)
}

// Engine ties the Attachment Store together with the catalogue and the
// Part Registry it authorizes against.
type Engine struct {
	Store   Store
	Parts   PartReader
	Catalog *types.Catalog
}

// sumHash accumulates a deduplicated Summary-shaped result across a
// sequence of sub-operations, mirroring the original's SumHash: later
// writes to the same key win.
type sumHash struct {
	atts map[attKey]Detail
}

type attKey struct {
	partID   part.ID
	attached time.Time
}

func newSumHash() *sumHash {
	return &sumHash{atts: map[attKey]Detail{}}
}

func (h *sumHash) addDetail(d Detail) {
	h.atts[attKey{d.PartID, d.Attached}] = d
}

func (h *sumHash) merge(other *sumHash) {
	for k, v := range other.atts {
		h.atts[k] = v
	}
}

func (h *sumHash) collect() []Detail {
	out := make([]Detail, 0, len(h.atts))
	for _, d := range h.atts {
		out = append(out, d)
	}
	return out
}

// Detach ends the attachment of ev.PartID (and everything attached to
// it) as of ev.Time. ev.Gear/ev.Hook must match the part's current
// attachment exactly.
func (e *Engine) Detach(ctx context.Context, user person.Person, ev Event) ([]Detail, error) {
	ev.Time = clock.Round(ev.Time)
	if err := e.checkUser(ctx, user, ev.PartID); err != nil {
		return nil, err
	}

	target, err := e.Store.At(ctx, ev)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, tberr.NotFound("part not attached")
	}
	if target.Hook != ev.Hook || target.Gear != ev.Gear {
		return nil, tberr.BadRequest("event does not match current attachment")
	}

	h, err := e.detachAssembly(ctx, ev, *target)
	if err != nil {
		return nil, err
	}
	return h.collect(), nil
}

// detachAssembly ends target and, if ev.CascadeAll, shifts every other part
// of target's sub-type closure attached (at ev.Time) to target.Gear onto
// target.PartID itself, so the sub-assembly leaves together with the part.
// With CascadeAll false the sub-parts are left exactly where they are.
func (e *Engine) detachAssembly(ctx context.Context, ev Event, target Attachment) (*sumHash, error) {
	var subs []Attachment
	if ev.CascadeAll {
		var err error
		subs, err = e.assemblyOf(ctx, ev.PartID, target.Gear, ev.Time)
		if err != nil {
			return nil, err
		}
	}
	h := newSumHash()
	det, err := e.detach(ctx, target, ev.Time)
	if err != nil {
		return nil, err
	}
	h.addDetail(det)

	for _, sub := range subs {
		if sub.PartID == target.PartID {
			continue
		}
		if _, err := e.shift(ctx, sub, ev.Time, target.PartID, h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Attach creates an attachment of ev.PartID onto ev.Gear/ev.Hook as of
// ev.Time, displacing whatever currently occupies that slot and whatever
// ev.PartID (and its assembly) was previously attached to.
func (e *Engine) Attach(ctx context.Context, user person.Person, ev Event) ([]Detail, error) {
	ev.Time = clock.Round(ev.Time)

	p, err := e.authorizedPart(ctx, user, ev.PartID)
	if err != nil {
		return nil, err
	}
	myType, ok := e.Catalog.PartType(p.What)
	if !ok {
		return nil, tberr.Fatal("unknown part type")
	}
	if !e.Catalog.HooksInclude(p.What, ev.Hook) {
		return nil, tberr.Newf(tberr.KindBadRequest, "type %s cannot attach to hook %d", myType.Name, ev.Hook)
	}

	gear, err := e.authorizedPart(ctx, user, ev.Gear)
	if err != nil {
		return nil, err
	}
	if myType.Main != gear.What && !e.Catalog.HooksInclude(p.What, gear.What) {
		return nil, tberr.Newf(tberr.KindBadRequest, "type %s cannot attach to gear of type %d", myType.Name, gear.What)
	}

	h := newSumHash()

	if target, err := e.Store.At(ctx, ev); err != nil {
		return nil, err
	} else if target != nil {
		sub, err := e.detachAssembly(ctx, ev, *target)
		if err != nil {
			return nil, err
		}
		h.merge(sub)
	}

	if occ, err := e.Store.Occupant(ctx, ev, p.What); err != nil {
		return nil, err
	} else if occ != nil {
		occEv := Event{PartID: occ.PartID, Time: ev.Time, Gear: occ.Gear, Hook: occ.Hook, CascadeAll: ev.CascadeAll}
		sub, err := e.detachAssembly(ctx, occEv, *occ)
		if err != nil {
			return nil, err
		}
		h.merge(sub)
	}

	subs, err := e.assemblyOf(ctx, ev.PartID, ev.PartID, ev.Time)
	if err != nil {
		return nil, err
	}

	detTime, err := e.attachOne(ctx, ev, h)
	if err != nil {
		return nil, err
	}

	for _, sub := range subs {
		subDet, err := e.shift(ctx, sub, ev.Time, ev.Gear, h)
		if err != nil {
			return nil, err
		}
		if subDet.Equal(detTime) && detTime.Before(sub.Detached) {
			reEv := Event{PartID: sub.PartID, Hook: sub.Hook, Gear: ev.PartID, Time: detTime}
			if _, err := e.attachOne(ctx, reEv, h); err != nil {
				return nil, err
			}
		}
	}

	return h.collect(), nil
}

// attachOne creates an Attachment for ev alone (no sub-parts), merging
// with an adjacent attachment of the same part/gear/hook if one ends
// exactly at ev.Time, and truncating or deleting whatever attachment
// already occupies ev.PartID or ev.Gear/ev.Hook after ev.Time. Every row
// it touches is folded into h. It returns the time at which ev.PartID
// will next be detached (needed by the caller to decide whether
// displaced sub-parts should be reattached to it).
func (e *Engine) attachOne(ctx context.Context, ev Event, h *sumHash) (time.Time, error) {
	end := clock.MaxInstant
	det := clock.MaxInstant

	p, err := e.Parts.Get(ctx, ev.PartID)
	if err != nil {
		return time.Time{}, err
	}

	if next, err := e.Store.Next(ctx, ev, p.What); err != nil {
		return time.Time{}, err
	} else if next != nil {
		end = next.Attached
		det = next.Attached
	}

	if next, err := e.Store.After(ctx, ev); err != nil {
		return time.Time{}, err
	} else if next != nil && end.After(next.Attached) {
		if next.Gear == ev.Gear && next.Hook == ev.Hook {
			end = next.Detached
			del, err := e.delete(ctx, *next)
			if err != nil {
				return time.Time{}, err
			}
			h.addDetail(del)
		} else {
			end = next.Attached
			det = next.Attached
		}
	}

	a := Attachment{PartID: ev.PartID, Gear: ev.Gear, Hook: ev.Hook, Attached: ev.Time, Detached: end}

	if adj, err := e.Store.Adjacent(ctx, ev); err != nil {
		return time.Time{}, err
	} else if adj != nil {
		extended := *adj
		extended.Detached = end
		detail, err := e.replace(ctx, *adj, extended)
		if err != nil {
			return time.Time{}, err
		}
		h.addDetail(detail)
	} else {
		detail, err := e.create(ctx, a)
		if err != nil {
			return time.Time{}, err
		}
		h.addDetail(detail)
	}

	return det, nil
}

// shift moves an existing attachment so that it ends at atTime and a
// replacement, identical except for its gear, begins there. It returns
// the time the replacement will in turn be detached (MaxInstant if not
// already superseded), used to decide whether displaced children should
// cascade onto the new parent.
func (e *Engine) shift(ctx context.Context, a Attachment, atTime time.Time, target part.ID, h *sumHash) (time.Time, error) {
	det, err := e.detach(ctx, a, atTime)
	if err != nil {
		return time.Time{}, err
	}
	h.addDetail(det)

	ev := Event{PartID: a.PartID, Time: atTime, Gear: target, Hook: a.Hook}
	return e.attachOne(ctx, ev, h)
}

// detach ends `a` at `detached`, deleting it outright if that would make
// it zero-width (the attachment never actually held usage).
func (e *Engine) detach(ctx context.Context, a Attachment, detached time.Time) (Detail, error) {
	del, err := e.delete(ctx, a)
	if err != nil {
		return Detail{}, err
	}
	if !a.Attached.Before(detached) {
		return del, nil
	}

	a.Detached = detached
	return e.create(ctx, a)
}

// replace swaps `old` for `next` in place: delete then recreate so the
// Usage Ledger gets recomputed for the new interval.
func (e *Engine) replace(ctx context.Context, old, next Attachment) (Detail, error) {
	if _, err := e.delete(ctx, old); err != nil {
		return Detail{}, err
	}
	return e.create(ctx, next)
}

// create computes Usage for the interval [a.Attached, a.Detached) on
// a.Gear, persists the row, and folds the delta into the owning part's
// ledger and lifetime window.
func (e *Engine) create(ctx context.Context, a Attachment) (Detail, error) {
	u, err := e.Store.SumActivityUsage(ctx, a.Gear, a.Attached, a.Detached)
	if err != nil {
		return Detail{}, err
	}
	a.Usage = u

	stored, err := e.Store.Insert(ctx, a)
	if err != nil {
		return Detail{}, err
	}
	name, what, err := e.Store.ApplyPartUsage(ctx, a.PartID, u, a.Attached)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Attachment: stored, Name: name, What: what}, nil
}

// delete removes `a`'s row and unwinds its Usage contribution from the
// owning part's ledger.
func (e *Engine) delete(ctx context.Context, a Attachment) (Detail, error) {
	if err := e.deleteRow(ctx, a); err != nil {
		return Detail{}, err
	}
	name, what, err := e.Store.ApplyPartUsage(ctx, a.PartID, a.Usage.Negate(), a.Attached)
	if err != nil {
		return Detail{}, err
	}
	a.Usage = usage.Usage{}
	a.Detached = a.Attached
	return Detail{Attachment: a, Name: name, What: what}, nil
}

func (e *Engine) deleteRow(ctx context.Context, a Attachment) error {
	return e.Store.DeleteRow(ctx, a)
}

// assemblyOf returns every Attachment, at instant `at`, of a part in
// selfID's type's hook closure, attached to `target`.
func (e *Engine) assemblyOf(ctx context.Context, selfID, target part.ID, at time.Time) ([]Attachment, error) {
	p, err := e.Parts.Get(ctx, selfID)
	if err != nil {
		return nil, err
	}
	subtypes := e.Catalog.Subtypes(p.What)
	return e.Store.Assembly(ctx, subtypes, target, at)
}

func (e *Engine) authorizedPart(ctx context.Context, user person.Person, id part.ID) (part.Part, error) {
	p, err := e.Parts.Get(ctx, id)
	if err != nil {
		return part.Part{}, err
	}
	if err := person.CheckOwner(user, p.Owner, "part not found"); err != nil {
		return part.Part{}, err
	}
	return p, nil
}

func (e *Engine) checkUser(ctx context.Context, user person.Person, id part.ID) error {
	p, err := e.Parts.Get(ctx, id)
	if err != nil {
		return err
	}
	return person.CheckOwner(user, p.Owner, "part not found")
}

// PartsPerActivity returns the ids of every part affected by an activity
// on gear as of start: the gear itself plus every part attached to it at
// that instant.
func PartsPerActivity(ctx context.Context, store Store, gear *part.ID, start time.Time) ([]part.ID, error) {
	if gear == nil {
		return nil, nil
	}
	res := []part.ID{*gear}
	atts, err := store.Assembly(ctx, nil, *gear, start)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		res = append(res, a.PartID)
	}
	return res, nil
}
