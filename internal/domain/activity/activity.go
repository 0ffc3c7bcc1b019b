// Package activity is the Activity Registrar: add/subtract an activity's
// usage against every Part, Attachment and Service it touched, and drive
// full rescans that rebuild the Usage Ledger from scratch.
package activity

import (
	"context"
	"sort"
	"time"

	"tendabike.dev/engine/internal/domain/attachment"
	"tendabike.dev/engine/internal/domain/maintenance"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

// ID identifies an Activity.
type ID int64

// Activity is one recorded effort: a ride, a run, a ski outing. Distance,
// climb, descend and energy are optional because not every provider
// reports every field.
type Activity struct {
	ID       ID
	UserID   person.ID
	What     types.ActivityTypeID
	Name     string
	Start    time.Time
	Duration int64
	Time     *int64
	Distance *int64
	Climb    *int64
	Descend  *int64
	Energy   *int64
	Gear     *part.ID
}

// Usage extracts the six-tuple this activity contributes, signed by
// factor (+1 to register, -1 to unregister). A missing Descend defaults
// to Climb, matching how most providers only report one slope figure.
func (a Activity) Usage(factor int64) usage.Usage {
	descend := a.Climb
	if a.Descend != nil {
		descend = a.Descend
	}
	return usage.Usage{
		Time:     deref(a.Time) * factor,
		Distance: deref(a.Distance) * factor,
		Climb:    deref(a.Climb) * factor,
		Descend:  deref(descend) * factor,
		Energy:   deref(a.Energy) * factor,
		Count:    factor,
	}
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// Store is the Activity Registrar's persistence contract.
type Store interface {
	Get(ctx context.Context, id ID) (Activity, error)
	Create(ctx context.Context, a Activity) (Activity, error)
	Update(ctx context.Context, a Activity) (Activity, error)
	Delete(ctx context.Context, id ID) error
	AllForUser(ctx context.Context, user person.ID) ([]Activity, error)
	// AllOrdered returns every activity in the store in ascending id
	// order, used by RescanAll to replay history deterministically.
	AllOrdered(ctx context.Context) ([]Activity, error)
}

// Registrar wires the Activity store together with the collaborators it
// registers usage against.
type Registrar struct {
	Store       Store
	Parts       part.Store
	Attachments attachment.Store
	Services    maintenance.Store
	Catalog     *types.Catalog
	Now         func() time.Time
}

// Get returns the activity with id, enforcing read access.
func (r *Registrar) Get(ctx context.Context, user person.Person, id ID) (Activity, error) {
	a, err := r.Store.Get(ctx, id)
	if err != nil {
		return Activity{}, err
	}
	if err := person.CheckOwner(user, a.UserID, "activity not found"); err != nil {
		return Activity{}, err
	}
	return a, nil
}

// AllForUser returns every activity owned by user.
func (r *Registrar) AllForUser(ctx context.Context, user person.Person) ([]Activity, error) {
	return r.Store.AllForUser(ctx, user.UserID())
}

// Create inserts a brand-new activity and registers its usage.
func (r *Registrar) Create(ctx context.Context, user person.Person, a Activity) ([]attachment.Detail, []part.Part, Activity, error) {
	if err := person.CheckOwner(user, a.UserID, "cannot create activity for another user"); err != nil {
		return nil, nil, Activity{}, err
	}
	created, err := r.Store.Create(ctx, a)
	if err != nil {
		return nil, nil, Activity{}, err
	}
	atts, parts, err := r.register(ctx, created, 1)
	return atts, parts, created, err
}

// Update replaces an activity's fields: the old value is unregistered
// first, then the new value is registered, so the usage delta is always
// correct regardless of what changed.
func (r *Registrar) Update(ctx context.Context, user person.Person, id ID, fields Activity) ([]attachment.Detail, []part.Part, Activity, error) {
	old, err := r.Get(ctx, user, id)
	if err != nil {
		return nil, nil, Activity{}, err
	}
	if _, _, err := r.register(ctx, old, -1); err != nil {
		return nil, nil, Activity{}, err
	}

	fields.ID = old.ID
	fields.UserID = old.UserID
	updated, err := r.Store.Update(ctx, fields)
	if err != nil {
		return nil, nil, Activity{}, err
	}
	atts, parts, err := r.register(ctx, updated, 1)
	return atts, parts, updated, err
}

// Delete unregisters an activity's usage then drops its row outright
// (spec's chosen drop-row semantics over a soft-delete/zeroing variant).
func (r *Registrar) Delete(ctx context.Context, user person.Person, id ID) ([]attachment.Detail, []part.Part, error) {
	a, err := r.Get(ctx, user, id)
	if err != nil {
		return nil, nil, err
	}
	atts, parts, err := r.register(ctx, a, -1)
	if err != nil {
		return nil, nil, err
	}
	if err := r.Store.Delete(ctx, id); err != nil {
		return nil, nil, err
	}
	return atts, parts, nil
}

// register applies a's usage, signed by factor, to the gear, every
// attachment live on that gear at a.Start, and every service whose
// window covers a.Start. factor must be +1 (register) or -1 (unregister).
func (r *Registrar) register(ctx context.Context, a Activity, factor int64) ([]attachment.Detail, []part.Part, error) {
	if a.Gear == nil {
		return nil, nil, nil
	}

	u := a.Usage(factor)

	if _, err := part.Touch(ctx, r.Parts, *a.Gear, a.Start); err != nil {
		return nil, nil, err
	}

	ids, err := attachment.PartsPerActivity(ctx, r.Attachments, a.Gear, a.Start)
	if err != nil {
		return nil, nil, err
	}

	touchedParts := make([]part.Part, 0, len(ids))
	for _, id := range ids {
		if _, _, err := r.Attachments.ApplyPartUsage(ctx, id, u, a.Start); err != nil {
			return nil, nil, err
		}
		p, err := r.Parts.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		touchedParts = append(touchedParts, p)

		if _, err := maintenance.Rebucket(ctx, r.Services, id, a.Start, a.Start.Add(1), r.now()); err != nil {
			return nil, nil, err
		}
	}

	atts, err := r.Attachments.RegisterUsage(ctx, *a.Gear, a.Start, u)
	if err != nil {
		return nil, nil, err
	}
	return atts, touchedParts, nil
}

func (r *Registrar) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// RescanAll resets the entire Usage Ledger to zero and replays
// register(a, +1) over every activity in ascending id order. Idempotent:
// running it twice produces byte-identical Usage rows.
func (r *Registrar) RescanAll(ctx context.Context, usageStore usage.Store) error {
	if err := usageStore.ResetAll(ctx); err != nil {
		return err
	}

	acts, err := r.Store.AllOrdered(ctx)
	if err != nil {
		return err
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].ID < acts[j].ID })

	for _, a := range acts {
		if _, _, err := r.register(ctx, a, 1); err != nil {
			return err
		}
	}
	return nil
}
