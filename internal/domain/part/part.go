// Package part is the Part Registry: the catalogue of physical gear and
// sub-parts owned by a person, independent of where (or whether) a part
// is currently attached.
package part

import (
	"context"
	"time"

	"tendabike.dev/engine/internal/domain/clock"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

// ID identifies a Part.
type ID int64

// Part is a single piece of gear or a sub-part of one: a bike, a ski, a
// chain, a pair of boots. What attaches to what, and when, lives in the
// Attachment Engine; Part only tracks the part's own identity and
// lifetime.
type Part struct {
	ID         ID
	Owner      person.ID
	What       types.PartTypeID
	Name       string
	Vendor     string
	Model      string
	Purchase   time.Time
	LastUsed   time.Time
	DisposedAt *time.Time
	Usage      usage.ID
	Source     *string
}

// IsMain reports whether this part is a gear type rather than a sub-part.
func (p Part) IsMain(cat *types.Catalog) bool {
	t, ok := cat.PartType(p.What)
	return ok && t.IsMain()
}

// Fields the caller may update via Update. Zero values mean "unchanged".
type Fields struct {
	Name     string
	Vendor   string
	Model    string
	Purchase time.Time
}

// AttachmentStore is the narrow slice of the Attachment Engine's store
// that the Part Registry needs to enforce its delete invariants, without
// importing the attachment package and creating a cycle.
type AttachmentStore interface {
	CountForPart(ctx context.Context, part ID) (int, error)
}

// MaintenanceStore is the narrow slice of the Service Ledger's store that
// Delete needs.
type MaintenanceStore interface {
	CountServicesForPart(ctx context.Context, part ID) (int, error)
	CountPlansForPart(ctx context.Context, part ID) (int, error)
}

// Store is the Part Registry's persistence contract.
type Store interface {
	Get(ctx context.Context, id ID) (Part, error)
	Create(ctx context.Context, p Part) (Part, error)
	Update(ctx context.Context, p Part) (Part, error)
	Delete(ctx context.Context, id ID) error
	AllForOwner(ctx context.Context, owner person.ID) ([]Part, error)
}

// Get returns the part with id, enforcing read access.
func Get(ctx context.Context, store Store, user person.Person, id ID) (Part, error) {
	p, err := store.Get(ctx, id)
	if err != nil {
		return Part{}, err
	}
	if !person.HasReadAccess(user, p.Owner) {
		return Part{}, tberr.NotFound("part not found")
	}
	return p, nil
}

// Create registers a brand-new part owned by user, allocating a fresh
// Usage accumulator for it.
func Create(ctx context.Context, store Store, user person.Person, what types.PartTypeID, f Fields, source *string) (Part, error) {
	p := Part{
		Owner:    user.UserID(),
		What:     what,
		Name:     f.Name,
		Vendor:   f.Vendor,
		Model:    f.Model,
		Purchase: clock.Round(f.Purchase),
		LastUsed: clock.Round(f.Purchase),
		Usage:    usage.NewID(),
		Source:   source,
	}
	return store.Create(ctx, p)
}

// Update changes a part's descriptive fields. Ownership is enforced;
// What, Usage and DisposedAt are not editable here.
func Update(ctx context.Context, store Store, user person.Person, id ID, f Fields) (Part, error) {
	p, err := store.Get(ctx, id)
	if err != nil {
		return Part{}, err
	}
	if err := person.CheckOwner(user, p.Owner, "part not found"); err != nil {
		return Part{}, err
	}
	p.Name = f.Name
	p.Vendor = f.Vendor
	p.Model = f.Model
	if !f.Purchase.IsZero() {
		p.Purchase = clock.Round(f.Purchase)
	}
	return store.Update(ctx, p)
}

// Touch extends a part's usage window: if start predates Purchase, it
// becomes the new purchase date; if it postdates LastUsed, it becomes the
// new last-used date. Called whenever an activity or attachment touches
// the part at a time outside its known lifetime.
func Touch(ctx context.Context, store Store, id ID, start time.Time) (Part, error) {
	p, err := store.Get(ctx, id)
	if err != nil {
		return Part{}, err
	}
	start = clock.Round(start)
	changed := false
	if start.After(p.LastUsed) {
		p.LastUsed = start
		changed = true
	}
	if start.Before(p.Purchase) {
		p.Purchase = start
		changed = true
	}
	if !changed {
		return p, nil
	}
	return store.Update(ctx, p)
}

// Dispose marks a part retired as of time, without deleting its history.
func Dispose(ctx context.Context, store Store, user person.Person, id ID, at time.Time) (Part, error) {
	p, err := store.Get(ctx, id)
	if err != nil {
		return Part{}, err
	}
	if err := person.CheckOwner(user, p.Owner, "part not found"); err != nil {
		return Part{}, err
	}
	rounded := clock.Round(at)
	p.DisposedAt = &rounded
	return store.Update(ctx, p)
}

// Restore un-disposes a part.
func Restore(ctx context.Context, store Store, user person.Person, id ID) (Part, error) {
	p, err := store.Get(ctx, id)
	if err != nil {
		return Part{}, err
	}
	if err := person.CheckOwner(user, p.Owner, "part not found"); err != nil {
		return Part{}, err
	}
	p.DisposedAt = nil
	return store.Update(ctx, p)
}

// Delete permanently removes a part. It refuses if the part is still
// attached, has logged services, or has an active service plan: all three
// must be cleared first so deleting a part never silently orphans history.
func Delete(ctx context.Context, store Store, atts AttachmentStore, maint MaintenanceStore, user person.Person, id ID) error {
	p, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := person.CheckOwner(user, p.Owner, "part not found"); err != nil {
		return err
	}

	n, err := atts.CountForPart(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return tberr.Conflict("part is still attached")
	}

	n, err = maint.CountServicesForPart(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return tberr.Conflict("part has services logged")
	}

	n, err = maint.CountPlansForPart(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return tberr.Conflict("part has an active service plan")
	}

	return store.Delete(ctx, id)
}

// Categories returns the set of main (gear) part types the user owns at
// least one part of.
func Categories(ctx context.Context, store Store, cat *types.Catalog, user person.Person) (map[types.PartTypeID]bool, error) {
	parts, err := store.AllForOwner(ctx, user.UserID())
	if err != nil {
		return nil, err
	}
	out := make(map[types.PartTypeID]bool)
	for _, p := range parts {
		if t, ok := cat.PartType(p.What); ok && t.IsMain() {
			out[p.What] = true
		}
	}
	return out, nil
}
