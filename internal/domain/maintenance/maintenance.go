// Package maintenance is the Service Ledger: per-part service records and
// the recurring service plans that watch them, kept in sync whenever an
// activity changes the usage a service window covers (attachment changes
// do not rebucket services).
package maintenance

import (
	"context"
	"time"

	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

// ServiceID identifies a Service record.
type ServiceID int64

// PlanID identifies a ServicePlan.
type PlanID int64

// Service tracks usage accumulated on a part between Started and Ended.
// Ended is nil while the service is still open.
type Service struct {
	ID      ServiceID
	PartID  part.ID
	Started time.Time
	Ended   *time.Time
	Notes   string
	Usage   usage.Usage
}

// window returns the service's clip window, substituting MaxInstant-ish
// "now" semantics: an open service's window runs to the given `now`.
func (s Service) window(now time.Time) (time.Time, time.Time) {
	if s.Ended != nil {
		return s.Started, *s.Ended
	}
	return s.Started, now
}

// Plan is a recurring service plan: thresholds on any of the six usage
// fields, scoped to either a part type (applies to every part of that
// type the owner has) or one specific part. At most one active plan
// exists per scope — enforced by CreatePlan, not by the store.
type Plan struct {
	ID         PlanID
	Owner      person.ID
	PartID     *part.ID
	PartType   *types.PartTypeID
	Notes      string
	Thresholds usage.Usage
}

// Store is the Service Ledger's persistence contract.
type Store interface {
	Get(ctx context.Context, id ServiceID) (Service, error)
	Create(ctx context.Context, s Service) (Service, error)
	Update(ctx context.Context, s Service) (Service, error)
	Delete(ctx context.Context, id ServiceID) error
	ForPart(ctx context.Context, part part.ID) ([]Service, error)
	// OverlappingWindow returns every Service on `part` whose window
	// intersects [from, to).
	OverlappingWindow(ctx context.Context, part part.ID, from, to time.Time) ([]Service, error)

	// RecomputeUsage sums the usage of every live attachment of
	// svc.PartID, clipped to svc's window, crediting whichever gear each
	// clipped sub-interval was attached to.
	RecomputeUsage(ctx context.Context, svc Service, windowEnd time.Time) (usage.Usage, error)

	CountForPart(ctx context.Context, part part.ID) (int, error)
	CountPlansForPart(ctx context.Context, part part.ID) (int, error)

	PlansForUser(ctx context.Context, owner person.ID) ([]Plan, error)
	PlansForPart(ctx context.Context, part part.ID) ([]Plan, error)
	CreatePlan(ctx context.Context, p Plan) (Plan, error)
}

// Create opens a new service window on a part the caller owns.
func Create(ctx context.Context, store Store, parts part.Store, user person.Person, partID part.ID, started time.Time, notes string) (Service, error) {
	p, err := parts.Get(ctx, partID)
	if err != nil {
		return Service{}, err
	}
	if err := person.CheckOwner(user, p.Owner, "part not found"); err != nil {
		return Service{}, err
	}
	return store.Create(ctx, Service{PartID: partID, Started: started, Notes: notes})
}

// Close ends an open service at `ended` and recomputes its final usage.
func Close(ctx context.Context, store Store, user person.Person, parts part.Store, id ServiceID, ended time.Time) (Service, error) {
	svc, err := store.Get(ctx, id)
	if err != nil {
		return Service{}, err
	}
	p, err := parts.Get(ctx, svc.PartID)
	if err != nil {
		return Service{}, err
	}
	if err := person.CheckOwner(user, p.Owner, "service not found"); err != nil {
		return Service{}, err
	}
	svc.Ended = &ended
	u, err := store.RecomputeUsage(ctx, svc, ended)
	if err != nil {
		return Service{}, err
	}
	svc.Usage = u
	return store.Update(ctx, svc)
}

// Rebucket recomputes every Service on `partID` whose window intersects
// [from, to): the Activity Registrar calls it whenever it changes usage
// in that window. The Attachment Engine does not call it, so attaching or
// detaching a part leaves the usage of existing Services unchanged. `now`
// stands in for the clip point of any still-open service.
func Rebucket(ctx context.Context, store Store, partID part.ID, from, to, now time.Time) ([]Service, error) {
	affected, err := store.OverlappingWindow(ctx, partID, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]Service, 0, len(affected))
	for _, svc := range affected {
		_, windowEnd := svc.window(now)
		u, err := store.RecomputeUsage(ctx, svc, windowEnd)
		if err != nil {
			return nil, err
		}
		svc.Usage = u
		updated, err := store.Update(ctx, svc)
		if err != nil {
			return nil, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// Delete removes a service record outright (it carries no cascading
// invariants of its own; the Part Registry's delete guard is what checks
// for its existence).
func Delete(ctx context.Context, store Store, parts part.Store, user person.Person, id ServiceID) error {
	svc, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	p, err := parts.Get(ctx, svc.PartID)
	if err != nil {
		return err
	}
	if err := person.CheckOwner(user, p.Owner, "service not found"); err != nil {
		return err
	}
	return store.Delete(ctx, id)
}

// CreatePlan registers a new recurring plan, scoped to exactly one of a
// part type or a specific part.
func CreatePlan(ctx context.Context, store Store, user person.Person, partID *part.ID, partType *types.PartTypeID, thresholds usage.Usage, notes string) (Plan, error) {
	if (partID == nil) == (partType == nil) {
		return Plan{}, tberr.BadRequest("a plan must scope to exactly one of part or part type")
	}
	existing, err := store.PlansForUser(ctx, user.UserID())
	if err != nil {
		return Plan{}, err
	}
	for _, p := range existing {
		if samePlanScope(p, partID, partType) {
			return Plan{}, tberr.Conflict("an active plan already exists for this scope")
		}
	}
	return store.CreatePlan(ctx, Plan{Owner: user.UserID(), PartID: partID, PartType: partType, Thresholds: thresholds, Notes: notes})
}

func samePlanScope(p Plan, partID *part.ID, partType *types.PartTypeID) bool {
	if partID != nil && p.PartID != nil {
		return *p.PartID == *partID
	}
	if partType != nil && p.PartType != nil {
		return *p.PartType == *partType
	}
	return false
}

// Crossing is one service plan whose threshold the part's current usage
// has reached or exceeded. It carries enough to build a notification but
// performs no I/O and leaves dispatch entirely to its caller.
type Crossing struct {
	Plan   Plan
	PartID part.ID
	Usage  usage.Usage
}

// EvaluatePlans reports every plan in plans that scopes to partID or
// partType whose Thresholds are met or exceeded by current. A zero field
// in a plan's Thresholds means that dimension is unbounded and never
// crosses. Pure: the Notification Outbox, not the core engine, decides
// what to do with the result.
func EvaluatePlans(partID part.ID, partType types.PartTypeID, current usage.Usage, plans []Plan) []Crossing {
	var out []Crossing
	for _, p := range plans {
		if !matchesScope(p, partID, partType) {
			continue
		}
		if crossesThreshold(current, p.Thresholds) {
			out = append(out, Crossing{Plan: p, PartID: partID, Usage: current})
		}
	}
	return out
}

func matchesScope(p Plan, partID part.ID, partType types.PartTypeID) bool {
	if p.PartID != nil {
		return *p.PartID == partID
	}
	if p.PartType != nil {
		return *p.PartType == partType
	}
	return false
}

func crossesThreshold(current, threshold usage.Usage) bool {
	return (threshold.Time > 0 && current.Time >= threshold.Time) ||
		(threshold.Distance > 0 && current.Distance >= threshold.Distance) ||
		(threshold.Climb > 0 && current.Climb >= threshold.Climb) ||
		(threshold.Descend > 0 && current.Descend >= threshold.Descend) ||
		(threshold.Energy > 0 && current.Energy >= threshold.Energy) ||
		(threshold.Count > 0 && current.Count >= threshold.Count)
}
