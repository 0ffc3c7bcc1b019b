// Package events is the External Event Queue: a durable FIFO of typed
// webhook events that drives the Activity Registrar, with rate-limit
// backoff and strict per-user ordering.
package events

import (
	"context"
	"time"

	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
)

// ObjectType classifies what an Event is about.
type ObjectType string

const (
	ObjectActivity ObjectType = "activity"
	ObjectSync     ObjectType = "sync"
	ObjectStop     ObjectType = "stop"
)

// AspectType classifies what happened to the object, for ObjectActivity
// events.
type AspectType string

const (
	AspectCreate AspectType = "create"
	AspectUpdate AspectType = "update"
	AspectDelete AspectType = "delete"
)

// GlobalOwner is the sentinel owner id for events not scoped to a single
// user (a rate-limit barrier that applies process-wide).
const GlobalOwner person.ID = 0

// ID identifies a queued Event.
type ID int64

// Event is one queued unit of work. Sync events expose both Overwrite and
// Update explicitly rather than a single ambiguous "migrate" flag: at
// most one may be set.
type Event struct {
	ID         ID
	ObjectType ObjectType
	ObjectID   int64
	AspectType AspectType
	Owner      person.ID
	EventTime  time.Time
	Updates    map[string]string
	Overwrite  bool
	Update     bool
}

// Validate rejects malformed or self-contradictory events before they
// are enqueued, per the external-event acceptance rules.
func (e Event) Validate() error {
	switch e.ObjectType {
	case ObjectActivity:
		switch e.AspectType {
		case AspectCreate, AspectUpdate, AspectDelete:
		default:
			return tberr.Newf(tberr.KindBadRequest, "unknown aspect type %q", e.AspectType)
		}
	case ObjectSync, ObjectStop:
	default:
		return tberr.Newf(tberr.KindBadRequest, "unknown object type %q", e.ObjectType)
	}
	if e.Overwrite && e.Update {
		return tberr.BadRequest("sync event cannot set both overwrite and update")
	}
	return nil
}

// Store is the External Event Queue's persistence contract.
type Store interface {
	Insert(ctx context.Context, e Event) (Event, error)
	Delete(ctx context.Context, id ID) error
	SetEventTime(ctx context.Context, id ID, t time.Time) error
	// Oldest returns the event Dispatch should look at next for owner or
	// GlobalOwner: any queued `stop` barrier takes priority over every
	// other event regardless of EventTime, since it gates the whole
	// queue; absent a stop, it is the queued event with the earliest
	// EventTime. Returns nil, nil when the queue is empty.
	Oldest(ctx context.Context, owner person.ID) (*Event, error)
	// CollapseDuplicates deletes every queued event for (objectID, owner)
	// except the one with the latest EventTime, and returns that
	// survivor.
	CollapseDuplicates(ctx context.Context, objectID int64, owner person.ID) (Event, error)
}

// Provider is the External Provider Adapter surface the dispatch loop
// consumes. No provider-specific types appear here: remote activities
// arrive pre-translated into activity.Activity, and remote-id bookkeeping
// is the adapter's own concern.
type Provider interface {
	// ResolveActivity returns the internal Activity id already
	// associated with remoteID for owner, if this id has been seen
	// before.
	ResolveActivity(ctx context.Context, owner person.ID, remoteID int64) (activity.ID, bool, error)
	// FetchActivity retrieves and translates the remote activity's
	// current data.
	FetchActivity(ctx context.Context, owner person.ID, remoteID int64) (activity.Activity, error)
	// FetchActivitiesSince pages through remote activities with a start
	// at or after `since`, oldest first, up to perPage per call.
	FetchActivitiesSince(ctx context.Context, owner person.ID, since time.Time, perPage int) ([]activity.Activity, error)
	// RefreshTokenIfNeeded refreshes owner's access token if it is
	// expired or close to expiring.
	RefreshTokenIfNeeded(ctx context.Context, owner person.ID) error
	// ClearAuthorization is called when the provider reports the user's
	// grant was revoked (permanent auth failure).
	ClearAuthorization(ctx context.Context, owner person.ID) error
}

// Dispatcher drains one user's (or the global) event queue, applying
// each event to the Activity Registrar through the Provider adapter.
type Dispatcher struct {
	Store     Store
	Provider  Provider
	Registrar *activity.Registrar
	Now       func() time.Time
	StopFor   time.Duration // defaults to 15 minutes
	PageSize  int           // defaults to 10
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) stopFor() time.Duration {
	if d.StopFor > 0 {
		return d.StopFor
	}
	return 15 * time.Minute
}

func (d *Dispatcher) pageSize() int {
	if d.PageSize > 0 {
		return d.PageSize
	}
	return 10
}

// actor is the internal identity dispatch acts as: the event's own
// owner, never an admin. It exists because registrar operations require
// a person.Person, and dispatch has no human caller to authenticate.
type actor struct{ id person.ID }

func (a actor) UserID() person.ID { return a.id }
func (a actor) IsAdmin() bool     { return false }

// Dispatch repeatedly pops and processes the oldest event for owner (or
// GlobalOwner) until the queue for owner is empty or a `stop` barrier
// not yet expired is reached. It never blocks: a still-active stop
// barrier causes it to return immediately so the caller can retry later.
func (d *Dispatcher) Dispatch(ctx context.Context, owner person.ID) error {
	for {
		ev, err := d.Store.Oldest(ctx, owner)
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}

		if ev.ObjectType == ObjectStop {
			if ev.EventTime.After(d.now()) {
				return nil
			}
			if err := d.Store.Delete(ctx, ev.ID); err != nil {
				return err
			}
			continue
		}

		collapsed, err := d.Store.CollapseDuplicates(ctx, ev.ObjectID, ev.Owner)
		if err != nil {
			return err
		}
		ev = &collapsed

		if err := d.process(ctx, *ev); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, ev Event) error {
	var err error
	switch ev.ObjectType {
	case ObjectActivity:
		err = d.processActivity(ctx, ev)
	case ObjectSync:
		err = d.processSync(ctx, ev)
	default:
		return d.Store.Delete(ctx, ev.ID)
	}

	if err == nil {
		return nil
	}
	return d.handleFailure(ctx, ev, err)
}

// handleFailure implements §4.7.3 step 6: transient provider errors
// install a stop barrier and keep the triggering event; auth failures
// clear the user's credentials and halt without deleting the event;
// everything else deletes the offending event and surfaces the error.
func (d *Dispatcher) handleFailure(ctx context.Context, ev Event, cause error) error {
	switch {
	case tberr.Is(cause, tberr.KindTryAgain):
		stop := Event{ObjectType: ObjectStop, Owner: ev.Owner, EventTime: d.now().Add(d.stopFor())}
		if _, err := d.Store.Insert(ctx, stop); err != nil {
			return err
		}
		return nil
	case tberr.Is(cause, tberr.KindNotAuth):
		if err := d.Provider.ClearAuthorization(ctx, ev.Owner); err != nil {
			return err
		}
		return cause
	default:
		if err := d.Store.Delete(ctx, ev.ID); err != nil {
			return err
		}
		return cause
	}
}

// processActivity applies one activity.create|update|delete event and,
// on success only, consumes it. A failure is left for handleFailure to
// classify: a TryAgain or NotAuth keeps this event queued, anything else
// deletes it on the way out.
func (d *Dispatcher) processActivity(ctx context.Context, ev Event) error {
	if err := d.Provider.RefreshTokenIfNeeded(ctx, ev.Owner); err != nil {
		return err
	}
	who := actor{ev.Owner}

	if ev.AspectType == AspectDelete {
		id, found, err := d.Provider.ResolveActivity(ctx, ev.Owner, ev.ObjectID)
		if err != nil {
			return err
		}
		if found {
			if _, _, err := d.Registrar.Delete(ctx, who, id); err != nil {
				return err
			}
		}
		return d.Store.Delete(ctx, ev.ID)
	}

	id, found, err := d.Provider.ResolveActivity(ctx, ev.Owner, ev.ObjectID)
	if err != nil {
		return err
	}
	fetched, err := d.Provider.FetchActivity(ctx, ev.Owner, ev.ObjectID)
	if err != nil {
		return err
	}
	fetched.UserID = ev.Owner

	if found {
		_, _, _, err = d.Registrar.Update(ctx, who, id, fetched)
	} else {
		_, _, _, err = d.Registrar.Create(ctx, who, fetched)
	}
	if err != nil {
		return err
	}
	return d.Store.Delete(ctx, ev.ID)
}

// processSync pages through remote activities from ev.EventTime forward,
// registering each and advancing the watermark to the latest start seen.
// On an empty page, the event is consumed. A revision conflict between
// Overwrite and Update is resolved the same way today (always apply the
// fetched value): there is no remote revision signal yet to tell "newer"
// from "same" apart, so Update currently behaves like Overwrite.
func (d *Dispatcher) processSync(ctx context.Context, ev Event) error {
	if err := d.Provider.RefreshTokenIfNeeded(ctx, ev.Owner); err != nil {
		return err
	}
	who := actor{ev.Owner}

	acts, err := d.Provider.FetchActivitiesSince(ctx, ev.Owner, ev.EventTime, d.pageSize())
	if err != nil {
		return err
	}
	if len(acts) == 0 {
		return d.Store.Delete(ctx, ev.ID)
	}

	watermark := ev.EventTime
	for _, a := range acts {
		a.UserID = ev.Owner
		if a.Start.After(watermark) {
			watermark = a.Start
		}

		if a.ID == 0 {
			if _, _, _, err := d.Registrar.Create(ctx, who, a); err != nil {
				return err
			}
		} else if _, _, _, err := d.Registrar.Update(ctx, who, a.ID, a); err != nil {
			return err
		}

		if err := d.Store.SetEventTime(ctx, ev.ID, watermark); err != nil {
			return err
		}
	}
	return nil
}
