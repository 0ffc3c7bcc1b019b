package postgres

import (
	"context"
	"encoding/json"
	"time"

	"tendabike.dev/engine/internal/domain/events"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/observability"
)

// EventStore implements events.Store.
type EventStore struct{ Pool *Pool }

var _ events.Store = (*EventStore)(nil)

const eventColumns = `id, object_type, object_id, aspect_type, owner, event_time, updates, overwrite, "update"`

func scanEvent(row rowScanner) (events.Event, error) {
	var e events.Event
	var updates []byte
	err := row.Scan(&e.ID, &e.ObjectType, &e.ObjectID, &e.AspectType, &e.Owner, &e.EventTime, &updates, &e.Overwrite, &e.Update)
	if err != nil {
		return events.Event{}, err
	}
	if len(updates) > 0 {
		if err := json.Unmarshal(updates, &e.Updates); err != nil {
			return events.Event{}, tberr.Wrap(tberr.KindFatal, "corrupt event updates payload", err)
		}
	}
	return e, nil
}

func (s *EventStore) Insert(ctx context.Context, e events.Event) (events.Event, error) {
	updates, err := json.Marshal(e.Updates)
	if err != nil {
		return events.Event{}, tberr.Wrap(tberr.KindBadRequest, "could not encode event updates", err)
	}
	row := s.Pool.DB.QueryRow(ctx, `
		INSERT INTO events (object_type, object_id, aspect_type, owner, event_time, updates, overwrite, "update")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+eventColumns,
		e.ObjectType, e.ObjectID, e.AspectType, int64(e.Owner), e.EventTime, updates, e.Overwrite, e.Update)
	stored, err := scanEvent(row)
	if err != nil {
		return events.Event{}, translate(err)
	}
	if stored.ObjectType == events.ObjectStop {
		observability.RecordStopBarrierInstalled(time.Now())
	}
	return stored, nil
}

func (s *EventStore) Delete(ctx context.Context, id events.ID) error {
	observability.RecordEventDispatched(time.Now())
	_, err := s.Pool.DB.Exec(ctx, `DELETE FROM events WHERE id=$1`, int64(id))
	return translate(err)
}

func (s *EventStore) SetEventTime(ctx context.Context, id events.ID, t time.Time) error {
	tag, err := s.Pool.DB.Exec(ctx, `UPDATE events SET event_time=$2 WHERE id=$1`, int64(id), t)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return tberr.NotFound("event not found")
	}
	return nil
}

// Oldest returns the event Dispatch should look at next for owner or
// events.GlobalOwner. A queued stop barrier always sorts first
// regardless of event_time, since it gates the whole queue; a barrier
// is installed with event_time in the future while the event that
// triggered it usually keeps an older one, so plain ascending order
// would starve the barrier and spin the retry loop forever.
func (s *EventStore) Oldest(ctx context.Context, owner person.ID) (*events.Event, error) {
	row := s.Pool.DB.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE owner=$1 OR owner=$2
		ORDER BY (object_type = 'stop') DESC, event_time ASC LIMIT 1`,
		int64(owner), int64(events.GlobalOwner))
	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, translate(err)
	}
	return &e, nil
}

// CollapseDuplicates deletes every queued event for (objectID, owner)
// except the one with the latest EventTime, returning the survivor.
func (s *EventStore) CollapseDuplicates(ctx context.Context, objectID int64, owner person.ID) (events.Event, error) {
	var surv events.Event
	txErr := s.Pool.WithTx(ctx, func(tx pgxTx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+eventColumns+` FROM events
			WHERE object_id=$1 AND owner=$2
			ORDER BY event_time DESC LIMIT 1
			FOR UPDATE`,
			objectID, int64(owner))
		e, err := scanEvent(row)
		if err != nil {
			return notFoundOrErr(err, "no queued event for that object")
		}
		surv = e

		_, err = tx.Exec(ctx, `DELETE FROM events WHERE object_id=$1 AND owner=$2 AND id<>$3`,
			objectID, int64(owner), int64(e.ID))
		return err
	})
	if txErr != nil {
		return events.Event{}, txErr
	}
	return surv, nil
}
