package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"tendabike.dev/engine/internal/domain/attachment"
	"tendabike.dev/engine/internal/domain/clock"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

// AttachmentStore implements attachment.Store. Every query that returns a
// row the caller is about to mutate takes FOR UPDATE, per attachment.rs's
// liberal use of .for_update().
type AttachmentStore struct{ Pool *Pool }

var _ attachment.Store = (*AttachmentStore)(nil)

const attColumns = `part_id, attached, gear, hook, detached, time, distance, climb, descend, energy, count`

func scanAttachment(row rowScanner) (attachment.Attachment, error) {
	var a attachment.Attachment
	err := row.Scan(&a.PartID, &a.Attached, &a.Gear, &a.Hook, &a.Detached,
		&a.Usage.Time, &a.Usage.Distance, &a.Usage.Climb, &a.Usage.Descend, &a.Usage.Energy, &a.Usage.Count)
	return a, err
}

func (s *AttachmentStore) queryOne(ctx context.Context, query string, args ...interface{}) (*attachment.Attachment, error) {
	row := s.Pool.DB.QueryRow(ctx, query, args...)
	a, err := scanAttachment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, translate(err)
	}
	return &a, nil
}

// Occupant returns the Attachment of a part whose type is `what`
// currently occupying ev.Gear/ev.Hook at ev.Time.
func (s *AttachmentStore) Occupant(ctx context.Context, ev attachment.Event, what types.PartTypeID) (*attachment.Attachment, error) {
	return s.queryOne(ctx, `
		SELECT `+joinAttColumns("a")+` FROM attachments a
		JOIN parts p ON p.id = a.part_id
		WHERE a.gear=$1 AND a.hook=$2 AND a.attached<=$3 AND a.detached>$3 AND p.what=$4
		FOR UPDATE`,
		int64(ev.Gear), int32(ev.Hook), ev.Time, int32(what))
}

// Next returns the next Attachment (attached strictly after ev.Time) of a
// different part of type `what` on the same gear/hook.
func (s *AttachmentStore) Next(ctx context.Context, ev attachment.Event, what types.PartTypeID) (*attachment.Attachment, error) {
	return s.queryOne(ctx, `
		SELECT `+joinAttColumns("a")+` FROM attachments a
		JOIN parts p ON p.id = a.part_id
		WHERE a.gear=$1 AND a.hook=$2 AND a.attached>$3 AND a.part_id<>$4 AND p.what=$5
		ORDER BY a.attached ASC LIMIT 1
		FOR UPDATE`,
		int64(ev.Gear), int32(ev.Hook), ev.Time, int64(ev.PartID), int32(what))
}

// At returns the Attachment covering ev.PartID at ev.Time.
func (s *AttachmentStore) At(ctx context.Context, ev attachment.Event) (*attachment.Attachment, error) {
	return s.queryOne(ctx, `
		SELECT `+attColumns+` FROM attachments
		WHERE part_id=$1 AND attached<=$2 AND detached>$2
		FOR UPDATE`,
		int64(ev.PartID), ev.Time)
}

// After returns the next Attachment of ev.PartID strictly after ev.Time.
func (s *AttachmentStore) After(ctx context.Context, ev attachment.Event) (*attachment.Attachment, error) {
	return s.queryOne(ctx, `
		SELECT `+attColumns+` FROM attachments
		WHERE part_id=$1 AND attached>$2
		ORDER BY attached ASC LIMIT 1
		FOR UPDATE`,
		int64(ev.PartID), ev.Time)
}

// Adjacent returns the Attachment of ev.PartID/ev.Gear/ev.Hook whose
// Detached equals ev.Time exactly.
func (s *AttachmentStore) Adjacent(ctx context.Context, ev attachment.Event) (*attachment.Attachment, error) {
	return s.queryOne(ctx, `
		SELECT `+attColumns+` FROM attachments
		WHERE part_id=$1 AND gear=$2 AND hook=$3 AND detached=$4
		FOR UPDATE`,
		int64(ev.PartID), int64(ev.Gear), int32(ev.Hook), ev.Time)
}

// Assembly returns every Attachment, at instant `at`, attached to gear
// `target` whose part type is in subtypes. nil subtypes means
// unrestricted by type.
func (s *AttachmentStore) Assembly(ctx context.Context, subtypes []types.PartTypeID, target part.ID, at time.Time) ([]attachment.Attachment, error) {
	var rows pgx.Rows
	var err error

	if subtypes == nil {
		rows, err = s.Pool.DB.Query(ctx, `
			SELECT `+attColumns+` FROM attachments
			WHERE gear=$1 AND attached<=$2 AND detached>$2
			FOR UPDATE`,
			int64(target), at)
	} else {
		ids := make([]int32, len(subtypes))
		for i, t := range subtypes {
			ids[i] = int32(t)
		}
		rows, err = s.Pool.DB.Query(ctx, `
			SELECT `+joinAttColumns("a")+` FROM attachments a
			JOIN parts p ON p.id = a.part_id
			WHERE a.gear=$1 AND a.attached<=$2 AND a.detached>$2 AND p.what = ANY($3)
			FOR UPDATE`,
			int64(target), at, ids)
	}
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []attachment.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, a)
	}
	return out, translate(rows.Err())
}

func joinAttColumns(alias string) string {
	cols := []string{"part_id", "attached", "gear", "hook", "detached", "time", "distance", "climb", "descend", "energy", "count"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

// Insert stores a brand-new Attachment row.
func (s *AttachmentStore) Insert(ctx context.Context, a attachment.Attachment) (attachment.Attachment, error) {
	row := s.Pool.DB.QueryRow(ctx, `
		INSERT INTO attachments (`+attColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+attColumns,
		int64(a.PartID), a.Attached, int64(a.Gear), int32(a.Hook), a.Detached,
		a.Usage.Time, a.Usage.Distance, a.Usage.Climb, a.Usage.Descend, a.Usage.Energy, a.Usage.Count)
	stored, err := scanAttachment(row)
	if err != nil {
		return attachment.Attachment{}, translate(err)
	}
	return stored, nil
}

// DeleteRow removes the Attachment row keyed by (PartID, Attached).
func (s *AttachmentStore) DeleteRow(ctx context.Context, a attachment.Attachment) error {
	_, err := s.Pool.DB.Exec(ctx, `DELETE FROM attachments WHERE part_id=$1 AND attached=$2`, int64(a.PartID), a.Attached)
	return translate(err)
}

// CountForPart reports how many Attachment rows reference id as either
// the sub-part or the gear.
func (s *AttachmentStore) CountForPart(ctx context.Context, id part.ID) (int, error) {
	var n int
	err := s.Pool.DB.QueryRow(ctx, `SELECT count(*) FROM attachments WHERE part_id=$1 OR gear=$1`, int64(id)).Scan(&n)
	return n, translate(err)
}

// ForPart returns every Attachment row id was ever the sub-part of,
// newest first.
func (s *AttachmentStore) ForPart(ctx context.Context, id part.ID) ([]attachment.Attachment, error) {
	rows, err := s.Pool.DB.Query(ctx, `
		SELECT `+attColumns+` FROM attachments
		WHERE part_id=$1
		ORDER BY attached DESC`,
		int64(id))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []attachment.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, a)
	}
	return out, translate(rows.Err())
}

// SumActivityUsage sums the usage of every Activity recorded against
// gear whose start time falls in [from, to). Detached == clock.MaxInstant
// means "still open"; Postgres handles that as an ordinary (if distant)
// timestamptz upper bound, no special-casing needed.
func (s *AttachmentStore) SumActivityUsage(ctx context.Context, gear part.ID, from, to time.Time) (usage.Usage, error) {
	var u usage.Usage
	err := s.Pool.DB.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(time), 0), COALESCE(SUM(distance), 0), COALESCE(SUM(climb), 0),
			COALESCE(SUM(descend), 0), COALESCE(SUM(energy), 0), COALESCE(SUM(count), 0)
		FROM (
			SELECT
				COALESCE(time, 0) AS time, COALESCE(distance, 0) AS distance, COALESCE(climb, 0) AS climb,
				COALESCE(descend, 0) AS descend, COALESCE(energy, 0) AS energy, 1 AS count
			FROM activities
			WHERE gear=$1 AND start>=$2 AND start<$3
		) sub`,
		int64(gear), from, to).Scan(&u.Time, &u.Distance, &u.Climb, &u.Descend, &u.Energy, &u.Count)
	if err != nil {
		return usage.Usage{}, translate(err)
	}
	return u, nil
}

// ApplyPartUsage adds delta to a part's Usage ledger row and touches its
// lifetime window at `at`.
func (s *AttachmentStore) ApplyPartUsage(ctx context.Context, id part.ID, delta usage.Usage, at time.Time) (string, types.PartTypeID, error) {
	var name string
	var what types.PartTypeID
	err := s.Pool.WithTx(ctx, func(tx pgxTx) error {
		var usageID string
		var purchase, lastUsed time.Time
		var w int32
		if err := tx.QueryRow(ctx, `SELECT name, what, usage_id, purchase, last_used FROM parts WHERE id=$1 FOR UPDATE`, int64(id)).
			Scan(&name, &w, &usageID, &purchase, &lastUsed); err != nil {
			return notFoundOrErr(err, "part not found")
		}
		what = types.PartTypeID(w)

		var cur usage.Usage
		if err := tx.QueryRow(ctx, `SELECT time, distance, climb, descend, energy, count FROM usages WHERE id=$1 FOR UPDATE`, usageID).
			Scan(&cur.Time, &cur.Distance, &cur.Climb, &cur.Descend, &cur.Energy, &cur.Count); err != nil {
			return err
		}
		next := cur.Add(delta)
		if err := usage.CheckWritten(next); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE usages SET time=$2, distance=$3, climb=$4, descend=$5, energy=$6, count=$7 WHERE id=$1`,
			usageID, next.Time, next.Distance, next.Climb, next.Descend, next.Energy, next.Count); err != nil {
			return err
		}

		rt := clock.Round(at)
		newPurchase, newLastUsed := purchase, lastUsed
		if rt.Before(purchase) {
			newPurchase = rt
		}
		if rt.After(lastUsed) {
			newLastUsed = rt
		}
		if newPurchase != purchase || newLastUsed != lastUsed {
			_, err := tx.Exec(ctx, `UPDATE parts SET purchase=$2, last_used=$3 WHERE id=$1`, int64(id), newPurchase, newLastUsed)
			return err
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return name, what, nil
}

// RegisterUsage adds delta to the Usage of every Attachment covering
// gear at start.
func (s *AttachmentStore) RegisterUsage(ctx context.Context, gear part.ID, start time.Time, delta usage.Usage) ([]attachment.Detail, error) {
	var out []attachment.Detail
	err := s.Pool.WithTx(ctx, func(tx pgxTx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+attColumns+` FROM attachments
			WHERE gear=$1 AND attached<=$2 AND detached>$2
			FOR UPDATE`,
			int64(gear), start)
		if err != nil {
			return err
		}
		var targets []attachment.Attachment
		for rows.Next() {
			a, err := scanAttachment(rows)
			if err != nil {
				rows.Close()
				return err
			}
			targets = append(targets, a)
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return rowsErr
		}

		for _, a := range targets {
			next := a.Usage.Add(delta)
			if err := usage.CheckWritten(next); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE attachments SET time=$3, distance=$4, climb=$5, descend=$6, energy=$7, count=$8
				WHERE part_id=$1 AND attached=$2`,
				int64(a.PartID), a.Attached, next.Time, next.Distance, next.Climb, next.Descend, next.Energy, next.Count); err != nil {
				return err
			}

			var name string
			var what int32
			if err := tx.QueryRow(ctx, `SELECT name, what FROM parts WHERE id=$1`, int64(a.PartID)).Scan(&name, &what); err != nil {
				return err
			}
			a.Usage = next
			out = append(out, attachment.Detail{Attachment: a, Name: name, What: types.PartTypeID(what)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
