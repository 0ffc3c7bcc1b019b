package postgres

import (
	"context"

	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
)

// ActivityStore implements activity.Store.
type ActivityStore struct{ Pool *Pool }

var _ activity.Store = (*ActivityStore)(nil)

const actColumns = `id, user_id, what, name, start, duration, time, distance, climb, descend, energy, gear`

func scanActivity(row rowScanner) (activity.Activity, error) {
	var a activity.Activity
	err := row.Scan(&a.ID, &a.UserID, &a.What, &a.Name, &a.Start, &a.Duration,
		&a.Time, &a.Distance, &a.Climb, &a.Descend, &a.Energy, &a.Gear)
	return a, err
}

func (s *ActivityStore) Get(ctx context.Context, id activity.ID) (activity.Activity, error) {
	row := s.Pool.DB.QueryRow(ctx, `SELECT `+actColumns+` FROM activities WHERE id=$1`, int64(id))
	a, err := scanActivity(row)
	if err != nil {
		return activity.Activity{}, notFoundOrErr(err, "activity not found")
	}
	return a, nil
}

func (s *ActivityStore) Create(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	row := s.Pool.DB.QueryRow(ctx, `
		INSERT INTO activities (user_id, what, name, start, duration, time, distance, climb, descend, energy, gear)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+actColumns,
		int64(a.UserID), int32(a.What), a.Name, a.Start, a.Duration,
		a.Time, a.Distance, a.Climb, a.Descend, a.Energy, a.Gear)
	stored, err := scanActivity(row)
	if err != nil {
		return activity.Activity{}, translate(err)
	}
	return stored, nil
}

func (s *ActivityStore) Update(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	row := s.Pool.DB.QueryRow(ctx, `
		UPDATE activities SET what=$2, name=$3, start=$4, duration=$5, time=$6, distance=$7, climb=$8, descend=$9, energy=$10, gear=$11
		WHERE id=$1 RETURNING `+actColumns,
		int64(a.ID), int32(a.What), a.Name, a.Start, a.Duration,
		a.Time, a.Distance, a.Climb, a.Descend, a.Energy, a.Gear)
	updated, err := scanActivity(row)
	if err != nil {
		return activity.Activity{}, notFoundOrErr(err, "activity not found")
	}
	return updated, nil
}

func (s *ActivityStore) Delete(ctx context.Context, id activity.ID) error {
	tag, err := s.Pool.DB.Exec(ctx, `DELETE FROM activities WHERE id=$1`, int64(id))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return tberr.NotFound("activity not found")
	}
	return nil
}

func (s *ActivityStore) AllForUser(ctx context.Context, user person.ID) ([]activity.Activity, error) {
	rows, err := s.Pool.DB.Query(ctx, `SELECT `+actColumns+` FROM activities WHERE user_id=$1 ORDER BY start DESC`, int64(user))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []activity.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, a)
	}
	return out, translate(rows.Err())
}

// AllOrdered returns every activity in ascending id order, replayed by
// RescanAll to rebuild the Usage Ledger deterministically.
func (s *ActivityStore) AllOrdered(ctx context.Context) ([]activity.Activity, error) {
	rows, err := s.Pool.DB.Query(ctx, `SELECT `+actColumns+` FROM activities ORDER BY id ASC`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []activity.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, a)
	}
	return out, translate(rows.Err())
}
