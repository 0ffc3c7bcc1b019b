package postgres

import (
	"context"

	"tendabike.dev/engine/internal/domain/usage"
)

// UsageStore implements usage.Store.
type UsageStore struct{ Pool *Pool }

var _ usage.Store = (*UsageStore)(nil)

func (s *UsageStore) Read(ctx context.Context, ids []usage.ID) (map[usage.ID]usage.Usage, error) {
	out := make(map[usage.ID]usage.Usage, len(ids))
	for _, id := range ids {
		out[id] = usage.Usage{}
	}
	if len(ids) == 0 {
		return out, nil
	}

	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}

	rows, err := s.Pool.DB.Query(ctx,
		`SELECT id, time, distance, climb, descend, energy, count FROM usages WHERE id = ANY($1)`, strs)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var u usage.Usage
		if err := rows.Scan(&id, &u.Time, &u.Distance, &u.Climb, &u.Descend, &u.Energy, &u.Count); err != nil {
			return nil, translate(err)
		}
		out[usage.ID(id)] = u
	}
	return out, translate(rows.Err())
}

func (s *UsageStore) Write(ctx context.Context, usages map[usage.ID]usage.Usage) error {
	return s.Pool.WithTx(ctx, func(tx pgxTx) error {
		for id, u := range usages {
			if err := usage.CheckWritten(u); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO usages (id, time, distance, climb, descend, energy, count)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (id) DO UPDATE SET
					time=$2, distance=$3, climb=$4, descend=$5, energy=$6, count=$7`,
				string(id), u.Time, u.Distance, u.Climb, u.Descend, u.Energy, u.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *UsageStore) Delete(ctx context.Context, id usage.ID) (usage.Usage, error) {
	var u usage.Usage
	err := s.Pool.WithTx(ctx, func(tx pgxTx) error {
		row := tx.QueryRow(ctx, `SELECT time, distance, climb, descend, energy, count FROM usages WHERE id=$1 FOR UPDATE`, string(id))
		if err := row.Scan(&u.Time, &u.Distance, &u.Climb, &u.Descend, &u.Energy, &u.Count); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM usages WHERE id=$1`, string(id))
		return err
	})
	return u, err
}

func (s *UsageStore) ResetAll(ctx context.Context) error {
	_, err := s.Pool.DB.Exec(ctx, `UPDATE usages SET time=0, distance=0, climb=0, descend=0, energy=0, count=0`)
	return translate(err)
}
