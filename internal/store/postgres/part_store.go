package postgres

import (
	"context"

	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/usage"
)

// PartStore implements part.Store.
type PartStore struct{ Pool *Pool }

var _ part.Store = (*PartStore)(nil)

const partColumns = `id, owner, what, name, vendor, model, purchase, last_used, disposed_at, usage_id, source`

func scanPart(row rowScanner) (part.Part, error) {
	var p part.Part
	var usageID string
	err := row.Scan(&p.ID, &p.Owner, &p.What, &p.Name, &p.Vendor, &p.Model, &p.Purchase, &p.LastUsed, &p.DisposedAt, &usageID, &p.Source)
	p.Usage = usage.ID(usageID)
	return p, err
}

func (s *PartStore) Get(ctx context.Context, id part.ID) (part.Part, error) {
	row := s.Pool.DB.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE id=$1`, int64(id))
	p, err := scanPart(row)
	if err != nil {
		return part.Part{}, notFoundOrErr(err, "part not found")
	}
	return p, nil
}

func (s *PartStore) Create(ctx context.Context, p part.Part) (part.Part, error) {
	err := s.Pool.WithTx(ctx, func(tx pgxTx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO usages (id) VALUES ($1)`, string(p.Usage)); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO parts (owner, what, name, vendor, model, purchase, last_used, disposed_at, usage_id, source)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+partColumns,
			int64(p.Owner), int64(p.What), p.Name, p.Vendor, p.Model, p.Purchase, p.LastUsed, p.DisposedAt, string(p.Usage), p.Source)
		stored, err := scanPart(row)
		if err != nil {
			return err
		}
		p = stored
		return nil
	})
	return p, err
}

func (s *PartStore) Update(ctx context.Context, p part.Part) (part.Part, error) {
	row := s.Pool.DB.QueryRow(ctx, `
		UPDATE parts SET name=$2, vendor=$3, model=$4, purchase=$5, last_used=$6, disposed_at=$7
		WHERE id=$1 RETURNING `+partColumns,
		int64(p.ID), p.Name, p.Vendor, p.Model, p.Purchase, p.LastUsed, p.DisposedAt)
	updated, err := scanPart(row)
	if err != nil {
		return part.Part{}, notFoundOrErr(err, "part not found")
	}
	return updated, nil
}

func (s *PartStore) Delete(ctx context.Context, id part.ID) error {
	return s.Pool.WithTx(ctx, func(tx pgxTx) error {
		var usageID string
		if err := tx.QueryRow(ctx, `SELECT usage_id FROM parts WHERE id=$1 FOR UPDATE`, int64(id)).Scan(&usageID); err != nil {
			return notFoundOrErr(err, "part not found")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM parts WHERE id=$1`, int64(id)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM usages WHERE id=$1`, usageID)
		return err
	})
}

func (s *PartStore) AllForOwner(ctx context.Context, owner person.ID) ([]part.Part, error) {
	rows, err := s.Pool.DB.Query(ctx, `SELECT `+partColumns+` FROM parts WHERE owner=$1`, int64(owner))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []part.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, p)
	}
	return out, translate(rows.Err())
}

// AttachmentCounter adapts AttachmentStore.CountForPart to part's own
// narrower AttachmentStore interface; it is the same query either way.
type AttachmentCounter struct{ Pool *Pool }

var _ part.AttachmentStore = (*AttachmentCounter)(nil)

func (s *AttachmentCounter) CountForPart(ctx context.Context, id part.ID) (int, error) {
	var n int
	err := s.Pool.DB.QueryRow(ctx, `SELECT count(*) FROM attachments WHERE part_id=$1 OR gear=$1`, int64(id)).Scan(&n)
	return n, translate(err)
}

// MaintenanceCounter adapts the Service Ledger's row counts to part's
// narrower MaintenanceStore interface.
type MaintenanceCounter struct{ Pool *Pool }

var _ part.MaintenanceStore = (*MaintenanceCounter)(nil)

func (s *MaintenanceCounter) CountServicesForPart(ctx context.Context, id part.ID) (int, error) {
	var n int
	err := s.Pool.DB.QueryRow(ctx, `SELECT count(*) FROM services WHERE part_id=$1`, int64(id)).Scan(&n)
	return n, translate(err)
}

func (s *MaintenanceCounter) CountPlansForPart(ctx context.Context, id part.ID) (int, error) {
	var n int
	err := s.Pool.DB.QueryRow(ctx, `SELECT count(*) FROM service_plans WHERE part_id=$1`, int64(id)).Scan(&n)
	return n, translate(err)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func notFoundOrErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return tberr.NotFound(msg)
	}
	return translate(err)
}
