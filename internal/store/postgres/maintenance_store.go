package postgres

import (
	"context"
	"time"

	"tendabike.dev/engine/internal/domain/maintenance"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

// MaintenanceStore implements maintenance.Store.
type MaintenanceStore struct{ Pool *Pool }

var _ maintenance.Store = (*MaintenanceStore)(nil)

const svcColumns = `id, part_id, started, ended, notes, time, distance, climb, descend, energy, count`

func scanService(row rowScanner) (maintenance.Service, error) {
	var s maintenance.Service
	err := row.Scan(&s.ID, &s.PartID, &s.Started, &s.Ended, &s.Notes,
		&s.Usage.Time, &s.Usage.Distance, &s.Usage.Climb, &s.Usage.Descend, &s.Usage.Energy, &s.Usage.Count)
	return s, err
}

func (s *MaintenanceStore) Get(ctx context.Context, id maintenance.ServiceID) (maintenance.Service, error) {
	row := s.Pool.DB.QueryRow(ctx, `SELECT `+svcColumns+` FROM services WHERE id=$1`, int64(id))
	svc, err := scanService(row)
	if err != nil {
		return maintenance.Service{}, notFoundOrErr(err, "service not found")
	}
	return svc, nil
}

func (s *MaintenanceStore) Create(ctx context.Context, svc maintenance.Service) (maintenance.Service, error) {
	row := s.Pool.DB.QueryRow(ctx, `
		INSERT INTO services (part_id, started, ended, notes, time, distance, climb, descend, energy, count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+svcColumns,
		int64(svc.PartID), svc.Started, svc.Ended, svc.Notes,
		svc.Usage.Time, svc.Usage.Distance, svc.Usage.Climb, svc.Usage.Descend, svc.Usage.Energy, svc.Usage.Count)
	stored, err := scanService(row)
	if err != nil {
		return maintenance.Service{}, translate(err)
	}
	return stored, nil
}

func (s *MaintenanceStore) Update(ctx context.Context, svc maintenance.Service) (maintenance.Service, error) {
	row := s.Pool.DB.QueryRow(ctx, `
		UPDATE services SET started=$2, ended=$3, notes=$4, time=$5, distance=$6, climb=$7, descend=$8, energy=$9, count=$10
		WHERE id=$1 RETURNING `+svcColumns,
		int64(svc.ID), svc.Started, svc.Ended, svc.Notes,
		svc.Usage.Time, svc.Usage.Distance, svc.Usage.Climb, svc.Usage.Descend, svc.Usage.Energy, svc.Usage.Count)
	updated, err := scanService(row)
	if err != nil {
		return maintenance.Service{}, notFoundOrErr(err, "service not found")
	}
	return updated, nil
}

func (s *MaintenanceStore) Delete(ctx context.Context, id maintenance.ServiceID) error {
	tag, err := s.Pool.DB.Exec(ctx, `DELETE FROM services WHERE id=$1`, int64(id))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return tberr.NotFound("service not found")
	}
	return nil
}

func (s *MaintenanceStore) ForPart(ctx context.Context, p part.ID) ([]maintenance.Service, error) {
	rows, err := s.Pool.DB.Query(ctx, `SELECT `+svcColumns+` FROM services WHERE part_id=$1 ORDER BY started ASC`, int64(p))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []maintenance.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, svc)
	}
	return out, translate(rows.Err())
}

// OverlappingWindow returns every Service on p whose window intersects
// [from, to). An open service (ended IS NULL) always overlaps anything
// at or after its start.
func (s *MaintenanceStore) OverlappingWindow(ctx context.Context, p part.ID, from, to time.Time) ([]maintenance.Service, error) {
	rows, err := s.Pool.DB.Query(ctx, `
		SELECT `+svcColumns+` FROM services
		WHERE part_id=$1 AND started<$2 AND (ended IS NULL OR ended>$3)`,
		int64(p), to, from)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []maintenance.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, svc)
	}
	return out, translate(rows.Err())
}

// RecomputeUsage sums the usage of every live attachment of svc.PartID,
// clipped to svc's window (Started..windowEnd, an open service's
// substitute for "now"), crediting whichever gear each clipped
// sub-interval was attached to.
func (s *MaintenanceStore) RecomputeUsage(ctx context.Context, svc maintenance.Service, windowEnd time.Time) (usage.Usage, error) {
	end := windowEnd
	if svc.Ended != nil {
		end = *svc.Ended
	}

	rows, err := s.Pool.DB.Query(ctx, `
		SELECT gear, attached, detached FROM attachments
		WHERE part_id=$1 AND attached<$2 AND detached>$3`,
		int64(svc.PartID), end, svc.Started)
	if err != nil {
		return usage.Usage{}, translate(err)
	}

	type span struct {
		gear            part.ID
		attached, detached time.Time
	}
	var spans []span
	for rows.Next() {
		var sp span
		if err := rows.Scan(&sp.gear, &sp.attached, &sp.detached); err != nil {
			rows.Close()
			return usage.Usage{}, translate(err)
		}
		spans = append(spans, sp)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return usage.Usage{}, translate(rowsErr)
	}

	var total usage.Usage
	for _, sp := range spans {
		from := sp.attached
		if svc.Started.After(from) {
			from = svc.Started
		}
		to := sp.detached
		if end.Before(to) {
			to = end
		}
		if !from.Before(to) {
			continue
		}
		var u usage.Usage
		err := s.Pool.DB.QueryRow(ctx, `
			SELECT
				COALESCE(SUM(COALESCE(time,0)), 0), COALESCE(SUM(COALESCE(distance,0)), 0),
				COALESCE(SUM(COALESCE(climb,0)), 0), COALESCE(SUM(COALESCE(descend,0)), 0),
				COALESCE(SUM(COALESCE(energy,0)), 0), COALESCE(count(*), 0)
			FROM activities
			WHERE gear=$1 AND start>=$2 AND start<$3`,
			int64(sp.gear), from, to).Scan(&u.Time, &u.Distance, &u.Climb, &u.Descend, &u.Energy, &u.Count)
		if err != nil {
			return usage.Usage{}, translate(err)
		}
		total = total.Add(u)
	}
	return total, nil
}

func (s *MaintenanceStore) CountForPart(ctx context.Context, p part.ID) (int, error) {
	var n int
	err := s.Pool.DB.QueryRow(ctx, `SELECT count(*) FROM services WHERE part_id=$1`, int64(p)).Scan(&n)
	return n, translate(err)
}

func (s *MaintenanceStore) CountPlansForPart(ctx context.Context, p part.ID) (int, error) {
	var n int
	err := s.Pool.DB.QueryRow(ctx, `SELECT count(*) FROM service_plans WHERE part_id=$1`, int64(p)).Scan(&n)
	return n, translate(err)
}

const planColumns = `id, owner, part_id, part_type, notes, threshold_time, threshold_distance, threshold_climb, threshold_descend, threshold_energy, threshold_count`

func scanPlan(row rowScanner) (maintenance.Plan, error) {
	var p maintenance.Plan
	var partID *int64
	var partType *int32
	err := row.Scan(&p.ID, &p.Owner, &partID, &partType, &p.Notes,
		&p.Thresholds.Time, &p.Thresholds.Distance, &p.Thresholds.Climb, &p.Thresholds.Descend, &p.Thresholds.Energy, &p.Thresholds.Count)
	if partID != nil {
		id := part.ID(*partID)
		p.PartID = &id
	}
	if partType != nil {
		t := types.PartTypeID(*partType)
		p.PartType = &t
	}
	return p, err
}

func (s *MaintenanceStore) PlansForUser(ctx context.Context, owner person.ID) ([]maintenance.Plan, error) {
	rows, err := s.Pool.DB.Query(ctx, `SELECT `+planColumns+` FROM service_plans WHERE owner=$1`, int64(owner))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []maintenance.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, p)
	}
	return out, translate(rows.Err())
}

func (s *MaintenanceStore) PlansForPart(ctx context.Context, p part.ID) ([]maintenance.Plan, error) {
	rows, err := s.Pool.DB.Query(ctx, `
		SELECT sp.id, sp.owner, sp.part_id, sp.part_type, sp.notes,
			sp.threshold_time, sp.threshold_distance, sp.threshold_climb, sp.threshold_descend, sp.threshold_energy, sp.threshold_count
		FROM service_plans sp, parts pt
		WHERE pt.id=$1 AND (sp.part_id=$1 OR sp.part_type=pt.what)`,
		int64(p))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []maintenance.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, plan)
	}
	return out, translate(rows.Err())
}

func (s *MaintenanceStore) CreatePlan(ctx context.Context, p maintenance.Plan) (maintenance.Plan, error) {
	var partID *int64
	var partType *int32
	if p.PartID != nil {
		v := int64(*p.PartID)
		partID = &v
	}
	if p.PartType != nil {
		v := int32(*p.PartType)
		partType = &v
	}
	row := s.Pool.DB.QueryRow(ctx, `
		INSERT INTO service_plans (owner, part_id, part_type, notes, threshold_time, threshold_distance, threshold_climb, threshold_descend, threshold_energy, threshold_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+planColumns,
		int64(p.Owner), partID, partType, p.Notes,
		p.Thresholds.Time, p.Thresholds.Distance, p.Thresholds.Climb, p.Thresholds.Descend, p.Thresholds.Energy, p.Thresholds.Count)
	stored, err := scanPlan(row)
	if err != nil {
		return maintenance.Plan{}, translate(err)
	}
	return stored, nil
}
