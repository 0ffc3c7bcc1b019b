package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendabike.dev/engine/internal/domain/attachment"
	"tendabike.dev/engine/internal/domain/maintenance"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

type fakePerson struct{ id person.ID }

func (f fakePerson) UserID() person.ID { return f.id }
func (f fakePerson) IsAdmin() bool     { return false }

type fakeParts struct {
	parts map[part.ID]part.Part
}

func newFakeParts() *fakeParts { return &fakeParts{parts: map[part.ID]part.Part{}} }

func (p *fakeParts) Get(_ context.Context, id part.ID) (part.Part, error) {
	pt, ok := p.parts[id]
	if !ok {
		return part.Part{}, assert.AnError
	}
	return pt, nil
}
func (p *fakeParts) Create(_ context.Context, pt part.Part) (part.Part, error) {
	p.parts[pt.ID] = pt
	return pt, nil
}
func (p *fakeParts) Update(_ context.Context, pt part.Part) (part.Part, error) {
	p.parts[pt.ID] = pt
	return pt, nil
}
func (p *fakeParts) Delete(_ context.Context, id part.ID) error { delete(p.parts, id); return nil }
func (p *fakeParts) AllForOwner(_ context.Context, owner person.ID) ([]part.Part, error) {
	var out []part.Part
	for _, pt := range p.parts {
		if pt.Owner == owner {
			out = append(out, pt)
		}
	}
	return out, nil
}

// fakeAttachments backs attachment.Store with just enough behavior to
// exercise the Activity Registrar's usage fan-out: a fixed set of rows
// (Assembly/RegisterUsage) and a per-part usage ledger (ApplyPartUsage).
type fakeAttachments struct {
	atts      []attachment.Attachment
	partUsage map[part.ID]usage.Usage
	parts     *fakeParts
}

func newFakeAttachments(parts *fakeParts) *fakeAttachments {
	return &fakeAttachments{partUsage: map[part.ID]usage.Usage{}, parts: parts}
}

func covers(a attachment.Attachment, at time.Time) bool {
	return !a.Attached.After(at) && a.Detached.After(at)
}

func (f *fakeAttachments) Occupant(context.Context, attachment.Event, types.PartTypeID) (*attachment.Attachment, error) {
	return nil, nil
}
func (f *fakeAttachments) Next(context.Context, attachment.Event, types.PartTypeID) (*attachment.Attachment, error) {
	return nil, nil
}
func (f *fakeAttachments) At(context.Context, attachment.Event) (*attachment.Attachment, error) {
	return nil, nil
}
func (f *fakeAttachments) After(context.Context, attachment.Event) (*attachment.Attachment, error) {
	return nil, nil
}
func (f *fakeAttachments) Adjacent(context.Context, attachment.Event) (*attachment.Attachment, error) {
	return nil, nil
}
func (f *fakeAttachments) Assembly(_ context.Context, subtypes []types.PartTypeID, target part.ID, at time.Time) ([]attachment.Attachment, error) {
	var out []attachment.Attachment
	for _, a := range f.atts {
		if a.Gear == target && covers(a, at) {
			out = append(out, a)
		}
	}
	_ = subtypes
	return out, nil
}
func (f *fakeAttachments) Insert(_ context.Context, a attachment.Attachment) (attachment.Attachment, error) {
	f.atts = append(f.atts, a)
	return a, nil
}
func (f *fakeAttachments) DeleteRow(context.Context, attachment.Attachment) error { return nil }
func (f *fakeAttachments) CountForPart(context.Context, part.ID) (int, error)     { return 0, nil }
func (f *fakeAttachments) ForPart(context.Context, part.ID) ([]attachment.Attachment, error) {
	return nil, nil
}
func (f *fakeAttachments) SumActivityUsage(context.Context, part.ID, time.Time, time.Time) (usage.Usage, error) {
	return usage.Usage{}, nil
}
func (f *fakeAttachments) ApplyPartUsage(_ context.Context, id part.ID, delta usage.Usage, _ time.Time) (string, types.PartTypeID, error) {
	f.partUsage[id] = f.partUsage[id].Add(delta)
	p := f.parts.parts[id]
	return p.Name, p.What, nil
}
func (f *fakeAttachments) RegisterUsage(_ context.Context, gear part.ID, start time.Time, delta usage.Usage) ([]attachment.Detail, error) {
	var out []attachment.Detail
	for i, a := range f.atts {
		if a.Gear != gear || !covers(a, start) {
			continue
		}
		f.atts[i].Usage = a.Usage.Add(delta)
		out = append(out, attachment.Detail{Attachment: f.atts[i], Name: f.parts.parts[a.PartID].Name, What: f.parts.parts[a.PartID].What})
	}
	return out, nil
}

// fakeServices backs maintenance.Store with no existing services, so
// Rebucket is always a no-op — activity tests cover usage fan-out, not
// the Service Ledger itself.
type fakeServices struct{}

func (fakeServices) Get(context.Context, maintenance.ServiceID) (maintenance.Service, error) {
	return maintenance.Service{}, assert.AnError
}
func (fakeServices) Create(_ context.Context, s maintenance.Service) (maintenance.Service, error) {
	return s, nil
}
func (fakeServices) Update(_ context.Context, s maintenance.Service) (maintenance.Service, error) {
	return s, nil
}
func (fakeServices) Delete(context.Context, maintenance.ServiceID) error { return nil }
func (fakeServices) ForPart(context.Context, part.ID) ([]maintenance.Service, error) {
	return nil, nil
}
func (fakeServices) OverlappingWindow(context.Context, part.ID, time.Time, time.Time) ([]maintenance.Service, error) {
	return nil, nil
}
func (fakeServices) RecomputeUsage(context.Context, maintenance.Service, time.Time) (usage.Usage, error) {
	return usage.Usage{}, nil
}
func (fakeServices) CountForPart(context.Context, part.ID) (int, error)      { return 0, nil }
func (fakeServices) CountPlansForPart(context.Context, part.ID) (int, error) { return 0, nil }
func (fakeServices) PlansForUser(context.Context, person.ID) ([]maintenance.Plan, error) {
	return nil, nil
}
func (fakeServices) PlansForPart(context.Context, part.ID) ([]maintenance.Plan, error) {
	return nil, nil
}
func (fakeServices) CreatePlan(_ context.Context, p maintenance.Plan) (maintenance.Plan, error) {
	return p, nil
}

type fakeActivityStore struct {
	acts map[ID]Activity
	next ID
}

func newFakeActivityStore() *fakeActivityStore {
	return &fakeActivityStore{acts: map[ID]Activity{}, next: 1}
}
func (s *fakeActivityStore) Get(_ context.Context, id ID) (Activity, error) {
	a, ok := s.acts[id]
	if !ok {
		return Activity{}, assert.AnError
	}
	return a, nil
}
func (s *fakeActivityStore) Create(_ context.Context, a Activity) (Activity, error) {
	a.ID = s.next
	s.next++
	s.acts[a.ID] = a
	return a, nil
}
func (s *fakeActivityStore) Update(_ context.Context, a Activity) (Activity, error) {
	s.acts[a.ID] = a
	return a, nil
}
func (s *fakeActivityStore) Delete(_ context.Context, id ID) error { delete(s.acts, id); return nil }
func (s *fakeActivityStore) AllForUser(_ context.Context, user person.ID) ([]Activity, error) {
	var out []Activity
	for _, a := range s.acts {
		if a.UserID == user {
			out = append(out, a)
		}
	}
	return out, nil
}
func (s *fakeActivityStore) AllOrdered(_ context.Context) ([]Activity, error) {
	out := make([]Activity, 0, len(s.acts))
	for _, a := range s.acts {
		out = append(out, a)
	}
	return out, nil
}

// fakeUsageStore stands in for the Usage Ledger: like the real ResetAll,
// its ResetAll zeroes every usage the registrar writes through atts.
type fakeUsageStore struct {
	reset int
	atts  *fakeAttachments
}

func (f *fakeUsageStore) Read(context.Context, []usage.ID) (map[usage.ID]usage.Usage, error) {
	return nil, nil
}
func (f *fakeUsageStore) Write(context.Context, map[usage.ID]usage.Usage) error { return nil }
func (f *fakeUsageStore) Delete(context.Context, usage.ID) (usage.Usage, error) {
	return usage.Usage{}, nil
}
func (f *fakeUsageStore) ResetAll(context.Context) error {
	f.reset++
	if f.atts != nil {
		f.atts.partUsage = map[part.ID]usage.Usage{}
		for i := range f.atts.atts {
			f.atts.atts[i].Usage = usage.Usage{}
		}
	}
	return nil
}

const owner person.ID = 1

func ptr(i int64) *int64 { return &i }

func newTestRegistrar() (*Registrar, *fakeParts, *fakeAttachments, *fakeActivityStore) {
	parts := newFakeParts()
	atts := newFakeAttachments(parts)
	acts := newFakeActivityStore()
	r := &Registrar{
		Store:       acts,
		Parts:       parts,
		Attachments: atts,
		Services:    fakeServices{},
		Catalog:     types.Default(),
		Now:         func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	return r, parts, atts, acts
}

// TestCreateRegistersUsageOnGearAndAttachedParts is S1 (simple ride): an
// activity on a bike credits the bike and every part attached to it at
// the activity's start.
func TestCreateRegistersUsageOnGearAndAttachedParts(t *testing.T) {
	r, parts, atts, _ := newTestRegistrar()
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	bike := part.ID(1)
	wheel := part.ID(2)
	parts.parts[bike] = part.Part{ID: bike, Owner: owner, What: types.PartBike, Name: "Commuter", LastUsed: start.AddDate(0, -1, 0), Purchase: start.AddDate(0, -1, 0)}
	parts.parts[wheel] = part.Part{ID: wheel, Owner: owner, What: types.PartWheel, Name: "Front wheel", LastUsed: start.AddDate(0, -1, 0), Purchase: start.AddDate(0, -1, 0)}
	atts.atts = append(atts.atts, attachment.Attachment{PartID: wheel, Gear: bike, Hook: types.PartWheel, Attached: start.AddDate(0, -1, 0), Detached: clockMax()})

	a := Activity{UserID: owner, What: types.ActRide, Name: "Morning ride", Start: start, Duration: 3600, Distance: ptr(20000), Gear: &bike}
	_, touched, created, err := r.Create(ctx, fakePerson{owner}, a)
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	assert.Equal(t, usage.Usage{Distance: 20000, Count: 1}, atts.partUsage[bike])
	assert.Equal(t, usage.Usage{Distance: 20000, Count: 1}, atts.partUsage[wheel])

	touchedIDs := map[part.ID]bool{}
	for _, p := range touched {
		touchedIDs[p.ID] = true
	}
	assert.True(t, touchedIDs[bike])
	assert.True(t, touchedIDs[wheel])
}

// TestUpdateRebalancesUsage is the Event-balance property: updating an
// activity's distance leaves the gear's usage reflecting only the new
// value, never the sum of old and new.
func TestUpdateRebalancesUsage(t *testing.T) {
	r, parts, atts, _ := newTestRegistrar()
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	bike := part.ID(1)
	parts.parts[bike] = part.Part{ID: bike, Owner: owner, What: types.PartBike, Purchase: start, LastUsed: start}

	a := Activity{UserID: owner, What: types.ActRide, Start: start, Distance: ptr(10000), Gear: &bike}
	_, _, created, err := r.Create(ctx, fakePerson{owner}, a)
	require.NoError(t, err)

	updated := created
	updated.Distance = ptr(25000)
	_, _, _, err = r.Update(ctx, fakePerson{owner}, created.ID, updated)
	require.NoError(t, err)

	assert.Equal(t, usage.Usage{Distance: 25000, Count: 1}, atts.partUsage[bike])
}

// TestDeleteUnregistersUsage confirms deleting an activity returns the
// gear's usage to what it was before the activity existed.
func TestDeleteUnregistersUsage(t *testing.T) {
	r, parts, atts, _ := newTestRegistrar()
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	bike := part.ID(1)
	parts.parts[bike] = part.Part{ID: bike, Owner: owner, What: types.PartBike, Purchase: start, LastUsed: start}

	a := Activity{UserID: owner, What: types.ActRide, Start: start, Distance: ptr(15000), Gear: &bike}
	_, _, created, err := r.Create(ctx, fakePerson{owner}, a)
	require.NoError(t, err)

	_, _, err = r.Delete(ctx, fakePerson{owner}, created.ID)
	require.NoError(t, err)

	assert.True(t, atts.partUsage[bike].IsZero())
	_, err = r.Get(ctx, fakePerson{owner}, created.ID)
	assert.Error(t, err)
}

// TestRescanAllIsIdempotent is S4 (idempotent rescan): running RescanAll
// twice over the same activity history produces byte-identical usage.
func TestRescanAllIsIdempotent(t *testing.T) {
	r, parts, atts, acts := newTestRegistrar()
	ctx := context.Background()

	start := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	bike := part.ID(1)
	parts.parts[bike] = part.Part{ID: bike, Owner: owner, What: types.PartBike, Purchase: start, LastUsed: start}

	for i := 0; i < 3; i++ {
		s := start.Add(time.Duration(i) * 24 * time.Hour)
		acts.acts[ID(i+1)] = Activity{ID: ID(i + 1), UserID: owner, What: types.ActRide, Start: s, Distance: ptr(5000), Gear: &bike}
		acts.next = ID(i + 2)
	}

	us := &fakeUsageStore{atts: atts}
	require.NoError(t, r.RescanAll(ctx, us))
	first := atts.partUsage[bike]

	require.NoError(t, r.RescanAll(ctx, us))
	second := atts.partUsage[bike]

	assert.Equal(t, first, second)
	assert.Equal(t, usage.Usage{Distance: 15000, Count: 3}, second)
	assert.Equal(t, 2, us.reset)
}

func clockMax() time.Time {
	return time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)
}
