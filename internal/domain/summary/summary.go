// Package summary models the Summary tuple returned by every mutating
// engine operation: the set of Parts, Attachments, Services and
// Activities changed by one transaction.
package summary

import (
	"time"

	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/attachment"
	"tendabike.dev/engine/internal/domain/maintenance"
	"tendabike.dev/engine/internal/domain/part"
)

// Summary is the tuple of everything changed by one transactional
// operation, returned to the caller so they can update derived state
// (caches, client views) without re-querying from scratch.
type Summary struct {
	Parts       []part.Part
	Attachments []attachment.Attachment
	Services    []maintenance.Service
	Activities  []activity.Activity
}

// Merge combines two Summaries, keyed so that the same entity touched by
// multiple sub-operations of one transaction appears only once, with its
// latest value.
func (s Summary) Merge(other Summary) Summary {
	parts := indexParts(s.Parts)
	for _, p := range other.Parts {
		parts[p.ID] = p
	}
	atts := indexAttachments(s.Attachments)
	for _, a := range other.Attachments {
		atts[attachmentKey{a.PartID, a.Attached}] = a
	}
	svcs := indexServices(s.Services)
	for _, sv := range other.Services {
		svcs[sv.ID] = sv
	}
	acts := indexActivities(s.Activities)
	for _, a := range other.Activities {
		acts[a.ID] = a
	}

	return Summary{
		Parts:       partValues(parts),
		Attachments: attachmentValues(atts),
		Services:    serviceValues(svcs),
		Activities:  activityValues(acts),
	}
}

type attachmentKey struct {
	partID   part.ID
	attached time.Time
}

func indexParts(in []part.Part) map[part.ID]part.Part {
	out := make(map[part.ID]part.Part, len(in))
	for _, p := range in {
		out[p.ID] = p
	}
	return out
}

func partValues(in map[part.ID]part.Part) []part.Part {
	out := make([]part.Part, 0, len(in))
	for _, p := range in {
		out = append(out, p)
	}
	return out
}

func indexAttachments(in []attachment.Attachment) map[attachmentKey]attachment.Attachment {
	out := make(map[attachmentKey]attachment.Attachment, len(in))
	for _, a := range in {
		out[attachmentKey{a.PartID, a.Attached}] = a
	}
	return out
}

func attachmentValues(in map[attachmentKey]attachment.Attachment) []attachment.Attachment {
	out := make([]attachment.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, a)
	}
	return out
}

func indexServices(in []maintenance.Service) map[maintenance.ServiceID]maintenance.Service {
	out := make(map[maintenance.ServiceID]maintenance.Service, len(in))
	for _, sv := range in {
		out[sv.ID] = sv
	}
	return out
}

func serviceValues(in map[maintenance.ServiceID]maintenance.Service) []maintenance.Service {
	out := make([]maintenance.Service, 0, len(in))
	for _, sv := range in {
		out = append(out, sv)
	}
	return out
}

func indexActivities(in []activity.Activity) map[activity.ID]activity.Activity {
	out := make(map[activity.ID]activity.Activity, len(in))
	for _, a := range in {
		out[a.ID] = a
	}
	return out
}

func activityValues(in map[activity.ID]activity.Activity) []activity.Activity {
	out := make([]activity.Activity, 0, len(in))
	for _, a := range in {
		out = append(out, a)
	}
	return out
}
