// Package api exposes HTTP handlers for the engine.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tendabike.dev/engine/internal/auth"
	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/attachment"
	"tendabike.dev/engine/internal/domain/events"
	"tendabike.dev/engine/internal/domain/maintenance"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/summary"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/outbox"
)

// Handler coordinates HTTP requests with the engine's domain packages.
type Handler struct {
	Registrar   *activity.Registrar
	Attachments *attachment.Engine
	AttachStore attachment.Store
	Parts       part.Store
	Services    maintenance.Store
	Dispatcher  *events.Dispatcher
	VerifyToken string

	// Outbox is optional: when nil, Summaries are served to the caller
	// but never relayed to Kafka.
	Outbox *outbox.Recorder
}

// NewHandler builds a Handler. Call SetOutbox separately to enable
// Notification Outbox enqueueing.
func NewHandler(registrar *activity.Registrar, attachments *attachment.Engine, attachStore attachment.Store, parts part.Store, services maintenance.Store, dispatcher *events.Dispatcher, verifyToken string) *Handler {
	return &Handler{
		Registrar:   registrar,
		Attachments: attachments,
		AttachStore: attachStore,
		Parts:       parts,
		Services:    services,
		Dispatcher:  dispatcher,
		VerifyToken: verifyToken,
	}
}

// SetOutbox attaches a Recorder so that successful activity mutations are
// relayed to Kafka via the Notification Outbox.
func (h *Handler) SetOutbox(r *outbox.Recorder) {
	h.Outbox = r
}

// activityEnqueuePayload is the JSON body written to the outbox table; its
// shape matches the activityCreatedSchema/activityUpdatedSchema Avro-ish
// JSON schemas registered by the dispatcher.
type activityEnqueuePayload struct {
	ActivityID activity.ID          `json:"activity_id"`
	OwnerID    person.ID            `json:"owner_id"`
	What       types.ActivityTypeID `json:"what"`
	Name       string               `json:"name"`
	Start      time.Time            `json:"start"`
	Gear       *part.ID             `json:"gear_id,omitempty"`
}

func (h *Handler) enqueueActivityEvent(ctx context.Context, eventType string, a activity.Activity) {
	if h.Outbox == nil {
		return
	}
	payload := activityEnqueuePayload{
		ActivityID: a.ID,
		OwnerID:    a.UserID,
		What:       a.What,
		Name:       a.Name,
		Start:      a.Start,
		Gear:       a.Gear,
	}
	aggregateID := strconv.FormatInt(int64(a.ID), 10)
	if err := h.Outbox.Enqueue(ctx, int64(a.UserID), eventType, "activity", aggregateID, payload); err != nil {
		log.Printf("outbox: failed to enqueue %s for activity %d: %v", eventType, a.ID, err)
	}
}

type activityDeletedPayload struct {
	ActivityID activity.ID `json:"activity_id"`
	OwnerID    person.ID   `json:"owner_id"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (h *Handler) enqueueActivityDeleted(ctx context.Context, owner person.ID, id activity.ID) {
	if h.Outbox == nil {
		return
	}
	payload := activityDeletedPayload{ActivityID: id, OwnerID: owner, OccurredAt: time.Now().UTC()}
	aggregateID := strconv.FormatInt(int64(id), 10)
	if err := h.Outbox.Enqueue(ctx, int64(owner), "activity.deleted", "activity", aggregateID, payload); err != nil {
		log.Printf("outbox: failed to enqueue activity.deleted for activity %d: %v", id, err)
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/activity", h.activities)
	mux.HandleFunc("/activity/", h.activityByID)
	mux.HandleFunc("/part/", h.partRoutes)
	mux.HandleFunc("/strava/hooks", h.stravaHooks)
	mux.HandleFunc("/strava/callback", h.stravaCallback)
	mux.HandleFunc("/healthz", healthz)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	return claims.(*auth.Claims), true
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID[activity.ID](strings.TrimPrefix(r.URL.Path, "/activity/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	case http.MethodPut:
		h.updateActivity(w, r, id)
	case http.MethodDelete:
		h.deleteActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// activityRequest is the wire shape of an activity body, shared by create
// and update; UserID is ignored on update (ownership never changes).
type activityRequest struct {
	What     types.ActivityTypeID `json:"what"`
	Name     string               `json:"name"`
	Start    time.Time            `json:"start"`
	Duration int64                `json:"duration"`
	Time     *int64               `json:"time"`
	Distance *int64               `json:"distance"`
	Climb    *int64               `json:"climb"`
	Descend  *int64               `json:"descend"`
	Energy   *int64               `json:"energy"`
	Gear     *part.ID             `json:"gear"`
}

func (req activityRequest) toActivity(user auth.Claims) activity.Activity {
	return activity.Activity{
		UserID:   user.Subject,
		What:     req.What,
		Name:     req.Name,
		Start:    req.Start,
		Duration: req.Duration,
		Time:     req.Time,
		Distance: req.Distance,
		Climb:    req.Climb,
		Descend:  req.Descend,
		Energy:   req.Energy,
		Gear:     req.Gear,
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	atts, parts, created, err := h.Registrar.Create(r.Context(), user, req.toActivity(*user))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	h.enqueueActivityEvent(r.Context(), "activity.created", created)

	s := summary.Summary{Activities: []activity.Activity{created}, Parts: parts, Attachments: detailsToAttachments(atts)}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id activity.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	a, err := h.Registrar.Get(r.Context(), user, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id activity.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	atts, parts, updated, err := h.Registrar.Update(r.Context(), user, id, req.toActivity(*user))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	h.enqueueActivityEvent(r.Context(), "activity.updated", updated)

	s := summary.Summary{Activities: []activity.Activity{updated}, Parts: parts, Attachments: detailsToAttachments(atts)}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id activity.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	atts, parts, err := h.Registrar.Delete(r.Context(), user, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	h.enqueueActivityDeleted(r.Context(), user.Subject, id)

	s := summary.Summary{Parts: parts, Attachments: detailsToAttachments(atts)}
	writeJSON(w, http.StatusOK, s)
}

// partRoutes dispatches every /part/... endpoint: the plain resource,
// /attach, /detach, /attachments and /services suffixes.
func (h *Handler) partRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/part/")
	segs := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing part id")
		return
	}
	id, err := parseID[part.ID](segs[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid part id")
		return
	}

	switch {
	case len(segs) == 1 && r.Method == http.MethodGet:
		h.getPart(w, r, id)
	case len(segs) == 2 && segs[1] == "attach" && r.Method == http.MethodPost:
		h.attachPart(w, r, id)
	case len(segs) == 2 && segs[1] == "detach" && r.Method == http.MethodPost:
		h.detachPart(w, r, id)
	case len(segs) == 2 && segs[1] == "attachments" && r.Method == http.MethodGet:
		h.partAttachments(w, r, id)
	case len(segs) == 2 && segs[1] == "services" && r.Method == http.MethodGet:
		h.partServices(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown part route")
	}
}

func (h *Handler) getPart(w http.ResponseWriter, r *http.Request, id part.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	p, err := part.Get(r.Context(), h.Parts, user, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// attachDetachRequest is the shared body shape of /part/{id}/attach and
// /part/{id}/detach, per spec §6.
type attachDetachRequest struct {
	Part types.PartTypeID `json:"part"`
	Time time.Time        `json:"time"`
	Gear part.ID          `json:"gear"`
	Hook types.PartTypeID `json:"hook"`
	All  bool             `json:"all"`
}

func (h *Handler) attachPart(w http.ResponseWriter, r *http.Request, id part.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req attachDetachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	details, err := h.Attachments.Attach(r.Context(), user, attachment.Event{
		PartID: id, Time: req.Time, Gear: req.Gear, Hook: req.Hook, CascadeAll: req.All,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary.Summary{Attachments: detailsToAttachments(details)})
}

func (h *Handler) detachPart(w http.ResponseWriter, r *http.Request, id part.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req attachDetachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	details, err := h.Attachments.Detach(r.Context(), user, attachment.Event{
		PartID: id, Time: req.Time, Gear: req.Gear, Hook: req.Hook, CascadeAll: req.All,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary.Summary{Attachments: detailsToAttachments(details)})
}

func (h *Handler) partAttachments(w http.ResponseWriter, r *http.Request, id part.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if _, err := part.Get(r.Context(), h.Parts, user, id); err != nil {
		writeEngineError(w, err)
		return
	}
	atts, err := h.AttachStore.ForPart(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, atts)
}

func (h *Handler) partServices(w http.ResponseWriter, r *http.Request, id part.ID) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if _, err := part.Get(r.Context(), h.Parts, user, id); err != nil {
		writeEngineError(w, err)
		return
	}
	services, err := h.Services.ForPart(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

// stravaHooks drains the caller's event queue on demand, as an
// alternative to waiting for the next scheduled dispatch tick.
func (h *Handler) stravaHooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Dispatcher.Dispatch(r.Context(), user.Subject); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary.Summary{})
}

// webhookEvent is Strava's push-subscription payload shape, translated
// into an events.Event. Owner resolution from Strava's athlete id to an
// internal person.ID is the provider adapter's concern elsewhere; here
// OwnerID is accepted as the already-resolved internal id.
type webhookEvent struct {
	ObjectType string            `json:"object_type"`
	ObjectID   int64             `json:"object_id"`
	AspectType string            `json:"aspect_type"`
	OwnerID    int64             `json:"owner_id"`
	EventTime  int64             `json:"event_time"`
	Updates    map[string]string `json:"updates"`
}

// stravaCallback both answers the subscription handshake (GET) and
// ingests delivered webhook events (POST), per spec §6.
func (h *Handler) stravaCallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.stravaVerify(w, r)
	case http.MethodPost:
		h.stravaIngest(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) stravaVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !auth.WebhookVerifyToken(q.Get("hub.verify_token"), h.VerifyToken) {
		writeError(w, http.StatusForbidden, "forbidden", "verify token mismatch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

func (h *Handler) stravaIngest(w http.ResponseWriter, r *http.Request) {
	var wh webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	ev := events.Event{
		ObjectType: events.ObjectType(wh.ObjectType),
		ObjectID:   wh.ObjectID,
		AspectType: events.AspectType(wh.AspectType),
		Owner:      person.ID(wh.OwnerID),
		EventTime:  time.Unix(wh.EventTime, 0).UTC(),
		Updates:    wh.Updates,
	}
	if err := ev.Validate(); err != nil {
		writeEngineError(w, err)
		return
	}
	if _, err := h.Dispatcher.Store.Insert(r.Context(), ev); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func detailsToAttachments(details []attachment.Detail) []attachment.Attachment {
	out := make([]attachment.Attachment, 0, len(details))
	for _, d := range details {
		out = append(out, d.Attachment)
	}
	return out
}

func parseID[T ~int64](raw string) (T, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return T(n), nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"type": code, "detail": detail})
}

// writeEngineError maps a tberr.Kind to its HTTP status, per spec §7.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case tberr.Is(err, tberr.KindNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case tberr.Is(err, tberr.KindForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case tberr.Is(err, tberr.KindBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case tberr.Is(err, tberr.KindConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case tberr.Is(err, tberr.KindNotAuth):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case tberr.Is(err, tberr.KindTryAgain):
		writeError(w, http.StatusServiceUnavailable, "try_again", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
