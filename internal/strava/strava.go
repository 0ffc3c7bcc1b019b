// Package strava is the External Provider Adapter: it talks to the
// Strava API over plain HTTP and translates Strava's wire shapes into
// domain types, implementing events.Provider. No Strava-specific type
// ever crosses into the events or activity packages.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/types"
)

const baseURL = "https://www.strava.com/api/v3"

// TokenSet is one user's Strava OAuth grant.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// expired reports whether the token needs refreshing, with a five minute
// buffer so a request never races the real expiry.
func (t TokenSet) expired(now time.Time) bool {
	return t.ExpiresAt.IsZero() || !now.Before(t.ExpiresAt.Add(-5*time.Minute))
}

// TokenStore persists and refreshes per-user Strava grants, and maps
// between Strava's athlete/activity/gear ids and Tendabike's own.
type TokenStore interface {
	Get(ctx context.Context, owner person.ID) (TokenSet, error)
	Refresh(ctx context.Context, owner person.ID, refreshToken string) (TokenSet, error)
	Save(ctx context.Context, owner person.ID, t TokenSet) error
	Clear(ctx context.Context, owner person.ID) error

	// ActivityIDFor returns the internal activity id already mapped to a
	// remote activity id, if one exists.
	ActivityIDFor(ctx context.Context, owner person.ID, remoteID int64) (activity.ID, bool, error)
	// GearIDFor resolves a Strava gear id string to an internal part id.
	GearIDFor(ctx context.Context, owner person.ID, remoteGearID string) (part.ID, bool, error)
}

// TypeMap translates Strava's activity "type" string into the catalog's
// ActivityTypeID. Unmapped strings are rejected with BadRequest, mirroring
// the original driver's closed enum.
type TypeMap map[string]types.ActivityTypeID

// Client is the events.Provider implementation backed by the real
// Strava API.
type Client struct {
	Tokens     TokenStore
	Types      TypeMap
	HTTPClient *http.Client
	Now        func() time.Time
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// RefreshTokenIfNeeded refreshes owner's access token when it has expired
// or is within five minutes of expiring.
func (c *Client) RefreshTokenIfNeeded(ctx context.Context, owner person.ID) error {
	tok, err := c.Tokens.Get(ctx, owner)
	if err != nil {
		return err
	}
	if tok.RefreshToken == "" {
		return tberr.NotAuth("user needs to authenticate with strava")
	}
	if !tok.expired(c.now()) {
		return nil
	}
	refreshed, err := c.Tokens.Refresh(ctx, owner, tok.RefreshToken)
	if err != nil {
		return tberr.Wrap(tberr.KindNotAuth, "could not refresh strava access token", err)
	}
	return c.Tokens.Save(ctx, owner, refreshed)
}

// ClearAuthorization drops owner's stored grant after Strava reports it
// revoked, so the next request forces a fresh login rather than retrying
// a token that will never work.
func (c *Client) ClearAuthorization(ctx context.Context, owner person.ID) error {
	return c.Tokens.Clear(ctx, owner)
}

// ResolveActivity looks up the internal activity id already associated
// with a remote activity, without calling out to Strava.
func (c *Client) ResolveActivity(ctx context.Context, owner person.ID, remoteID int64) (activity.ID, bool, error) {
	return c.Tokens.ActivityIDFor(ctx, owner, remoteID)
}

// FetchActivity retrieves one remote activity and translates it.
func (c *Client) FetchActivity(ctx context.Context, owner person.ID, remoteID int64) (activity.Activity, error) {
	var raw rawActivity
	if err := c.get(ctx, owner, fmt.Sprintf("/activities/%d", remoteID), &raw); err != nil {
		return activity.Activity{}, err
	}
	return c.translate(ctx, owner, raw)
}

// FetchActivitiesSince pages through the athlete's activities starting at
// or after `since`, oldest first, up to perPage entries.
func (c *Client) FetchActivitiesSince(ctx context.Context, owner person.ID, since time.Time, perPage int) ([]activity.Activity, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(since.Unix(), 10))
	q.Set("per_page", strconv.Itoa(perPage))

	var raws []rawActivity
	if err := c.get(ctx, owner, "/athlete/activities?"+q.Encode(), &raws); err != nil {
		return nil, err
	}

	out := make([]activity.Activity, 0, len(raws))
	for _, raw := range raws {
		a, err := c.translate(ctx, owner, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// rawActivity is Strava's activity summary shape, the wire format this
// adapter translates into activity.Activity. Field names follow Strava's
// own JSON, not Go convention, because they are never used outside this
// file.
type rawActivity struct {
	ID             int64    `json:"id"`
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	StartDate      string   `json:"start_date"`
	UTCOffset      float64  `json:"utc_offset"`
	ElapsedTime    int64    `json:"elapsed_time"`
	MovingTime     int64    `json:"moving_time"`
	Distance       float64  `json:"distance"`
	TotalElevation float64  `json:"total_elevation_gain"`
	Kilojoules     *float64 `json:"kilojoules"`
	GearID         *string  `json:"gear_id"`
}

func (c *Client) translate(ctx context.Context, owner person.ID, raw rawActivity) (activity.Activity, error) {
	what, ok := c.Types[raw.Type]
	if !ok {
		return activity.Activity{}, tberr.Newf(tberr.KindBadRequest, "unsupported strava activity type %q", raw.Type)
	}

	start, err := time.Parse(time.RFC3339, raw.StartDate)
	if err != nil {
		return activity.Activity{}, tberr.Newf(tberr.KindBadRequest, "invalid start_date %q: %v", raw.StartDate, err)
	}

	var gear *part.ID
	if raw.GearID != nil {
		id, found, err := c.Tokens.GearIDFor(ctx, owner, *raw.GearID)
		if err != nil {
			return activity.Activity{}, err
		}
		if found {
			gear = &id
		}
	}

	distance := int64(raw.Distance + 0.5)
	climb := int64(raw.TotalElevation + 0.5)
	moving := raw.MovingTime
	var energy *int64
	if raw.Kilojoules != nil {
		e := int64(*raw.Kilojoules + 0.5)
		energy = &e
	}

	return activity.Activity{
		UserID:   owner,
		What:     what,
		Name:     raw.Name,
		Start:    start,
		Duration: raw.ElapsedTime,
		Time:     &moving,
		Distance: &distance,
		Climb:    &climb,
		Gear:     gear,
		Energy:   energy,
	}, nil
}

// get issues an authenticated GET against the Strava API and decodes the
// JSON body into out. Status codes are classified the way the original
// driver does: rate limiting and upstream hiccups become TryAgain, a
// revoked grant becomes NotAuth, everything else is BadRequest.
func (c *Client) get(ctx context.Context, owner person.ID, path string, out interface{}) error {
	tok, err := c.Tokens.Get(ctx, owner)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return tberr.Wrap(tberr.KindFatal, "could not build strava request", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return tberr.Wrap(tberr.KindTryAgain, "could not reach strava", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return tberr.Wrap(tberr.KindFatal, "could not decode strava response", err)
		}
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return tberr.Newf(tberr.KindTryAgain, "strava returned %s", resp.Status)
	case http.StatusUnauthorized:
		return tberr.NotAuth("strava request authorization withdrawn")
	default:
		return tberr.Newf(tberr.KindBadRequest, "strava request error %s: %s", resp.Status, string(body))
	}
}
