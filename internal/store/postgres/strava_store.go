package postgres

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/strava"
)

const stravaTokenURL = "https://www.strava.com/oauth/token"

// StravaStore implements strava.TokenStore. Get/Save/Clear/ActivityIDFor/
// GearIDFor are plain postgres lookups; Refresh additionally calls
// Strava's own OAuth token endpoint, since refreshing a grant is
// inherently a round trip to the provider, not a storage operation.
type StravaStore struct {
	Pool         *Pool
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Now          func() time.Time
}

var _ strava.TokenStore = (*StravaStore)(nil)

func (s *StravaStore) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *StravaStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *StravaStore) Get(ctx context.Context, owner person.ID) (strava.TokenSet, error) {
	var t strava.TokenSet
	var expiresAt *time.Time
	err := s.Pool.DB.QueryRow(ctx,
		`SELECT access_token, refresh_token, expires_at FROM strava_tokens WHERE owner=$1`, int64(owner)).
		Scan(&t.AccessToken, &t.RefreshToken, &expiresAt)
	if err != nil {
		if isNoRows(err) {
			return strava.TokenSet{}, nil
		}
		return strava.TokenSet{}, translate(err)
	}
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return t, nil
}

func (s *StravaStore) Save(ctx context.Context, owner person.ID, t strava.TokenSet) error {
	_, err := s.Pool.DB.Exec(ctx, `
		INSERT INTO strava_tokens (owner, access_token, refresh_token, expires_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (owner) DO UPDATE SET
			access_token=$2, refresh_token=$3, expires_at=$4`,
		int64(owner), t.AccessToken, t.RefreshToken, t.ExpiresAt)
	return translate(err)
}

func (s *StravaStore) Clear(ctx context.Context, owner person.ID) error {
	_, err := s.Pool.DB.Exec(ctx, `
		INSERT INTO strava_tokens (owner, access_token, refresh_token, expires_at)
		VALUES ($1, '', '', NULL)
		ON CONFLICT (owner) DO UPDATE SET access_token='', refresh_token='', expires_at=NULL`,
		int64(owner))
	return translate(err)
}

func (s *StravaStore) ActivityIDFor(ctx context.Context, owner person.ID, remoteID int64) (activity.ID, bool, error) {
	var id int64
	err := s.Pool.DB.QueryRow(ctx,
		`SELECT activity_id FROM strava_activity_map WHERE owner=$1 AND remote_id=$2`, int64(owner), remoteID).
		Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, translate(err)
	}
	return activity.ID(id), true, nil
}

// RecordActivityMapping records that remoteID now corresponds to id,
// called by the dispatcher after it creates or resolves an Activity.
func (s *StravaStore) RecordActivityMapping(ctx context.Context, owner person.ID, remoteID int64, id activity.ID) error {
	_, err := s.Pool.DB.Exec(ctx, `
		INSERT INTO strava_activity_map (owner, remote_id, activity_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (owner, remote_id) DO UPDATE SET activity_id=$3`,
		int64(owner), remoteID, int64(id))
	return translate(err)
}

func (s *StravaStore) GearIDFor(ctx context.Context, owner person.ID, remoteGearID string) (part.ID, bool, error) {
	var id int64
	err := s.Pool.DB.QueryRow(ctx,
		`SELECT part_id FROM strava_gear_map WHERE owner=$1 AND remote_gear_id=$2`, int64(owner), remoteGearID).
		Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, translate(err)
	}
	return part.ID(id), true, nil
}

// RecordGearMapping records that remoteGearID now corresponds to id, so
// GearIDFor resolves it from then on.
func (s *StravaStore) RecordGearMapping(ctx context.Context, owner person.ID, remoteGearID string, id part.ID) error {
	_, err := s.Pool.DB.Exec(ctx, `
		INSERT INTO strava_gear_map (owner, remote_gear_id, part_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (owner, remote_gear_id) DO UPDATE SET part_id=$3`,
		int64(owner), remoteGearID, int64(id))
	return translate(err)
}

type stravaTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Refresh exchanges refreshToken for a new grant via Strava's OAuth
// token endpoint. It does not persist the result; the caller (the
// Client in package strava) calls Save with whatever this returns.
func (s *StravaStore) Refresh(ctx context.Context, owner person.ID, refreshToken string) (strava.TokenSet, error) {
	form := url.Values{
		"client_id":     {s.ClientID},
		"client_secret": {s.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stravaTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return strava.TokenSet{}, tberr.Wrap(tberr.KindFatal, "could not build strava token refresh request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return strava.TokenSet{}, tberr.Wrap(tberr.KindTryAgain, "could not reach strava oauth endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return strava.TokenSet{}, tberr.NotAuth("strava rejected the refresh token")
	}
	if resp.StatusCode != http.StatusOK {
		return strava.TokenSet{}, tberr.Newf(tberr.KindTryAgain, "strava oauth refresh returned status %d", resp.StatusCode)
	}

	var body stravaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return strava.TokenSet{}, tberr.Wrap(tberr.KindBadRequest, "could not decode strava oauth response", err)
	}

	return strava.TokenSet{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Unix(body.ExpiresAt, 0).UTC(),
	}, nil
}

