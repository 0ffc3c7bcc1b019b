//go:build integration

package postgres

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/strava"
)

// stubRoundTripper fakes Strava's OAuth token endpoint so Refresh can be
// exercised without a real network call.
type stubRoundTripper struct {
	status int
	body   string
}

func (rt stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: rt.status,
		Body:       io.NopCloser(strings.NewReader(rt.body)),
		Header:     make(http.Header),
	}, nil
}

func TestStravaStoreGetSaveClear(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &StravaStore{Pool: pool}
	owner := person.ID(1)

	empty, err := store.Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, strava.TokenSet{}, empty)

	expires := time.Now().UTC().Add(6 * time.Hour).Truncate(time.Second)
	require.NoError(t, store.Save(ctx, owner, strava.TokenSet{
		AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: expires,
	}))

	fetched, err := store.Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "access-1", fetched.AccessToken)
	require.True(t, fetched.ExpiresAt.Equal(expires))

	require.NoError(t, store.Save(ctx, owner, strava.TokenSet{
		AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresAt: expires,
	}))
	updated, err := store.Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "access-2", updated.AccessToken)

	require.NoError(t, store.Clear(ctx, owner))
	cleared, err := store.Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "", cleared.AccessToken)
}

func TestStravaStoreActivityAndGearMapping(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &StravaStore{Pool: pool}
	owner := person.ID(2)
	gear := seedPart(t, ctx, pool, owner, 1)

	_, found, err := store.ActivityIDFor(ctx, owner, 999)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.RecordActivityMapping(ctx, owner, 999, activity.ID(42)))
	id, found, err := store.ActivityIDFor(ctx, owner, 999)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, activity.ID(42), id)

	require.NoError(t, store.RecordActivityMapping(ctx, owner, 999, activity.ID(43)))
	id, found, err = store.ActivityIDFor(ctx, owner, 999)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, activity.ID(43), id, "remapping the same remote id overwrites the prior mapping")

	_, found, err = store.GearIDFor(ctx, owner, "g1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.RecordGearMapping(ctx, owner, "g1", gear))
	var mappedGear part.ID
	mappedGear, found, err = store.GearIDFor(ctx, owner, "g1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, gear, mappedGear)
}

func TestStravaStoreRefreshSuccess(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &StravaStore{
		Pool: pool, ClientID: "id", ClientSecret: "secret",
		HTTPClient: &http.Client{Transport: stubRoundTripper{
			status: http.StatusOK,
			body:   `{"access_token":"new-access","refresh_token":"new-refresh","expires_at":1893456000}`,
		}},
	}

	tokens, err := store.Refresh(ctx, person.ID(1), "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "new-access", tokens.AccessToken)
	require.Equal(t, "new-refresh", tokens.RefreshToken)
}

func TestStravaStoreRefreshRejectedGrantReportsNotAuth(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &StravaStore{
		Pool: pool, ClientID: "id", ClientSecret: "secret",
		HTTPClient: &http.Client{Transport: stubRoundTripper{status: http.StatusUnauthorized, body: `{}`}},
	}

	_, err := store.Refresh(ctx, person.ID(1), "revoked-refresh")
	require.Error(t, err)
	require.True(t, tberr.Is(err, tberr.KindNotAuth))
}

func TestStravaStoreRefreshServerErrorIsTryAgain(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &StravaStore{
		Pool: pool, ClientID: "id", ClientSecret: "secret",
		HTTPClient: &http.Client{Transport: stubRoundTripper{status: http.StatusServiceUnavailable, body: ``}},
	}

	_, err := store.Refresh(ctx, person.ID(1), "some-refresh")
	require.Error(t, err)
	require.True(t, tberr.Is(err, tberr.KindTryAgain))
}
