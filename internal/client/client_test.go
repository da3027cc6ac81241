package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/httpapi"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/auth"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

func newTestServer(t *testing.T, now time.Time) (string, *auth.Verifier) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := memorybus.New()
	t.Cleanup(bus.Close)
	clock := schedule.NewManualClock(now)
	repo := sqlite.NewSeriesRepository(db.SQL)
	settings := app.NewSettingsService(sqlite.NewSettingsRepository(db.SQL))
	verifier := auth.NewVerifier("client-test")

	srv := httptest.NewServer(httpapi.NewServer(zerolog.Nop(),
		app.NewSeriesService(repo, settings, bus, clock),
		app.NewScheduleService(zerolog.Nop(), repo, settings, bus, clock),
		settings, bus, verifier).Router())
	t.Cleanup(srv.Close)
	return srv.URL, verifier
}

func newUserClient(t *testing.T, baseURL string, v *auth.Verifier, user string) *Client {
	t.Helper()
	tok, err := v.Issue(user, time.Hour)
	require.NoError(t, err)
	return New(baseURL, tok)
}

func ptr[T any](v T) *T { return &v }

func TestClient_AdvanceAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 7, 27, 1, 0, 0, 0, time.UTC)
	baseURL, v := newTestServer(t, now)
	c := newUserClient(t, baseURL, v, "alice")

	require.NoError(t, c.Health(ctx))

	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	s, err := c.Create(ctx, app.SeriesInput{
		Title:              ptr("Battle Through the Heavens"),
		Status:             ptr(domain.StatusWatching),
		TotalEpisodes:      ptr(169),
		NextEpisodeAirDate: app.NullableTime{Set: true, Value: &air},
	})
	require.NoError(t, err)

	res, err := c.AdvanceOneEpisode(ctx, s.ID, &air)
	require.NoError(t, err)
	assert.Equal(t, 170, res.TotalEpisodes)
	assert.Equal(t, 170, res.NewEpisodeNumber)
	require.NotNil(t, res.NextEpisodeAirDate)
	assert.True(t, res.NextEpisodeAirDate.Equal(air.Add(schedule.Week)))

	// Même air time attendu: le serveur refuse et renvoie l'état courant.
	_, err = c.AdvanceOneEpisode(ctx, s.ID, &air)
	current, ok := StaleCurrent(err)
	require.True(t, ok, "want stale error, got %v", err)
	assert.Equal(t, 170, current.TotalEpisodes)

	sweep, err := c.CheckExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.Count)
	assert.Equal(t, "Updated 0 expired episodes", sweep.Message)
}

func TestClient_ErrorClassification(t *testing.T) {
	ctx := context.Background()
	baseURL, v := newTestServer(t, time.Now().UTC())
	alice := newUserClient(t, baseURL, v, "alice")
	bob := newUserClient(t, baseURL, v, "bob")

	s, err := alice.Create(ctx, app.SeriesInput{Title: ptr("No date"), Status: ptr(domain.StatusWatching)})
	require.NoError(t, err)

	_, err = alice.AdvanceOneEpisode(ctx, s.ID, nil)
	assert.True(t, IsInvalidState(err), "got %v", err)

	_, err = bob.Get(ctx, s.ID)
	assert.True(t, IsNotFound(err), "got %v", err)

	anon := New(baseURL, "")
	_, err = anon.List(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClient_SettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	baseURL, v := newTestServer(t, time.Now().UTC())
	c := newUserClient(t, baseURL, v, "alice")

	def, err := c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), def)

	updated, err := c.PutSettings(ctx, domain.Settings{CatchUpPolicy: domain.CatchUpSingle, AutoAdvance: true})
	require.NoError(t, err)
	assert.Equal(t, domain.CatchUpSingle, updated.CatchUpPolicy)
	assert.Equal(t, 60, updated.UpcomingHorizonMinutes)
}
