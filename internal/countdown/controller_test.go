package countdown

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

var errStale = errors.New("stale")

// fakeAdvancer simule le serveur: une avance décale l'air time d'une semaine.
type fakeAdvancer struct {
	mu      sync.Mutex
	calls   int
	err     error
	current *app.SeriesDTO
	// gate, si non nil, bloque chaque appel jusqu'à réception.
	gate chan struct{}
}

func (f *fakeAdvancer) AdvanceOneEpisode(ctx context.Context, id string, expected *time.Time) (app.AdvanceResponse, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return app.AdvanceResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return app.AdvanceResponse{}, f.err
	}
	if f.current != nil && expected != nil && !f.current.NextEpisodeAirDate.Equal(*expected) {
		return app.AdvanceResponse{}, errStale
	}
	next := expected.Add(schedule.Week)
	s := app.SeriesDTO{ID: id, Title: "T", Status: domain.StatusWatching, NextEpisodeAirDate: &next}
	if f.current != nil {
		s.TotalEpisodes = f.current.TotalEpisodes + 1
	}
	f.current = &s
	return app.AdvanceResponse{SeriesDTO: s, EpisodeAired: true, NewEpisodeNumber: s.TotalEpisodes}, nil
}

func (f *fakeAdvancer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdvancer) staleCurrent(err error) (app.SeriesDTO, bool) {
	if !errors.Is(err, errStale) {
		return app.SeriesDTO{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.current, true
}

func watching(id string, air time.Time, total int) app.SeriesDTO {
	return app.SeriesDTO{ID: id, Title: "Series " + id, Status: domain.StatusWatching, TotalEpisodes: total, NextEpisodeAirDate: &air}
}

func testOptions(adv *fakeAdvancer, bus ports.EventBus) Options {
	return Options{
		Advancer:           adv,
		Bus:                bus,
		Logger:             zerolog.Nop(),
		AutoAdvance:        true,
		TransitionDuration: 10 * time.Second,
		StaleCurrent:       adv.staleCurrent,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestController_CountsDownThenTransitionsOnce(t *testing.T) {
	clock := schedule.NewManualClock(time.Date(2025, 7, 27, 0, 50, 0, 0, time.UTC))
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	adv := &fakeAdvancer{current: ptrSeries(watching("a", air, 169))}
	bus := memorybus.New()
	defer bus.Close()
	events, cancel := bus.Subscribe("countdown.", "series.")
	defer cancel()

	c := New(watching("a", air, 169), testOptions(adv, bus))
	c.Tick(clock.Now())
	v := c.View(clock.Now())
	assert.Equal(t, StateCounting, v.State)
	assert.Equal(t, schedule.Remaining{Minutes: 3}, v.Remaining)
	assert.Equal(t, 170, v.NextEpisode)

	clock.Set(air)
	c.Tick(clock.Now())
	assert.Equal(t, StateTransitioning, c.State())

	// Ticks répétés pendant l'attente: une seule avance.
	for i := 0; i < 5; i++ {
		clock.Add(time.Second)
		c.Tick(clock.Now())
	}
	waitFor(t, func() bool { return adv.Calls() == 1 })
	c.Tick(clock.Now())
	assert.Equal(t, StateTransitioning, c.State(), "transition lasts at least the minimum duration")

	clock.Set(air.Add(10 * time.Second))
	waitFor(t, func() bool {
		c.Tick(clock.Now())
		return c.State() == StateCounting
	})
	v = c.View(clock.Now())
	require.NotNil(t, v.AirAt)
	assert.True(t, v.AirAt.Equal(air.Add(schedule.Week)))
	assert.Equal(t, 1, adv.Calls())

	topics := drainTopics(events)
	assert.Contains(t, topics, "countdown.transitioning")
	assert.Contains(t, topics, "series.advanced")
}

func TestController_AutoAdvanceOffSettlesInExpired(t *testing.T) {
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	adv := &fakeAdvancer{current: ptrSeries(watching("a", air, 1))}
	opts := testOptions(adv, nil)
	opts.AutoAdvance = false

	c := New(watching("a", air, 1), opts)
	c.Tick(air.Add(time.Second))
	c.Tick(air.Add(2 * time.Second))
	assert.Equal(t, StateExpired, c.State())
	assert.Equal(t, 0, adv.Calls())

	require.NoError(t, c.Advance(context.Background()))
	assert.Equal(t, StateCounting, c.State())
	assert.Equal(t, 1, adv.Calls())
}

func TestController_FailureGoesToExpiredWithoutRetry(t *testing.T) {
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	adv := &fakeAdvancer{err: errors.New("connection refused")}
	bus := memorybus.New()
	defer bus.Close()
	failures, cancel := bus.Subscribe("series.advance_failed")
	defer cancel()

	c := New(watching("a", air, 1), testOptions(adv, bus))
	c.Tick(air)
	waitFor(t, func() bool { return c.State() == StateExpired })

	for i := 1; i <= 30; i++ {
		c.Tick(air.Add(time.Duration(i) * time.Second))
	}
	assert.Equal(t, 1, adv.Calls(), "no automatic retry")
	assert.Equal(t, "connection refused", c.View(air).Err)

	select {
	case evt := <-failures:
		var n Notice
		require.NoError(t, json.Unmarshal(evt.Payload, &n))
		assert.Equal(t, "a", n.ID)
		assert.Equal(t, "connection refused", n.Error)
	case <-time.After(time.Second):
		t.Fatal("no series.advance_failed event")
	}
}

func TestController_SyncWithNewAirTimeResets(t *testing.T) {
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	adv := &fakeAdvancer{current: ptrSeries(watching("a", air, 1))}
	opts := testOptions(adv, nil)
	opts.AutoAdvance = false
	c := New(watching("a", air, 1), opts)

	c.Tick(air.Add(time.Minute))
	require.Equal(t, StateExpired, c.State())

	// Même air time: pas de reset.
	c.Sync(watching("a", air, 1))
	assert.Equal(t, StateExpired, c.State())

	// Le sweep a avancé la série ailleurs.
	c.Sync(watching("a", air.Add(schedule.Week), 2))
	assert.Equal(t, StateCounting, c.State())
	c.Tick(air.Add(2 * time.Minute))
	assert.Equal(t, StateCounting, c.State())

	// Série passée en pause: plus de planning.
	paused := watching("a", air.Add(schedule.Week), 2)
	paused.Status = domain.StatusOnHold
	c.Sync(paused)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_StaleResponseAdoptsServerState(t *testing.T) {
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	// Un autre onglet a déjà avancé: le serveur est une semaine plus loin.
	serverSide := watching("a", air.Add(schedule.Week), 11)
	adv := &fakeAdvancer{current: &serverSide}

	c := New(watching("a", air, 10), testOptions(adv, nil))
	c.Tick(air)
	waitFor(t, func() bool { return c.State() == StateCounting })

	v := c.View(air)
	require.NotNil(t, v.AirAt)
	assert.True(t, v.AirAt.Equal(serverSide.NextEpisodeAirDate.UTC()))
	assert.Empty(t, v.Err)
	assert.Equal(t, 12, v.NextEpisode)
}

func TestController_DisposeIgnoresLateResponse(t *testing.T) {
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	adv := &fakeAdvancer{current: ptrSeries(watching("a", air, 1)), gate: make(chan struct{})}
	bus := memorybus.New()
	defer bus.Close()
	events, cancel := bus.Subscribe()
	defer cancel()

	c := New(watching("a", air, 1), testOptions(adv, bus))
	c.Tick(air)
	drainTopics(events)

	c.Dispose()
	close(adv.gate)
	c.Tick(air.Add(20 * time.Second))

	assert.True(t, c.Disposed())
	assert.Equal(t, StateTransitioning, c.State(), "disposed controller is frozen")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, drainTopics(events))
}

func ptrSeries(s app.SeriesDTO) *app.SeriesDTO { return &s }

func drainTopics(ch <-chan ports.Event) []string {
	var out []string
	for {
		select {
		case evt := <-ch:
			out = append(out, evt.Topic)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}
