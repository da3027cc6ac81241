package countdown

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

func TestRegistry_ReconcileAddsSyncsAndRemoves(t *testing.T) {
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	adv := &fakeAdvancer{}
	bus := memorybus.New()
	defer bus.Close()
	removed, cancel := bus.Subscribe("series.removed")
	defer cancel()

	reg := NewRegistry(testOptions(adv, bus))
	defer reg.Close()

	reg.Reconcile([]app.SeriesDTO{watching("a", air, 1), watching("b", air.Add(time.Hour), 3)})
	require.Equal(t, 2, reg.Len())
	b, ok := reg.Get("b")
	require.True(t, ok)

	// b disparaît de la liste, a reçoit un nouvel air time.
	reg.Reconcile([]app.SeriesDTO{watching("a", air.Add(schedule.Week), 2)})
	assert.Equal(t, 1, reg.Len())
	assert.True(t, b.Disposed())

	a, ok := reg.Get("a")
	require.True(t, ok)
	v := a.View(air)
	require.NotNil(t, v.AirAt)
	assert.True(t, v.AirAt.Equal(air.Add(schedule.Week)))

	select {
	case evt := <-removed:
		var n Notice
		require.NoError(t, json.Unmarshal(evt.Payload, &n))
		assert.Equal(t, "b", n.ID)
		assert.Equal(t, "Series b", n.Title)
	case <-time.After(time.Second):
		t.Fatal("no series.removed event")
	}

	assert.False(t, reg.Remove("b"), "already removed")
}

func TestRegistry_ViewsOrder(t *testing.T) {
	now := time.Date(2025, 7, 27, 0, 0, 0, 0, time.UTC)
	reg := NewRegistry(testOptions(&fakeAdvancer{}, nil))
	defer reg.Close()

	noDate := app.SeriesDTO{ID: "z", Title: "Alpha"}
	reg.Reconcile([]app.SeriesDTO{
		watching("late", now.Add(2*time.Hour), 1),
		noDate,
		watching("soon", now.Add(time.Hour), 1),
		{ID: "y", Title: "Beta"},
	})

	var ids []string
	for _, v := range reg.Views(now) {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"soon", "late", "z", "y"}, ids)
}

func TestRegistry_RunTicksAndClosesOnCancel(t *testing.T) {
	clock := schedule.NewManualClock(time.Date(2025, 7, 27, 0, 0, 0, 0, time.UTC))
	air := clock.Now().Add(time.Minute)
	opts := testOptions(&fakeAdvancer{}, nil)
	opts.Clock = clock
	opts.AutoAdvance = false
	reg := NewRegistry(opts)
	reg.Upsert(watching("a", air, 1))

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time, 16)
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, 5*time.Millisecond, func(now time.Time) {
			select {
			case ticks <- now:
			default:
			}
		})
		close(done)
	}()

	clock.Set(air.Add(time.Second))
	waitFor(t, func() bool {
		c, ok := reg.Get("a")
		return ok && c.State() == StateExpired
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, reg.Len())
	assert.NotEmpty(t, ticks)
}
