package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
	"github.com/rs/zerolog"
)

type testEnv struct {
	repo     *sqlite.SeriesRepository
	settings *SettingsService
	bus      *memorybus.Bus
	clock    *schedule.ManualClock
	series   *SeriesService
	schedule *ScheduleService
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bus := memorybus.New()
	t.Cleanup(bus.Close)

	clock := schedule.NewManualClock(now)
	repo := sqlite.NewSeriesRepository(db.SQL)
	settingsRepo := sqlite.NewSettingsRepository(db.SQL)
	settingsRepo.Clock = clock
	settings := NewSettingsService(settingsRepo)
	return &testEnv{
		repo:     repo,
		settings: settings,
		bus:      bus,
		clock:    clock,
		series:   NewSeriesService(repo, settings, bus, clock),
		schedule: NewScheduleService(zerolog.Nop(), repo, settings, bus, clock),
	}
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func statusPtr(s domain.SeriesStatus) *domain.SeriesStatus { return &s }

func (e *testEnv) addWatching(t *testing.T, owner, title string, total int, air *time.Time) SeriesDTO {
	t.Helper()
	in := SeriesInput{
		Title:         strPtr(title),
		Status:        statusPtr(domain.StatusWatching),
		TotalEpisodes: intPtr(total),
	}
	if air != nil {
		in.NextEpisodeAirDate = NullableTime{Set: true, Value: air}
	}
	dto, err := e.series.Create(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("Create(%s): %v", title, err)
	}
	return dto
}

func TestAdvanceOneEpisode_IncrementsTotalAndAirTimeTogether(t *testing.T) {
	now := time.Date(2025, 7, 27, 1, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	s := env.addWatching(t, "alice", "Battle Through the Heavens", 169, &air)

	events, cancel := env.bus.Subscribe("series.advanced")
	defer cancel()

	res, err := env.schedule.AdvanceOneEpisode(context.Background(), "alice", s.ID, nil)
	if err != nil {
		t.Fatalf("AdvanceOneEpisode: %v", err)
	}
	if res.TotalEpisodes != 170 || !res.EpisodeAired || res.NewEpisodeNumber != 170 {
		t.Fatalf("unexpected counters: %+v", res)
	}
	wantAir := time.Date(2025, 8, 3, 0, 53, 0, 0, time.UTC)
	if res.NextEpisodeAirDate == nil || !res.NextEpisodeAirDate.Equal(wantAir) {
		t.Fatalf("next air: want %v got %v", wantAir, res.NextEpisodeAirDate)
	}
	if res.EpisodeAirDay != "Sunday" {
		t.Fatalf("air day: want Sunday got %q", res.EpisodeAirDay)
	}
	want := `Episode 170 of "Battle Through the Heavens" has been marked as aired! Total episodes: 170`
	if res.Message != want {
		t.Fatalf("message:\nwant %s\ngot  %s", want, res.Message)
	}
	if res.Event.PreviousTotal != 169 || !res.Event.PreviousAirDate.Equal(air) || res.Event.EpisodesAdvanced != 1 {
		t.Fatalf("event: %+v", res.Event)
	}

	select {
	case evt := <-events:
		if evt.Owner != "alice" {
			t.Fatalf("event owner: %q", evt.Owner)
		}
		var payload AdvancedPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if payload.Event.NewTotal != 170 {
			t.Fatalf("payload event: %+v", payload.Event)
		}
	case <-time.After(time.Second):
		t.Fatalf("no series.advanced event")
	}
}

func TestAdvanceOneEpisode_InvalidStates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, time.Date(2025, 7, 27, 1, 0, 0, 0, time.UTC))

	noAir := env.addWatching(t, "alice", "No date", 3, nil)
	if _, err := env.schedule.AdvanceOneEpisode(ctx, "alice", noAir.ID, nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("no air date: want ErrInvalidState, got %v", err)
	}
	var coded *CodedError
	if _, err := env.schedule.AdvanceOneEpisode(ctx, "alice", noAir.ID, nil); !errors.As(err, &coded) || coded.Code != "no_air_date" {
		t.Fatalf("no air date code: got %v", err)
	}

	air := time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC)
	onHold := env.addWatching(t, "alice", "Paused", 3, &air)
	if _, err := env.series.Update(ctx, "alice", onHold.ID, SeriesInput{Status: statusPtr(domain.StatusOnHold)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := env.schedule.AdvanceOneEpisode(ctx, "alice", onHold.ID, nil); !errors.As(err, &coded) || coded.Code != "not_watching" {
		t.Fatalf("on-hold: want not_watching, got %v", err)
	}

	if _, err := env.schedule.AdvanceOneEpisode(ctx, "bob", onHold.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign series: want ErrNotFound, got %v", err)
	}
	if _, err := env.schedule.AdvanceOneEpisode(ctx, "alice", "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing series: want ErrNotFound, got %v", err)
	}

	got, err := env.series.Get(ctx, "alice", onHold.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalEpisodes != 3 || !got.NextEpisodeAirDate.Equal(air) {
		t.Fatalf("rejected advance mutated the series: %+v", got)
	}
}

func TestAdvanceOneEpisode_StaleExpectedAirTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, time.Date(2025, 7, 27, 1, 0, 0, 0, time.UTC))
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	s := env.addWatching(t, "alice", "T", 10, &air)

	// Deux onglets lisent le même air time puis avancent chacun.
	if _, err := env.schedule.AdvanceOneEpisode(ctx, "alice", s.ID, &air); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	_, err := env.schedule.AdvanceOneEpisode(ctx, "alice", s.ID, &air)
	var stale *StaleScheduleError
	if !errors.As(err, &stale) {
		t.Fatalf("second advance: want StaleScheduleError, got %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale error should match ErrConflict")
	}
	if stale.Current.TotalEpisodes != 11 {
		t.Fatalf("current total: want 11 got %d", stale.Current.TotalEpisodes)
	}
}

func TestAdvanceOneEpisode_ConcurrentCallsAllCommit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, time.Date(2025, 7, 27, 1, 0, 0, 0, time.UTC))
	air := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	s := env.addWatching(t, "alice", "T", 50, &air)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.schedule.AdvanceOneEpisode(ctx, "alice", s.ID, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	got, err := env.series.Get(ctx, "alice", s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalEpisodes != 50+n {
		t.Fatalf("total: want %d got %d", 50+n, got.TotalEpisodes)
	}
	if want := schedule.Advance(air, n); !got.NextEpisodeAirDate.Equal(want) {
		t.Fatalf("air: want %v got %v", want, got.NextEpisodeAirDate)
	}
}

func TestSweepExpired_BatchPolicyCatchesUpInOneWrite(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)

	late := now.Add(-13 * 24 * time.Hour)
	future := now.Add(48 * time.Hour)
	a := env.addWatching(t, "alice", "Late", 20, &late)
	env.addWatching(t, "alice", "Future", 5, &future)
	env.addWatching(t, "alice", "No date", 1, nil)
	env.addWatching(t, "bob", "Other user", 1, &late)

	res, err := env.schedule.SweepExpired(ctx, "alice", now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if res.Count != 1 || len(res.UpdatedDonghua) != 1 || res.UpdatedDonghua[0].ID != a.ID {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	if res.Message != "Updated 1 expired episodes" {
		t.Fatalf("message: %q", res.Message)
	}
	updated := res.UpdatedDonghua[0]
	if updated.TotalEpisodes != 22 || res.Events[0].EpisodesAdvanced != 2 {
		t.Fatalf("batch catch-up: total=%d steps=%d", updated.TotalEpisodes, res.Events[0].EpisodesAdvanced)
	}
	if !updated.NextEpisodeAirDate.After(now) {
		t.Fatalf("air time should be in the future, got %v", updated.NextEpisodeAirDate)
	}

	again, err := env.schedule.SweepExpired(ctx, "alice", now)
	if err != nil {
		t.Fatalf("second SweepExpired: %v", err)
	}
	if again.Count != 0 || len(again.UpdatedDonghua) != 0 {
		t.Fatalf("second sweep should be empty: %+v", again)
	}
}

func TestSweepExpired_SinglePolicyAdvancesOneWeekPerPass(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	if _, err := env.settings.Put(ctx, domain.Settings{CatchUpPolicy: domain.CatchUpSingle}); err != nil {
		t.Fatalf("settings: %v", err)
	}

	late := now.Add(-13 * 24 * time.Hour)
	s := env.addWatching(t, "alice", "Late", 20, &late)

	for pass, wantTotal := range []int{21, 22} {
		res, err := env.schedule.SweepExpired(ctx, "alice", now)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if res.Count != 1 || res.UpdatedDonghua[0].TotalEpisodes != wantTotal {
			t.Fatalf("pass %d: %+v", pass, res)
		}
	}
	res, err := env.schedule.SweepExpired(ctx, "alice", now)
	if err != nil {
		t.Fatalf("final pass: %v", err)
	}
	if res.Count != 0 {
		t.Fatalf("final pass should be empty, got %d", res.Count)
	}
	got, _ := env.series.Get(ctx, "alice", s.ID)
	if !got.NextEpisodeAirDate.After(now) {
		t.Fatalf("air time should be in the future, got %v", got.NextEpisodeAirDate)
	}
}

func TestSweepAll_CoversEveryOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	late := now.Add(-time.Hour)
	env.addWatching(t, "alice", "A", 1, &late)
	env.addWatching(t, "bob", "B", 1, &late)

	n, err := env.schedule.SweepAll(ctx, now)
	if err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 swept, got %d", n)
	}
}
