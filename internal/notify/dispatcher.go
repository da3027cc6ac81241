// Package notify transforme les events du compte à rebours et du sweep en
// notifications lisibles pour l'utilisateur.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/countdown"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

const (
	DefaultHorizon      = 60 * time.Minute
	DefaultScanInterval = 5 * time.Minute
)

type Kind string

const (
	KindUpcoming Kind = "upcoming"
	KindAired    Kind = "aired"
	KindSummary  Kind = "summary"
	KindExpired  Kind = "expired"
	KindError    Kind = "error"
)

type Notification struct {
	Kind     Kind
	SeriesID string
	Title    string
	Message  string
	At       time.Time
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapte une fonction en Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier écrit chaque notification comme une ligne de log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	evt := l.Logger.Info()
	if n.Kind == KindError {
		evt = l.Logger.Warn()
	}
	evt = evt.Str("kind", string(n.Kind))
	if n.SeriesID != "" {
		evt = evt.Str("series_id", n.SeriesID)
	}
	evt.Msg(n.Message)
}

// Lister fournit la liste courante des séries pour le scan "bientôt diffusé".
type Lister func() []app.SeriesDTO

type Dispatcher struct {
	Horizon      time.Duration
	ScanInterval time.Duration

	notifier Notifier
	clock    schedule.Clock
	logger   zerolog.Logger

	mu sync.Mutex
	// announced mémorise l'air time déjà annoncé par série.
	announced map[string]time.Time
	forgotten map[string]struct{}
}

func NewDispatcher(logger zerolog.Logger, notifier Notifier, clock schedule.Clock) *Dispatcher {
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &Dispatcher{
		Horizon:      DefaultHorizon,
		ScanInterval: DefaultScanInterval,
		notifier:     notifier,
		clock:        clock,
		logger:       logger,
		announced:    map[string]time.Time{},
		forgotten:    map[string]struct{}{},
	}
}

// Forget oublie id: plus aucune notification ne sera émise pour cette série.
func (d *Dispatcher) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.announced, id)
	d.forgotten[id] = struct{}{}
}

// Scan annonce, une seule fois par air time, les épisodes qui sortent dans l'horizon.
func (d *Dispatcher) Scan(list []app.SeriesDTO, now time.Time) {
	for _, s := range list {
		if s.Status != domain.StatusWatching || s.NextEpisodeAirDate == nil {
			continue
		}
		air := s.NextEpisodeAirDate.UTC()
		until := air.Sub(now)
		if until <= 0 || until > d.Horizon {
			continue
		}

		d.mu.Lock()
		_, gone := d.forgotten[s.ID]
		prev, seen := d.announced[s.ID]
		if gone || (seen && prev.Equal(air)) {
			d.mu.Unlock()
			continue
		}
		d.announced[s.ID] = air
		d.mu.Unlock()

		minutes := int(until / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		d.emit(Notification{
			Kind:     KindUpcoming,
			SeriesID: s.ID,
			Title:    s.Title,
			Message:  fmt.Sprintf("Episode %d of %q airs in %d minutes!", s.TotalEpisodes+1, s.Title, minutes),
			At:       now,
		})
	}
}

// HandleEvent traite un event du bus client. Les topics inconnus sont ignorés.
func (d *Dispatcher) HandleEvent(evt ports.Event) {
	now := d.clock.Now()
	switch evt.Topic {
	case "sweep.completed":
		var res app.SweepResponse
		if !d.decode(evt, &res) || res.Count == 0 {
			return
		}
		d.emit(Notification{
			Kind:    KindSummary,
			Message: fmt.Sprintf("%d episode(s) have been updated!", res.Count),
			At:      now,
		})
		titles := make(map[string]string, len(res.UpdatedDonghua))
		for _, s := range res.UpdatedDonghua {
			titles[s.ID] = s.Title
		}
		for _, ev := range res.Events {
			d.aired(ev.SeriesID, titles[ev.SeriesID], ev.NewTotal, now)
		}

	case "series.advanced":
		var p app.AdvancedPayload
		if !d.decode(evt, &p) {
			return
		}
		d.aired(p.Series.ID, p.Series.Title, p.Series.TotalEpisodes, now)

	case "series.advance_failed":
		var n countdown.Notice
		if !d.decode(evt, &n) {
			return
		}
		d.emit(Notification{
			Kind:     KindError,
			SeriesID: n.ID,
			Title:    n.Title,
			Message:  fmt.Sprintf("Failed to mark episode as aired for %q: %s", n.Title, n.Error),
			At:       now,
		})

	case "countdown.expired":
		var n countdown.Notice
		if !d.decode(evt, &n) {
			return
		}
		d.emit(Notification{
			Kind:     KindExpired,
			SeriesID: n.ID,
			Title:    n.Title,
			Message:  fmt.Sprintf("Episode %d of %q should have aired!", n.Episode, n.Title),
			At:       now,
		})

	case "series.removed", "series.deleted":
		var n countdown.Notice
		if !d.decode(evt, &n) || n.ID == "" {
			return
		}
		d.Forget(n.ID)
	}
}

func (d *Dispatcher) aired(id, title string, episode int, now time.Time) {
	d.emit(Notification{
		Kind:     KindAired,
		SeriesID: id,
		Title:    title,
		Message:  fmt.Sprintf("Episode %d of %q has aired!", episode, title),
		At:       now,
	})
}

func (d *Dispatcher) decode(evt ports.Event, v any) bool {
	if err := json.Unmarshal(evt.Payload, v); err != nil {
		d.logger.Debug().Err(err).Str("topic", evt.Topic).Msg("notify: bad payload")
		return false
	}
	return true
}

func (d *Dispatcher) emit(n Notification) {
	if n.SeriesID != "" {
		d.mu.Lock()
		_, gone := d.forgotten[n.SeriesID]
		d.mu.Unlock()
		if gone {
			return
		}
	}
	if d.notifier != nil {
		d.notifier.Notify(n)
	}
}

// Run consomme bus et rescanne list à intervalle fixe jusqu'à l'annulation de ctx.
func (d *Dispatcher) Run(ctx context.Context, bus ports.EventBus, list Lister) {
	events, cancel := bus.Subscribe("series.", "sweep.", "countdown.")
	defer cancel()

	interval := d.ScanInterval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if list != nil {
		d.Scan(list(), d.clock.Now())
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			d.HandleEvent(evt)
		case <-ticker.C:
			if list != nil {
				d.Scan(list(), d.clock.Now())
			}
		}
	}
}
