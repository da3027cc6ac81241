// Package countdown pilote, côté client, le compte à rebours de chaque série
// suivie et déclenche l'avance d'épisode quand l'air time est atteint.
package countdown

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

// DefaultTransitionDuration est la durée minimale affichée de la transition.
const DefaultTransitionDuration = 10 * time.Second

var (
	ErrDisposed        = errors.New("countdown disposed")
	ErrAdvanceInFlight = errors.New("advance already in flight")
	ErrNoSchedule      = errors.New("series has no active schedule")
)

type State int

const (
	StateIdle State = iota
	StateCounting
	StateTransitioning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCounting:
		return "counting"
	case StateTransitioning:
		return "transitioning"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Advancer est le sous-ensemble du client API utilisé par le compte à rebours.
type Advancer interface {
	AdvanceOneEpisode(ctx context.Context, id string, expected *time.Time) (app.AdvanceResponse, error)
}

type Options struct {
	Clock    schedule.Clock
	Advancer Advancer
	// Bus reçoit les events côté client (countdown.*, series.advanced, series.advance_failed).
	Bus    ports.EventBus
	Logger zerolog.Logger

	// Limiter borne les avances émises par l'ensemble des comptes à rebours. nil = pas de limite.
	Limiter *rate.Limiter

	AutoAdvance        bool
	TransitionDuration time.Duration
	RequestTimeout     time.Duration

	// StaleCurrent extrait l'état serveur d'une erreur de conflit (voir client.StaleCurrent).
	StaleCurrent func(error) (app.SeriesDTO, bool)
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = schedule.SystemClock{}
	}
	if o.TransitionDuration <= 0 {
		o.TransitionDuration = DefaultTransitionDuration
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

// Notice est le contenu des events countdown.* et series.advance_failed / series.removed.
type Notice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Episode est le numéro de l'épisode attendu (total + 1).
	Episode int    `json:"episode,omitempty"`
	Error   string `json:"error,omitempty"`
}

// View est l'instantané affichable d'un compte à rebours.
type View struct {
	ID          string
	Title       string
	State       State
	Remaining   schedule.Remaining
	AirAt       *time.Time
	NextEpisode int
	// Progress de la transition, de 0 à 1.
	Progress float64
	Err      string
}

// Controller est la machine à états d'une série. Toutes les méthodes sont sûres
// en concurrence; Tick est appelé par un ticker partagé (voir Registry).
type Controller struct {
	opts Options
	wg   *conc.WaitGroup

	mu     sync.Mutex
	series app.SeriesDTO
	state  State
	// fired empêche de redéclencher la transition pour le même air time.
	fired      bool
	transStart time.Time
	progress   float64
	pending    *app.SeriesDTO
	inFlight   bool
	cancel     context.CancelFunc
	// gen invalide les réponses d'avance devenues obsolètes (reset, dispose).
	gen      uint64
	disposed bool
	lastErr  string
}

func newController(series app.SeriesDTO, opts Options, wg *conc.WaitGroup) *Controller {
	c := &Controller{opts: opts, wg: wg}
	c.resetLocked(series)
	return c
}

// New crée un contrôleur autonome, hors Registry.
func New(series app.SeriesDTO, opts Options) *Controller {
	return newController(series, opts.withDefaults(), &conc.WaitGroup{})
}

func scheduled(s app.SeriesDTO) bool {
	return s.NextEpisodeAirDate != nil && s.Status == domain.StatusWatching
}

func airOf(s app.SeriesDTO) *time.Time {
	if !scheduled(s) {
		return nil
	}
	return s.NextEpisodeAirDate
}

// resetLocked adopte series et repart d'un état propre.
func (c *Controller) resetLocked(series app.SeriesDTO) {
	c.series = series
	c.fired = false
	c.pending = nil
	c.progress = 0
	c.lastErr = ""
	c.gen++
	if scheduled(series) {
		c.state = StateCounting
	} else {
		c.state = StateIdle
	}
}

func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.series.ID
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tick réévalue la série à now. Le restant est toujours recalculé depuis l'air time
// absolu: des ticks manqués ne créent pas de dérive.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	switch c.state {
	case StateIdle, StateCounting:
		reading := schedule.Evaluate(airOf(c.series), now)
		switch reading.Kind {
		case schedule.NoSchedule:
			c.state = StateIdle
		case schedule.CountingDown:
			c.state = StateCounting
		case schedule.Expired:
			if c.fired || c.inFlight {
				return
			}
			c.fired = true
			if !c.opts.AutoAdvance {
				c.state = StateExpired
				c.publishLocked("countdown.expired", "")
				return
			}
			c.state = StateTransitioning
			c.transStart = now
			c.progress = 0
			c.publishLocked("countdown.transitioning", "")
			c.startAdvanceLocked(context.Background(), true)
		}

	case StateTransitioning:
		elapsed := now.Sub(c.transStart)
		c.progress = float64(elapsed) / float64(c.opts.TransitionDuration)
		if c.progress > 1 {
			c.progress = 1
		}
		if c.pending != nil && elapsed >= c.opts.TransitionDuration {
			next := *c.pending
			c.resetLocked(next)
		}

	case StateExpired:
		// Attend une action manuelle ou un Sync.
	}
}

// startAdvanceLocked lance l'appel réseau sur sa propre goroutine: une requête lente
// ne bloque jamais les autres comptes à rebours.
func (c *Controller) startAdvanceLocked(parent context.Context, transitional bool) <-chan error {
	done := make(chan error, 1)
	if c.opts.Advancer == nil {
		c.failLocked(errors.New("no advancer configured"), transitional)
		done <- errors.New("no advancer configured")
		return done
	}

	expected := c.series.NextEpisodeAirDate
	if expected != nil {
		t := *expected
		expected = &t
	}
	id := c.series.ID
	gen := c.gen
	ctx, cancel := context.WithTimeout(parent, c.opts.RequestTimeout)
	c.cancel = cancel
	c.inFlight = true

	c.wg.Go(func() {
		defer cancel()
		var res app.AdvanceResponse
		err := c.waitLimiter(ctx)
		if err == nil {
			res, err = c.opts.Advancer.AdvanceOneEpisode(ctx, id, expected)
		}
		done <- c.finish(gen, transitional, res, err)
	})
	return done
}

func (c *Controller) waitLimiter(ctx context.Context) error {
	if c.opts.Limiter == nil {
		return nil
	}
	return c.opts.Limiter.Wait(ctx)
}

// finish applique le résultat d'une avance, sauf s'il est devenu obsolète.
func (c *Controller) finish(gen uint64, transitional bool, res app.AdvanceResponse, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Une seule avance en vol à la fois (voir Tick et Advance).
	c.inFlight = false
	c.cancel = nil
	if c.disposed {
		return ErrDisposed
	}
	if c.gen != gen {
		// Un Sync a déjà remplacé l'état; la réponse n'apporte rien de plus récent.
		return nil
	}

	if err == nil {
		if transitional {
			pending := res.SeriesDTO
			c.pending = &pending
		} else {
			c.resetLocked(res.SeriesDTO)
		}
		c.publishJSONLocked("series.advanced", app.AdvancedPayload{Series: res.SeriesDTO, Event: res.Event})
		return nil
	}

	if c.opts.StaleCurrent != nil {
		if current, ok := c.opts.StaleCurrent(err); ok {
			// Un autre client a déjà avancé: on adopte l'état serveur.
			c.resetLocked(current)
			c.publishLocked("countdown.reset", "")
			return nil
		}
	}

	// Pas de nouvel essai automatique: l'utilisateur ou le prochain sweep tranche.
	c.failLocked(err, transitional)
	return err
}

// failLocked publie l'échec; une avance automatique ratée finit en Expired.
func (c *Controller) failLocked(err error, toExpired bool) {
	if toExpired {
		c.state = StateExpired
	}
	c.lastErr = err.Error()
	c.opts.Logger.Warn().Err(err).Str("series_id", c.series.ID).Msg("episode advance failed")
	c.publishLocked("series.advance_failed", err.Error())
}

// Sync remplace la série affichée. Un air time différent du précédent (avance faite
// ailleurs, par le sweep ou un autre onglet) remet la machine à zéro.
func (c *Controller) Sync(series app.SeriesDTO) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	prev := airOf(c.series)
	next := airOf(series)
	if sameTime(prev, next) {
		c.series = series
		return
	}
	c.resetLocked(series)
	c.publishLocked("countdown.reset", "")
}

// Advance déclenche une avance manuelle et attend la réponse.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrAdvanceInFlight
	}
	if !scheduled(c.series) {
		c.mu.Unlock()
		return ErrNoSchedule
	}
	done := c.startAdvanceLocked(ctx, false)
	c.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose annule toute requête en vol; les réponses tardives sont ignorées.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *Controller) View(now time.Time) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		ID:          c.series.ID,
		Title:       c.series.Title,
		State:       c.state,
		AirAt:       airOf(c.series),
		NextEpisode: c.series.TotalEpisodes + 1,
		Err:         c.lastErr,
	}
	switch c.state {
	case StateCounting:
		v.Remaining = schedule.Evaluate(v.AirAt, now).Remaining
	case StateTransitioning:
		v.Progress = c.progress
	}
	return v
}

func (c *Controller) publishLocked(topic, errMsg string) {
	c.publishJSONLocked(topic, Notice{
		ID:      c.series.ID,
		Title:   c.series.Title,
		Episode: c.series.TotalEpisodes + 1,
		Error:   errMsg,
	})
}

func (c *Controller) publishJSONLocked(topic string, v any) {
	if c.opts.Bus == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.opts.Bus.Publish(ports.Event{Topic: topic, Payload: b})
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
