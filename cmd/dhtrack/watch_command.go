package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/client"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/config"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/countdown"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/logging"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/notify"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

const recentNotifications = 5

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var refresh, duration time.Duration
	var noAuto bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Affiche les comptes à rebours et avance les épisodes à leur sortie",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}

			runCtx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, duration)
				defer cancel()
			}

			logger, closer := logging.New(logging.Options{
				App:        "dhtrack",
				Level:      cfg.Log.Level,
				Console:    true,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			})
			defer func() { _ = closer.Close() }()

			w := &watcher{
				cl:      cl,
				cfg:     cfg,
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
				logger:  logger,
				refresh: refresh,
				tty:     isTerminal(cmd.OutOrStdout()),
				noAuto:  noAuto,
				clock:   schedule.SystemClock{},
			}
			w.plain = notify.LogNotifier{Logger: zerolog.New(zerolog.ConsoleWriter{
				Out:          w.errOut,
				NoColor:      true,
				PartsExclude: []string{zerolog.TimestampFieldName},
			})}
			return w.run(runCtx)
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", time.Minute, "Intervalle de rechargement de la liste depuis le serveur")
	cmd.Flags().DurationVar(&duration, "for", 0, "Arrête la surveillance après cette durée (0 = jusqu'à Ctrl-C)")
	cmd.Flags().BoolVar(&noAuto, "no-auto-advance", false, "N'avance pas automatiquement, même si les réglages l'autorisent")
	return cmd
}

type watcher struct {
	cl      *client.Client
	cfg     *config.Config
	out     io.Writer
	errOut  io.Writer
	logger  zerolog.Logger
	refresh time.Duration
	tty     bool
	noAuto  bool
	// clock est partagée par le registre, le dispatcher et les scans.
	clock schedule.Clock

	// plain reçoit les notifications hors terminal.
	plain notify.Notifier

	mu     sync.Mutex
	list   []app.SeriesDTO
	recent []string
}

func (w *watcher) run(ctx context.Context) error {
	settings, err := w.cl.Settings(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("settings unavailable, using defaults")
		settings = domain.DefaultSettings()
	}
	loc := settings.Location()

	bus := memorybus.New()
	defer bus.Close()

	reg := countdown.NewRegistry(countdown.Options{
		Advancer:     w.cl,
		Bus:          bus,
		Clock:        w.clock,
		Logger:       logging.Component(w.logger, "countdown"),
		Limiter:      w.limiter(),
		AutoAdvance:  settings.AutoAdvance && !w.noAuto,
		StaleCurrent: client.StaleCurrent,
	})

	disp := notify.NewDispatcher(logging.Component(w.logger, "notify"), notify.NotifierFunc(w.notify), w.clock)
	if settings.UpcomingHorizonMinutes > 0 {
		disp.Horizon = time.Duration(settings.UpcomingHorizonMinutes) * time.Minute
	}

	var wg conc.WaitGroup
	defer wg.Wait()
	// Le dispatcher s'abonne avant le premier sweep pour ne pas en perdre le résumé.
	dispCtx, stopDisp := context.WithCancel(ctx)
	defer stopDisp()
	subscribed := make(chan struct{})
	wg.Go(func() {
		events, cancel := bus.Subscribe("series.", "sweep.", "countdown.")
		close(subscribed)
		defer cancel()
		w.forward(dispCtx, disp, events)
	})
	<-subscribed

	// Chargement: sweep d'abord, puis liste corrigée.
	if err := w.sweep(ctx, bus); err != nil {
		w.logger.Warn().Err(err).Msg("initial sweep failed")
	}
	if err := w.reload(ctx, reg); err != nil {
		return err
	}
	disp.Scan(w.snapshot(), w.clock.Now())

	wg.Go(func() { w.refreshLoop(ctx, reg, disp) })

	reg.Run(ctx, time.Second, func(now time.Time) {
		w.render(reg.Views(now), loc)
	})
	return nil
}

// forward applique les events du bus au dispatcher; la liste reste à jour avec les
// séries avancées localement.
func (w *watcher) forward(ctx context.Context, disp *notify.Dispatcher, events <-chan ports.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Topic == "series.advanced" {
				var p app.AdvancedPayload
				if json.Unmarshal(evt.Payload, &p) == nil {
					w.replace(p.Series)
				}
			}
			disp.HandleEvent(evt)
		}
	}
}

func (w *watcher) refreshLoop(ctx context.Context, reg *countdown.Registry, disp *notify.Dispatcher) {
	refresh := w.refresh
	if refresh <= 0 {
		refresh = time.Minute
	}
	reloadTicker := time.NewTicker(refresh)
	defer reloadTicker.Stop()
	scanTicker := time.NewTicker(disp.ScanInterval)
	defer scanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reloadTicker.C:
			if err := w.reload(ctx, reg); err != nil && ctx.Err() == nil {
				w.logger.Warn().Err(err).Msg("reload failed")
			}
		case <-scanTicker.C:
			disp.Scan(w.snapshot(), w.clock.Now())
		}
	}
}

func (w *watcher) limiter() *rate.Limiter {
	if w.cfg.Client.AdvanceRate <= 0 {
		return nil
	}
	burst := w.cfg.Client.AdvanceBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(w.cfg.Client.AdvanceRate), burst)
}

func (w *watcher) sweep(ctx context.Context, bus ports.EventBus) error {
	res, err := w.cl.CheckExpired(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	bus.Publish(ports.Event{Topic: "sweep.completed", Payload: b})
	return nil
}

func (w *watcher) reload(ctx context.Context, reg *countdown.Registry) error {
	list, err := w.cl.List(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.list = list
	w.mu.Unlock()
	reg.Reconcile(list)
	return nil
}

func (w *watcher) replace(s app.SeriesDTO) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.list {
		if w.list[i].ID == s.ID {
			w.list[i] = s
			return
		}
	}
}

func (w *watcher) snapshot() []app.SeriesDTO {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]app.SeriesDTO(nil), w.list...)
}

func (w *watcher) notify(n notify.Notification) {
	line := notificationIcon(n.Kind) + " " + n.Message
	w.mu.Lock()
	w.recent = append(w.recent, line)
	if len(w.recent) > recentNotifications {
		w.recent = w.recent[len(w.recent)-recentNotifications:]
	}
	w.mu.Unlock()
	if !w.tty {
		n.Message = line
		w.plain.Notify(n)
	}
}

// render redessine l'écran sur un terminal; hors terminal seules les notifications
// sont écrites.
func (w *watcher) render(views []countdown.View, loc *time.Location) {
	if !w.tty {
		return
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.Title,
			strings.ToUpper(v.State.String()[:1]) + v.State.String()[1:],
			fmt.Sprintf("%d", v.NextEpisode),
			formatAir(v.AirAt, loc),
			viewDetail(v),
		})
	}
	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	b.WriteString(renderTable(
		[]string{"Title", "State", "Episode", "Airs", "In"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
	))
	b.WriteString("\n")
	w.mu.Lock()
	for _, line := range w.recent {
		b.WriteString(line)
		b.WriteString("\n")
	}
	w.mu.Unlock()
	fmt.Fprint(w.out, b.String())
}

func viewDetail(v countdown.View) string {
	switch v.State {
	case countdown.StateCounting:
		return v.Remaining.String()
	case countdown.StateTransitioning:
		return fmt.Sprintf("airing… %3.0f%%", v.Progress*100)
	case countdown.StateExpired:
		if v.Err != "" {
			return "failed: " + v.Err
		}
		return "aired, run `dhtrack advance`"
	default:
		return "-"
	}
}

func notificationIcon(k notify.Kind) string {
	switch k {
	case notify.KindUpcoming:
		return "⏰"
	case notify.KindAired:
		return "🎬"
	case notify.KindSummary:
		return "📺"
	case notify.KindExpired:
		return "⏰"
	case notify.KindError:
		return "⚠️"
	default:
		return "•"
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
