package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SweepScheduler déclenche SweepAll selon une expression cron (ex: "@every 1m").
// Désactivé si Spec est vide: le client reste alors l'unique déclencheur.
type SweepScheduler struct {
	logger   zerolog.Logger
	schedule *ScheduleService

	Spec string
}

func NewSweepScheduler(logger zerolog.Logger, schedule *ScheduleService, spec string) *SweepScheduler {
	return &SweepScheduler{logger: logger, schedule: schedule, Spec: spec}
}

func (sch *SweepScheduler) Run(ctx context.Context) error {
	if sch.Spec == "" || sch.schedule == nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(sch.Spec, func() { sch.tick(ctx) }); err != nil {
		return err
	}
	sch.logger.Info().Str("spec", sch.Spec).Msg("sweep scheduler started")
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	sch.logger.Info().Msg("sweep scheduler stopped")
	return nil
}

func (sch *SweepScheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := sch.schedule.SweepAll(ctx, sch.schedule.Now().UTC())
	if err != nil {
		sch.logger.Error().Err(err).Msg("background sweep failed")
		return
	}
	if n > 0 {
		sch.logger.Debug().Int("count", n).Msg("background sweep done")
	}
}
