package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
	"github.com/rs/zerolog"
)

// ScheduleService avance le planning hebdomadaire des séries.
//
// Toute avance passe par ports.SeriesRepository.AdvanceSchedule: le total et
// l'air time changent dans la même écriture, jamais l'un sans l'autre.
type ScheduleService struct {
	logger   zerolog.Logger
	repo     ports.SeriesRepository
	settings *SettingsService
	bus      ports.EventBus
	clock    schedule.Clock

	SweepBatchSize int
}

func NewScheduleService(logger zerolog.Logger, repo ports.SeriesRepository, settings *SettingsService, bus ports.EventBus, clock schedule.Clock) *ScheduleService {
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &ScheduleService{
		logger:         logger,
		repo:           repo,
		settings:       settings,
		bus:            bus,
		clock:          clock,
		SweepBatchSize: 500,
	}
}

type AdvanceEventDTO struct {
	SeriesID         string    `json:"seriesId"`
	PreviousAirDate  time.Time `json:"previousAirDate"`
	NewAirDate       time.Time `json:"newAirDate"`
	PreviousTotal    int       `json:"previousTotal"`
	NewTotal         int       `json:"newTotal"`
	EpisodesAdvanced int       `json:"episodesAdvanced"`
}

func toAdvanceEventDTO(e domain.AdvanceEvent) AdvanceEventDTO {
	return AdvanceEventDTO{
		SeriesID:         e.SeriesID,
		PreviousAirDate:  e.PreviousAirAt,
		NewAirDate:       e.NewAirAt,
		PreviousTotal:    e.PreviousTotal,
		NewTotal:         e.NewTotal,
		EpisodesAdvanced: e.EpisodesAdvanced,
	}
}

type AdvanceResponse struct {
	SeriesDTO

	// NewEpisodeNumber est le numéro de l'épisode qui vient d'être diffusé (= nouveau total).
	EpisodeAired     bool            `json:"episodeAired"`
	NewEpisodeNumber int             `json:"newEpisodeNumber"`
	Message          string          `json:"message"`
	Event            AdvanceEventDTO `json:"event"`
}

type SweepResponse struct {
	Message        string            `json:"message"`
	UpdatedDonghua []SeriesDTO       `json:"updatedDonghua"`
	Events         []AdvanceEventDTO `json:"events"`
	Count          int               `json:"count"`
}

// AdvanceOneEpisode marque l'épisode courant comme diffusé: total+1, air time +1 semaine.
//
// expected, si non nil, doit être l'air time que l'appelant a lu; sinon l'avance
// est refusée avec un *StaleScheduleError portant l'état courant.
func (s *ScheduleService) AdvanceOneEpisode(ctx context.Context, owner, id string, expected *time.Time) (AdvanceResponse, error) {
	req := ports.AdvanceRequest{
		Owner:         owner,
		SeriesID:      id,
		Steps:         1,
		ExpectedAirAt: expected,
		Location:      s.settings.location(ctx),
		Now:           s.clock.Now(),
	}
	updated, evt, err := s.repo.AdvanceSchedule(ctx, req)
	if errors.Is(err, ports.ErrNotFound) {
		return AdvanceResponse{}, s.classifyRejected(ctx, owner, id, expected)
	}
	if err != nil {
		return AdvanceResponse{}, err
	}

	s.publishAdvance(updated, evt)
	s.logger.Info().
		Str("series_id", id).
		Int("episode", evt.NewTotal).
		Time("next_air_at", evt.NewAirAt).
		Msg("episode marked as aired")

	return AdvanceResponse{
		SeriesDTO:        ToSeriesDTO(updated),
		EpisodeAired:     true,
		NewEpisodeNumber: evt.NewTotal,
		Message:          fmt.Sprintf("Episode %d of %q has been marked as aired! Total episodes: %d", evt.NewTotal, updated.Title, updated.TotalEpisodes),
		Event:            toAdvanceEventDTO(evt),
	}, nil
}

// classifyRejected explique pourquoi l'écriture conditionnelle n'a touché aucune ligne.
func (s *ScheduleService) classifyRejected(ctx context.Context, owner, id string, expected *time.Time) error {
	current, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if current.NextEpisodeAirAt == nil {
		return &CodedError{Code: "no_air_date", Message: "series has no next episode air date", Err: ErrInvalidState}
	}
	if current.Status != domain.StatusWatching {
		return &CodedError{Code: "not_watching", Message: "series status is " + string(current.Status) + ", not watching", Err: ErrInvalidState}
	}
	if expected != nil && !current.NextEpisodeAirAt.Equal(*expected) {
		return &StaleScheduleError{Current: ToSeriesDTO(current)}
	}
	// La ligne a changé entre l'écriture et la lecture: on laisse l'appelant relire.
	return &StaleScheduleError{Current: ToSeriesDTO(current)}
}

// SweepExpired rattrape toutes les séries expirées de owner à l'instant now.
//
// Politique batch: une seule écriture de k semaines par série. Politique single:
// une semaine par série et par passage.
func (s *ScheduleService) SweepExpired(ctx context.Context, owner string, now time.Time) (SweepResponse, error) {
	limit := s.SweepBatchSize
	if limit <= 0 {
		limit = 500
	}
	expired, err := s.repo.Expired(ctx, owner, now, limit)
	if err != nil {
		return SweepResponse{}, err
	}

	policy := s.settings.catchUpPolicy(ctx)
	loc := s.settings.location(ctx)

	out := SweepResponse{UpdatedDonghua: []SeriesDTO{}, Events: []AdvanceEventDTO{}}
	for _, series := range expired {
		if err := ctx.Err(); err != nil {
			return SweepResponse{}, err
		}
		req := ports.AdvanceRequest{
			Owner:         owner,
			SeriesID:      series.ID,
			Before:        now,
			ExpectedAirAt: series.NextEpisodeAirAt,
			Location:      loc,
			Now:           now,
		}
		if policy == domain.CatchUpSingle {
			req.Steps = 1
		} else {
			req.CatchUp = true
		}

		updated, evt, err := s.repo.AdvanceSchedule(ctx, req)
		if errors.Is(err, ports.ErrNotFound) {
			// Déjà avancée par un autre appel, ou modifiée entre-temps.
			continue
		}
		if err != nil {
			return SweepResponse{}, err
		}
		s.publishAdvance(updated, evt)
		out.UpdatedDonghua = append(out.UpdatedDonghua, ToSeriesDTO(updated))
		out.Events = append(out.Events, toAdvanceEventDTO(evt))
	}

	out.Count = len(out.UpdatedDonghua)
	out.Message = fmt.Sprintf("Updated %d expired episodes", out.Count)
	publishJSON(s.bus, "sweep.completed", owner, out)
	if out.Count > 0 {
		s.logger.Info().Str("owner", owner).Int("count", out.Count).Str("policy", string(policy)).Msg("expired episodes swept")
	}
	return out, nil
}

// SweepAll balaie tous les propriétaires ayant au moins une série expirée.
func (s *ScheduleService) SweepAll(ctx context.Context, now time.Time) (int, error) {
	owners, err := s.repo.ExpiredOwners(ctx, now)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, owner := range owners {
		res, err := s.SweepExpired(ctx, owner, now)
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			s.logger.Warn().Err(err).Str("owner", owner).Msg("sweep failed")
			continue
		}
		total += res.Count
	}
	return total, nil
}

func (s *ScheduleService) Now() time.Time {
	return s.clock.Now()
}

// AdvancedPayload est le contenu des events "series.advanced".
type AdvancedPayload struct {
	Series SeriesDTO       `json:"series"`
	Event  AdvanceEventDTO `json:"event"`
}

func (s *ScheduleService) publishAdvance(series domain.Series, evt domain.AdvanceEvent) {
	publishJSON(s.bus, "series.advanced", series.Owner, AdvancedPayload{
		Series: ToSeriesDTO(series),
		Event:  toAdvanceEventDTO(evt),
	})
}
