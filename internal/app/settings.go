package app

import (
	"context"
	"time"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
)

type SettingsService struct {
	repo ports.SettingsRepository
}

func NewSettingsService(repo ports.SettingsRepository) *SettingsService {
	return &SettingsService{repo: repo}
}

func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	return s.repo.Get(ctx)
}

func (s *SettingsService) Put(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	def := domain.DefaultSettings()
	if settings.CatchUpPolicy == "" {
		settings.CatchUpPolicy = def.CatchUpPolicy
	}
	if !settings.CatchUpPolicy.Valid() {
		return domain.Settings{}, invalidField("catchUpPolicy must be one of batch, single")
	}
	if settings.AirDayTimezone == "" {
		settings.AirDayTimezone = def.AirDayTimezone
	}
	if _, err := time.LoadLocation(settings.AirDayTimezone); err != nil {
		return domain.Settings{}, invalidField("unknown airDayTimezone: " + settings.AirDayTimezone)
	}
	if settings.UpcomingHorizonMinutes <= 0 {
		settings.UpcomingHorizonMinutes = def.UpcomingHorizonMinutes
	}
	return s.repo.Put(ctx, settings)
}

// location renvoie le fuseau des libellés; UTC si les settings sont illisibles.
func (s *SettingsService) location(ctx context.Context) *time.Location {
	if s == nil {
		return time.UTC
	}
	settings, err := s.repo.Get(ctx)
	if err != nil {
		return time.UTC
	}
	return settings.Location()
}

func (s *SettingsService) catchUpPolicy(ctx context.Context) domain.CatchUpPolicy {
	if s == nil {
		return domain.CatchUpBatch
	}
	settings, err := s.repo.Get(ctx)
	if err != nil || !settings.CatchUpPolicy.Valid() {
		return domain.CatchUpBatch
	}
	return settings.CatchUpPolicy
}
