package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
	"github.com/rs/xid"
)

type SeriesService struct {
	repo     ports.SeriesRepository
	settings *SettingsService
	bus      ports.EventBus
	clock    schedule.Clock
}

func NewSeriesService(repo ports.SeriesRepository, settings *SettingsService, bus ports.EventBus, clock schedule.Clock) *SeriesService {
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &SeriesService{repo: repo, settings: settings, bus: bus, clock: clock}
}

type SeriesDTO struct {
	ID    string `json:"id"`
	Owner string `json:"user"`

	Title        string   `json:"title"`
	ChineseTitle string   `json:"chineseTitle,omitempty"`
	Studio       string   `json:"studio,omitempty"`
	Genres       []string `json:"genres"`
	ReleaseYear  int      `json:"releaseYear,omitempty"`
	Synopsis     string   `json:"synopsis,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Rating       float64  `json:"rating"`

	Status          domain.SeriesStatus `json:"status"`
	TotalEpisodes   int                 `json:"totalEpisodes"`
	WatchedEpisodes int                 `json:"watchedEpisodes"`

	NextEpisodeAirDate *time.Time `json:"nextEpisodeAirDate"`
	EpisodeAirDay      string     `json:"episodeAirDay,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func ToSeriesDTO(s domain.Series) SeriesDTO {
	genres := s.Genres
	if genres == nil {
		genres = []string{}
	}
	return SeriesDTO{
		ID:                 s.ID,
		Owner:              s.Owner,
		Title:              s.Title,
		ChineseTitle:       s.ChineseTitle,
		Studio:             s.Studio,
		Genres:             genres,
		ReleaseYear:        s.ReleaseYear,
		Synopsis:           s.Synopsis,
		Notes:              s.Notes,
		Rating:             s.Rating,
		Status:             s.Status,
		TotalEpisodes:      s.TotalEpisodes,
		WatchedEpisodes:    s.WatchedEpisodes,
		NextEpisodeAirDate: s.NextEpisodeAirAt,
		EpisodeAirDay:      s.EpisodeAirDay,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

// NullableTime distingue "champ absent" de "champ à null" dans un JSON partiel.
type NullableTime struct {
	Set   bool
	Value *time.Time
}

func (n *NullableTime) UnmarshalJSON(b []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		n.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	n.Value = &t
	return nil
}

func (n NullableTime) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// SeriesInput est un patch: seuls les champs présents sont appliqués.
type SeriesInput struct {
	Title              *string              `json:"title,omitempty"`
	ChineseTitle       *string              `json:"chineseTitle,omitempty"`
	Studio             *string              `json:"studio,omitempty"`
	Genres             []string             `json:"genres,omitempty"`
	ReleaseYear        *int                 `json:"releaseYear,omitempty"`
	Synopsis           *string              `json:"synopsis,omitempty"`
	Notes              *string              `json:"notes,omitempty"`
	Rating             *float64             `json:"rating,omitempty"`
	Status             *domain.SeriesStatus `json:"status,omitempty"`
	TotalEpisodes      *int                 `json:"totalEpisodes,omitempty"`
	WatchedEpisodes    *int                 `json:"watchedEpisodes,omitempty"`
	NextEpisodeAirDate NullableTime         `json:"nextEpisodeAirDate"`
}

func (in SeriesInput) apply(s *domain.Series, loc *time.Location) error {
	if in.Title != nil {
		s.Title = strings.TrimSpace(*in.Title)
	}
	if in.ChineseTitle != nil {
		s.ChineseTitle = strings.TrimSpace(*in.ChineseTitle)
	}
	if in.Studio != nil {
		s.Studio = strings.TrimSpace(*in.Studio)
	}
	if in.Genres != nil {
		s.Genres = normalizeGenres(in.Genres)
	}
	if in.ReleaseYear != nil {
		s.ReleaseYear = *in.ReleaseYear
	}
	if in.Synopsis != nil {
		s.Synopsis = *in.Synopsis
	}
	if in.Notes != nil {
		s.Notes = *in.Notes
	}
	if in.Rating != nil {
		s.Rating = *in.Rating
	}
	if in.Status != nil {
		s.Status = *in.Status
	}
	if in.TotalEpisodes != nil {
		if *in.TotalEpisodes < s.TotalEpisodes {
			return invalidField(fmt.Sprintf("totalEpisodes cannot decrease (%d -> %d)", s.TotalEpisodes, *in.TotalEpisodes))
		}
		s.TotalEpisodes = *in.TotalEpisodes
	}
	if in.WatchedEpisodes != nil {
		s.WatchedEpisodes = *in.WatchedEpisodes
	}
	if in.NextEpisodeAirDate.Set {
		s.NextEpisodeAirAt = nil
		s.EpisodeAirDay = ""
		if in.NextEpisodeAirDate.Value != nil {
			t := in.NextEpisodeAirDate.Value.UTC().Truncate(time.Millisecond)
			s.NextEpisodeAirAt = &t
			s.EpisodeAirDay = schedule.AirDay(t, loc)
		}
	}
	return validateSeries(*s)
}

func validateSeries(s domain.Series) error {
	if s.Title == "" {
		return invalidField("missing title")
	}
	if !s.Status.Valid() {
		return invalidField("invalid status: " + string(s.Status))
	}
	if s.TotalEpisodes < 0 || s.WatchedEpisodes < 0 {
		return invalidField("episode counts must be >= 0")
	}
	// totalEpisodes == 0 signifie "inconnu": pas de borne sur watched dans ce cas.
	if s.TotalEpisodes > 0 && s.WatchedEpisodes > s.TotalEpisodes {
		return invalidField(fmt.Sprintf("watchedEpisodes (%d) exceeds totalEpisodes (%d)", s.WatchedEpisodes, s.TotalEpisodes))
	}
	if s.Rating < 0 || s.Rating > 10 {
		return invalidField("rating must be between 0 and 10")
	}
	return nil
}

func normalizeGenres(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, g := range in {
		g = strings.TrimSpace(g)
		key := strings.ToLower(g)
		if g == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	return out
}

func (s *SeriesService) Create(ctx context.Context, owner string, in SeriesInput) (SeriesDTO, error) {
	now := s.clock.Now().UTC()
	series := domain.Series{
		ID:        xid.New().String(),
		Owner:     owner,
		Status:    domain.StatusPlanToWatch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.apply(&series, s.settings.location(ctx)); err != nil {
		return SeriesDTO{}, err
	}
	created, err := s.repo.Create(ctx, series)
	if err != nil {
		return SeriesDTO{}, err
	}
	s.publish("series.created", created)
	return ToSeriesDTO(created), nil
}

func (s *SeriesService) Get(ctx context.Context, owner, id string) (SeriesDTO, error) {
	series, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return SeriesDTO{}, err
	}
	return ToSeriesDTO(series), nil
}

func (s *SeriesService) List(ctx context.Context, owner string, limit int) ([]SeriesDTO, error) {
	list, err := s.repo.List(ctx, owner, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SeriesDTO, 0, len(list))
	for _, series := range list {
		out = append(out, ToSeriesDTO(series))
	}
	return out, nil
}

// updateAttempts borne les relectures quand une avance passe entre lecture et écriture.
const updateAttempts = 3

// Update applique le patch in sur l'état stocké. L'écriture est conditionnée à la
// ligne lue; si une avance s'intercale, le patch est rejoué sur la ligne relue.
// Après updateAttempts échecs, l'appelant reçoit un *StaleScheduleError.
func (s *SeriesService) Update(ctx context.Context, owner, id string, in SeriesInput) (SeriesDTO, error) {
	loc := s.settings.location(ctx)
	for attempt := 1; ; attempt++ {
		read, err := s.repo.Get(ctx, owner, id)
		if err != nil {
			return SeriesDTO{}, err
		}
		patched := read
		if err := in.apply(&patched, loc); err != nil {
			return SeriesDTO{}, err
		}
		patched.UpdatedAt = s.clock.Now().UTC()

		updated, err := s.repo.Update(ctx, patched, read)
		if errors.Is(err, ports.ErrConflict) {
			if attempt < updateAttempts {
				continue
			}
			current, gerr := s.repo.Get(ctx, owner, id)
			if gerr != nil {
				return SeriesDTO{}, gerr
			}
			return SeriesDTO{}, &StaleScheduleError{Current: ToSeriesDTO(current)}
		}
		if err != nil {
			return SeriesDTO{}, err
		}
		s.publish("series.updated", updated)
		return ToSeriesDTO(updated), nil
	}
}

func (s *SeriesService) Delete(ctx context.Context, owner, id string) error {
	err := s.repo.Delete(ctx, owner, id)
	if err == nil {
		publishJSON(s.bus, "series.deleted", owner, map[string]any{"id": id})
	}
	return err
}

func (s *SeriesService) publish(topic string, series domain.Series) {
	publishJSON(s.bus, topic, series.Owner, ToSeriesDTO(series))
}

func publishJSON(bus ports.EventBus, topic, owner string, v any) {
	if bus == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	bus.Publish(ports.Event{Topic: topic, Owner: owner, Payload: b})
}
