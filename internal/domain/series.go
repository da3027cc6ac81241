package domain

import "time"

type SeriesStatus string

const (
	StatusPlanToWatch SeriesStatus = "plan-to-watch"
	StatusWatching    SeriesStatus = "watching"
	StatusCompleted   SeriesStatus = "completed"
	StatusOnHold      SeriesStatus = "on-hold"
	StatusDropped     SeriesStatus = "dropped"
)

func (s SeriesStatus) Valid() bool {
	switch s {
	case StatusPlanToWatch, StatusWatching, StatusCompleted, StatusOnHold, StatusDropped:
		return true
	default:
		return false
	}
}

// Series est une série suivie par un utilisateur.
type Series struct {
	ID string

	// Owner est l'id de l'utilisateur propriétaire (immuable après création).
	Owner string

	Title        string
	ChineseTitle string
	Studio       string
	Genres       []string
	ReleaseYear  int
	Synopsis     string
	Notes        string
	Rating       float64

	Status SeriesStatus

	// TotalEpisodes ne fait qu'augmenter: avance de planning ou édition explicite.
	TotalEpisodes int
	// WatchedEpisodes est piloté uniquement par l'utilisateur.
	WatchedEpisodes int

	// NextEpisodeAirAt nil = pas de planning actif.
	NextEpisodeAirAt *time.Time
	// EpisodeAirDay est un libellé dérivé (jour de la semaine), jamais autoritaire.
	EpisodeAirDay string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scheduled indique si le planning hebdo est actif (air time connu et série en cours).
func (s Series) Scheduled() bool {
	return s.NextEpisodeAirAt != nil && s.Status == StatusWatching
}

func (s Series) NextEpisodeNumber() int {
	return s.TotalEpisodes + 1
}

// AdvanceEvent décrit une avance de planning. Non persisté.
type AdvanceEvent struct {
	SeriesID         string
	PreviousAirAt    time.Time
	NewAirAt         time.Time
	PreviousTotal    int
	NewTotal         int
	EpisodesAdvanced int
}
