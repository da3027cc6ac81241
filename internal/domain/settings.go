package domain

import "time"

// CatchUpPolicy règle le rattrapage du sweeper quand plusieurs semaines sont en retard.
type CatchUpPolicy string

const (
	// CatchUpBatch avance du nombre de semaines écoulées en une seule écriture.
	CatchUpBatch CatchUpPolicy = "batch"
	// CatchUpSingle avance d'une semaine par passage (comportement historique).
	CatchUpSingle CatchUpPolicy = "single"
)

func (p CatchUpPolicy) Valid() bool {
	return p == CatchUpBatch || p == CatchUpSingle
}

type Settings struct {
	CatchUpPolicy CatchUpPolicy `json:"catchUpPolicy"`

	// Fuseau IANA utilisé pour le libellé episodeAirDay (ex: Asia/Shanghai).
	AirDayTimezone string `json:"airDayTimezone"`

	// Côté client: horizon des notifications "bientôt diffusé" et avance auto.
	UpcomingHorizonMinutes int  `json:"upcomingHorizonMinutes"`
	AutoAdvance            bool `json:"autoAdvance"`
}

func DefaultSettings() Settings {
	return Settings{
		CatchUpPolicy:          CatchUpBatch,
		AirDayTimezone:         "UTC",
		UpcomingHorizonMinutes: 60,
		AutoAdvance:            true,
	}
}

// Location renvoie le fuseau des libellés, UTC si inconnu.
func (s Settings) Location() *time.Location {
	if s.AirDayTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.AirDayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
