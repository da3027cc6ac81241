// Package schedule contient le calcul pur du planning hebdomadaire:
// décompte avant diffusion, expiration et rattrapage des semaines manquées.
package schedule

import (
	"fmt"
	"time"
)

// Week est le pas d'avance d'un épisode.
const Week = 7 * 24 * time.Hour

const (
	msPerSecond = int64(time.Second / time.Millisecond)
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

type Kind int

const (
	NoSchedule Kind = iota
	CountingDown
	Expired
)

func (k Kind) String() string {
	switch k {
	case NoSchedule:
		return "no-schedule"
	case CountingDown:
		return "counting-down"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Remaining est la décomposition exacte (division entière) d'un délai positif.
type Remaining struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Decompose découpe d sur la base des millisecondes; les millisecondes restantes sont tronquées.
func Decompose(d time.Duration) Remaining {
	ms := d.Milliseconds()
	if ms <= 0 {
		return Remaining{}
	}
	return Remaining{
		Days:    int(ms / msPerDay),
		Hours:   int(ms % msPerDay / msPerHour),
		Minutes: int(ms % msPerHour / msPerMinute),
		Seconds: int(ms % msPerMinute / msPerSecond),
	}
}

func (r Remaining) Duration() time.Duration {
	return time.Duration(r.Days)*24*time.Hour +
		time.Duration(r.Hours)*time.Hour +
		time.Duration(r.Minutes)*time.Minute +
		time.Duration(r.Seconds)*time.Second
}

func (r Remaining) IsZero() bool {
	return r == Remaining{}
}

func (r Remaining) String() string {
	return fmt.Sprintf("%02dd %02dh %02dm %02ds", r.Days, r.Hours, r.Minutes, r.Seconds)
}

type Reading struct {
	Kind      Kind
	Remaining Remaining
}

// Evaluate compare l'air time à now. airAt <= now est expiré.
func Evaluate(airAt *time.Time, now time.Time) Reading {
	if airAt == nil {
		return Reading{Kind: NoSchedule}
	}
	delta := airAt.Sub(now)
	if delta <= 0 {
		return Reading{Kind: Expired}
	}
	// Moins d'une seconde restante: on affiche 0s mais on reste en décompte.
	return Reading{Kind: CountingDown, Remaining: Decompose(delta)}
}

// ElapsedWeeks renvoie le nombre de pas nécessaires pour que l'air time repasse dans le futur.
func ElapsedWeeks(airAt, now time.Time) int {
	if !airAt.Before(now) {
		return 0
	}
	return int(now.Sub(airAt)/Week) + 1
}

// Advance décale airAt de steps semaines.
func Advance(airAt time.Time, steps int) time.Time {
	return airAt.Add(time.Duration(steps) * Week)
}

// AirDay renvoie le libellé du jour de diffusion (ex: "Sunday") dans loc.
func AirDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Weekday().String()
}
