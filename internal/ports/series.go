package ports

import (
	"context"
	"time"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
)

type SeriesRepository interface {
	Create(ctx context.Context, s domain.Series) (domain.Series, error)
	// Get ne renvoie que les séries de owner; une série d'un autre utilisateur est ErrNotFound.
	Get(ctx context.Context, owner, id string) (domain.Series, error)
	List(ctx context.Context, owner string, limit int) ([]domain.Series, error)
	// Update n'écrit s que si total et air time stockés valent encore ceux de read.
	// Renvoie ErrConflict si une avance est passée entre la lecture et l'écriture.
	Update(ctx context.Context, s domain.Series, read domain.Series) (domain.Series, error)
	Delete(ctx context.Context, owner, id string) error

	// Expired liste les séries "watching" de owner dont l'air time est strictement avant now.
	Expired(ctx context.Context, owner string, now time.Time, limit int) ([]domain.Series, error)
	// ExpiredOwners liste les propriétaires ayant au moins une série expirée.
	ExpiredOwners(ctx context.Context, now time.Time) ([]string, error)

	// AdvanceSchedule avance total et air time ensemble, en une seule écriture conditionnelle.
	// Renvoie ErrNotFound si aucune ligne ne satisfait les conditions de req.
	AdvanceSchedule(ctx context.Context, req AdvanceRequest) (domain.Series, domain.AdvanceEvent, error)
}

type AdvanceRequest struct {
	Owner    string
	SeriesID string

	// Steps fixe le nombre de semaines (>= 1) quand CatchUp est faux.
	Steps int
	// CatchUp calcule les pas en base: floor((Before - air)/semaine) + 1.
	CatchUp bool

	// Before, si non nul, n'avance que les lignes dont l'air time est < Before.
	Before time.Time
	// ExpectedAirAt, si non nil, n'avance que si l'air time stocké est exactement celui-ci.
	ExpectedAirAt *time.Time

	// Location sert au libellé episodeAirDay recalculé.
	Location *time.Location

	// Now date updated_at; zéro = heure système.
	Now time.Time
}
