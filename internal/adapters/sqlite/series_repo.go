package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
	"github.com/avast/retry-go/v4"
)

const weekMillis = int64(schedule.Week / time.Millisecond)

// Largeur fixe pour que ORDER BY created_at reste chronologique.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const seriesColumns = `
	id, owner, title, chinese_title, studio, genres_json, release_year,
	synopsis, notes, rating, status,
	total_episodes, watched_episodes,
	next_air_at_ms, episode_air_day,
	created_at, updated_at
`

type SeriesRepository struct {
	db *sql.DB

	// Paramètres du retry sur SQLITE_BUSY (base partagée avec d'autres process).
	BusyAttempts uint
	BusyDelay    time.Duration
}

func NewSeriesRepository(db *sql.DB) *SeriesRepository {
	return &SeriesRepository{db: db, BusyAttempts: 5, BusyDelay: 25 * time.Millisecond}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (domain.Series, error) {
	var s domain.Series
	var genres, status, created, updated string
	var nextAir sql.NullInt64
	err := row.Scan(
		&s.ID, &s.Owner, &s.Title, &s.ChineseTitle, &s.Studio, &genres, &s.ReleaseYear,
		&s.Synopsis, &s.Notes, &s.Rating, &status,
		&s.TotalEpisodes, &s.WatchedEpisodes,
		&nextAir, &s.EpisodeAirDay,
		&created, &updated,
	)
	if err != nil {
		return domain.Series{}, err
	}
	s.Status = domain.SeriesStatus(status)
	if genres != "" {
		if err := json.Unmarshal([]byte(genres), &s.Genres); err != nil {
			return domain.Series{}, fmt.Errorf("decode genres of series %s: %w", s.ID, err)
		}
	}
	if nextAir.Valid {
		t := time.UnixMilli(nextAir.Int64).UTC()
		s.NextEpisodeAirAt = &t
	}
	if t, err := time.Parse(timeLayout, created); err == nil {
		s.CreatedAt = t
	}
	if t, err := time.Parse(timeLayout, updated); err == nil {
		s.UpdatedAt = t
	}
	return s, nil
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeGenres(genres []string) string {
	if genres == nil {
		genres = []string{}
	}
	b, _ := json.Marshal(genres)
	return string(b)
}

func (r *SeriesRepository) Create(ctx context.Context, s domain.Series) (domain.Series, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO series(`+seriesColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Owner, s.Title, s.ChineseTitle, s.Studio, encodeGenres(s.Genres), s.ReleaseYear,
		s.Synopsis, s.Notes, s.Rating, string(s.Status),
		s.TotalEpisodes, s.WatchedEpisodes,
		nullableMillis(s.NextEpisodeAirAt), s.EpisodeAirDay,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "unique constraint failed") && strings.Contains(msg, "series.id") {
			return domain.Series{}, ports.ErrConflict
		}
		return domain.Series{}, err
	}
	return r.Get(ctx, s.Owner, s.ID)
}

func (r *SeriesRepository) Get(ctx context.Context, owner, id string) (domain.Series, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE id = ? AND owner = ?`, id, owner)
	s, err := scanSeries(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Series{}, ports.ErrNotFound
		}
		return domain.Series{}, err
	}
	return s, nil
}

func (r *SeriesRepository) List(ctx context.Context, owner string, limit int) ([]domain.Series, error) {
	q := `SELECT ` + seriesColumns + ` FROM series WHERE owner = ? ORDER BY created_at DESC, id DESC`
	args := []any{owner}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, q, args...)
}

func (r *SeriesRepository) query(ctx context.Context, q string, args ...any) ([]domain.Series, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Series, 0)
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update est conditionné au couple (total, air time) de read, comme AdvanceSchedule:
// une édition calculée sur une ligne depuis avancée n'écrase pas l'avance.
func (r *SeriesRepository) Update(ctx context.Context, s domain.Series, read domain.Series) (domain.Series, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE series
		SET title = ?, chinese_title = ?, studio = ?, genres_json = ?, release_year = ?,
			synopsis = ?, notes = ?, rating = ?, status = ?,
			total_episodes = ?, watched_episodes = ?,
			next_air_at_ms = ?, episode_air_day = ?,
			updated_at = ?
		WHERE id = ? AND owner = ? AND total_episodes = ? AND next_air_at_ms IS ?
	`,
		s.Title, s.ChineseTitle, s.Studio, encodeGenres(s.Genres), s.ReleaseYear,
		s.Synopsis, s.Notes, s.Rating, string(s.Status),
		s.TotalEpisodes, s.WatchedEpisodes,
		nullableMillis(s.NextEpisodeAirAt), s.EpisodeAirDay,
		formatTime(s.UpdatedAt),
		s.ID, s.Owner, read.TotalEpisodes, nullableMillis(read.NextEpisodeAirAt),
	)
	if err != nil {
		return domain.Series{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := r.Get(ctx, s.Owner, s.ID); err != nil {
			return domain.Series{}, err
		}
		return domain.Series{}, ports.ErrConflict
	}
	return r.Get(ctx, s.Owner, s.ID)
}

func (r *SeriesRepository) Delete(ctx context.Context, owner, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM series WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *SeriesRepository) Expired(ctx context.Context, owner string, now time.Time, limit int) ([]domain.Series, error) {
	q := `
		SELECT ` + seriesColumns + ` FROM series
		WHERE owner = ? AND status = ? AND next_air_at_ms IS NOT NULL AND next_air_at_ms < ?
		ORDER BY next_air_at_ms ASC
	`
	args := []any{owner, string(domain.StatusWatching), now.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, q, args...)
}

func (r *SeriesRepository) ExpiredOwners(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT owner FROM series
		WHERE status = ? AND next_air_at_ms IS NOT NULL AND next_air_at_ms < ?
		ORDER BY owner
	`, string(domain.StatusWatching), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// AdvanceSchedule applique l'avance en un seul UPDATE conditionnel: la lecture de
// l'ancienne valeur et l'écriture de la nouvelle sont faites par SQLite sur la ligne
// courante, deux appels concurrents ne peuvent donc pas partir du même état périmé.
func (r *SeriesRepository) AdvanceSchedule(ctx context.Context, req ports.AdvanceRequest) (domain.Series, domain.AdvanceEvent, error) {
	if !req.CatchUp && req.Steps <= 0 {
		return domain.Series{}, domain.AdvanceEvent{}, fmt.Errorf("advance: steps must be >= 1, got %d", req.Steps)
	}
	if req.CatchUp && req.Before.IsZero() {
		return domain.Series{}, domain.AdvanceEvent{}, errors.New("advance: catch-up requires a reference time")
	}

	attempts := r.BusyAttempts
	if attempts == 0 {
		attempts = 1
	}

	var event domain.AdvanceEvent
	err := retry.Do(
		func() error {
			ev, err := r.advanceOnce(ctx, req)
			if err != nil {
				return err
			}
			event = ev
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(r.BusyDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isBusy),
	)
	if err != nil {
		return domain.Series{}, domain.AdvanceEvent{}, err
	}

	updated, err := r.Get(ctx, req.Owner, req.SeriesID)
	if err != nil {
		return domain.Series{}, domain.AdvanceEvent{}, err
	}
	return updated, event, nil
}

func (r *SeriesRepository) advanceOnce(ctx context.Context, req ports.AdvanceRequest) (domain.AdvanceEvent, error) {
	// Le même nombre de pas alimente total, air time et last_advance_steps:
	// SQLite évalue tous les SET sur les anciennes valeurs de la ligne.
	stepExpr := `?`
	stepArgs := []any{req.Steps}
	if req.CatchUp {
		stepExpr = `((? - next_air_at_ms) / ? + 1)`
		stepArgs = []any{req.Before.UnixMilli(), weekMillis}
	}

	args := []any{}
	args = append(args, stepArgs...)
	args = append(args, stepArgs...)
	args = append(args, weekMillis)
	args = append(args, stepArgs...)
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	args = append(args, formatTime(now))
	args = append(args, req.SeriesID, req.Owner, string(domain.StatusWatching))

	where := `WHERE id = ? AND owner = ? AND status = ? AND next_air_at_ms IS NOT NULL`
	if !req.Before.IsZero() {
		where += ` AND next_air_at_ms < ?`
		args = append(args, req.Before.UnixMilli())
	}
	if req.ExpectedAirAt != nil {
		where += ` AND next_air_at_ms = ?`
		args = append(args, req.ExpectedAirAt.UnixMilli())
	}

	q := `
		UPDATE series
		SET total_episodes = total_episodes + ` + stepExpr + `,
			next_air_at_ms = next_air_at_ms + ` + stepExpr + ` * ?,
			last_advance_steps = ` + stepExpr + `,
			updated_at = ?
		` + where + `
		RETURNING total_episodes, next_air_at_ms, last_advance_steps
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdvanceEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var newTotal, steps int
	var newAirMs int64
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&newTotal, &newAirMs, &steps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AdvanceEvent{}, ports.ErrNotFound
		}
		return domain.AdvanceEvent{}, err
	}

	newAir := time.UnixMilli(newAirMs).UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE series SET episode_air_day = ? WHERE id = ?`,
		schedule.AirDay(newAir, req.Location), req.SeriesID); err != nil {
		return domain.AdvanceEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AdvanceEvent{}, err
	}

	return domain.AdvanceEvent{
		SeriesID:         req.SeriesID,
		PreviousAirAt:    time.UnixMilli(newAirMs - int64(steps)*weekMillis).UTC(),
		NewAirAt:         newAir,
		PreviousTotal:    newTotal - steps,
		NewTotal:         newTotal,
		EpisodesAdvanced: steps,
	}, nil
}

// modernc.org/sqlite expose SQLITE_BUSY surtout via le texte de l'erreur.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(517)")
}
