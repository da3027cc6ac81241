package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

const settingsKey = "default"

type SettingsRepository struct {
	db *sql.DB

	// Clock date updated_at.
	Clock schedule.Clock
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db, Clock: schedule.SystemClock{}}
}

func (r *SettingsRepository) Get(ctx context.Context) (domain.Settings, error) {
	var b []byte
	err := r.db.QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key = ?`, settingsKey).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	// Décodage par-dessus les défauts: une clé absente (ancienne version) garde sa valeur par défaut.
	s := domain.DefaultSettings()
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.DefaultSettings(), nil
	}
	return s, nil
}

func (r *SettingsRepository) Put(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	b, err := json.Marshal(settings)
	if err != nil {
		return domain.Settings{}, err
	}
	clock := r.Clock
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO settings(key, value_json, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`, settingsKey, b, formatTime(clock.Now()))
	if err != nil {
		return domain.Settings{}, err
	}
	return r.Get(ctx)
}
