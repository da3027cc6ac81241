package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config regroupe les réglages du serveur et du client.
//
// Ordre de priorité: défauts, puis fichier TOML, puis variables DHT_*, puis flags
// (appliqués par les commandes).
type Config struct {
	Server Server `toml:"server"`
	Client Client `toml:"client"`
	Log    Log    `toml:"log"`
}

type Server struct {
	Addr      string `toml:"addr"`
	DBPath    string `toml:"db_path"`
	JWTSecret string `toml:"jwt_secret"`
	// SweepCron active le balayage en tâche de fond (ex: "@every 1m"); vide = désactivé.
	SweepCron string `toml:"sweep_cron"`
}

type Client struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
	// AdvanceRate borne les avances par seconde envoyées par les comptes à rebours.
	AdvanceRate  float64 `toml:"advance_rate"`
	AdvanceBurst int     `toml:"advance_burst"`
}

type Log struct {
	Level string `toml:"level"`
	// File, si défini, duplique les logs vers un fichier avec rotation.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:   "127.0.0.1:8080",
			DBPath: "dhtrack.db",
		},
		Client: Client{
			ServerURL:    "http://127.0.0.1:8080",
			AdvanceRate:  2,
			AdvanceBurst: 4,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// Load lit path (ou $DHT_CONFIG si path est vide) par-dessus les défauts, puis
// applique l'environnement. Un fichier absent n'est pas une erreur.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DHT_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Addr, "DHT_ADDR")
	set(&c.Server.DBPath, "DHT_DB_PATH")
	set(&c.Server.JWTSecret, "DHT_JWT_SECRET")
	set(&c.Server.SweepCron, "DHT_SWEEP_CRON")
	set(&c.Client.ServerURL, "DHT_SERVER_URL")
	set(&c.Client.Token, "DHT_TOKEN")
	set(&c.Log.File, "DHT_LOG_FILE")
	set(&c.Log.Level, "DHT_LOG_LEVEL")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if strings.TrimSpace(c.Server.DBPath) == "" {
		return errors.New("server.db_path is required")
	}
	if c.Client.AdvanceRate < 0 || c.Client.AdvanceBurst < 0 {
		return errors.New("client.advance_rate and client.advance_burst must be >= 0")
	}
	return nil
}
