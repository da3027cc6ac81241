package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	App   string
	Level string

	// Console active la sortie lisible (CLI); sinon JSON sur stdout.
	Console bool

	// File, si défini, reçoit aussi les logs en JSON avec rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New construit le logger racine et le pose comme log.Logger global.
// Le io.Closer renvoyé ferme le fichier de rotation (no-op sans fichier).
func New(opts Options) (zerolog.Logger, io.Closer) {
	return newWithStdout(opts, os.Stdout)
}

func newWithStdout(opts Options, stdout *os.File) (zerolog.Logger, io.Closer) {
	var out io.Writer = stdout
	if opts.Console {
		out = zerolog.ConsoleWriter{
			Out:        stdout,
			NoColor:    !isTerminal(stdout),
			TimeFormat: "15:04:05",
		}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 20),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rot)
		closer = rot
	}

	logger := zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Str("app", opts.App).Logger()
	log.Logger = logger
	return logger, closer
}

func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component renvoie un sous-logger tagué, ex: Component(l, "sweep").
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
