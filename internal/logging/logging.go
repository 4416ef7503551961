// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level and the writers ("console", "file", "json").
type Config struct {
	Level      string   `yaml:"level"`
	Writer     []string `yaml:"writer"`
	File       string   `yaml:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMB"`
	MaxBackups int      `yaml:"maxBackups"`
}

// New returns a logger writing to every configured writer. An empty writer
// list yields a console logger on stderr.
func New(cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	writers := cfg.Writer
	if len(writers) == 0 {
		writers = []string{"console"}
	}

	var outs []io.Writer
	for _, w := range writers {
		switch w {
		case "console":
			outs = append(outs, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case "json":
			outs = append(outs, os.Stderr)
		case "file":
			if cfg.File == "" {
				return zerolog.Nop(), fmt.Errorf("log writer \"file\" requires a file path")
			}
			outs = append(outs, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    orDefault(cfg.MaxSizeMB, 10),
				MaxBackups: orDefault(cfg.MaxBackups, 3),
			})
		default:
			return zerolog.Nop(), fmt.Errorf("unknown log writer %q", w)
		}
	}

	return zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(level).
		With().Timestamp().Logger(), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
