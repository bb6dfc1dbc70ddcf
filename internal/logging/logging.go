// Package logging provides the structured logger shared by the agent and
// controller binaries: a console-formatted logrus logger with an optional
// rotating file sink.
package logging

import (
	"fmt"
	"io"
	"os"

	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction. Zero value logs info level, colorized,
// to stdout only.
type Config struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// New builds a logrus logger from cfg and returns an entry on it with
// component attached as a field.
func New(cfg Config, component string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		ForceFormatting: true,
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	writers := []io.Writer{os.Stdout}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	return l.WithField("component", component)
}

// WithTask scopes an entry to a single task id, the field most handlers need.
func WithTask(log *logrus.Entry, taskID uint64) *logrus.Entry {
	return log.WithField("task_id", fmt.Sprint(taskID))
}
