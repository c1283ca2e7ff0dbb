// Package xlog provides the structured logger every engine component is
// constructed with. There is no package-level default logger: each
// engine.Engine builds its own via New and threads it through every
// component constructor, so two engines in the same process never share
// log state.
package xlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls where and how an engine's logger writes.
type Config struct {
	Level  string // debug|info|warn|error; default info
	Format string // "text" (default, teacher-style caller-annotated) or "json"
	Output io.Writer
	Path   string // optional: also tee to this file
}

// Logger wraps a logrus.Logger so call sites look like logger.Infof(...)
// did in the teacher repo, but the instance is owned by whoever built it.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger from cfg. A zero Config is valid and logs text-format
// to stdout at info level.
func New(cfg Config) *Logger {
	l := logrus.New()
	l.SetLevel(parseLevel(cfg.Level))

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&callerFormatter{})
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Path != "" {
		if f, err := openLogFile(cfg.Path); err == nil {
			out = io.MultiWriter(out, f)
		} else {
			l.Warnf("xlog: could not open log file %s, continuing without it: %v", cfg.Path, err)
		}
	}
	l.SetOutput(out)

	return &Logger{Logger: l}
}

// With returns a derived entry carrying the given fields, e.g. the
// component name and a transaction id.
func (l *Logger) With(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "":
		return logrus.InfoLevel
	default:
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return logrus.InfoLevel
		}
		return lvl
	}
}

// callerFormatter renders "[time] [LEVL] (file:func:line) message", the
// format the teacher repo used for local development.
type callerFormatter struct{}

func (f *callerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	msg := fmt.Sprintf("[%s] [%s] (%s) %s",
		entry.Time.Format("15:04:05.000"),
		level,
		caller(),
		entry.Message)
	if len(entry.Data) > 0 {
		for k, v := range entry.Data {
			msg += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	return append([]byte(msg), '\n'), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "xlog/xlog.go") {
			continue
		}
		fn := runtime.FuncForPC(pc)
		name := "unknown"
		if fn != nil {
			name = fn.Name()
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				name = name[idx+1:]
			}
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), name, line)
	}
	return "unknown:unknown:0"
}
