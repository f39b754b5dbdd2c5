// Package monitoring holds the process-wide diagnostic logger.
//
// Packages log through Logf (info level) or the leveled helpers. The backing
// logger is zerolog, writing human-readable console output by default or JSON
// lines when configured. Tests mute everything with SetLogger(nil).
package monitoring

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the backing logger.
type Options struct {
	Level     string    // trace, debug, info, warn, error (default info)
	Format    string    // console or json (default console)
	Component string    // optional component field added to every line
	Writer    io.Writer // defaults to os.Stderr
}

// OptionsFromEnv reads PURSUIT_LOG_LEVEL and PURSUIT_LOG_FORMAT.
func OptionsFromEnv() Options {
	return Options{
		Level:  strings.ToLower(os.Getenv("PURSUIT_LOG_LEVEL")),
		Format: strings.ToLower(os.Getenv("PURSUIT_LOG_FORMAT")),
	}
}

var (
	mu   sync.RWMutex
	root = newLogger(Options{})
)

func newLogger(opt Options) zerolog.Logger {
	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if opt.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp()
	if opt.Component != "" {
		ctx = ctx.Str("component", opt.Component)
	}
	return ctx.Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.TrimSpace(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init replaces the backing logger. It is normally called once from main.
func Init(opt Options) {
	l := newLogger(opt)
	mu.Lock()
	root = l
	mu.Unlock()
}

// L returns the backing zerolog logger.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := root
	return &l
}

// Logf is the package-level diagnostic logger. It logs at info level through
// the backing logger but may be replaced by SetLogger. Tests or production
// code can redirect or mute it.
var Logf func(format string, v ...interface{}) = infof

func infof(format string, v ...interface{}) {
	L().Info().Msgf(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger
// and silence the leveled helpers as well.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		mu.Lock()
		root = zerolog.Nop()
		mu.Unlock()
		return
	}
	Logf = f
}

// Debugf logs at debug level.
func Debugf(format string, v ...interface{}) {
	L().Debug().Msgf(format, v...)
}

// Warnf logs at warn level.
func Warnf(format string, v ...interface{}) {
	L().Warn().Msgf(format, v...)
}

// Errorf logs at error level.
func Errorf(format string, v ...interface{}) {
	L().Error().Msgf(format, v...)
}
