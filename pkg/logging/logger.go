// Package logging configures the process-wide zerolog logger. Components
// derive child loggers via Component instead of carrying their own setup.
package logging

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger returns the root logger. APP_ENV=dev (or development) uses the
// human-friendly console writer; everything else emits JSON lines.
func NewLogger(env, level string) zerolog.Logger {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "dev" || env == "development" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return l.Level(ParseLevel(level))
}

// ParseLevel maps a config string to a zerolog level, defaulting to info on
// anything unrecognized so a typo never silences the process.
func ParseLevel(level string) zerolog.Level {
	lv, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lv == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lv
}

// Component returns a child logger tagged with a component name, e.g.
// "processor", "detector", "geocoder".
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// SetGlobal installs l as the package-level zerolog/log logger so code that
// logs via log.Info() shares the same sink and level.
func SetGlobal(l zerolog.Logger) {
	log.Logger = l
	zerolog.SetGlobalLevel(l.GetLevel())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware logs one line per request at debug level, or warn for
// 5xx responses.
func RequestMiddleware(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			ev := l.Debug()
			if sr.status >= 500 {
				ev = l.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
