// Package logger provides the module's process-wide structured logger.
// It wraps zerolog (the ecosystem logger this corpus uses for media
// pipeline observability) behind a small, explicit API so the rest of the
// module never imports zerolog directly and there is exactly one runtime
// level control point.
package logger

import (
	"flag"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Environment variable name for log level configuration.
const envLogLevel = "KVS_LOG_LEVEL"

var (
	global   zerolog.Logger
	initOnce sync.Once

	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

// Init initializes the global logger. Safe to call multiple times; the
// first call wins except SetLevel/UseWriter which mutate state intentionally.
func Init() {
	initOnce.Do(func() {
		zerolog.SetGlobalLevel(detectLevel())
		global = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
}

// detectLevel resolves the initial log level from (precedence high->low):
//  1. command-line flag -log.level
//  2. environment variable KVS_LOG_LEVEL
//  3. default (info)
func detectLevel() zerolog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if fl := strings.TrimSpace(*flagLevel); fl != "" {
		if lvl, ok := parseLevel(fl); ok {
			return lvl
		}
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return zerolog.InfoLevel
}

func parseLevel(s string) (zerolog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error", "err":
		return zerolog.ErrorLevel, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errInvalidLevel(level)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

type invalidLevelError string

func (e invalidLevelError) Error() string { return "invalid log level: " + string(e) }

func errInvalidLevel(level string) error { return invalidLevelError(level) }

// Level returns the current runtime level as a string.
func Level() string {
	Init()
	return zerolog.GlobalLevel().String()
}

// UseWriter swaps the output writer (intended for tests). Retains current level.
func UseWriter(w io.Writer) {
	Init()
	global = zerolog.New(w).With().Timestamp().Logger()
}

// Logger returns the global logger (ensures Init was called).
func Logger() *zerolog.Logger { Init(); return &global }

// WithStream attaches the stream name to the logger context.
func WithStream(l *zerolog.Logger, streamName string) zerolog.Logger {
	return l.With().Str("stream", streamName).Logger()
}

// WithUpload attaches upload-session identity fields.
func WithUpload(l *zerolog.Logger, uploadHandle uint64, streamName string) zerolog.Logger {
	return l.With().Uint64("upload_handle", uploadHandle).Str("stream", streamName).Logger()
}

// WithFragment attaches fragment timecode metadata, analogous to the
// message-metadata helper the teacher's logger package exposed for RTMP
// messages.
func WithFragment(l *zerolog.Logger, fragmentTimecode uint64) zerolog.Logger {
	return l.With().Uint64("fragment_timecode", fragmentTimecode).Logger()
}
