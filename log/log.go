// Package log is the process-wide structured logger. Output is JSON on stderr, prettified when stderr is a terminal.
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

func init() {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := logger
	return &l
}

// Disable silences all logging.
func Disable() {
	mu.Lock()
	logger = zerolog.New(nil).Level(zerolog.Disabled)
	mu.Unlock()
}

// SetOutput redirects the global logger to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	logger = logger.Output(w)
	mu.Unlock()
}

// SetLevel sets the minimum level the global logger emits.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	logger = logger.Level(level)
	mu.Unlock()
}

// ParseLevel maps a level name such as "debug" or "warn" to a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "unknown log level %q", name)
	}

	return level, nil
}

// With creates a child logger with the field added to its context.
func With() zerolog.Context {
	return current().With()
}

// Debug starts a new message with debug level.
//
// You must call Msg on the returned event in order to send the event.
func Debug() *zerolog.Event {
	return current().Debug()
}

// Info starts a new message with info level.
//
// You must call Msg on the returned event in order to send the event.
func Info() *zerolog.Event {
	return current().Info()
}

// Warn starts a new message with warn level.
//
// You must call Msg on the returned event in order to send the event.
func Warn() *zerolog.Event {
	return current().Warn()
}

// Error starts a new message with error level.
//
// You must call Msg on the returned event in order to send the event.
func Error() *zerolog.Event {
	return current().Error()
}

// Fatal starts a new message with fatal level. The os.Exit(1) function
// is called by the Msg method.
func Fatal() *zerolog.Event {
	return current().Fatal()
}
