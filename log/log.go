// Package log provides the process-wide structured logger. It wraps zerolog
// with a small printf/key-value API so callers never touch the backend.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	log      zerolog.Logger
	logLevel = LogLevelInfo

	// panicOnInvalidChars makes the logger panic when a message contains
	// invalid UTF-8, which usually means raw bytes were logged with %s.
	panicOnInvalidChars = os.Getenv("LOG_PANIC_ON_INVALIDCHARS") == "true"

	// logTestWriter is used by tests to capture the output.
	logTestWriter io.Writer
)

const logTestWriterName = "log_test_writer"

func init() {
	// Allow overriding the default log level via $LOG_LEVEL, so that the
	// environment variable can be set globally even when running tests.
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = LogLevelError
	}
	Init(level, "stderr", nil)
}

// invalidCharChecker inspects every serialized line before it is written.
type invalidCharChecker struct{}

func (*invalidCharChecker) Write(p []byte) (int, error) {
	if !utf8.Valid(p) || bytes.Contains(p, []byte(`\ufffd`)) {
		panic(fmt.Sprintf("log line with invalid utf-8: %q", p))
	}
	return len(p), nil
}

// errorLevelWriter forwards only warnings and errors to the wrapped writer.
type errorLevelWriter struct {
	io.Writer
}

func (w *errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.Write(p)
}

// Init initializes the logger. Output can be "stdout", "stderr" or a file
// path. If errorOutput is not nil, warnings and errors are also written to it.
// It panics if the level is unknown or the output cannot be opened.
func Init(level, output string, errorOutput io.Writer) {
	if err := Setup(level, output, errorOutput); err != nil {
		panic(err.Error())
	}
}

// Setup is like Init but returns an error instead of panicking. The current
// logger is left untouched on error.
func Setup(level, output string, errorOutput io.Writer) error {
	var lvl zerolog.Level
	switch level {
	case LogLevelDebug:
		lvl = zerolog.DebugLevel
	case LogLevelInfo:
		lvl = zerolog.InfoLevel
	case LogLevelWarn:
		lvl = zerolog.WarnLevel
	case LogLevelError:
		lvl = zerolog.ErrorLevel
	default:
		return fmt.Errorf("invalid log level: %q", level)
	}
	var out io.Writer
	outputs := []io.Writer{}
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case logTestWriterName:
		out = logTestWriter
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("cannot create log output: %w", err)
		}
		out = f
	}
	out = zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339Nano,
	}
	outputs = append(outputs, out)
	if errorOutput != nil {
		outputs = append(outputs, &errorLevelWriter{zerolog.ConsoleWriter{
			Out:        errorOutput,
			TimeFormat: time.RFC3339Nano,
			NoColor:    true,
		}})
	}
	if panicOnInvalidChars {
		outputs = append(outputs, &invalidCharChecker{})
	}
	if len(outputs) > 1 {
		out = zerolog.MultiLevelWriter(outputs...)
	}

	// Include caller, increasing SkipFrameCount to account for this log package wrapper
	zerolog.CallerSkipFrameCount = 3
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return fmt.Sprintf("%s/%s:%d", path.Base(path.Dir(file)), path.Base(file), line)
	}
	log = zerolog.New(out).With().Timestamp().Caller().Logger().Level(lvl)
	logLevel = level
	log.Info().Msgf("logger construction succeeded at level %s with output %s", level, output)
	return nil
}

// Logger provides access to the global logger (zerolog).
func Logger() *zerolog.Logger {
	return &log
}

// Level returns the current log level.
func Level() string {
	return logLevel
}

// Debug sends a debug level log message
func Debug(args ...any) {
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	log.Debug().Msg(fmt.Sprint(args...))
}

// Info sends an info level log message
func Info(args ...any) {
	log.Info().Msg(fmt.Sprint(args...))
}

// Warn sends a warn level log message
func Warn(args ...any) {
	log.Warn().Msg(fmt.Sprint(args...))
}

// Error sends an error level log message
func Error(args ...any) {
	log.Error().Msg(fmt.Sprint(args...))
}

// Fatal sends a fatal level log message and exits the process with status 1.
func Fatal(args ...any) {
	log.Fatal().Msg(fmt.Sprint(args...) + "\n" + string(debug.Stack()))
}

// Debugf sends a formatted debug level log message
func Debugf(template string, args ...any) {
	log.Debug().Msgf(template, args...)
}

// Infof sends a formatted info level log message
func Infof(template string, args ...any) {
	log.Info().Msgf(template, args...)
}

// Warnf sends a formatted warn level log message
func Warnf(template string, args ...any) {
	log.Warn().Msgf(template, args...)
}

// Errorf sends a formatted error level log message
func Errorf(template string, args ...any) {
	log.Error().Msgf(template, args...)
}

// Fatalf sends a formatted fatal level log message
func Fatalf(template string, args ...any) {
	Fatal(fmt.Sprintf(template, args...))
}

// Debugw sends a debug level log message with key-value pairs.
func Debugw(msg string, keyvalues ...any) {
	log.Debug().Fields(keyvalues).Msg(msg)
}

// Infow sends an info level log message with key-value pairs.
func Infow(msg string, keyvalues ...any) {
	log.Info().Fields(keyvalues).Msg(msg)
}

// Warnw sends a warning level log message with key-value pairs.
func Warnw(msg string, keyvalues ...any) {
	log.Warn().Fields(keyvalues).Msg(msg)
}

// Errorw sends an error level log message with a special format for errors.
func Errorw(err error, msg string) {
	log.Error().Err(err).Msg(msg)
}

// ErrorStack sends an error level log message including the error chain and
// the stack of the calling goroutine.
func ErrorStack(err error, msg string, keyvalues ...any) {
	log.Error().Err(err).Fields(keyvalues).
		Str("stack", strings.TrimSpace(string(debug.Stack()))).
		Msg(msg)
}
