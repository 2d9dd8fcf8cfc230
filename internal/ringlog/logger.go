// Package ringlog sets up the process-wide structured logger used by the
// supervisor.
package ringlog

import (
	"io"
	"log/slog"
	"os"
)

var Log *slog.Logger

func init() {
	// A safe default so early-boot code (flag parsing, config load) can log
	// before Init has run.
	Log = slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// Init configures the global logger. level is one of
// debug/info/warn/error; dest is always written to and must not be nil;
// logFile, when non-empty, is opened for append and written to in addition
// to dest. ringneckd passes its own stderr as dest and supervisor.log as
// logFile.
func Init(level string, dest io.Writer, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{dest}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
