package yamabiko

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger with a TextHandler and
// configures the log level based on the YAMABIKO_LOG_LEVEL environment
// variable. It defaults to Info level if not specified.
//
// Applications embedding yamabiko are not required to call this; it exists
// for CLI-style entry points that want sane defaults (cmd/ymbk does not
// call it).
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("YAMABIKO_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the logging level configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
