// Package logging provides the minimal Logger interface used by the engine,
// agents and tools, a log/slog adapter and a NoOpLogger.
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	r, err := runner.New("stories", root, func(o *runner.Options) { o.Logger = logger })
//
// Any structured logger can be plugged in by implementing Logger.
package logging
