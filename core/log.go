package core

import "github.com/hupe1980/agentflow/logging"

// loggerAdapter gives contexts LogDebug/LogInfo/LogWarn/LogError helpers on a
// logger already bound to the invocation id.
type loggerAdapter struct {
	logger logging.Logger
}

func newLoggerAdapter(l logging.Logger, invocationID string) *loggerAdapter {
	if l == nil {
		return &loggerAdapter{logger: logging.NoOpLogger{}}
	}

	return &loggerAdapter{logger: logging.With(l, "invocation_id", invocationID)}
}

// Logger returns the bound logger.
func (l *loggerAdapter) Logger() logging.Logger { return l.logger }

func (l *loggerAdapter) LogDebug(msg string, args ...any) { l.logger.Debug(msg, args...) }

func (l *loggerAdapter) LogInfo(msg string, args ...any) { l.logger.Info(msg, args...) }

func (l *loggerAdapter) LogWarn(msg string, args ...any) { l.logger.Warn(msg, args...) }

func (l *loggerAdapter) LogError(msg string, args ...any) { l.logger.Error(msg, args...) }
