package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/serofero/server/models"
)

type logSink struct {
	log *zap.Logger
}

// NewLogSink writes events to log at warn level.
func NewLogSink(log *zap.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Send(_ context.Context, ev models.SecurityEvent) error {
	s.log.Warn("security alert",
		zap.String("type", ev.Type),
		zap.Time("at", ev.Timestamp),
		zap.Any("details", ev.Details),
	)
	return nil
}
