package server

import (
	"go.uber.org/zap"
)

// WebSocketLogger provides structured logging for WebSocket events
type WebSocketLogger struct {
	logger *zap.Logger
}

func NewWebSocketLogger(base *zap.Logger) *WebSocketLogger {
	if base == nil {
		base = zap.L()
	}
	return &WebSocketLogger{
		logger: base.With(zap.String("component", "websocket")),
	}
}

func (l *WebSocketLogger) Info(event string, userID int64, clientID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, clientID, fields)...)
}

func (l *WebSocketLogger) Error(event string, userID int64, clientID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, clientID, append(fields, zap.Error(err)))...)
}

func (l *WebSocketLogger) Warn(event string, userID int64, clientID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, clientID, fields)...)
}

func (l *WebSocketLogger) Debug(event string, userID int64, clientID string, fields ...zap.Field) {
	l.logger.Debug("websocket_event", l.fields(event, userID, clientID, fields)...)
}

func (l *WebSocketLogger) fields(event string, userID int64, clientID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.Int64("user_id", userID),
		zap.String("client_id", clientID),
	}, extra...)
}
