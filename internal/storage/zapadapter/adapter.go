// Package zapadapter provides a pgx logger that writes to a go.uber.org/zap.Logger
// and tags every line with the request and user carried by the query context.
package zapadapter

import (
	"context"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key int

const (
	idKey key = iota
	userKey
)

type Logger struct {
	logger *zap.Logger
}

// NewContextWithID returns a copy of ctx carrying request id
func NewContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey).(string)
	return id, ok
}

// NewContextWithUserID returns a copy of ctx carrying the authenticated user id
func NewContextWithUserID(ctx context.Context, user int64) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	user, ok := ctx.Value(userKey).(int64)
	return user, ok
}

// ContextFields returns zap fields for the values NewContextWithID and NewContextWithUserID put into ctx
func ContextFields(ctx context.Context) []zapcore.Field {
	var fields []zapcore.Field
	if id, ok := IDFromContext(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if user, ok := UserIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("user_id", user))
	}
	return fields
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	fields := ContextFields(ctx)
	for k, v := range data {
		fields = append(fields, zap.Reflect(k, v))
	}

	switch level {
	case pgx.LogLevelTrace:
		pl.logger.Debug(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	case pgx.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pgx.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pgx.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pgx.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	}
}
