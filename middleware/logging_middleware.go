package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"go-ubus/message"
)

// LoggingMiddleware logs every call with its duration. Successful calls log
// at debug level, failed ones at warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("object", req.Object),
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case resp.Err != nil:
				logger.Warn("call failed", append(fields, zap.Error(resp.Err))...)
			case resp.Status != message.StatusOK:
				logger.Warn("call failed", append(fields, zap.Stringer("status", resp.Status))...)
			default:
				logger.Debug("call", fields...)
			}
			return resp
		}
	}
}
