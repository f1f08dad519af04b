package obs

import (
	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
)

// retryLogger routes go-httpretry's key/value logs into zap.
type retryLogger struct {
	s *zap.SugaredLogger
}

// RetryLogger adapts log for retry.WithLogger. Attempt logs go out under
// the "http_retry" logger name.
func RetryLogger(log *zap.Logger) retry.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return retryLogger{s: log.Named("http_retry").Sugar()}
}

func (l retryLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l retryLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l retryLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l retryLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
