package log

import (
	"context"
	"fmt"
	"os"
	"path"
	"runtime"

	"github.com/sirupsen/logrus"
)

const (
	HttpXRequestId = "X-Request-Id"
	CtxRequestId   = "requestId"
	CtxSessionId   = "session"
)

func InitLog(logLevel string) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Errorf("failed to parse log level: %v, err: %v", logLevel, err)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetReportCaller(true)
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		DisableColors:   true,
		DisableQuote:    true,
		CallerPrettyfier: func(frame *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", path.Base(frame.File), frame.Line)
		},
	})
}

// GetLogger returns the standard logger carrying the request and session ids found in c.
func GetLogger(c context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if v := c.Value(CtxRequestId); v != nil {
		fields[CtxRequestId] = v
	}
	if v := c.Value(CtxSessionId); v != nil {
		fields[CtxSessionId] = v
	}
	if len(fields) == 0 {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return logrus.WithFields(fields)
}

func WithSessionId(c context.Context, sessionId string) context.Context {
	return context.WithValue(c, CtxSessionId, sessionId)
}

func NewLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}
