package provider

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/kubedeck/kubedeck/pkg/buildstamp"
	"github.com/pkg/errors"
)

type ErrorLogger interface {
	CaptureException(exception error)

	// DisplayException displays an error to the user. This is useful for
	// custom errors the CLI would otherwise not know how to display in a
	// user-friendly way. Returns true if the error is displayed. If true,
	// the caller can continue without doing further error handling.
	DisplayException(err error) bool
}

type NoOpLogger struct{}

var _ ErrorLogger = (*NoOpLogger)(nil)

func (l *NoOpLogger) CaptureException(err error) {}
func (l *NoOpLogger) DisplayException(err error) bool {
	return false
}

// SentryLogger reports command errors to sentry. Display is left to the
// normal error path.
type SentryLogger struct{}

var _ ErrorLogger = (*SentryLogger)(nil)

func NewSentryLogger(dsn string) (*SentryLogger, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: buildstamp.Get().Version(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "Error initializing sentry")
	}
	return &SentryLogger{}, nil
}

func (l *SentryLogger) CaptureException(err error) {
	sentry.CaptureException(err)
	sentry.Flush(2 * time.Second)
}

func (l *SentryLogger) DisplayException(err error) bool {
	return false
}
