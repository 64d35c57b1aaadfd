// Package reporting forwards unexpected server failures to an error tracker.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives failures that are not part of normal request flow,
// such as persistence errors and recovered panics.
type Reporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// New returns a Sentry-backed reporter for dsn, or a NopReporter when dsn is
// empty.
func New(dsn, environment string) (Reporter, error) {
	if dsn == "" {
		return NopReporter{}, nil
	}
	return NewSentryReporter(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
}

type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentryReporter(opts sentry.ClientOptions) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *SentryReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := r.hub.Clone()
	if h := sentry.GetHubFromContext(ctx); h != nil {
		hub = h
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// NopReporter drops everything.
type NopReporter struct{}

func (NopReporter) CaptureError(context.Context, error, map[string]string) {}

func (NopReporter) Flush(time.Duration) bool { return true }
