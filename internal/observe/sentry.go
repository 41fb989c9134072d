package observe

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	sentryMaxErrorDepth = 9
	sentryFlushTimeout  = 5 * time.Second
	sentryHTTPTimeout   = 5 * time.Second
)

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string  `yaml:"dsn" envconfig:"DSN"`
	Environment string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	SampleRate  float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE" validate:"gte=0,lte=1"`
	Debug       bool    `yaml:"debug" envconfig:"DEBUG"`
}

// InitSentry initialises the global sentry client and returns a reporter
// bound to the current hub. With no DSN it returns nil and no error.
func InitSentry(cfg SentryConfig, release string) (*SentryReporter, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	transport := sentry.NewHTTPTransport()
	transport.Timeout = sentryHTTPTimeout
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		SampleRate:       cfg.SampleRate,
		Debug:            cfg.Debug,
		AttachStacktrace: true,
		MaxErrorDepth:    sentryMaxErrorDepth,
		ServerName:       "forecastbot",
		Transport:        transport,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return NewSentryReporter(sentry.CurrentHub()), nil
}

// SentryReporter sends unexpected pipeline failures to sentry.
type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

func (r *SentryReporter) Report(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetFingerprint([]string{tags["stage"], rootType(err)})
		r.hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func (r *SentryReporter) Flush() bool {
	return r.hub.Flush(sentryFlushTimeout)
}

// rootType names the innermost error type so repeats of the same failure
// group together regardless of message details.
func rootType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
