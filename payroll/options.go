package payroll

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type options struct {
	clock  func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option configures an Engine or RateConfigStore.
type Option func(*options)

// WithClock replaces time.Now. Tests use it to pin timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		clock:  func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
