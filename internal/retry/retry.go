package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

// Retry defaults
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1 * time.Second
	DefaultMultiplier  = 2
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Policy describes how an operation is retried. The zero value is not
// usable, start from DefaultPolicy.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
	// IsTransient reports whether err is worth another attempt.
	IsTransient func(err error) bool
	// Sleep waits for d or until ctx is done. Tests swap it for a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
	Logger log.FieldLogger
}

// DefaultPolicy returns the 5 attempt, 1s doubling policy used for every
// GitHub call.
func DefaultPolicy(logger log.FieldLogger) Policy {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		IsTransient: IsTransient,
		Sleep:       SleepContext,
		Logger:      logger,
	}
}

// SleepContext blocks for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransient classifies 502/503/504 responses and connection-level
// failures as transient. Everything else, including cancellation, is final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	// *url.Error satisfies net.Error itself, so judge its cause instead.
	// Unsupported schemes, bad certificates and redirect loops are final.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		err = urlErr.Err
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// attempt ceiling is reached. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !p.IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			p.Logger.WithError(err).Errorf("Max retries (%d) reached for transient error. Giving up.", p.MaxAttempts)
			break
		}

		p.Logger.WithError(err).WithField("attempt", attempt).
			Warnf("Transient error on attempt %d/%d. Retrying in %s...", attempt, p.MaxAttempts, delay)
		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return zero, lastErr
		}
		delay *= time.Duration(p.Multiplier)
	}

	return zero, lastErr
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
	if p.IsTransient == nil {
		p.IsTransient = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	if p.Logger == nil {
		p.Logger = log.StandardLogger()
	}
	return p
}
