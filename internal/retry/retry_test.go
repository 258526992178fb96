package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// testPolicy returns the default policy with a sleep recorder instead of a
// real timer.
func testPolicy(t *testing.T) (Policy, *[]time.Duration, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	var waits []time.Duration
	p := DefaultPolicy(logger)
	p.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return p, &waits, hook
}

func TestDoValue_RetriesTransientThenSucceeds(t *testing.T) {
	p, waits, hook := testPolicy(t)

	calls := 0
	got, err := DoValue(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", statusErr(503)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *waits)

	var total time.Duration
	for _, w := range *waits {
		total += w
	}
	assert.GreaterOrEqual(t, total, 3*time.Second)

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestDo_NonTransientIsNotRetried(t *testing.T) {
	p, waits, _ := testPolicy(t)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return statusErr(404)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
	var sc StatusCoder
	require.True(t, errors.As(err, &sc))
	assert.Equal(t, 404, sc.StatusCode())
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	p, waits, hook := testPolicy(t)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return statusErr(502)
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, *waits)
	assert.Equal(t, "status 502", err.Error())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestDo_StopsWhenSleepIsCancelled(t *testing.T) {
	p, _, _ := testPolicy(t)
	p.Sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return statusErr(504)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"502", statusErr(502), true},
		{"503 wrapped", fmt.Errorf("fetching page 3: %w", statusErr(503)), true},
		{"504", statusErr(504), true},
		{"500", statusErr(500), false},
		{"401", statusErr(401), false},
		{"403", statusErr(403), false},
		{"404", statusErr(404), false},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.github.com"}, true},
		{"conn refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"url dial refused", &url.Error{Op: "Get", URL: "https://api.github.com", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}, true},
		{"url timeout", &url.Error{Op: "Get", URL: "https://api.github.com", Err: timeoutErr{}}, true},
		{"url eof", &url.Error{Op: "Get", URL: "https://api.github.com", Err: io.EOF}, true},
		{"unsupported scheme", &url.Error{Op: "Get", URL: "ftp://x/a.png", Err: errors.New(`unsupported protocol scheme "ftp"`)}, false},
		{"redirect loop", &url.Error{Op: "Get", URL: "https://x/a.png", Err: errors.New("stopped after 10 redirects")}, false},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestDo_PermanentTransportErrorIsNotRetried(t *testing.T) {
	p, waits, _ := testPolicy(t)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "ftp://user-attachments.githubusercontent.com/a.png", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol scheme")
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
