package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func status(code int) error {
	return &StatusError{Op: "put file", StatusCode: code, Status: http.StatusText(code)}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", status(http.StatusTooManyRequests), true},
		{"500", status(http.StatusInternalServerError), true},
		{"502", status(http.StatusBadGateway), true},
		{"503", status(http.StatusServiceUnavailable), true},
		{"504", status(http.StatusGatewayTimeout), true},
		{"400", status(http.StatusBadRequest), false},
		{"404", status(http.StatusNotFound), false},
		{"409", status(http.StatusConflict), false},
		{"422", status(http.StatusUnprocessableEntity), false},
		{"wrapped 503", fmt.Errorf("get ref: %w", status(http.StatusServiceUnavailable)), true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"permanent 503", Permanent(status(http.StatusServiceUnavailable)), false},
		{"exhausted", &ExhaustedError{Attempts: 3, Err: status(http.StatusBadGateway)}, false},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("malformed response"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestPolicy_RetriesTransientWithLinearBackoff(t *testing.T) {
	rec := &recorder{}
	p := Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, Sleep: rec.sleep}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return status(http.StatusBadGateway)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestPolicy_TerminalNotRetried(t *testing.T) {
	rec := &recorder{}
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Sleep: rec.sleep}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return status(http.StatusForbidden)
	})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestPolicy_ExhaustedIsTerminal(t *testing.T) {
	rec := &recorder{}
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Sleep: rec.sleep}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return status(http.StatusTooManyRequests)
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
	assert.False(t, IsTransient(err))
	assert.Len(t, rec.delays, 2)
}

func TestValue_ReturnsResult(t *testing.T) {
	p := Policy{MaxAttempts: 2, Sleep: (&recorder{}).sleep}

	calls := 0
	got, err := Value(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &net.OpError{Op: "read", Err: errors.New("reset")}
		}
		return "sha-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "sha-1", got)
}

func TestPolicy_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return status(http.StatusServiceUnavailable)
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStatusError_TruncatesBody(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	err := &StatusError{Op: "get", StatusCode: 500, Status: "500 Internal Server Error", Body: string(long)}
	assert.Less(t, len(err.Error()), 300)
}

func TestStatusError_TruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("x", maxErrorBody-1) + "é" + strings.Repeat("y", 10)
	err := &StatusError{Op: "get", StatusCode: 502, Status: "502 Bad Gateway", Body: body}

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "- "+strings.Repeat("x", maxErrorBody-1)))
}
