package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciler/internal/domain"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("remote returned %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantCode  domain.ErrorCode
		wantRetry bool
	}{
		{"bad gateway text", errors.New("502 Bad Gateway"), TypeServer, domain.ErrorCodeServer, true},
		{"unauthorized text", errors.New("Unauthorized"), TypeAuthentication, domain.ErrorCodeAuth, false},
		{"rate limit text", errors.New("Too Many Requests"), TypeRateLimit, domain.ErrorCodeRateLimited, true},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), TypeNetwork, domain.ErrorCodeNetwork, true},
		{"validation text", errors.New("order_id is required"), TypeValidation, domain.ErrorCodeValidation, false},
		{"unrecognised", errors.New("something odd"), TypeUnknown, domain.ErrorCodeUnknown, false},
		{"authentication required", errors.New("authentication required"), TypeAuthentication, domain.ErrorCodeAuth, false},
		{"unexpected eof", errors.New("read body: unexpected EOF"), TypeNetwork, domain.ErrorCodeNetwork, true},
		{"eof inside a word", errors.New("see the terms thereof"), TypeUnknown, domain.ErrorCodeUnknown, false},
		{"deadline", fmt.Errorf("verify: %w", context.DeadlineExceeded), TypeNetwork, domain.ErrorCodeTimeout, true},
		{"pq lock not available", &pq.Error{Code: "55P03"}, TypeConflict, domain.ErrorCodeLockConflict, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, TypeConflict, domain.ErrorCodeDuplicateKey, true},
		{"pq invalid text", &pq.Error{Code: "22P02"}, TypeValidation, domain.ErrorCodeValidation, false},
		{"pq auth", &pq.Error{Code: "28P01"}, TypeAuthentication, domain.ErrorCodeAuth, false},
		{"http 503", statusErr(503), TypeServer, domain.ErrorCodeServiceUnavailable, true},
		{"http 403", statusErr(403), TypeAuthentication, domain.ErrorCodeAuth, false},
		{"http 429", statusErr(429), TypeRateLimit, domain.ErrorCodeRateLimited, true},
		{"procedure code", &CodeError{Code: domain.ErrorCodeLockConflict}, TypeConflict, domain.ErrorCodeLockConflict, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(tc.err)
			assert.Equal(t, tc.wantType, c.Type)
			assert.Equal(t, tc.wantCode, c.Code)
			assert.Equal(t, tc.wantRetry, c.ShouldRetry)
			assert.NotEmpty(t, c.UserMessage)
		})
	}
}

func TestClassify_AmountDigitsAreNotStatusCodes(t *testing.T) {
	c := Classify(errors.New("amount 15000 does not match"))
	assert.Equal(t, TypeUnknown, c.Type)
}

func TestWithBackoff_RetriesThenSucceeds(t *testing.T) {
	base := 10 * time.Millisecond
	var delays []time.Duration
	calls := 0

	p := Policy{
		Operation:   "test",
		MaxAttempts: 3,
		BaseDelay:   base,
		Jitter:      5 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	got, err := WithBackoff(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 Service Unavailable")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	require.Len(t, delays, 2)
	assert.GreaterOrEqual(t, delays[0], base)
	assert.Less(t, delays[0], base+5*time.Millisecond)
	assert.GreaterOrEqual(t, delays[1], 2*base)
	assert.Less(t, delays[1], 2*base+5*time.Millisecond)
}

func TestWithBackoff_TerminalErrorDoesNotWait(t *testing.T) {
	slept := false
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Sleep: func(context.Context, time.Duration) error {
			slept = true
			return nil
		},
	}

	_, err := WithBackoff(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("Unauthorized")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, slept)
}

func TestWithBackoff_ExhaustsAttempts(t *testing.T) {
	calls := 0
	p := Policy{
		Operation:   "flaky",
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	_, err := WithBackoff(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, &CodeError{Code: domain.ErrorCodeLockConflict}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var codeErr *CodeError
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, domain.ErrorCodeLockConflict, Classify(err).Code)
}

func TestWithBackoff_HonoursRetryAfter(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	_, err := WithBackoff(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &CodeError{Code: domain.ErrorCodeRateLimited, RetryAfter: 2 * time.Second}
		}
		return 1, nil
	})

	require.NoError(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, 2*time.Second, delays[0])
}

func TestWithBackoff_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	_, err := WithBackoff(ctx, p, func(context.Context) (int, error) {
		return 0, errors.New("connection reset by peer")
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestWithBackoff_StopsWhenContextDoneEvenWithoutWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	p := Policy{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}
	_, err := WithBackoff(ctx, p, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("connection reset by peer")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
