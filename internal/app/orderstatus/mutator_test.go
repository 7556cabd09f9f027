package orderstatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconciler/internal/domain"
	"reconciler/internal/retry"
)

// memoryProcedure mimics the procedure: transition check, status write and a
// notification queue deduplicated per (order, status).
type memoryProcedure struct {
	statuses map[string]domain.OrderStatus
	queued   map[string]struct{}
	calls    int
}

func (p *memoryProcedure) UpdateStatusBulletproof(_ context.Context, orderID string, status domain.OrderStatus, _, _ string) (domain.BulletproofResult, error) {
	p.calls++
	current, ok := p.statuses[orderID]
	if !ok {
		return domain.BulletproofResult{Success: false, Error: "not_found", Message: "order not found"}, nil
	}
	if current == domain.OrderStatusCancelled && status != domain.OrderStatusCancelled {
		return domain.BulletproofResult{Success: false, Error: "validation_failed", Message: "cannot move cancelled order"}, nil
	}
	p.statuses[orderID] = status
	key := orderID + ":" + string(status)
	_, dup := p.queued[key]
	p.queued[key] = struct{}{}
	return domain.BulletproofResult{
		Success:     true,
		Order:       map[string]any{"id": orderID, "status": string(status)},
		EmailQueued: &domain.EmailQueued{Success: true, Deduplicated: dup},
	}, nil
}

type scriptedProcedure struct {
	results []domain.BulletproofResult
	errs    []error
	calls   int
}

func (p *scriptedProcedure) UpdateStatusBulletproof(context.Context, string, domain.OrderStatus, string, string) (domain.BulletproofResult, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return domain.BulletproofResult{}, p.errs[i]
	}
	return p.results[i], nil
}

type sleeps struct {
	delays []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newMutator(proc Procedure, s *sleeps) *Mutator {
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Sleep:       s.sleep,
	}
	return NewMutator(proc, policy, 0, zap.NewNop())
}

func TestUpdateStatus_RepeatIsDeduplicated(t *testing.T) {
	proc := &memoryProcedure{
		statuses: map[string]domain.OrderStatus{"order-1": domain.OrderStatusPending},
		queued:   map[string]struct{}{},
	}
	m := newMutator(proc, &sleeps{})

	first := m.UpdateStatus(context.Background(), "order-1", domain.OrderStatusConfirmed, "admin-1")
	second := m.UpdateStatus(context.Background(), "order-1", domain.OrderStatusConfirmed, "admin-1")

	require.True(t, first.Success)
	require.True(t, second.Success)
	require.NotNil(t, first.EmailQueued)
	require.NotNil(t, second.EmailQueued)
	assert.False(t, first.EmailQueued.Deduplicated)
	assert.True(t, second.EmailQueued.Deduplicated)
	assert.Equal(t, domain.OrderStatusConfirmed, proc.statuses["order-1"])
	assert.Len(t, proc.queued, 1)
	assert.Equal(t, 1, first.Attempts)
}

func TestUpdateStatus_LockConflictIsRetried(t *testing.T) {
	proc := &scriptedProcedure{results: []domain.BulletproofResult{
		{Success: false, Error: "lock_conflict", Message: "order is being updated by another request", RetryAfterSeconds: 1},
		{Success: true, EmailQueued: &domain.EmailQueued{Success: true}},
	}}
	s := &sleeps{}

	res := newMutator(proc, s).UpdateStatus(context.Background(), "order-1", domain.OrderStatusPreparing, "admin-1")

	require.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, s.delays, 1)
	assert.GreaterOrEqual(t, s.delays[0], time.Second, "retry_after_seconds must be honoured")
}

func TestUpdateStatus_TerminalFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		result domain.BulletproofResult
		code   domain.ErrorCode
	}{
		{"auth", domain.BulletproofResult{Error: "auth_failed", Message: "permission denied"}, domain.ErrorCodeAuth},
		{"validation", domain.BulletproofResult{Error: "validation_failed", Message: "cannot move order", RecoveryActions: []string{"choose_valid_status"}}, domain.ErrorCodeValidation},
		{"not found", domain.BulletproofResult{Error: "not_found"}, domain.ErrorCodeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			proc := &scriptedProcedure{results: []domain.BulletproofResult{tc.result}}
			s := &sleeps{}

			res := newMutator(proc, s).UpdateStatus(context.Background(), "order-1", domain.OrderStatusReady, "admin-1")

			assert.False(t, res.Success)
			assert.Equal(t, tc.code, res.ErrorCode)
			assert.Equal(t, string(tc.code), res.Error)
			assert.Equal(t, tc.result.RecoveryActions, res.RecoveryActions)
			assert.Equal(t, 1, proc.calls)
			assert.Empty(t, s.delays)
		})
	}
}

func TestUpdateStatus_LongRateLimitIsHandedBack(t *testing.T) {
	proc := &scriptedProcedure{results: []domain.BulletproofResult{
		{Success: false, Error: "rate_limited", RetryAfterSeconds: 40},
	}}
	s := &sleeps{}

	res := newMutator(proc, s).UpdateStatus(context.Background(), "order-1", domain.OrderStatusReady, "admin-1")

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorCodeRateLimited, res.ErrorCode)
	assert.Equal(t, 40, res.RetryAfterSeconds)
	assert.Equal(t, 1, proc.calls)
	assert.Empty(t, s.delays)
}

func TestUpdateStatus_TransportErrorsAreClassified(t *testing.T) {
	down := errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	proc := &scriptedProcedure{errs: []error{down, down, down}}

	res := newMutator(proc, &sleeps{}).UpdateStatus(context.Background(), "order-1", domain.OrderStatusReady, "admin-1")

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorCodeNetwork, res.ErrorCode)
	assert.Equal(t, 3, res.Attempts)
	assert.NotEmpty(t, res.Message)
}

func TestUpdateStatus_RejectsBadInputWithoutCalling(t *testing.T) {
	proc := &scriptedProcedure{}
	m := newMutator(proc, &sleeps{})

	assert.Equal(t, domain.ErrorCodeValidation, m.UpdateStatus(context.Background(), " ", domain.OrderStatusReady, "a").ErrorCode)
	assert.Equal(t, domain.ErrorCodeValidation, m.UpdateStatus(context.Background(), "order-1", "shipped", "a").ErrorCode)
	assert.Equal(t, 0, proc.calls)
}

func TestConfirmPayment_PassesReference(t *testing.T) {
	var gotRef string
	var gotStatus domain.OrderStatus
	proc := procedureFunc(func(_ context.Context, _ string, status domain.OrderStatus, _, ref string) (domain.BulletproofResult, error) {
		gotRef, gotStatus = ref, status
		return domain.BulletproofResult{Success: true}, nil
	})

	res := newMutator(proc, &sleeps{}).ConfirmPayment(context.Background(), "order-1", "txn_1700000000000_abcd1234")

	require.True(t, res.Success)
	assert.Equal(t, "txn_1700000000000_abcd1234", gotRef)
	assert.Equal(t, domain.OrderStatusConfirmed, gotStatus)
}

type procedureFunc func(ctx context.Context, orderID string, status domain.OrderStatus, adminID, paymentRef string) (domain.BulletproofResult, error)

func (f procedureFunc) UpdateStatusBulletproof(ctx context.Context, orderID string, status domain.OrderStatus, adminID, paymentRef string) (domain.BulletproofResult, error) {
	return f(ctx, orderID, status, adminID, paymentRef)
}
