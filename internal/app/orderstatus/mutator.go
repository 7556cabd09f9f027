// Package orderstatus applies order status transitions through the
// admin_update_order_status_bulletproof procedure.
package orderstatus

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"reconciler/internal/domain"
	"reconciler/internal/retry"
)

// DefaultMaxRetryAfter bounds how long the mutator waits on a procedure's
// retry_after_seconds before handing the result back to the caller.
const DefaultMaxRetryAfter = 5 * time.Second

// Procedure is one call of the status procedure. A non-nil error means the
// call itself failed; procedure-level failures are reported in the result.
type Procedure interface {
	UpdateStatusBulletproof(ctx context.Context, orderID string, status domain.OrderStatus, adminID, paymentRef string) (domain.BulletproofResult, error)
}

type Mutator struct {
	proc          Procedure
	policy        retry.Policy
	maxRetryAfter time.Duration
	logger        *zap.Logger
}

func NewMutator(proc Procedure, policy retry.Policy, maxRetryAfter time.Duration, logger *zap.Logger) *Mutator {
	if maxRetryAfter <= 0 {
		maxRetryAfter = DefaultMaxRetryAfter
	}
	logger = logger.With(zap.String("component", "order_status"))
	policy.Logger = logger
	return &Mutator{
		proc:          proc,
		policy:        policy,
		maxRetryAfter: maxRetryAfter,
		logger:        logger,
	}
}

// UpdateStatus moves an order to status on behalf of actorID.
func (m *Mutator) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, actorID string) domain.BulletproofResult {
	return m.update(ctx, orderID, status, actorID, "")
}

// ConfirmPayment confirms the order a verified payment belongs to and marks
// it paid.
func (m *Mutator) ConfirmPayment(ctx context.Context, orderID, reference string) domain.BulletproofResult {
	return m.update(ctx, orderID, domain.OrderStatusConfirmed, "", reference)
}

func (m *Mutator) update(ctx context.Context, orderID string, status domain.OrderStatus, actorID, reference string) domain.BulletproofResult {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return failure(domain.ErrorCodeValidation, "order id is required")
	}
	if !status.Valid() {
		return failure(domain.ErrorCodeValidation, domain.ErrInvalidOrderStatus.Error()+": "+string(status))
	}

	logger := m.logger.With(zap.String("order_id", orderID), zap.String("status", string(status)))

	p := m.policy
	p.Operation = "update_order_status"
	p.ShouldRetry = m.shouldRetry

	var (
		attempts int
		last     domain.BulletproofResult
	)
	res, err := retry.WithBackoff(ctx, p, func(ctx context.Context) (domain.BulletproofResult, error) {
		attempts++
		res, err := m.proc.UpdateStatusBulletproof(ctx, orderID, status, actorID, reference)
		if err != nil {
			return domain.BulletproofResult{}, err
		}
		last = res
		if !res.Success {
			return res, resultError(res)
		}
		return res, nil
	})
	if err == nil {
		res.Attempts = attempts
		dedup := res.EmailQueued != nil && res.EmailQueued.Deduplicated
		logger.Info("Order status updated", zap.Int("attempts", attempts), zap.Bool("notification_deduplicated", dedup))
		return res
	}

	c := retry.Classify(err)
	var codeErr *retry.CodeError
	if errors.As(err, &codeErr) {
		out := last
		out.ErrorCode = codeErr.Code
		out.Error = string(codeErr.Code)
		out.Attempts = attempts
		logger.Warn("Order status update rejected",
			zap.String("error_code", string(codeErr.Code)), zap.Int("attempts", attempts), zap.String("message", out.Message))
		return out
	}

	logger.Error("Order status update failed", zap.Int("attempts", attempts), zap.Error(err))
	out := failure(c.Code, c.UserMessage)
	out.Attempts = attempts
	return out
}

// shouldRetry follows the classifier but gives up on waits longer than
// maxRetryAfter so a rate-limited caller gets retry_after_seconds back.
func (m *Mutator) shouldRetry(err error) bool {
	var codeErr *retry.CodeError
	if errors.As(err, &codeErr) && codeErr.RetryAfter > m.maxRetryAfter {
		return false
	}
	return retry.Retryable(err)
}

func resultError(res domain.BulletproofResult) error {
	code := res.ErrorCode
	if code == "" {
		code = domain.ErrorCode(res.Error)
	}
	if code == "" {
		code = domain.ErrorCodeUnknown
	}
	return &retry.CodeError{
		Code:       code,
		Message:    res.Message,
		RetryAfter: time.Duration(res.RetryAfterSeconds) * time.Second,
	}
}

func failure(code domain.ErrorCode, message string) domain.BulletproofResult {
	return domain.BulletproofResult{
		Success:   false,
		Error:     string(code),
		ErrorCode: code,
		Message:   message,
	}
}
