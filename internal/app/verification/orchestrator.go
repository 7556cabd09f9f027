// Package verification asks the processor-facing functions whether a payment
// settled, and hands over to recovery when they cannot say.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"reconciler/internal/app/recovery"
	"reconciler/internal/domain"
	"reconciler/internal/retry"
)

const DefaultDeadline = 30 * time.Second

// Functions is the pair of remote verification calls.
type Functions interface {
	VerifyPayment(ctx context.Context, reference string) (json.RawMessage, error)
	PaystackSecure(ctx context.Context, action, reference string) (json.RawMessage, error)
}

type Recoverer interface {
	Recover(ctx context.Context, reference string, scope *recovery.Scope) domain.VerificationResult
}

type Orchestrator struct {
	functions Functions
	recoverer Recoverer
	deadline  time.Duration
	policy    retry.Policy
	logger    *zap.Logger
}

func NewOrchestrator(functions Functions, recoverer Recoverer, deadline time.Duration, policy retry.Policy, logger *zap.Logger) *Orchestrator {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	logger = logger.With(zap.String("component", "verification"))
	policy.Logger = logger
	return &Orchestrator{
		functions: functions,
		recoverer: recoverer,
		deadline:  deadline,
		policy:    policy,
		logger:    logger,
	}
}

type step struct {
	name   string
	call   func(ctx context.Context, ref string) (json.RawMessage, error)
	decode func(raw []byte) outcome
}

// Verify runs primary then secondary verification inside one deadline and
// falls back to recovery when neither confirms the payment. Steps run strictly
// one after another, each bounded by its share of the remaining deadline.
func (o *Orchestrator) Verify(ctx context.Context, ref string, scope *recovery.Scope) domain.VerificationResult {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.FailedResult(ref, domain.ErrorCodeValidation, "payment reference is required")
	}
	if scope == nil {
		scope = &recovery.Scope{}
	}
	if scope.SnapshotChannel == "" {
		scope.SnapshotChannel = domain.ChannelRecovered
	}
	logger := o.logger.With(zap.String("reference", ref))

	steps := []step{
		{
			name:   "verify-payment",
			call:   o.functions.VerifyPayment,
			decode: decodeVerifyPayment,
		},
		{
			name: "paystack-secure",
			call: func(ctx context.Context, ref string) (json.RawMessage, error) {
				return o.functions.PaystackSecure(ctx, "verify", ref)
			},
			decode: decodePaystackSecure,
		},
	}

	vctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()
	deadline, _ := vctx.Deadline()

	timedOut := false
	for i, s := range steps {
		if vctx.Err() != nil {
			timedOut = true
			break
		}
		// Each step gets an even share of what is left of the deadline.
		budget := time.Until(deadline) / time.Duration(len(steps)-i)
		sctx, scancel := context.WithTimeout(vctx, budget)

		p := o.policy
		p.Operation = s.name
		raw, err := retry.WithBackoff(sctx, p, func(ctx context.Context) (json.RawMessage, error) {
			return s.call(ctx, ref)
		})
		stepErr := sctx.Err()
		scancel()
		if err != nil {
			if errors.Is(stepErr, context.DeadlineExceeded) {
				logger.Warn("Verification step ran out of time",
					zap.String("step", s.name), zap.Duration("budget", budget))
				timedOut = true
				continue
			}
			c := retry.Classify(err)
			if c.Type == retry.TypeAuthentication {
				logger.Error("Verification rejected credentials", zap.String("step", s.name), zap.Error(err))
				return domain.FailedResult(ref, domain.ErrorCodeAuth, c.UserMessage)
			}
			logger.Warn("Verification step failed",
				zap.String("step", s.name), zap.String("error_type", string(c.Type)), zap.Error(err))
			continue
		}

		out := s.decode(raw)
		if !out.recognised {
			logger.Warn("Verification step returned no usable result",
				zap.String("step", s.name), zap.String("message", out.message))
			continue
		}

		switch {
		case out.data.Status.IsSettled():
			logger.Info("Payment verified", zap.String("step", s.name), zap.String("status", string(out.data.Status)))
			return domain.VerifiedResult(ref, out.data)
		case out.data.Status.IsDefinitiveFailure():
			logger.Info("Processor reported payment not completed",
				zap.String("step", s.name), zap.String("status", string(out.data.Status)))
			res := domain.FailedResult(ref, domain.ErrorCodePaymentFailed, domain.PaymentNotCompletedMessage)
			res.Data = out.data
			return res
		default:
			logger.Info("Payment not settled yet", zap.String("step", s.name), zap.String("status", string(out.data.Status)))
		}
	}

	res := o.recoverer.Recover(ctx, ref, scope)
	if !res.Success && timedOut && res.ErrorCode == domain.ErrorCodeNotFound {
		res.ErrorCode = domain.ErrorCodeTimeout
	}
	return res
}
