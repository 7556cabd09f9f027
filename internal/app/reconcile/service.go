// Package reconcile ties checkout state, verification, recovery and order
// status updates into the flows the storefront and back office call.
package reconcile

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"reconciler/internal/app/recovery"
	"reconciler/internal/domain"
	"reconciler/internal/kvstore"
	"reconciler/internal/reference"
	"reconciler/internal/repository/inbox_repo"
)

type Verifier interface {
	Verify(ctx context.Context, ref string, scope *recovery.Scope) domain.VerificationResult
}

type Recoverer interface {
	Recover(ctx context.Context, ref string, scope *recovery.Scope) domain.VerificationResult
}

type StatusMutator interface {
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, actorID string) domain.BulletproofResult
	ConfirmPayment(ctx context.Context, orderID, reference string) domain.BulletproofResult
}

type Service interface {
	BeginCheckout(ctx context.Context, sessionID string, req CheckoutRequest) (domain.StoredPaymentRecord, error)
	ConfirmCallback(ctx context.Context, sessionID, ref string) error
	AbandonCheckout(ctx context.Context, sessionID string) error
	LastPayment(ctx context.Context, sessionID string) (domain.VerificationResult, bool)
	VerifyPayment(ctx context.Context, sessionID, ref string) domain.VerificationResult
	AttemptRecovery(ctx context.Context, sessionID, ref string) domain.VerificationResult
	BulletproofOrderStatusUpdate(ctx context.Context, orderID string, status domain.OrderStatus, actorID string) domain.BulletproofResult
	ProcessPaymentEvent(ctx context.Context, evt domain.PaymentEvent, meta EventMeta, rawPayload []byte) error
	RedeliverFailedEvents(ctx context.Context, maxAttempts, limit int) (int, error)
}

// CheckoutRequest describes the order a new checkout attempt pays for.
// Amount is in minor units.
type CheckoutRequest struct {
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	CustomerEmail string `json:"customer_email"`
}

type service struct {
	txs       TxBeginner
	store     *kvstore.Store
	verifier  Verifier
	recoverer Recoverer
	mutator   StatusMutator
	inboxRepo inbox_repo.InboxRepository
	logger    *zap.Logger
}

func NewService(
	txs TxBeginner,
	store *kvstore.Store,
	verifier Verifier,
	recoverer Recoverer,
	mutator StatusMutator,
	inboxRepo inbox_repo.InboxRepository,
	logger *zap.Logger,
) Service {
	return &service{
		txs:       txs,
		store:     store,
		verifier:  verifier,
		recoverer: recoverer,
		mutator:   mutator,
		inboxRepo: inboxRepo,
		logger:    logger.With(zap.String("component", "reconcile_service")),
	}
}

func (s *service) checkout(sessionID string) *kvstore.Checkout {
	return kvstore.NewCheckout(s.store.ForSession(sessionID))
}

func (s *service) BeginCheckout(ctx context.Context, sessionID string, req CheckoutRequest) (domain.StoredPaymentRecord, error) {
	if sessionID == "" {
		return domain.StoredPaymentRecord{}, domain.ErrSessionRequired
	}
	if req.Amount <= 0 {
		return domain.StoredPaymentRecord{}, domain.ErrInvalidAmount
	}

	rec := domain.StoredPaymentRecord{
		Reference:     reference.Generate(),
		OrderID:       strings.TrimSpace(req.OrderID),
		Amount:        req.Amount,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.checkout(sessionID).Save(ctx, rec); err != nil {
		return domain.StoredPaymentRecord{}, err
	}

	s.logger.Info("Checkout started",
		zap.String("reference", rec.Reference), zap.String("order_id", rec.OrderID), zap.Int64("amount", rec.Amount))
	return rec, nil
}

func (s *service) ConfirmCallback(ctx context.Context, sessionID, ref string) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	return s.checkout(sessionID).ConfirmCallback(ctx, strings.TrimSpace(ref))
}

func (s *service) AbandonCheckout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	s.checkout(sessionID).Abandon(ctx)
	return nil
}

func (s *service) LastPayment(ctx context.Context, sessionID string) (domain.VerificationResult, bool) {
	if sessionID == "" {
		return domain.VerificationResult{}, false
	}
	return s.checkout(sessionID).LastSuccess(ctx)
}

// VerifyPayment asks the processor-facing functions first and falls back to
// recovery. A verified payment confirms its order and clears the attempt. Any
// failure, including an order that could not be confirmed, keeps the stored
// checkout so the customer can retry.
func (s *service) VerifyPayment(ctx context.Context, sessionID, ref string) domain.VerificationResult {
	scope, checkout := s.scope(sessionID, domain.ChannelRecovered)
	res := s.verifier.Verify(ctx, ref, scope)
	return s.settle(ctx, res, checkout)
}

// AttemptRecovery runs only the recovery engine, for callers that already
// know remote verification is unavailable.
func (s *service) AttemptRecovery(ctx context.Context, sessionID, ref string) domain.VerificationResult {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.FailedResult(ref, domain.ErrorCodeValidation, "payment reference is required")
	}
	scope, checkout := s.scope(sessionID, domain.ChannelStored)
	res := s.recoverer.Recover(ctx, ref, scope)
	return s.settle(ctx, res, checkout)
}

func (s *service) BulletproofOrderStatusUpdate(ctx context.Context, orderID string, status domain.OrderStatus, actorID string) domain.BulletproofResult {
	return s.mutator.UpdateStatus(ctx, orderID, status, actorID)
}

func (s *service) scope(sessionID, channel string) (*recovery.Scope, *kvstore.Checkout) {
	scope := &recovery.Scope{Log: recovery.NewLog(), SnapshotChannel: channel}
	if sessionID == "" {
		return scope, nil
	}
	checkout := s.checkout(sessionID)
	scope.Checkout = checkout
	return scope, checkout
}

func (s *service) settle(ctx context.Context, res domain.VerificationResult, checkout *kvstore.Checkout) domain.VerificationResult {
	logger := s.logger.With(zap.String("reference", res.Reference))
	if !res.Success || !res.Data.Status.IsSettled() {
		logger.Info("Payment not confirmed",
			zap.String("error_code", string(res.ErrorCode)), zap.Int("recovery_attempts", len(res.Attempts)))
		return res
	}

	orderID := res.Data.OrderID
	if orderID == "" {
		if id, ok := res.Data.Metadata["order_id"].(string); ok {
			orderID = id
		}
	}
	if orderID == "" && checkout != nil {
		if rec, ok := checkout.Snapshot(ctx); ok && rec.Reference == res.Reference {
			orderID = rec.OrderID
		}
	}

	switch {
	case orderID == "":
		logger.Warn("Verified payment has no order to confirm")
	case res.Data.OrderUpdated:
		res.Data.OrderID = orderID
	default:
		res.Data.OrderID = orderID
		upd := s.mutator.ConfirmPayment(ctx, orderID, res.Reference)
		if upd.Success {
			res.Data.OrderUpdated = true
			if res.Data.OrderNumber == "" {
				if n, ok := upd.Order["order_number"].(string); ok {
					res.Data.OrderNumber = n
				}
			}
		} else {
			logger.Warn("Verified payment could not confirm its order, keeping checkout",
				zap.String("order_id", orderID), zap.String("error_code", string(upd.ErrorCode)), zap.String("message", upd.Message))
			return res
		}
	}

	if checkout != nil {
		checkout.Complete(ctx, res)
	}
	logger.Info("Payment reconciled",
		zap.String("order_id", res.Data.OrderID), zap.Bool("order_updated", res.Data.OrderUpdated), zap.String("channel", res.Data.Channel))
	return res
}

// OrderConfirmationPending reports a verified payment whose order is known but
// was not moved to confirmed. Verifying the reference again retries it.
func OrderConfirmationPending(res domain.VerificationResult) bool {
	return res.Success && res.Data != nil && res.Data.OrderID != "" && !res.Data.OrderUpdated
}
