// Package recovery re-derives a payment outcome from local and persisted
// state when the processor could not be asked directly. Every method is
// read-only, and only a settled transaction or a processor-confirmed checkout
// produces success.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reconciler/internal/domain"
	"reconciler/internal/reference"
	"reconciler/internal/retry"
)

const (
	TimestampWindow = 5 * time.Minute

	patternCandidateLimit = 20
	windowCandidateLimit  = 50
)

// TransactionReader reads payment_transactions joined to their order.
// Lookups return domain.ErrTransactionNotFound when nothing matches.
type TransactionReader interface {
	GetByProviderReference(ctx context.Context, ref string) (domain.PaymentTransaction, error)
	GetByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error)
	SearchByReferenceFragments(ctx context.Context, fragments []string, limit int) ([]domain.PaymentTransaction, error)
	// ListSettledNear returns settled rows within window of center, closest first.
	ListSettledNear(ctx context.Context, center time.Time, window time.Duration, limit int) ([]domain.PaymentTransaction, error)
}

// OrderReader finds an order by its current or legacy payment reference
// column. It returns domain.ErrOrderNotFound when nothing matches.
type OrderReader interface {
	GetByPaymentReference(ctx context.Context, ref string) (domain.OrderRef, error)
}

// CheckoutState is the session's stored checkout snapshot.
type CheckoutState interface {
	Snapshot(ctx context.Context) (domain.StoredPaymentRecord, bool)
	Confirmation(ctx context.Context, reference string) (time.Time, bool)
}

// Scope carries the per-request state a recovery run reads and appends to.
type Scope struct {
	Checkout CheckoutState
	Log      *Log
	// SnapshotChannel tags results rebuilt from the checkout snapshot.
	SnapshotChannel string
}

type Engine struct {
	txns   TransactionReader
	orders OrderReader
	policy retry.Policy
	logger *zap.Logger
}

func NewEngine(txns TransactionReader, orders OrderReader, policy retry.Policy, logger *zap.Logger) *Engine {
	logger = logger.With(zap.String("component", "recovery_engine"))
	policy.Logger = logger
	return &Engine{txns: txns, orders: orders, policy: policy, logger: logger}
}

var (
	errNoSnapshot       = errors.New("no checkout snapshot in session")
	errSnapshotMismatch = errors.New("checkout snapshot is for a different reference")
	errUnconfirmed      = errors.New("checkout snapshot has no processor confirmation")
	errNoFragments      = errors.New("reference has no searchable fragments")
	errNoTimestamp      = errors.New("reference carries no timestamp")
	errNoCandidates     = errors.New("no settled transaction matched")
)

// definitiveError stops the chain: the persisted record says the payment did
// not go through, so weaker methods must not look elsewhere.
type definitiveError struct {
	status domain.PaymentStatus
}

func (e *definitiveError) Error() string {
	return fmt.Sprintf("transaction recorded as %s", e.status)
}

type method struct {
	name domain.RecoveryMethod
	run  func(ctx context.Context, ref string, scope *Scope) (*domain.PaymentData, error)
}

// Recover tries each method in order and stops at the first success.
// It never returns success without a matching settled record.
func (e *Engine) Recover(ctx context.Context, ref string, scope *Scope) domain.VerificationResult {
	if scope == nil {
		scope = &Scope{}
	}
	if scope.Log == nil {
		scope.Log = NewLog()
	}
	if scope.SnapshotChannel == "" {
		scope.SnapshotChannel = domain.ChannelStored
	}

	logger := e.logger.With(zap.String("reference", ref))
	if !reference.IsValid(ref) {
		logger.Warn("Recovering payment with unrecognised reference format")
	}

	methods := []method{
		{domain.RecoveryStoredSnapshot, e.fromSnapshot},
		{domain.RecoveryDatabaseDirect, e.fromTransaction},
		{domain.RecoveryOrderLookup, e.fromOrder},
		{domain.RecoveryPatternMatch, e.fromPattern},
		{domain.RecoveryTimestampWindow, e.fromTimestampWindow},
	}

	for _, m := range methods {
		if err := ctx.Err(); err != nil {
			scope.Log.record(ref, m.name, err)
			break
		}

		data, err := m.run(ctx, ref, scope)
		scope.Log.record(ref, m.name, err)
		if err == nil {
			logger.Info("Payment recovered", zap.String("method", string(m.name)))
			data.Metadata = withMethod(data.Metadata, m.name)
			res := domain.VerifiedResult(ref, data)
			if res.Success {
				res.Message = "Payment confirmed via " + string(m.name)
			}
			res.Attempts = scope.Log.Attempts()
			return res
		}

		var def *definitiveError
		if errors.As(err, &def) {
			logger.Info("Recovery stopped on definitive record",
				zap.String("method", string(m.name)), zap.String("status", string(def.status)))
			res := domain.FailedResult(ref, domain.ErrorCodePaymentFailed, domain.PaymentNotCompletedMessage)
			res.Attempts = scope.Log.Attempts()
			return res
		}
		logger.Debug("Recovery method did not match", zap.String("method", string(m.name)), zap.Error(err))
	}

	logger.Warn("All recovery methods failed", zap.Int("attempts", len(scope.Log.attempts)))
	res := domain.FailedResult(ref, domain.ErrorCodeNotFound, domain.PendingSettlementMessage)
	res.Attempts = scope.Log.Attempts()
	return res
}

func (e *Engine) fromSnapshot(ctx context.Context, ref string, scope *Scope) (*domain.PaymentData, error) {
	if scope.Checkout == nil {
		return nil, errNoSnapshot
	}
	rec, ok := scope.Checkout.Snapshot(ctx)
	if !ok {
		return nil, errNoSnapshot
	}
	if rec.Reference != ref {
		return nil, errSnapshotMismatch
	}
	confirmedAt, ok := scope.Checkout.Confirmation(ctx, ref)
	if !ok {
		return nil, errUnconfirmed
	}

	customer := map[string]any{}
	if rec.CustomerEmail != "" {
		customer["email"] = rec.CustomerEmail
	}
	return &domain.PaymentData{
		Status:   domain.PaymentStatusSuccess,
		Amount:   rec.Amount,
		Customer: customer,
		Metadata: map[string]any{"order_id": rec.OrderID},
		PaidAt:   &confirmedAt,
		Channel:  scope.SnapshotChannel,
		OrderID:  rec.OrderID,
	}, nil
}

func (e *Engine) fromTransaction(ctx context.Context, ref string, _ *Scope) (*domain.PaymentData, error) {
	tx, err := read(ctx, e, "get_transaction_by_reference", func(ctx context.Context) (domain.PaymentTransaction, error) {
		return e.txns.GetByProviderReference(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return settledData(tx)
}

func (e *Engine) fromOrder(ctx context.Context, ref string, _ *Scope) (*domain.PaymentData, error) {
	order, err := read(ctx, e, "get_order_by_payment_reference", func(ctx context.Context) (domain.OrderRef, error) {
		return e.orders.GetByPaymentReference(ctx, ref)
	})
	if err != nil {
		return nil, err
	}

	tx, err := read(ctx, e, "get_transaction_by_order", func(ctx context.Context) (domain.PaymentTransaction, error) {
		return e.txns.GetByOrderID(ctx, order.ID)
	})
	switch {
	case err == nil:
		if tx.OrderNumber == "" {
			tx.OrderNumber = order.OrderNumber
		}
		return settledData(tx)
	case errors.Is(err, domain.ErrTransactionNotFound):
		status := domain.NormalizePaymentStatus(order.PaymentStatus)
		if !status.IsSettled() {
			return nil, fmt.Errorf("order %s has no settled payment (payment_status=%q)", order.ID, order.PaymentStatus)
		}
		customer := map[string]any{}
		if order.CustomerEmail != "" {
			customer["email"] = order.CustomerEmail
		}
		return &domain.PaymentData{
			Status:      status,
			Amount:      order.TotalAmount,
			Customer:    customer,
			Metadata:    map[string]any{"order_id": order.ID},
			Channel:     domain.ChannelRecovered,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
		}, nil
	default:
		return nil, err
	}
}

// fromPattern matches on reference fragments. Among settled candidates it
// prefers one whose full reference contains or is contained by the input,
// then falls back to the first returned.
func (e *Engine) fromPattern(ctx context.Context, ref string, _ *Scope) (*domain.PaymentData, error) {
	frags := reference.Fragments(ref)
	if len(frags) == 0 {
		return nil, errNoFragments
	}

	candidates, err := read(ctx, e, "search_transactions_by_fragment", func(ctx context.Context) ([]domain.PaymentTransaction, error) {
		return e.txns.SearchByReferenceFragments(ctx, frags, patternCandidateLimit)
	})
	if err != nil {
		return nil, err
	}

	var first *domain.PaymentTransaction
	for i := range candidates {
		c := &candidates[i]
		if !domain.NormalizePaymentStatus(c.Status).IsSettled() || c.ProviderReference == "" {
			continue
		}
		if strings.Contains(c.ProviderReference, ref) || strings.Contains(ref, c.ProviderReference) {
			return settledData(*c)
		}
		if first == nil {
			first = c
		}
	}
	if first == nil {
		return nil, errNoCandidates
	}
	e.logger.Warn("Pattern recovery used first fragment candidate, match is approximate",
		zap.String("reference", ref), zap.String("matched_reference", first.ProviderReference))
	return settledData(*first)
}

// fromTimestampWindow looks for settled transactions created within
// TimestampWindow of the time embedded in the reference. Candidates sharing a
// fragment with the reference win; otherwise the closest in time.
func (e *Engine) fromTimestampWindow(ctx context.Context, ref string, _ *Scope) (*domain.PaymentData, error) {
	ts, ok := reference.Timestamp(ref)
	if !ok {
		return nil, errNoTimestamp
	}

	candidates, err := read(ctx, e, "list_transactions_in_window", func(ctx context.Context) ([]domain.PaymentTransaction, error) {
		return e.txns.ListSettledNear(ctx, ts, TimestampWindow, windowCandidateLimit)
	})
	if err != nil {
		return nil, err
	}

	frags := reference.Fragments(ref)
	var (
		best      *domain.PaymentTransaction
		bestScore int
		bestGap   time.Duration
	)
	for i := range candidates {
		c := &candidates[i]
		if !domain.NormalizePaymentStatus(c.Status).IsSettled() {
			continue
		}
		score := sharedFragments(c.ProviderReference, frags)
		gap := c.CreatedAt.Sub(ts).Abs()
		if best == nil || score > bestScore || (score == bestScore && gap < bestGap) {
			best, bestScore, bestGap = c, score, gap
		}
	}
	if best == nil {
		return nil, errNoCandidates
	}
	return settledData(*best)
}

func read[T any](ctx context.Context, e *Engine, op string, fn func(context.Context) (T, error)) (T, error) {
	p := e.policy
	p.Operation = op
	return retry.WithBackoff(ctx, p, fn)
}

func settledData(tx domain.PaymentTransaction) (*domain.PaymentData, error) {
	status := domain.NormalizePaymentStatus(tx.Status)
	if status.IsDefinitiveFailure() {
		return nil, &definitiveError{status: status}
	}
	if !status.IsSettled() {
		return nil, fmt.Errorf("transaction %s is not settled (status=%q)", tx.ProviderReference, tx.Status)
	}

	customer := map[string]any{}
	if tx.CustomerEmail != "" {
		customer["email"] = tx.CustomerEmail
	}
	metadata := make(map[string]any, len(tx.Metadata)+3)
	for k, v := range tx.Metadata {
		metadata[k] = v
	}
	metadata["transaction_id"] = tx.ID
	metadata["provider_reference"] = tx.ProviderReference
	if tx.Channel != "" {
		metadata["payment_channel"] = tx.Channel
	}

	return &domain.PaymentData{
		Status:      status,
		Amount:      tx.Amount,
		Customer:    customer,
		Metadata:    metadata,
		PaidAt:      tx.PaidAt,
		Channel:     domain.ChannelRecovered,
		OrderID:     tx.OrderID,
		OrderNumber: tx.OrderNumber,
	}, nil
}

func sharedFragments(candidate string, frags []string) int {
	candidate = strings.ToLower(candidate)
	n := 0
	for _, f := range frags {
		if strings.Contains(candidate, f) {
			n++
		}
	}
	return n
}

func withMethod(m map[string]any, name domain.RecoveryMethod) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	m["recovery_method"] = string(name)
	return m
}
