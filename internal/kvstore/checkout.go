package kvstore

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"reconciler/internal/domain"
)

// Keys of the in-flight checkout state. The names are shared with the
// storefront, which reads them directly after a processor redirect.
const (
	KeyPaymentReference   = "paystack_payment_reference"
	KeyPaymentOrderID     = "payment_order_id"
	KeyLastReference      = "paystack_last_reference"
	KeyPaymentSuccess     = "paymentSuccess"
	KeyLastPaymentSuccess = "lastPaymentSuccess"
	KeyCheckoutSnapshot   = "payment_checkout_snapshot"
)

var attemptKeys = []string{
	KeyPaymentReference,
	KeyPaymentOrderID,
	KeyLastReference,
	KeyPaymentSuccess,
	KeyCheckoutSnapshot,
}

// Checkout is the per-session view of checkout state.
type Checkout struct {
	store  *Store
	logger *zap.Logger
}

func NewCheckout(store *Store) *Checkout {
	return &Checkout{store: store, logger: store.logger}
}

// Save persists the snapshot taken before redirecting to the processor. A
// snapshot is written once per attempt: saving the same reference again
// returns ErrSnapshotExists. A different reference starts a new attempt.
func (c *Checkout) Save(ctx context.Context, rec domain.StoredPaymentRecord) error {
	if rec.Reference == "" {
		return domain.ErrInvalidReference
	}
	if existing, ok := c.Snapshot(ctx); ok && existing.Reference == rec.Reference {
		return domain.ErrSnapshotExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	c.store.Remove(ctx, KeyPaymentSuccess)
	c.store.Set(ctx, KeyCheckoutSnapshot, string(raw))
	c.store.Set(ctx, KeyPaymentReference, rec.Reference)
	c.store.Set(ctx, KeyPaymentOrderID, rec.OrderID)
	c.store.Set(ctx, KeyLastReference, rec.Reference)

	c.logger.Info("Checkout snapshot stored",
		zap.String("reference", rec.Reference), zap.String("order_id", rec.OrderID))
	return nil
}

// Snapshot returns the stored checkout record. When only the loose keys
// survived it rebuilds a partial record from them.
func (c *Checkout) Snapshot(ctx context.Context) (domain.StoredPaymentRecord, bool) {
	if raw, ok := c.store.Get(ctx, KeyCheckoutSnapshot); ok {
		var rec domain.StoredPaymentRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.Reference != "" {
			return rec, true
		}
		c.logger.Warn("Discarding unreadable checkout snapshot")
	}

	ref, ok := c.store.Get(ctx, KeyPaymentReference)
	if !ok {
		ref, ok = c.store.Get(ctx, KeyLastReference)
	}
	if !ok || ref == "" {
		return domain.StoredPaymentRecord{}, false
	}
	orderID, _ := c.store.Get(ctx, KeyPaymentOrderID)
	return domain.StoredPaymentRecord{Reference: ref, OrderID: orderID}, true
}

// Complete clears the attempt keys and records the confirmed payment under
// lastPaymentSuccess for the confirmation page.
func (c *Checkout) Complete(ctx context.Context, result domain.VerificationResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("Failed to encode payment result", zap.Error(err))
		return
	}
	for _, k := range attemptKeys {
		c.store.Remove(ctx, k)
	}
	c.store.Set(ctx, KeyLastPaymentSuccess, string(raw))
	c.logger.Info("Checkout completed", zap.String("reference", result.Reference))
}

// Abandon clears the attempt keys without recording an outcome.
func (c *Checkout) Abandon(ctx context.Context) {
	for _, k := range attemptKeys {
		c.store.Remove(ctx, k)
	}
	c.logger.Info("Checkout abandoned")
}

type callbackConfirmation struct {
	Reference   string    `json:"reference"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// ConfirmCallback records that the processor's client-side callback reported
// success for reference. It is cleared with the rest of the attempt.
func (c *Checkout) ConfirmCallback(ctx context.Context, reference string) error {
	rec, ok := c.Snapshot(ctx)
	if !ok {
		return domain.ErrNoCheckout
	}
	if rec.Reference != reference {
		return domain.ErrInvalidReference
	}
	raw, err := json.Marshal(callbackConfirmation{Reference: reference, ConfirmedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	c.store.Set(ctx, KeyPaymentSuccess, string(raw))
	c.logger.Info("Processor callback confirmed", zap.String("reference", reference))
	return nil
}

// Confirmation returns when the processor callback confirmed reference.
func (c *Checkout) Confirmation(ctx context.Context, reference string) (time.Time, bool) {
	raw, ok := c.store.Get(ctx, KeyPaymentSuccess)
	if !ok {
		return time.Time{}, false
	}
	var conf callbackConfirmation
	if err := json.Unmarshal([]byte(raw), &conf); err != nil || conf.Reference != reference || conf.ConfirmedAt.IsZero() {
		return time.Time{}, false
	}
	return conf.ConfirmedAt, true
}

// LastSuccess returns the most recent confirmed payment for the session.
func (c *Checkout) LastSuccess(ctx context.Context) (domain.VerificationResult, bool) {
	raw, ok := c.store.Get(ctx, KeyLastPaymentSuccess)
	if !ok {
		return domain.VerificationResult{}, false
	}
	var res domain.VerificationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return domain.VerificationResult{}, false
	}
	return res, true
}
