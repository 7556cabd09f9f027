package recovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconciler/internal/domain"
	"reconciler/internal/retry"
)

type fakeTxns struct {
	rows       []domain.PaymentTransaction
	err        error
	directHits int

	windowCenter time.Time
	window       time.Duration
}

func (f *fakeTxns) GetByProviderReference(_ context.Context, ref string) (domain.PaymentTransaction, error) {
	if f.err != nil {
		return domain.PaymentTransaction{}, f.err
	}
	for _, r := range f.rows {
		if r.ProviderReference == ref {
			f.directHits++
			return r, nil
		}
	}
	return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
}

func (f *fakeTxns) GetByOrderID(_ context.Context, orderID string) (domain.PaymentTransaction, error) {
	for _, r := range f.rows {
		if r.OrderID == orderID {
			return r, nil
		}
	}
	return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
}

func (f *fakeTxns) SearchByReferenceFragments(_ context.Context, frags []string, limit int) ([]domain.PaymentTransaction, error) {
	var out []domain.PaymentTransaction
	for _, r := range f.rows {
		for _, fr := range frags {
			if strings.Contains(r.ProviderReference, fr) || strings.Contains(fr, r.ProviderReference) {
				out = append(out, r)
				break
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTxns) ListSettledNear(_ context.Context, center time.Time, window time.Duration, limit int) ([]domain.PaymentTransaction, error) {
	f.windowCenter, f.window = center, window
	var out []domain.PaymentTransaction
	for _, r := range f.rows {
		if r.CreatedAt.Sub(center).Abs() <= window && slices.Contains(domain.SettledStatusSpellings(), strings.ToLower(r.Status)) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.PaymentTransaction) int {
		return cmp.Compare(a.CreatedAt.Sub(center).Abs(), b.CreatedAt.Sub(center).Abs())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeOrders struct {
	orders []domain.OrderRef
}

func (f *fakeOrders) GetByPaymentReference(_ context.Context, ref string) (domain.OrderRef, error) {
	for _, o := range f.orders {
		if o.PaymentReference == ref || o.PaystackRef == ref {
			return o, nil
		}
	}
	return domain.OrderRef{}, domain.ErrOrderNotFound
}

type fakeCheckout struct {
	rec         domain.StoredPaymentRecord
	has         bool
	confirmed   bool
	confirmedAt time.Time
}

func (f *fakeCheckout) Snapshot(context.Context) (domain.StoredPaymentRecord, bool) {
	return f.rec, f.has
}

func (f *fakeCheckout) Confirmation(_ context.Context, ref string) (time.Time, bool) {
	return f.confirmedAt, f.confirmed && ref == f.rec.Reference
}

func newEngine(txns *fakeTxns, orders *fakeOrders) *Engine {
	policy := retry.Policy{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	return NewEngine(txns, orders, policy, zap.NewNop())
}

func successes(attempts []domain.RecoveryAttempt) int {
	n := 0
	for _, a := range attempts {
		if a.Success {
			n++
		}
	}
	return n
}

const ref = "txn_1700000000000_abcd1234"

func TestRecover_SnapshotTakesPriorityOverDirectRecord(t *testing.T) {
	txns := &fakeTxns{rows: []domain.PaymentTransaction{
		{ID: "t1", ProviderReference: ref, OrderID: "order-db", Status: "success", Amount: 999},
	}}
	checkout := &fakeCheckout{
		rec:         domain.StoredPaymentRecord{Reference: ref, OrderID: "order-1", Amount: 250000, CustomerEmail: "a@b.co"},
		has:         true,
		confirmed:   true,
		confirmedAt: time.Now(),
	}
	scope := &Scope{Checkout: checkout, Log: NewLog()}

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), ref, scope)

	require.True(t, res.Success)
	assert.Equal(t, domain.ChannelStored, res.Data.Channel)
	assert.Equal(t, "order-1", res.Data.OrderID)
	assert.Equal(t, int64(250000), res.Data.Amount)
	assert.Equal(t, 0, txns.directHits)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, domain.RecoveryStoredSnapshot, res.Attempts[0].Method)
	assert.Equal(t, 1, successes(res.Attempts))
	assert.Equal(t, 1, scope.Log.Successes())
}

func TestRecover_UnconfirmedSnapshotFallsThroughToDatabase(t *testing.T) {
	paidAt := time.Now().Add(-time.Minute)
	txns := &fakeTxns{rows: []domain.PaymentTransaction{
		{ID: "t1", ProviderReference: ref, OrderID: "order-1", OrderNumber: "ORD-7", Status: "success", Amount: 250000, Channel: "card", PaidAt: &paidAt},
	}}
	checkout := &fakeCheckout{rec: domain.StoredPaymentRecord{Reference: ref}, has: true}

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), ref, &Scope{Checkout: checkout, SnapshotChannel: domain.ChannelRecovered})

	require.True(t, res.Success)
	assert.Equal(t, domain.ChannelRecovered, res.Data.Channel)
	assert.Equal(t, "ORD-7", res.Data.OrderNumber)
	assert.Equal(t, "card", res.Data.Metadata["payment_channel"])
	assert.Equal(t, string(domain.RecoveryDatabaseDirect), res.Data.Metadata["recovery_method"])
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Success)
	assert.Equal(t, errUnconfirmed.Error(), res.Attempts[0].Error)
	assert.True(t, res.Attempts[1].Success)
}

func TestRecover_OrderLookupUsesLegacyColumn(t *testing.T) {
	txns := &fakeTxns{rows: []domain.PaymentTransaction{
		{ID: "t9", ProviderReference: "ps_provider_side_ref", OrderID: "order-1", Status: "paid", Amount: 5000},
	}}
	orders := &fakeOrders{orders: []domain.OrderRef{{ID: "order-1", OrderNumber: "ORD-1", PaystackRef: ref}}}

	res := newEngine(txns, orders).Recover(context.Background(), ref, nil)

	require.True(t, res.Success)
	assert.Equal(t, domain.PaymentStatusPaid, res.Data.Status)
	assert.Equal(t, "ORD-1", res.Data.OrderNumber)
	assert.Equal(t, domain.RecoveryOrderLookup, res.Attempts[len(res.Attempts)-1].Method)
}

func TestRecover_OrderLookupWithoutTransactionNeedsPaidOrder(t *testing.T) {
	orders := &fakeOrders{orders: []domain.OrderRef{{ID: "order-1", PaymentReference: "pay_legacy_000001", PaymentStatus: "pending"}}}

	res := newEngine(&fakeTxns{}, orders).Recover(context.Background(), "pay_legacy_000001", nil)

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorCodeNotFound, res.ErrorCode)
	assert.Equal(t, domain.PendingSettlementMessage, res.Message)
}

func TestRecover_PatternMatchPrefersContainment(t *testing.T) {
	txns := &fakeTxns{rows: []domain.PaymentTransaction{
		{ID: "other", ProviderReference: "txn_1700000000000_zzzz9999", Status: "success", CreatedAt: time.UnixMilli(1700000900000)},
		{ID: "mine", ProviderReference: "T-" + "order_3f2504e0-4f89-11d3-9a0c-0305e82c3301" + "-retry", Status: "success"},
	}}
	input := "order_3f2504e0-4f89-11d3-9a0c-0305e82c3301"

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), input, nil)

	require.True(t, res.Success)
	assert.Equal(t, "mine", res.Data.Metadata["transaction_id"])
	assert.Equal(t, string(domain.RecoveryPatternMatch), res.Data.Metadata["recovery_method"])
}

func TestRecover_TimestampWindowScenario(t *testing.T) {
	txns := &fakeTxns{rows: []domain.PaymentTransaction{
		{ID: "near", ProviderReference: "T_PROVIDER_XYZ", Status: "success", Amount: 250000, CreatedAt: time.UnixMilli(1700000000050)},
		{ID: "far", ProviderReference: "T_PROVIDER_ABC", Status: "success", CreatedAt: time.UnixMilli(1700000200000)},
		{ID: "outside", ProviderReference: "T_PROVIDER_OLD", Status: "success", CreatedAt: time.UnixMilli(1700000000000 - int64(6*time.Minute/time.Millisecond))},
	}}

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), ref, nil)

	require.True(t, res.Success)
	assert.Equal(t, domain.ChannelRecovered, res.Data.Channel)
	assert.Equal(t, "near", res.Data.Metadata["transaction_id"])
	last := res.Attempts[len(res.Attempts)-1]
	assert.Equal(t, domain.RecoveryTimestampWindow, last.Method)
	assert.True(t, last.Success)
	assert.Equal(t, 1, successes(res.Attempts))
}

func TestRecover_TimestampWindowSkipsBusyUnsettledTraffic(t *testing.T) {
	center := time.UnixMilli(1700000000000)
	var rows []domain.PaymentTransaction
	for i := 0; i < windowCandidateLimit+10; i++ {
		rows = append(rows, domain.PaymentTransaction{
			ID: fmt.Sprintf("pending-%d", i), ProviderReference: fmt.Sprintf("T_PENDING_%d", i),
			Status: "pending", CreatedAt: center.Add(-4*time.Minute + time.Duration(i)*time.Second),
		})
	}
	rows = append(rows, domain.PaymentTransaction{
		ID: "settled", ProviderReference: "T_PROVIDER_LATE", Status: "Paid", Amount: 1200, CreatedAt: center.Add(4 * time.Minute),
	})
	txns := &fakeTxns{rows: rows}

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), ref, nil)

	require.True(t, res.Success)
	assert.Equal(t, "settled", res.Data.Metadata["transaction_id"])
	assert.True(t, txns.windowCenter.Equal(center), "window is centred on the reference timestamp")
	assert.Equal(t, TimestampWindow, txns.window)
}

func TestRecover_DefinitiveFailureStopsChain(t *testing.T) {
	txns := &fakeTxns{rows: []domain.PaymentTransaction{
		{ID: "t1", ProviderReference: ref, Status: "failed"},
		{ID: "t2", ProviderReference: "T_OTHER", Status: "success", CreatedAt: time.UnixMilli(1700000000050)},
	}}

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), ref, nil)

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorCodePaymentFailed, res.ErrorCode)
	require.Len(t, res.Attempts, 2)
}

func TestRecover_NeverFabricatesSuccess(t *testing.T) {
	txns := &fakeTxns{rows: []domain.PaymentTransaction{
		{ID: "pending", ProviderReference: ref, Status: "pending", CreatedAt: time.UnixMilli(1700000000050)},
	}}

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), ref, nil)

	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	require.Len(t, res.Attempts, 5)
	for i, a := range res.Attempts {
		assert.False(t, a.Success)
		if i > 0 {
			assert.False(t, a.Timestamp.Before(res.Attempts[i-1].Timestamp))
		}
	}
}

func TestRecover_DatabaseOutageIsRecordedPerMethod(t *testing.T) {
	txns := &fakeTxns{err: errors.New("connection refused")}

	res := newEngine(txns, &fakeOrders{}).Recover(context.Background(), ref, nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Attempts[1].Error, "connection refused")
}

func TestRecover_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newEngine(&fakeTxns{}, &fakeOrders{}).Recover(ctx, ref, nil)

	assert.False(t, res.Success)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, context.Canceled.Error(), res.Attempts[0].Error)
}
