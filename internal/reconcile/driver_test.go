package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/creds"
	"github.com/disputehq/disputesync/internal/portal"
)

type fakeStore struct {
	orders   map[string]*StoredOrder
	findErr  error
	updErr   error
	updates  []int64
	inserted []ReconciledOrder
}

func (f *fakeStore) FindOrderByKey(ctx context.Context, orderID, customerName string, approxDate *time.Time) (*StoredOrder, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.orders[orderID], nil
}

func (f *fakeStore) UpdateDispute(ctx context.Context, recordID int64, accepted bool, amount *float64) error {
	if f.updErr != nil {
		return f.updErr
	}
	f.updates = append(f.updates, recordID)
	return nil
}

func (f *fakeStore) BulkInsert(ctx context.Context, records []ReconciledOrder) (BulkResult, error) {
	f.inserted = append(f.inserted, records...)
	return BulkResult{Inserted: len(records)}, nil
}

type fakeDetails struct {
	details map[string]*portal.OrderDetailRecord
	err     error
}

func (f *fakeDetails) FetchOrderDetail(ctx context.Context, bundle *creds.Bundle, storeID, deliveryUUID string) (*portal.OrderDetailRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.details[deliveryUUID]
	if !ok {
		return nil, errors.New("no detail")
	}
	return d, nil
}

func detailRecord(refund, errorCharge int64) *portal.OrderDetailRecord {
	var d portal.OrderDetailRecord
	d.Refunds.UnitAmount = refund
	d.ErrorCharges.UnitAmount = errorCharge
	return &d
}

func newTestDriver(st OrderStore, details DetailFetcher) *Driver {
	d := NewDriver(details, st, zap.NewNop())
	d.detailDelay = 0
	return d
}

func ddBundle() *creds.Bundle {
	return &creds.Bundle{
		Platform: creds.PlatformDoorDash,
		Tokens:   map[string]string{creds.TokenStore: "4242"},
		Cookies:  map[string]string{"dd_session": "x"},
	}
}

func TestReconcileDoorDashUpdatesMatchedOrders(t *testing.T) {
	st := &fakeStore{orders: map[string]*StoredOrder{"D1": {ID: 11}}}
	details := &fakeDetails{details: map[string]*portal.OrderDetailRecord{"D1": detailRecord(800, 268)}}
	driver := newTestDriver(st, details)

	stats := driver.ReconcileDoorDash(context.Background(), ddBundle(), "4242", "rest-1", []portal.OrderErrorRecord{
		{DeliveryUUID: "D1", CustomerName: "Jane D.", AmountCharged: 268},
	})

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, []int64{11}, st.updates)
	assert.Empty(t, st.inserted)
}

func TestReconcileDoorDashQueuesUnmatchedOrders(t *testing.T) {
	st := &fakeStore{orders: map[string]*StoredOrder{}}
	details := &fakeDetails{details: map[string]*portal.OrderDetailRecord{
		"D1": detailRecord(0, 500),
	}}
	driver := newTestDriver(st, details)

	stats := driver.ReconcileDoorDash(context.Background(), ddBundle(), "4242", "rest-1", []portal.OrderErrorRecord{
		{DeliveryUUID: "D1", CustomerName: "Jane D.", AmountCharged: 500, CreatedAt: "2026-08-30T12:00:00Z"},
	})

	assert.Equal(t, 1, stats.Processed, "bulk-inserted rows count as processed")
	require.Len(t, st.inserted, 1)

	rec := st.inserted[0]
	assert.Equal(t, "doordash", rec.Carrier)
	assert.Equal(t, "D1", rec.CarrierOrderID)
	assert.Equal(t, "rest-1", rec.RestaurantID)
	assert.True(t, rec.Disputed)
	assert.False(t, rec.DisputeAccepted, "no refund means the dispute was not won")
	assert.Equal(t, 5.00, rec.DisputeAmount)
	require.NotNil(t, rec.CreatedAt)
}

func TestReconcileDoorDashAcceptanceFromRefund(t *testing.T) {
	st := &fakeStore{orders: map[string]*StoredOrder{}}
	details := &fakeDetails{details: map[string]*portal.OrderDetailRecord{
		"won":  detailRecord(800, 268),
		"lost": detailRecord(0, 268),
	}}
	driver := newTestDriver(st, details)

	driver.ReconcileDoorDash(context.Background(), ddBundle(), "4242", "rest-1", []portal.OrderErrorRecord{
		{DeliveryUUID: "won", CustomerName: "A", AmountCharged: 268},
		{DeliveryUUID: "lost", CustomerName: "B", AmountCharged: 268},
	})

	require.Len(t, st.inserted, 2)
	assert.True(t, st.inserted[0].DisputeAccepted)
	assert.False(t, st.inserted[1].DisputeAccepted)
}

func TestReconcileDoorDashCountsDetailFailures(t *testing.T) {
	st := &fakeStore{orders: map[string]*StoredOrder{}}
	details := &fakeDetails{err: errors.New("detail endpoint down")}
	driver := newTestDriver(st, details)

	stats := driver.ReconcileDoorDash(context.Background(), ddBundle(), "4242", "rest-1", []portal.OrderErrorRecord{
		{DeliveryUUID: "D1", CustomerName: "A", AmountCharged: 100},
		{DeliveryUUID: "D2", CustomerName: "B", AmountCharged: 100},
	})

	assert.Equal(t, 2, stats.Errors, "every failed delivery is counted")
	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, st.inserted)
}

func TestReconcileDoorDashCountsLookupFailures(t *testing.T) {
	st := &fakeStore{findErr: errors.New("connection reset")}
	details := &fakeDetails{details: map[string]*portal.OrderDetailRecord{"D1": detailRecord(0, 100)}}
	driver := newTestDriver(st, details)

	stats := driver.ReconcileDoorDash(context.Background(), ddBundle(), "4242", "rest-1", []portal.OrderErrorRecord{
		{DeliveryUUID: "D1", CustomerName: "A", AmountCharged: 100},
	})

	assert.Equal(t, 1, stats.Errors)
	assert.Empty(t, st.inserted)
}

func TestReconcileUberEats(t *testing.T) {
	st := &fakeStore{orders: map[string]*StoredOrder{"order-1": {ID: 21}}}
	driver := newTestDriver(st, &fakeDetails{})

	rows := []portal.UberOrderRow{
		{OrderID: "order-1", OrderTag: "DISPUTE_ACCEPTED", PossibleChargebackAmountFormatted: "$2.68"},
		{OrderID: "order-2", OrderTag: "DISPUTE_PENDING"},
	}
	stats := driver.ReconcileUberEats(context.Background(), rows)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Skipped, "rows without a store match are skipped, not errors")
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, []int64{21}, st.updates)
}

func TestReconcileUberEatsCountsUpdateFailures(t *testing.T) {
	st := &fakeStore{
		orders: map[string]*StoredOrder{"order-1": {ID: 21}},
		updErr: errors.New("write failed"),
	}
	driver := newTestDriver(st, &fakeDetails{})

	stats := driver.ReconcileUberEats(context.Background(), []portal.UberOrderRow{
		{OrderID: "order-1", OrderTag: "DISPUTE_ACCEPTED"},
	})

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 0, stats.Processed)
}

func TestStatsAdd(t *testing.T) {
	total := Stats{Processed: 1, Skipped: 2, Errors: 3}
	total.Add(Stats{Processed: 10, Skipped: 20, Errors: 30})
	assert.Equal(t, Stats{Processed: 11, Skipped: 22, Errors: 33}, total)
}
