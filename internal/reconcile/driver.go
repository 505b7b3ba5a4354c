package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/creds"
	"github.com/disputehq/disputesync/internal/portal"
)

// ReconciledOrder is the record handed to the order store when no existing
// row matched a fetched dispute.
type ReconciledOrder struct {
	Carrier         string             `json:"carrier"`
	OrderNumber     string             `json:"order_number"`
	CarrierOrderID  string             `json:"carrier_order_id"`
	RestaurantID    string             `json:"restaurant_id"`
	CustomerName    string             `json:"customer_name"`
	Disputed        bool               `json:"disputed"`
	DisputeAccepted bool               `json:"dispute_accepted"`
	DisputeAmount   float64            `json:"dispute_amount"`
	Items           []portal.OrderItem `json:"items"`
	CreatedAt       *time.Time         `json:"created_at,omitempty"`
}

// StoredOrder is the minimal view of an existing order-store row the driver
// needs.
type StoredOrder struct {
	ID             int64
	CarrierOrderID string
}

// BulkResult reports a chunked bulk insertion.
type BulkResult struct {
	Inserted int
	Errors   []error
}

// OrderStore is the external persistence boundary. Implementations match by
// order id, customer name, and a time window around the order date.
type OrderStore interface {
	FindOrderByKey(ctx context.Context, orderID, customerName string, approxDate *time.Time) (*StoredOrder, error)
	UpdateDispute(ctx context.Context, recordID int64, accepted bool, amount *float64) error
	BulkInsert(ctx context.Context, records []ReconciledOrder) (BulkResult, error)
}

// DetailFetcher fetches the per-delivery detail record.
type DetailFetcher interface {
	FetchOrderDetail(ctx context.Context, bundle *creds.Bundle, storeID, deliveryUUID string) (*portal.OrderDetailRecord, error)
}

// Stats counts the outcome of one reconciliation pass.
type Stats struct {
	Processed int
	Skipped   int
	Errors    int
}

// Add accumulates another pass's counts.
func (s *Stats) Add(other Stats) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

// Driver reconciles fetched dispute records against the order store.
type Driver struct {
	details DetailFetcher
	store   OrderStore
	logger  *zap.Logger

	// detailDelay paces per-delivery detail lookups.
	detailDelay time.Duration
}

// NewDriver builds a reconciliation driver.
func NewDriver(details DetailFetcher, store OrderStore, logger *zap.Logger) *Driver {
	return &Driver{
		details:     details,
		store:       store,
		logger:      logger.Named("reconcile"),
		detailDelay: 500 * time.Millisecond,
	}
}

// ReconcileDoorDash groups the raw error rows by delivery, refines each
// group with one detail lookup, and either updates the matching store record
// or queues a new one. Individual failures are counted, never fatal.
func (d *Driver) ReconcileDoorDash(ctx context.Context, bundle *creds.Bundle, storeID, restaurantID string, records []portal.OrderErrorRecord) Stats {
	var stats Stats
	var toInsert []ReconciledOrder

	groups := GroupByDelivery(records)
	d.logger.Info("Reconciling disputed deliveries",
		zap.String("store_id", storeID),
		zap.Int("rows", len(records)),
		zap.Int("deliveries", len(groups)))

	for _, group := range groups {
		detail, err := d.details.FetchOrderDetail(ctx, bundle, storeID, group.DeliveryUUID)
		if err != nil {
			d.logger.Warn("Failed to fetch order detail",
				zap.String("delivery", group.DeliveryUUID), zap.Error(err))
			stats.Errors++
			continue
		}

		// A refund means the dispute was won; the error charge is the
		// chargeback total.
		accepted := detail.Refunds.UnitAmount > 0
		amount := MinorToDecimal(detail.ErrorCharges.UnitAmount)

		items := detail.Items
		if len(items) == 0 {
			items = group.Items
		}

		orderDate := parseOrderDate(group.CreatedAt)

		existing, err := d.store.FindOrderByKey(ctx, group.DeliveryUUID, group.CustomerName, orderDate)
		if err != nil {
			d.logger.Warn("Order lookup failed",
				zap.String("delivery", group.DeliveryUUID), zap.Error(err))
			stats.Errors++
			continue
		}

		if existing == nil {
			// RecordNotFound routes to the insert queue, not the error count.
			toInsert = append(toInsert, ReconciledOrder{
				Carrier:         "doordash",
				OrderNumber:     group.DeliveryUUID,
				CarrierOrderID:  group.DeliveryUUID,
				RestaurantID:    restaurantID,
				CustomerName:    group.CustomerName,
				Disputed:        true,
				DisputeAccepted: accepted,
				DisputeAmount:   amount,
				Items:           items,
				CreatedAt:       orderDate,
			})
			continue
		}

		if err := d.store.UpdateDispute(ctx, existing.ID, accepted, &amount); err != nil {
			d.logger.Warn("Dispute update failed",
				zap.Int64("record_id", existing.ID), zap.Error(err))
			stats.Errors++
			continue
		}
		stats.Processed++
		d.logger.Debug("Updated dispute",
			zap.String("delivery", group.DeliveryUUID),
			zap.Bool("accepted", accepted),
			zap.Float64("amount", amount))

		d.sleep(ctx)
	}

	if len(toInsert) > 0 {
		d.logger.Info("Bulk inserting unmatched orders", zap.Int("count", len(toInsert)))
		result, err := d.store.BulkInsert(ctx, toInsert)
		if err != nil {
			stats.Errors++
		}
		stats.Processed += result.Inserted
		stats.Errors += len(result.Errors)
	}

	return stats
}

// ReconcileUberEats updates existing store records for each fetched order
// row; rows with no match are skipped, as the UberEats listing carries no
// insertable detail.
func (d *Driver) ReconcileUberEats(ctx context.Context, rows []portal.UberOrderRow) Stats {
	var stats Stats

	for _, row := range rows {
		existing, err := d.store.FindOrderByKey(ctx, row.OrderID, row.Eater.Name, parseOrderDate(row.RequestedAt))
		if err != nil {
			d.logger.Warn("Order lookup failed", zap.String("order", row.OrderID), zap.Error(err))
			stats.Errors++
			continue
		}
		if existing == nil {
			d.logger.Debug("Order not found in store, skipping", zap.String("order", row.OrderID))
			stats.Skipped++
			continue
		}

		amount := ParseAmount(row.PossibleChargebackAmountFormatted)
		if err := d.store.UpdateDispute(ctx, existing.ID, row.DisputeAccepted(), amount); err != nil {
			d.logger.Warn("Dispute update failed", zap.Int64("record_id", existing.ID), zap.Error(err))
			stats.Errors++
			continue
		}
		stats.Processed++
	}

	return stats
}

func (d *Driver) sleep(ctx context.Context) {
	if d.detailDelay <= 0 {
		return
	}
	timer := time.NewTimer(d.detailDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func parseOrderDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
