package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/reconcile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// matchWindow bounds how far an order's stored date may drift from the
// date reported by the platform before a name match is rejected.
const matchWindow = 36 * time.Hour

// bulkChunkSize caps how many records one insert batch carries.
const bulkChunkSize = 100

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL order store.
type Store struct {
	pool   DBPool
	log    *zap.Logger
	strict bool
}

// New creates a store instance and verifies the connection. When strict is
// set, name-based fallback matching is disabled and only exact order-id
// matches count.
func New(ctx context.Context, pool DBPool, strict bool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:   pool,
		log:    logger.Named("store"),
		strict: strict,
	}, nil
}

// FindOrderByKey locates an existing order row. It tries the carrier order
// id first; when that misses and strict matching is off, it falls back to
// the customer name within a time window around the reported order date.
// A miss returns (nil, nil).
func (s *Store) FindOrderByKey(ctx context.Context, orderID, customerName string, approxDate *time.Time) (*reconcile.StoredOrder, error) {
	order, err := s.findByCarrierOrderID(ctx, orderID)
	if err != nil || order != nil {
		return order, err
	}

	if s.strict || customerName == "" || customerName == "Unknown" || approxDate == nil {
		return nil, nil
	}

	return s.findByCustomerName(ctx, customerName, *approxDate)
}

func (s *Store) findByCarrierOrderID(ctx context.Context, orderID string) (*reconcile.StoredOrder, error) {
	query := `
        SELECT id, carrier_order_id
        FROM orders
        WHERE carrier_order_id ILIKE $1
        ORDER BY id ASC
        LIMIT 1;
    `
	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order by carrier id: %w", err)
	}
	defer rows.Close()

	return scanFirstOrder(rows)
}

func (s *Store) findByCustomerName(ctx context.Context, customerName string, approxDate time.Time) (*reconcile.StoredOrder, error) {
	query := `
        SELECT id, carrier_order_id
        FROM orders
        WHERE customer_name ILIKE $1
          AND created_at BETWEEN $2 AND $3
        ORDER BY created_at ASC
        LIMIT 1;
    `
	from := approxDate.Add(-matchWindow).UTC()
	to := approxDate.Add(matchWindow).UTC()

	rows, err := s.pool.Query(ctx, query, customerName, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query order by customer name: %w", err)
	}
	defer rows.Close()

	order, err := scanFirstOrder(rows)
	if order != nil {
		s.log.Debug("Matched order by customer name",
			zap.String("customer", customerName),
			zap.Int64("record_id", order.ID))
	}
	return order, err
}

func scanFirstOrder(rows pgx.Rows) (*reconcile.StoredOrder, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, nil
	}

	var order reconcile.StoredOrder
	if err := rows.Scan(&order.ID, &order.CarrierOrderID); err != nil {
		return nil, fmt.Errorf("failed to scan order row: %w", err)
	}
	return &order, nil
}

// UpdateDispute marks an existing order row disputed. A nil amount leaves
// the stored dispute amount untouched.
func (s *Store) UpdateDispute(ctx context.Context, recordID int64, accepted bool, amount *float64) error {
	query := `
        UPDATE orders
        SET disputed = TRUE,
            dispute_accepted = $2,
            dispute_amount = COALESCE($3, dispute_amount),
            updated_at = $4
        WHERE id = $1;
    `
	tag, err := s.pool.Exec(ctx, query, recordID, accepted, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update dispute for record %d: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute update matched no rows for record %d", recordID)
	}
	return nil
}

// BulkInsert writes reconciled orders in chunks. A failed chunk is recorded
// and the remaining chunks still run.
func (s *Store) BulkInsert(ctx context.Context, records []reconcile.ReconciledOrder) (reconcile.BulkResult, error) {
	var result reconcile.BulkResult

	for start := 0; start < len(records); start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > len(records) {
			end = len(records)
		}

		chunk := records[start:end]
		if err := s.insertChunk(ctx, chunk); err != nil {
			s.log.Error("Bulk insert chunk failed",
				zap.Int("offset", start), zap.Int("size", len(chunk)), zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Inserted += len(chunk)
	}

	return result, nil
}

func (s *Store) insertChunk(ctx context.Context, chunk []reconcile.ReconciledOrder) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := time.Now().UTC()
	rows := make([][]interface{}, len(chunk))
	for i, r := range chunk {
		items, err := json.Marshal(r.Items)
		if err != nil {
			return fmt.Errorf("failed to encode items for order %s: %w", r.CarrierOrderID, err)
		}

		var createdAt interface{}
		if r.CreatedAt != nil {
			createdAt = r.CreatedAt.UTC()
		}

		rows[i] = []interface{}{
			r.Carrier, r.OrderNumber, r.CarrierOrderID, r.RestaurantID,
			r.CustomerName, r.Disputed, r.DisputeAccepted, r.DisputeAmount,
			items, createdAt, now,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"orders"},
		[]string{"carrier", "order_number", "carrier_order_id", "restaurant_id", "customer_name", "disputed", "dispute_accepted", "dispute_amount", "items", "created_at", "inserted_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy orders: %w", err)
	}
	if int(copyCount) != len(chunk) {
		return fmt.Errorf("mismatch in copied order count: expected %d, got %d", len(chunk), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
