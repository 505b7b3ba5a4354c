// Package runner drives a full harvest pass for one platform: resolve
// credentials, replay the portal's order listings, snapshot the raw
// payloads, and reconcile against the order store.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/config"
	"github.com/disputehq/disputesync/internal/creds"
	"github.com/disputehq/disputesync/internal/portal"
	"github.com/disputehq/disputesync/internal/reconcile"
	"github.com/disputehq/disputesync/internal/store"
)

// Directory resolves which restaurants and accounts this run covers.
type Directory interface {
	UberEatsRestaurantIDs(ctx context.Context) ([]string, error)
	DoorDashAccounts(ctx context.Context) ([]store.DoorDashAccount, error)
}

// UberEatsPortal pages the UberEats listing for one restaurant.
type UberEatsPortal interface {
	FetchOrders(ctx context.Context, bundle *creds.Bundle, restaurantUUID, startDate, endDate string) ([]portal.UberOrderRow, error)
}

// DoorDashPortal pages the DoorDash error breakdown for one store.
type DoorDashPortal interface {
	FetchOrderErrors(ctx context.Context, bundle *creds.Bundle, storeID, startDate, endDate string) ([]portal.OrderErrorRecord, error)
}

// Reconciler applies fetched records to the order store.
type Reconciler interface {
	ReconcileUberEats(ctx context.Context, rows []portal.UberOrderRow) reconcile.Stats
	ReconcileDoorDash(ctx context.Context, bundle *creds.Bundle, storeID, restaurantID string, records []portal.OrderErrorRecord) reconcile.Stats
}

// Snapshotter persists raw fetched payloads.
type Snapshotter interface {
	WriteUberEats(restaurantID string, rows []portal.UberOrderRow) error
	WriteDoorDash(storeID string, records []portal.OrderErrorRecord) error
}

// Runner sequences one harvest pass. Scopes run sequentially; a failed
// scope is counted and the pass moves on.
type Runner struct {
	cfg       *config.Config
	sessions  SessionSource
	directory Directory
	uber      UberEatsPortal
	doordash  DoorDashPortal
	rec       Reconciler
	snapshots Snapshotter
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a runner from its collaborators.
func New(cfg *config.Config, sessions SessionSource, directory Directory, uber UberEatsPortal, doordash DoorDashPortal, rec Reconciler, snapshots Snapshotter, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		sessions:  sessions,
		directory: directory,
		uber:      uber,
		doordash:  doordash,
		rec:       rec,
		snapshots: snapshots,
		logger:    logger.Named("runner"),
		now:       time.Now,
	}
}

func (r *Runner) dateRange(lookbackDays int) (string, string) {
	end := r.now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

// RunUberEats harvests every configured UberEats restaurant under the
// single portal account. Returns an error only when the run cannot start
// at all; per-restaurant failures are counted in the summary.
func (r *Runner) RunUberEats(ctx context.Context) error {
	restaurants, err := r.directory.UberEatsRestaurantIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ubereats restaurants: %w", err)
	}
	if len(restaurants) == 0 {
		r.logger.Warn("No UberEats restaurants configured, nothing to do")
		return nil
	}

	bundle, err := r.sessions.UberEatsBundle(ctx)
	if err != nil {
		return fmt.Errorf("ubereats login failed: %w", err)
	}

	runID := uuid.New().String()
	startDate, endDate := r.dateRange(r.cfg.Platforms.UberEats.LookbackDays)
	r.logger.Info("Starting UberEats harvest",
		zap.String("run_id", runID),
		zap.Int("restaurants", len(restaurants)),
		zap.String("start", startDate), zap.String("end", endDate))

	var stats reconcile.Stats
	for _, restaurantID := range restaurants {
		rows, err := r.uber.FetchOrders(ctx, bundle, restaurantID, startDate, endDate)
		if err != nil {
			// Partial pages still reconcile; the failed remainder is counted.
			r.logger.Warn("UberEats fetch incomplete",
				zap.String("restaurant", restaurantID), zap.Error(err))
			stats.Errors++
		}
		if len(rows) == 0 {
			continue
		}

		if err := r.snapshots.WriteUberEats(restaurantID, rows); err != nil {
			r.logger.Warn("Snapshot failed", zap.String("restaurant", restaurantID), zap.Error(err))
		}

		stats.Add(r.rec.ReconcileUberEats(ctx, rows))
	}

	r.summarize("ubereats", stats)
	return nil
}

// RunDoorDash harvests every configured DoorDash store, grouping stores by
// login email so one session covers all the stores that account can see. A
// failed login skips that email's whole group; the first group's login
// failure aborts the run since no work can proceed without it.
func (r *Runner) RunDoorDash(ctx context.Context) error {
	accounts, err := r.directory.DoorDashAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list doordash accounts: %w", err)
	}
	if len(accounts) == 0 {
		r.logger.Warn("No DoorDash stores configured, nothing to do")
		return nil
	}

	runID := uuid.New().String()
	emails, grouped := store.GroupDoorDashAccountsByEmail(accounts)
	startDate, endDate := r.dateRange(r.cfg.Platforms.DoorDash.LookbackDays)
	r.logger.Info("Starting DoorDash harvest",
		zap.String("run_id", runID),
		zap.Int("accounts", len(emails)), zap.Int("stores", len(accounts)),
		zap.String("start", startDate), zap.String("end", endDate))

	var stats reconcile.Stats
	for i, email := range emails {
		bundle, err := r.sessions.DoorDashBundle(ctx, email)
		if err != nil {
			if i == 0 {
				return fmt.Errorf("doordash login failed for %s: %w", email, err)
			}
			r.logger.Error("DoorDash login failed, skipping account",
				zap.String("email", email), zap.Error(err))
			stats.Errors++
			continue
		}

		for _, account := range grouped[email] {
			stats.Add(r.runDoorDashStore(ctx, bundle, account, startDate, endDate))
		}
	}

	r.summarize("doordash", stats)
	return nil
}

func (r *Runner) runDoorDashStore(ctx context.Context, bundle *creds.Bundle, account store.DoorDashAccount, startDate, endDate string) reconcile.Stats {
	var stats reconcile.Stats

	records, err := r.doordash.FetchOrderErrors(ctx, bundle, account.StoreID, startDate, endDate)
	if err != nil {
		r.logger.Warn("DoorDash fetch incomplete",
			zap.String("store_id", account.StoreID), zap.Error(err))
		stats.Errors++
	}
	if len(records) == 0 {
		return stats
	}

	if err := r.snapshots.WriteDoorDash(account.StoreID, records); err != nil {
		r.logger.Warn("Snapshot failed", zap.String("store_id", account.StoreID), zap.Error(err))
	}

	stats.Add(r.rec.ReconcileDoorDash(ctx, bundle, account.StoreID, account.RestaurantID, records))
	return stats
}

func (r *Runner) summarize(platform string, stats reconcile.Stats) {
	r.logger.Info("Harvest complete",
		zap.String("platform", platform),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors))
}
