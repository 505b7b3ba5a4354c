// Package snapshot persists the raw order payloads fetched from a platform
// so a run can be audited or replayed without touching the portal again.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/portal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer drops one JSON file per fetch run into a snapshot directory.
// Failures are logged and reported, never fatal to the run.
type Writer struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter builds a snapshot writer rooted at dir.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	return &Writer{
		dir:    dir,
		logger: logger.Named("snapshot"),
		now:    time.Now,
	}
}

type uberEnvelope struct {
	Data struct {
		OrdersV2 struct {
			Rows []portal.UberOrderRow `json:"rows"`
		} `json:"ordersV2"`
	} `json:"data"`
}

type doorDashEnvelope struct {
	OrderErrorsList []portal.OrderErrorRecord `json:"orderErrorsList"`
}

// WriteUberEats snapshots one restaurant's fetched order rows.
func (w *Writer) WriteUberEats(restaurantID string, rows []portal.UberOrderRow) error {
	var envelope uberEnvelope
	envelope.Data.OrdersV2.Rows = rows
	return w.write("ubereats", restaurantID, envelope)
}

// WriteDoorDash snapshots one store's fetched error records.
func (w *Writer) WriteDoorDash(storeID string, records []portal.OrderErrorRecord) error {
	return w.write("doordash", storeID, doorDashEnvelope{OrderErrorsList: records})
}

func (w *Writer) write(platform, scope string, payload interface{}) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger.Warn("Failed to create snapshot directory", zap.String("dir", w.dir), zap.Error(err))
		return err
	}

	name := fmt.Sprintf("%s_orders_%s_%s.json", platform, sanitize(scope), timestamp(w.now()))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		w.logger.Warn("Failed to encode snapshot", zap.String("file", name), zap.Error(err))
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.logger.Warn("Failed to write snapshot", zap.String("file", name), zap.Error(err))
		return err
	}

	w.logger.Info("Wrote snapshot", zap.String("file", path))
	return nil
}

// timestamp renders an ISO-8601 instant with the characters that are
// unsafe in filenames replaced.
func timestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	s = strings.ReplaceAll(s, ":", "-")
	return strings.ReplaceAll(s, ".", "-")
}

func sanitize(scope string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, scope)
}
