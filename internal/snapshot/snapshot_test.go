package snapshot

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/portal"
)

func TestWriteUberEatsEnvelope(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zap.NewNop())
	w.now = func() time.Time {
		return time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	}

	rows := []portal.UberOrderRow{{OrderID: "order-1", OrderTag: "DISPUTE_ACCEPTED"}}
	require.NoError(t, w.WriteUberEats("rest-uuid", rows))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ubereats_orders_rest-uuid_2026-09-01T10-30-00-000Z.json", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	// The file mirrors the source API envelope.
	var decoded struct {
		Data struct {
			OrdersV2 struct {
				Rows []portal.UberOrderRow `json:"rows"`
			} `json:"ordersV2"`
		} `json:"data"`
	}
	require.NoError(t, jsoniter.Unmarshal(data, &decoded))
	require.Len(t, decoded.Data.OrdersV2.Rows, 1)
	assert.Equal(t, "order-1", decoded.Data.OrdersV2.Rows[0].OrderID)
}

func TestWriteDoorDashEnvelope(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zap.NewNop())

	records := []portal.OrderErrorRecord{{DeliveryUUID: "D1", AmountCharged: 268}}
	require.NoError(t, w.WriteDoorDash("4242", records))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var decoded struct {
		OrderErrorsList []portal.OrderErrorRecord `json:"orderErrorsList"`
	}
	require.NoError(t, jsoniter.Unmarshal(data, &decoded))
	require.Len(t, decoded.OrderErrorsList, 1)
	assert.Equal(t, "D1", decoded.OrderErrorsList[0].DeliveryUUID)
}

func TestFilenameHasNoUnsafeCharacters(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zap.NewNop())

	require.NoError(t, w.WriteDoorDash("store/1:2", nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, regexp.MustCompile(`^doordash_orders_store-1-2_[0-9T\-Z]+\.json$`), entries[0].Name())
}

func TestWriteFailureIsReportedNotFatal(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail.
	base := t.TempDir()
	blocked := filepath.Join(base, "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	w := NewWriter(blocked, zap.NewNop())
	assert.Error(t, w.WriteDoorDash("4242", nil))
}
