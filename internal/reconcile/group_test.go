package reconcile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disputehq/disputesync/internal/portal"
)

func errorRecord(uuid, customer string, amount int64, item string) portal.OrderErrorRecord {
	rec := portal.OrderErrorRecord{
		DeliveryUUID:  uuid,
		CustomerName:  customer,
		AmountCharged: amount,
		CreatedAt:     "2026-08-30T12:00:00Z",
	}
	if item != "" {
		rec.ItemAtFault = []struct {
			Name string `json:"name"`
		}{{Name: item}}
	}
	return rec
}

func TestGroupByDeliverySumsChargesAndCollectsItems(t *testing.T) {
	records := []portal.OrderErrorRecord{
		errorRecord("D1", "Jane D.", 500, "Burger"),
		errorRecord("D1", "Jane D.", 300, "Fries"),
		errorRecord("D2", "Sam K.", 250, "Shake"),
	}

	groups := GroupByDelivery(records)
	require.Len(t, groups, 2)

	d1 := groups[0]
	assert.Equal(t, "D1", d1.DeliveryUUID)
	assert.Equal(t, int64(800), d1.TotalAmountCharged)
	require.Len(t, d1.Items, 2)
	assert.Equal(t, "Burger", d1.Items[0].ItemName)
	assert.Equal(t, "Fries", d1.Items[1].ItemName)
	assert.Equal(t, "Jane D", d1.CustomerName, "trailing period is stripped")

	d2 := groups[1]
	assert.Equal(t, int64(250), d2.TotalAmountCharged)
}

func TestGroupByDeliveryOrderIndependentMembership(t *testing.T) {
	records := []portal.OrderErrorRecord{
		errorRecord("D1", "Jane D.", 500, "Burger"),
		errorRecord("D2", "Sam K.", 250, "Shake"),
		errorRecord("D1", "Jane D.", 300, "Fries"),
		errorRecord("D3", "Ann B.", 100, ""),
	}

	totals := func(groups []DeliveryGroup) map[string]int64 {
		out := make(map[string]int64)
		for _, g := range groups {
			out[g.DeliveryUUID] = g.TotalAmountCharged
		}
		return out
	}

	want := totals(GroupByDelivery(records))
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := make([]portal.OrderErrorRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		assert.Equal(t, want, totals(GroupByDelivery(shuffled)))
	}
}

func TestGroupByDeliveryEmitsFirstSeenOrder(t *testing.T) {
	records := []portal.OrderErrorRecord{
		errorRecord("D2", "Sam K.", 1, ""),
		errorRecord("D1", "Jane D.", 1, ""),
		errorRecord("D2", "Sam K.", 1, ""),
	}

	groups := GroupByDelivery(records)
	require.Len(t, groups, 2)
	assert.Equal(t, "D2", groups[0].DeliveryUUID)
	assert.Equal(t, "D1", groups[1].DeliveryUUID)
}

func TestGroupByDeliveryFallbacks(t *testing.T) {
	groups := GroupByDelivery([]portal.OrderErrorRecord{
		errorRecord("D1", "", 100, ""),
	})
	require.Len(t, groups, 1)
	assert.Equal(t, "Unknown", groups[0].CustomerName)
	require.Len(t, groups[0].Items, 1)
	assert.Equal(t, "Unknown", groups[0].Items[0].ItemName)
}

func TestGroupByDeliveryEmptyInput(t *testing.T) {
	assert.Empty(t, GroupByDelivery(nil))
}
