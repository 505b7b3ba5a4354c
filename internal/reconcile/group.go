package reconcile

import (
	"strings"

	"github.com/disputehq/disputesync/internal/portal"
)

// DeliveryGroup aggregates the error rows sharing one delivery identifier:
// charged amounts are summed and item names collected. One detail lookup is
// made per group, not per row.
type DeliveryGroup struct {
	DeliveryUUID       string
	CustomerName       string
	TotalAmountCharged int64 // minor currency units
	Items              []portal.OrderItem
	CreatedAt          string
}

// GroupByDelivery buckets error rows by delivery identifier. Membership and
// summed amounts are independent of input order; groups are emitted in
// first-seen order.
func GroupByDelivery(records []portal.OrderErrorRecord) []DeliveryGroup {
	index := make(map[string]int, len(records))
	groups := make([]DeliveryGroup, 0, len(records))

	for _, rec := range records {
		i, ok := index[rec.DeliveryUUID]
		if !ok {
			i = len(groups)
			index[rec.DeliveryUUID] = i
			groups = append(groups, DeliveryGroup{
				DeliveryUUID: rec.DeliveryUUID,
				CustomerName: cleanCustomerName(rec.CustomerName),
				CreatedAt:    rec.CreatedAt,
			})
		}

		groups[i].TotalAmountCharged += rec.AmountCharged
		groups[i].Items = append(groups[i].Items, portal.OrderItem{
			ItemName:      faultItemName(rec),
			AmountCharged: rec.AmountCharged,
		})
	}
	return groups
}

// cleanCustomerName strips the trailing period the portal appends to
// abbreviated last names.
func cleanCustomerName(name string) string {
	if name == "" {
		return "Unknown"
	}
	return strings.TrimSuffix(name, ".")
}

func faultItemName(rec portal.OrderErrorRecord) string {
	if len(rec.ItemAtFault) > 0 && rec.ItemAtFault[0].Name != "" {
		return rec.ItemAtFault[0].Name
	}
	return "Unknown"
}
