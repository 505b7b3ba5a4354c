package portal

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/creds"
)

const (
	doorDashBreakdownURL = "https://merchant-portal.doordash.com/merchant-analytics-service/api/v1/operations_quality/metric_breakdown"
	doorDashDetailURL    = "https://merchant-portal.doordash.com/merchant-analytics-service/api/v1/orders_details/"
	doorDashRefererFmt   = "https://merchant-portal.doordash.com/merchant/operations-quality?store_id=%s"
)

// OrderErrorRecord is one disputed line-item from the metric breakdown
// endpoint. Multiple records can share a delivery identifier; they are
// grouped before detail lookup.
type OrderErrorRecord struct {
	DeliveryUUID  string `json:"deliveryUuid"`
	CustomerName  string `json:"customerName"`
	AmountCharged int64  `json:"amountCharged"` // minor currency units
	CreatedAt     string `json:"createdAt"`
	ItemAtFault   []struct {
		Name string `json:"name"`
	} `json:"itemAtFault"`
}

// OrderItem is one line item of an order.
type OrderItem struct {
	ItemName      string `json:"itemName"`
	AmountCharged int64  `json:"amountCharged"`
}

// OrderDetailRecord refines the error rows sharing one delivery id.
// A positive refund amount means the dispute was accepted; the error-charge
// amount is the chargeback total in minor units.
type OrderDetailRecord struct {
	Refunds struct {
		UnitAmount int64 `json:"unitAmount"`
	} `json:"refunds"`
	ErrorCharges struct {
		UnitAmount int64 `json:"unitAmount"`
	} `json:"errorCharges"`
	Items []OrderItem `json:"items"`
}

type doorDashBreakdownBody struct {
	MetricType             string  `json:"metricType"`
	StartDate              string  `json:"startDate"`
	EndDate                string  `json:"endDate"`
	IncludeCategoriesCount bool    `json:"includeCategoriesCount"`
	Limit                  int     `json:"limit"`
	TimeFilterGranularity  int     `json:"timeFilterGranularity"`
	BusinessIDs            []int64 `json:"businessIds"`
	StoreIDs               []int64 `json:"storeIds"`
	Offset                 int     `json:"offset"`
}

type doorDashBreakdownEnvelope struct {
	OrderErrorsList []OrderErrorRecord `json:"orderErrorsList"`
	Error           interface{}        `json:"error"`
}

type doorDashDetailEnvelope struct {
	Data  *OrderDetailRecord `json:"data"`
	Error interface{}        `json:"error"`
}

// doorDashBaseHeaders is the hand-built fallback when no live request was
// captured, mirroring what the web app sends.
func doorDashBaseHeaders(bundle *creds.Bundle) map[string]string {
	if len(bundle.Headers) > 0 {
		return bundle.Headers
	}
	return map[string]string{
		"accept":          "application/json",
		"accept-language": "en-US",
		"client-version":  "web version 2.0",
		"content-type":    "application/json",
		"dd-att-key":      bundle.Token(creds.TokenAttKey),
		"origin":          "https://merchant-portal.doordash.com",
		"origin-app":      "merchant_portal",
		"user-agent":      userAgent,
	}
}

// BuildDoorDashBreakdownRequest reconstructs one metric_breakdown page
// request. Pure; unit-testable offline.
func BuildDoorDashBreakdownRequest(bundle *creds.Bundle, storeID, startDate, endDate string, offset, limit int) (Request, error) {
	if err := bundle.Validate(); err != nil {
		return Request{}, err
	}
	storeNum, err := strconv.ParseInt(storeID, 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("store id %q is not numeric: %w", storeID, err)
	}

	body, err := json.Marshal(doorDashBreakdownBody{
		MetricType:             "ORDER_ERRORS",
		StartDate:              startDate,
		EndDate:                endDate,
		IncludeCategoriesCount: true,
		Limit:                  limit,
		TimeFilterGranularity:  4,
		BusinessIDs:            []int64{},
		StoreIDs:               []int64{storeNum},
		Offset:                 offset,
	})
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode breakdown body: %w", err)
	}

	headers := finalizeHeaders(doorDashBaseHeaders(bundle), map[string]string{
		"Referer":      fmt.Sprintf(doorDashRefererFmt, storeID),
		"Content-Type": "application/json",
	}, bundle.CookieHeader())

	return Request{Method: "POST", URL: doorDashBreakdownURL, Headers: headers, Body: body}, nil
}

// BuildDoorDashDetailRequest reconstructs the per-delivery detail request.
func BuildDoorDashDetailRequest(bundle *creds.Bundle, storeID, deliveryUUID string) (Request, error) {
	if err := bundle.Validate(); err != nil {
		return Request{}, err
	}
	storeNum, err := strconv.ParseInt(storeID, 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("store id %q is not numeric: %w", storeID, err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"country":      "US",
		"storeId":      storeNum,
		"deliveryUuid": deliveryUUID,
	})
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode detail body: %w", err)
	}

	headers := finalizeHeaders(doorDashBaseHeaders(bundle), map[string]string{
		"Referer":      fmt.Sprintf(doorDashRefererFmt, storeID),
		"Content-Type": "application/json",
	}, bundle.CookieHeader())

	return Request{Method: "POST", URL: doorDashDetailURL, Headers: headers, Body: body}, nil
}

// DoorDashClient pages the order errors listing for one store.
type DoorDashClient struct {
	client *Client
	limit  int
	logger *zap.Logger
}

// NewDoorDashClient wraps client with the configured page limit.
func NewDoorDashClient(client *Client, limit int) *DoorDashClient {
	return &DoorDashClient{client: client, limit: limit, logger: client.logger.Named("doordash")}
}

// FetchOrderErrors walks the offset-paginated breakdown listing until a page
// returns fewer records than the requested limit. A failed page keeps the
// records already collected and returns the failure.
func (d *DoorDashClient) FetchOrderErrors(ctx context.Context, bundle *creds.Bundle, storeID, startDate, endDate string) ([]OrderErrorRecord, error) {
	var all []OrderErrorRecord
	offset := 0
	pageNum := 1

	for {
		if err := d.client.pace(ctx); err != nil {
			return all, err
		}

		req, err := BuildDoorDashBreakdownRequest(bundle, storeID, startDate, endDate, offset, d.limit)
		if err != nil {
			return all, err
		}

		body, err := d.client.Do(ctx, req)
		if err != nil {
			return all, err
		}

		var envelope doorDashBreakdownEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return all, fmt.Errorf("%w: malformed breakdown response: %v", ErrPageFetchFailed, err)
		}
		if envelope.Error != nil {
			return all, fmt.Errorf("%w: %v", ErrPageFetchFailed, envelope.Error)
		}

		page := envelope.OrderErrorsList
		all = append(all, page...)
		d.logger.Debug("Fetched order errors page",
			zap.Int("page", pageNum),
			zap.Int("offset", offset),
			zap.Int("rows", len(page)),
			zap.Int("total", len(all)))

		// Offset-style exhaustion: a short page means there is no next one.
		if len(page) < d.limit {
			return all, nil
		}
		offset += d.limit
		pageNum++
	}
}

// FetchOrderDetail fetches the detail record for one delivery.
func (d *DoorDashClient) FetchOrderDetail(ctx context.Context, bundle *creds.Bundle, storeID, deliveryUUID string) (*OrderDetailRecord, error) {
	req, err := BuildDoorDashDetailRequest(bundle, storeID, deliveryUUID)
	if err != nil {
		return nil, err
	}

	body, err := d.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var envelope doorDashDetailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed detail response: %v", ErrPageFetchFailed, err)
	}
	if envelope.Error != nil || envelope.Data == nil {
		return nil, fmt.Errorf("%w: detail lookup for %s returned no data", ErrPageFetchFailed, deliveryUUID)
	}
	return envelope.Data, nil
}
