package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/creds"
)

const uberEatsGraphQLURL = "https://merchants.ubereats.com/manager/graphql"

// Track identifies one independently paginated sub-listing of the orders
// result set. Cursors are track-local: a cursor from one track must never be
// fed into the other.
type Track string

const (
	TrackLive    Track = "liveOrders"
	TrackHistory Track = "historyOrders"
)

// uberEatsTracks is the drain order; results are concatenated in this order.
var uberEatsTracks = []Track{TrackLive, TrackHistory}

// orderIssueFilters selects the dispute-relevant order issues.
var orderIssueFilters = []string{
	"ORDER_ACCURACY_ISSUE", "MISSING_CUSTOMIZATIONS", "WRONG_CUSTOMIZATIONS",
	"MISSING_ITEMS", "WRONG_ORDER", "WRONG_ITEMS", "ORDER_WITH_FTQ",
	"TASTE_QUALITY_ISSUES",
}

// ordersV2Query is the portal's own query document, captured from the web
// app. The shape is expected to drift with portal releases.
const ordersV2Query = `fragment Orders_LastMessageFragment on Orders_LastMessage {
  sender
  content
  promoAmount
  promoCurrency
  __typename
}

fragment OrdersV2_OrderV2RowFragment on Orders_OrderBreakdownRow {
  orderId
  workflowUuid
  currencyCode
  restaurant {
    uuid
    name
    countryCode
    __typename
  }
  eater {
    uuid
    name
    __typename
  }
  orderTag
  orderChannel
  fulfillmentType
  chargebackTotal
  salesTotal
  requestedAt
  netPayout
  lastMessage {
    ...Orders_LastMessageFragment
    __typename
  }
  canceledBy
  missedBy
  orderUuid
  possibleChargebackAmount
  possibleChargebackAmountFormatted
  courierName
  deliveryTimeLocal
  issueType
  itemIssueType
  customizationIssueType
  __typename
}

query ordersV2($filters: Orders_OrdersFiltersInput!, $pagination: Orders_OrdersPaginationInput, $shouldEnableChargebackComms: Boolean) {
  ordersV2(
    filters: $filters
    pagination: $pagination
    shouldEnableChargebackComms: $shouldEnableChargebackComms
  ) {
    rows {
      ...OrdersV2_OrderV2RowFragment
      __typename
    }
    lastUpdatedAtUtc
    isUserAuthorizedToDispute
    paginationResult {
      nextCursor
      nextTable
      __typename
    }
    ordersCount
    __typename
  }
}
`

// UberOrderRow is one order as returned by the ordersV2 listing.
type UberOrderRow struct {
	OrderID      string `json:"orderId"`
	WorkflowUUID string `json:"workflowUuid"`
	CurrencyCode string `json:"currencyCode"`
	Restaurant   struct {
		UUID string `json:"uuid"`
		Name string `json:"name"`
	} `json:"restaurant"`
	Eater struct {
		Name string `json:"name"`
	} `json:"eater"`
	OrderTag                          string `json:"orderTag"`
	ChargebackTotal                   string `json:"chargebackTotal"`
	RequestedAt                       string `json:"requestedAt"`
	PossibleChargebackAmountFormatted string `json:"possibleChargebackAmountFormatted"`
}

// DisputeAccepted reports whether the portal marked the dispute as won.
func (r UberOrderRow) DisputeAccepted() bool {
	return r.OrderTag == "DISPUTE_ACCEPTED"
}

type uberPagination struct {
	Limit     int    `json:"limit"`
	NextTable string `json:"nextTable"`
	Cursor    string `json:"cursor,omitempty"`
}

type uberOrdersVariables struct {
	Filters struct {
		DateRange struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"dateRange"`
		OrderIssues         []string `json:"orderIssues"`
		OrderIssuesV2       []string `json:"orderIssuesV2"`
		OrderStatusFilter   []string `json:"orderStatusFilter"`
		Search              string   `json:"search"`
		LocationConstraints struct {
			Cities        []string `json:"cities"`
			Countries     []string `json:"countries"`
			LocationUUIDs []string `json:"locationUUIDs"`
		} `json:"locationConstraints"`
		DisplayCurrencyCode string `json:"displayCurrencyCode"`
		CurrentTab          string `json:"currentTab"`
	} `json:"filters"`
	Pagination                  uberPagination `json:"pagination"`
	ShouldEnableChargebackComms bool           `json:"shouldEnableChargebackComms"`
}

type uberOrdersEnvelope struct {
	Data struct {
		OrdersV2 struct {
			Rows             []UberOrderRow `json:"rows"`
			PaginationResult struct {
				NextCursor string `json:"nextCursor"`
				NextTable  string `json:"nextTable"`
			} `json:"paginationResult"`
		} `json:"ordersV2"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// BuildUberEatsOrdersRequest reconstructs one ordersV2 page request from the
// credential bundle and the track cursor. Pure; unit-testable offline.
func BuildUberEatsOrdersRequest(bundle *creds.Bundle, restaurantUUID, startDate, endDate string, track Track, cursor string, limit int) (Request, error) {
	if err := bundle.Validate(); err != nil {
		return Request{}, err
	}

	vars := uberOrdersVariables{ShouldEnableChargebackComms: true}
	vars.Filters.DateRange.Start = startDate
	vars.Filters.DateRange.End = endDate
	vars.Filters.OrderIssues = []string{}
	vars.Filters.OrderIssuesV2 = orderIssueFilters
	vars.Filters.OrderStatusFilter = []string{}
	vars.Filters.LocationConstraints.Cities = []string{}
	vars.Filters.LocationConstraints.Countries = []string{}
	vars.Filters.LocationConstraints.LocationUUIDs = []string{restaurantUUID}
	vars.Filters.DisplayCurrencyCode = "USD"
	vars.Filters.CurrentTab = string(track)
	vars.Pagination = uberPagination{Limit: limit, NextTable: string(track), Cursor: cursor}

	body, err := json.Marshal(map[string]interface{}{
		"query":     ordersV2Query,
		"variables": vars,
	})
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode ordersV2 body: %w", err)
	}

	referer := fmt.Sprintf(
		"https://merchants.ubereats.com/manager/orders?restaurantUUID=%s&orderIssuesV2=%s",
		restaurantUUID, url.QueryEscape(strings.Join(orderIssueFilters, ",")))

	headers := finalizeHeaders(bundle.Headers, map[string]string{
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Content-Type":    "application/json",
		"Origin":          "https://merchants.ubereats.com",
		"Referer":         referer,
		"User-Agent":      userAgent,
		"X-Csrf-Token":    bundle.Token(creds.TokenCSRF),
	}, bundle.CookieHeader())

	return Request{
		Method:  "POST",
		URL:     uberEatsGraphQLURL,
		Headers: headers,
		Body:    body,
	}, nil
}

// UberEatsClient pages the ordersV2 listing for one restaurant.
type UberEatsClient struct {
	client *Client
	limit  int
	logger *zap.Logger
}

// NewUberEatsClient wraps client with the configured page limit.
func NewUberEatsClient(client *Client, limit int) *UberEatsClient {
	return &UberEatsClient{client: client, limit: limit, logger: client.logger.Named("ubereats")}
}

// FetchOrders drains both pagination tracks for the restaurant and returns
// their concatenated rows, live track first. A failed track keeps its
// partial results and does not abort the sibling track; the first failure is
// returned alongside whatever was collected.
func (u *UberEatsClient) FetchOrders(ctx context.Context, bundle *creds.Bundle, restaurantUUID, startDate, endDate string) ([]UberOrderRow, error) {
	var all []UberOrderRow
	var trackErrs []error

	for _, track := range uberEatsTracks {
		rows, err := u.fetchTrack(ctx, bundle, restaurantUUID, startDate, endDate, track)
		all = append(all, rows...)
		if err != nil {
			u.logger.Warn("Track pagination aborted, keeping partial results",
				zap.String("track", string(track)),
				zap.Int("collected", len(rows)),
				zap.Error(err))
			trackErrs = append(trackErrs, err)
		}
	}
	return all, errors.Join(trackErrs...)
}

// fetchTrack walks one track until the server omits a next cursor.
func (u *UberEatsClient) fetchTrack(ctx context.Context, bundle *creds.Bundle, restaurantUUID, startDate, endDate string, track Track) ([]UberOrderRow, error) {
	var rows []UberOrderRow
	cursor := ""
	pageNum := 1

	for {
		if err := u.client.pace(ctx); err != nil {
			return rows, err
		}

		req, err := BuildUberEatsOrdersRequest(bundle, restaurantUUID, startDate, endDate, track, cursor, u.limit)
		if err != nil {
			return rows, err
		}

		body, err := u.client.Do(ctx, req)
		if err != nil {
			return rows, err
		}

		var envelope uberOrdersEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return rows, fmt.Errorf("%w: malformed ordersV2 response: %v", ErrPageFetchFailed, err)
		}
		if len(envelope.Errors) > 0 {
			return rows, fmt.Errorf("%w: %s", ErrPageFetchFailed, envelope.Errors[0].Message)
		}

		page := envelope.Data.OrdersV2.Rows
		rows = append(rows, page...)
		u.logger.Debug("Fetched orders page",
			zap.String("track", string(track)),
			zap.Int("page", pageNum),
			zap.Int("rows", len(page)),
			zap.Int("total", len(rows)))

		cursor = envelope.Data.OrdersV2.PaginationResult.NextCursor
		if cursor == "" {
			return rows, nil
		}
		pageNum++
	}
}
