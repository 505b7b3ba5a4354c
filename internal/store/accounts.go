package store

import (
	"context"
	"fmt"
)

// DoorDashAccount maps one merchant store to the restaurant it belongs to
// and the portal login that can see it.
type DoorDashAccount struct {
	StoreID      string
	BusinessID   string
	RestaurantID string
	Email        string
}

// UberEatsRestaurantIDs returns the restaurant ids configured for UberEats
// harvesting.
func (s *Store) UberEatsRestaurantIDs(ctx context.Context) ([]string, error) {
	query := `
        SELECT restaurant_id, uber_eats_restaurant_id
        FROM platform_accounts
        WHERE carrier = 'ubereats' AND enabled = TRUE
        ORDER BY restaurant_id ASC;
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ubereats accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var restaurantID, uberID string
		if err := rows.Scan(&restaurantID, &uberID); err != nil {
			return nil, fmt.Errorf("failed to scan ubereats account row: %w", err)
		}
		ids = append(ids, uberID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return ids, nil
}

// DoorDashAccounts returns every configured DoorDash store mapping. Callers
// group the result by login email so each portal session is reused across
// the stores that share it.
func (s *Store) DoorDashAccounts(ctx context.Context) ([]DoorDashAccount, error) {
	query := `
        SELECT store_id, business_id, restaurant_id, login_email
        FROM platform_accounts
        WHERE carrier = 'doordash' AND enabled = TRUE
        ORDER BY login_email ASC, store_id ASC;
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query doordash accounts: %w", err)
	}
	defer rows.Close()

	var accounts []DoorDashAccount
	for rows.Next() {
		var a DoorDashAccount
		if err := rows.Scan(&a.StoreID, &a.BusinessID, &a.RestaurantID, &a.Email); err != nil {
			return nil, fmt.Errorf("failed to scan doordash account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return accounts, nil
}

// GroupDoorDashAccountsByEmail buckets store mappings by login email,
// preserving the query's email ordering.
func GroupDoorDashAccountsByEmail(accounts []DoorDashAccount) ([]string, map[string][]DoorDashAccount) {
	var emails []string
	grouped := make(map[string][]DoorDashAccount)
	for _, a := range accounts {
		if _, ok := grouped[a.Email]; !ok {
			emails = append(emails, a.Email)
		}
		grouped[a.Email] = append(grouped[a.Email], a)
	}
	return emails, grouped
}
