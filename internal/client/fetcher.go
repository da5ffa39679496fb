package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mealmesh/fulfillment/internal/domain"
)

// Fetcher is the pull side of the ledger interface: point reads and the
// per-actor active/historical sets used for cache warm-up and resync.
type Fetcher interface {
	Order(ctx context.Context, id string) (*domain.Order, error)
	ActiveOrders(ctx context.Context) ([]*domain.Order, error)
	HistoricalOrders(ctx context.Context) ([]*domain.Order, error)
}

// HTTPFetcher talks to the reference fetch API with basic auth.
type HTTPFetcher struct {
	BaseURL  string
	Username string
	Password string
	Role     domain.ActorRole
	ActorID  string

	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
}

func (f *HTTPFetcher) client() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (f *HTTPFetcher) Order(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	if err := f.getJSON(ctx, fmt.Sprintf("%s/orders/%s", f.BaseURL, id), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (f *HTTPFetcher) ActiveOrders(ctx context.Context) ([]*domain.Order, error) {
	return f.listOrders(ctx, "active")
}

func (f *HTTPFetcher) HistoricalOrders(ctx context.Context) ([]*domain.Order, error) {
	return f.listOrders(ctx, "history")
}

func (f *HTTPFetcher) listOrders(ctx context.Context, kind string) ([]*domain.Order, error) {
	var orders []*domain.Order
	url := fmt.Sprintf("%s/actors/%s/%s/orders/%s", f.BaseURL, f.Role, f.ActorID, kind)
	if err := f.getJSON(ctx, url, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (f *HTTPFetcher) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(f.Username, f.Password)

	resp, err := f.client().Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.ErrObjectNotFound
	default:
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
