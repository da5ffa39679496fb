package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/channel"
	"github.com/mealmesh/fulfillment/internal/domain"
)

// CustomerClient is the customer-side endpoint. Customers only observe
// their orders and may cancel one that has not resolved yet.
type CustomerClient struct {
	*Client
}

func NewCustomerClient(customerID string, bus channel.Bus, fetcher Fetcher, log *zap.Logger) *CustomerClient {
	return &CustomerClient{
		Client: newClient(domain.RoleCustomer, customerID, bus, fetcher, log),
	}
}

// CancelOrder cancels a non-terminal order with a reason.
func (cc *CustomerClient) CancelOrder(ctx context.Context, orderID, reason string) error {
	return cancelOrder(ctx, cc.Client, orderID, reason)
}
