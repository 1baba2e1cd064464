package order

import (
	"context"

	"main/internal/model"
)

// Store is the order-ledger persistence capability the engine consumes.
// Implementations must return exception.ErrOrderNotFound for missing orders
// and exception.ErrFillDuplicate for a trade id that is already recorded.
type Store interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	UpdateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*model.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]model.Order, error)
	ListOpenOrders(ctx context.Context, userID string) ([]model.Order, error)

	CreateFill(ctx context.Context, f *model.Fill) error
	ListOrderFills(ctx context.Context, orderID string) ([]model.Fill, error)
}
