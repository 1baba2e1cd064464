package repository

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/exception"
)

// openStatuses are the order states still eligible for fills or cancellation.
var openStatuses = []enum.OrderStatus{
	enum.OrderStatusPending,
	enum.OrderStatusOpen,
	enum.OrderStatusPartiallyFilled,
}

// Store is the gorm-backed ledger shared by the order engine, position
// manager and reconciler. Each consumer depends only on its own interface
// slice; Store satisfies all of them.
//
// Requires a gorm.Config with TranslateError enabled so unique-index
// violations surface as gorm.ErrDuplicatedKey.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate creates or updates the ledger tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&model.Order{},
		&model.Fill{},
		&model.Position{},
		&model.DiscrepancyRecord{},
	)
}

// CreateOrder inserts the pending row before the exchange sees the order.
func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return errors.Wrap(err, "insert order").With("id", o.ID)
	}
	return nil
}

// UpdateOrder saves the full row.
func (s *Store) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := s.db.WithContext(ctx).Save(o).Error; err != nil {
		return errors.Wrap(err, "update order").With("id", o.ID)
	}
	return nil
}

// GetOrder fetches one order by local id.
func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query order").With("id", id)
	}
	return &o, nil
}

// GetOrderByExchangeID fetches one order by the exchange-assigned id.
func (s *Store) GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).First(&o, "exchange_order_id = ?", exchangeOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query order").With("exchangeOrderId", exchangeOrderID)
	}
	return &o, nil
}

// ListUserOrders returns every order for the user, newest first.
func (s *Store) ListUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	var rows []model.Order
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list user orders").With("user", userID)
	}
	return rows, nil
}

// ListOpenOrders returns the user's non-terminal orders.
func (s *Store) ListOpenOrders(ctx context.Context, userID string) ([]model.Order, error) {
	var rows []model.Order
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, openStatuses).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list open orders").With("user", userID)
	}
	return rows, nil
}

// CreateFill appends one execution record. The unique index on trade_id makes
// redelivered fills surface as exception.ErrFillDuplicate.
func (s *Store) CreateFill(ctx context.Context, f *model.Fill) error {
	err := s.db.WithContext(ctx).Create(f).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return exception.ErrFillDuplicate
	}
	if err != nil {
		return errors.Wrap(err, "insert fill").With("tradeId", f.TradeID)
	}
	return nil
}

// ListOrderFills returns the order's fills in execution order.
func (s *Store) ListOrderFills(ctx context.Context, orderID string) ([]model.Fill, error) {
	var rows []model.Fill
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list order fills").With("order", orderID)
	}
	return rows, nil
}

// ListOpenPositions returns the user's open position rows.
func (s *Store) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var rows []model.Position
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND closed_at IS NULL", userID).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list open positions").With("user", userID)
	}
	return rows, nil
}

// GetOpenPosition fetches the single open row for (userID, symbol).
func (s *Store) GetOpenPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	var p model.Position
	err := s.db.WithContext(ctx).
		First(&p, "user_id = ? AND symbol = ? AND closed_at IS NULL", userID, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query open position").With("symbol", symbol)
	}
	return &p, nil
}

// UpsertOpenPosition refreshes the open row for (userID, symbol), creating it
// when none exists. Keeps the one-open-row invariant without a partial index.
func (s *Store) UpsertOpenPosition(ctx context.Context, p *model.Position) error {
	var existing model.Position
	err := s.db.WithContext(ctx).
		First(&existing, "user_id = ? AND symbol = ? AND closed_at IS NULL", p.UserID, p.Symbol).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
			return errors.Wrap(err, "insert position").With("symbol", p.Symbol)
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "query open position").With("symbol", p.Symbol)
	default:
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
			return errors.Wrap(err, "update position").With("symbol", p.Symbol)
		}
		return nil
	}
}

// CloseOpenPosition stamps the open row closed. No-op when none exists.
func (s *Store) CloseOpenPosition(ctx context.Context, userID, symbol string) error {
	err := s.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("user_id = ? AND symbol = ? AND closed_at IS NULL", userID, symbol).
		Update("closed_at", time.Now()).Error
	if err != nil {
		return errors.Wrap(err, "close position").With("symbol", symbol)
	}
	return nil
}

// CreateDiscrepancy appends one audit row.
func (s *Store) CreateDiscrepancy(ctx context.Context, r *model.DiscrepancyRecord) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return errors.Wrap(err, "insert discrepancy").With("check", r.CheckType)
	}
	return nil
}
