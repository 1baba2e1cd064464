package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Order is the local ledger row for an order submitted to the exchange.
//
// Invariant: FilledSize + RemainingSize() == Size at all times, and
// FilledSize never decreases. Only the order execution engine writes rows.
type Order struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	ExchangeOrderID string           `gorm:"index;size:64" json:"exchangeOrderId"`
	UserID          string           `gorm:"index:idx_orders_user;size:64" json:"userId"`
	Symbol          string           `gorm:"index;size:32" json:"symbol"`
	Side            enum.OrderSide   `gorm:"size:8" json:"side"`
	Type            enum.OrderType   `gorm:"size:8" json:"type"`
	Price           decimal.Decimal  `gorm:"type:numeric(32,12)" json:"price"`
	Size            decimal.Decimal  `gorm:"type:numeric(32,12)" json:"size"`
	FilledSize      decimal.Decimal  `gorm:"type:numeric(32,12)" json:"filledSize"`
	AvgFillPrice    decimal.Decimal  `gorm:"type:numeric(32,12)" json:"averageFillPrice"`
	Status          enum.OrderStatus `gorm:"index:idx_orders_user;size:20" json:"status"`
	TimeInForce     enum.TimeInForce `gorm:"size:8" json:"timeInForce"`
	ReduceOnly      bool             `json:"reduceOnly"`
	PostOnly        bool             `json:"postOnly"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	FilledAt        *time.Time       `json:"filledAt,omitempty"`
	CancelledAt     *time.Time       `json:"cancelledAt,omitempty"`
}

func (Order) TableName() string { return "orders" }

// RemainingSize is always derived, never stored.
func (o *Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// IsOpen reports whether the order can still receive fills or be cancelled.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}
