package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Fill is an immutable append-only execution record. A duplicate TradeID
// insert must be rejected by the store so the engine can ignore redelivery.
type Fill struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   string          `gorm:"index;size:36" json:"orderRef"`
	TradeID   string          `gorm:"uniqueIndex;size:64" json:"tradeId"`
	Side      enum.OrderSide  `gorm:"size:8" json:"side"`
	Price     decimal.Decimal `gorm:"type:numeric(32,12)" json:"price"`
	Size      decimal.Decimal `gorm:"type:numeric(32,12)" json:"size"`
	Fee       decimal.Decimal `gorm:"type:numeric(32,12)" json:"fee"`
	FeeAsset  string          `gorm:"size:16" json:"feeAsset"`
	IsMaker   bool            `json:"isMaker"`
	Timestamp time.Time       `json:"timestamp"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (Fill) TableName() string { return "fills" }
