package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Position is the local ledger row for an exchange position.
//
// Invariant: at most one open row (ClosedAt == nil) per (UserID, Symbol).
// Only the position manager writes rows.
type Position struct {
	ID               uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string            `gorm:"index:idx_positions_user_symbol;size:64" json:"userId"`
	Symbol           string            `gorm:"index:idx_positions_user_symbol;size:32" json:"symbol"`
	Side             enum.PositionSide `gorm:"size:8" json:"side"`
	Size             decimal.Decimal   `gorm:"type:numeric(32,12)" json:"size"`
	EntryPrice       decimal.Decimal   `gorm:"type:numeric(32,12)" json:"entryPrice"`
	MarkPrice        decimal.Decimal   `gorm:"type:numeric(32,12)" json:"markPrice"`
	LiquidationPrice decimal.Decimal   `gorm:"type:numeric(32,12)" json:"liquidationPrice"`
	Leverage         decimal.Decimal   `gorm:"type:numeric(16,4)" json:"leverage"`
	UnrealizedPnl    decimal.Decimal   `gorm:"type:numeric(32,12)" json:"unrealizedPnl"`
	RealizedPnl      decimal.Decimal   `gorm:"type:numeric(32,12)" json:"realizedPnl"`
	MarginUsed       decimal.Decimal   `gorm:"type:numeric(32,12)" json:"marginUsed"`
	ClosedAt         *time.Time        `json:"closedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

func (Position) TableName() string { return "positions" }

// IsOpen reports whether the exchange still reports this position.
func (p *Position) IsOpen() bool { return p.ClosedAt == nil }
