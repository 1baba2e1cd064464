package position

import (
	"context"

	"main/internal/model"
)

// Store is the position-ledger persistence capability the manager consumes.
// UpsertOpenPosition keeps at most one open row per (userId, symbol);
// GetOpenPosition returns exception.ErrNotFound when no open row exists.
type Store interface {
	ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error)
	GetOpenPosition(ctx context.Context, userID, symbol string) (*model.Position, error)
	UpsertOpenPosition(ctx context.Context, p *model.Position) error
	CloseOpenPosition(ctx context.Context, userID, symbol string) error
}
