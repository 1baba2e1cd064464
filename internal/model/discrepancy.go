package model

import (
	"time"

	"main/internal/model/enum"
)

// DiscrepancyRecord is an append-only audit row written by the
// reconciliation engine. Never mutated after insert.
type DiscrepancyRecord struct {
	ID         uint64                 `gorm:"primaryKey;autoIncrement" json:"id"`
	CheckType  enum.DiscrepancyCheck  `gorm:"index;size:40" json:"checkType"`
	EntityType enum.DiscrepancyEntity `gorm:"size:12" json:"entityType"`
	EntityID   string                 `gorm:"index;size:64" json:"entityId"`
	DBStatus   string                 `gorm:"size:40" json:"dbStatus"`
	APIStatus  string                 `gorm:"size:40" json:"apiStatus"`
	Details    string                 `gorm:"type:text" json:"details"`
	CreatedAt  time.Time              `json:"createdAt"`
}

func (DiscrepancyRecord) TableName() string { return "discrepancy_records" }
