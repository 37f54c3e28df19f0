package models

import "time"

// KeyUsageRecord is the append-only audit trail for key spends. Exactly one
// record is written per successful spend, inside the same transaction as the
// bundle decrement.
type KeyUsageRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OwnerID   uint      `gorm:"not null;index" json:"owner_id"`
	BundleID  uint      `gorm:"not null;index" json:"bundle_id"`
	RequestID uint      `gorm:"not null;index" json:"request_id"`
	KeysSpent int       `gorm:"not null" json:"keys_spent"`
	SpentAt   time.Time `gorm:"not null" json:"spent_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
