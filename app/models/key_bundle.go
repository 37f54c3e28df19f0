package models

import "time"

// KeyBundle is one purchased block of prepaid keys. A bundle is created
// exactly once per gateway transaction (transaction_id is unique) and is only
// ever mutated by the ledger's spend path. Depleted bundles are kept for audit
// and simply drop out of the spend candidate set.
//
// Invariant: keys_used + keys_remaining == total_keys, keys_remaining >= 0.
type KeyBundle struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OwnerID       uint      `gorm:"not null;index:idx_key_bundles_owner_remaining,priority:1" json:"owner_id"`
	TransactionID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_key_bundles_transaction" json:"transaction_id"`
	PlanName      string    `gorm:"type:varchar(50);not null" json:"plan_name"`
	TotalKeys     int       `gorm:"not null" json:"total_keys"`
	KeysUsed      int       `gorm:"not null;default:0" json:"keys_used"`
	KeysRemaining int       `gorm:"not null;default:0;index:idx_key_bundles_owner_remaining,priority:2" json:"keys_remaining"`
	PurchasedAt   time.Time `gorm:"not null;index" json:"purchased_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Depleted reports whether the bundle has no keys left to spend.
func (b *KeyBundle) Depleted() bool {
	return b.KeysRemaining <= 0
}
