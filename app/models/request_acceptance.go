package models

import "time"

// RequestAcceptance links a provider to a request they spent keys to accept.
// The composite unique index is the hard guarantee that a provider appears at
// most once in a request's acceptor set; the service-level check is only the
// fast path.
type RequestAcceptance struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  uint      `gorm:"not null;uniqueIndex:ux_request_acceptances_request_provider,priority:1" json:"request_id"`
	ProviderID uint      `gorm:"not null;uniqueIndex:ux_request_acceptances_request_provider,priority:2;index" json:"provider_id"`
	BundleID   uint      `gorm:"not null" json:"bundle_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
