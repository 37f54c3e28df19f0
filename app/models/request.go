package models

import "time"

const (
	RequestKindBooking = "booking"
	RequestKindService = "service"
)

const (
	// Booking lifecycle: pending -> confirmed -> completed | rejected
	RequestStatusPending   = "pending"
	RequestStatusConfirmed = "confirmed"
	// Service request lifecycle: open -> in_progress -> completed | rejected
	RequestStatusOpen       = "open"
	RequestStatusInProgress = "in_progress"
	// Terminal for both kinds.
	RequestStatusCompleted = "completed"
	RequestStatusRejected  = "rejected"
)

// Request is a customer booking or service request. Both kinds share one
// lifecycle; bookings are single-acceptor and carry the contact-unlock flag,
// service requests collect acceptances from multiple providers. Status only
// ever moves forward; rows are never deleted by the core.
type Request struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Kind       string `gorm:"type:varchar(20);not null;index" json:"kind"`
	CustomerID uint   `gorm:"not null;index" json:"customer_id"`
	// Booking target; null for open service requests.
	ProviderID *uint `gorm:"index" json:"provider_id,omitempty"`

	// Payload. Opaque to the ledger; the projection layer decides who may
	// see the private parts.
	Address         string     `gorm:"type:varchar(255)" json:"address"`
	EventDate       *time.Time `gorm:"type:timestamp;default:null" json:"event_date,omitempty"`
	SelectedItems   string     `gorm:"type:longtext" json:"selected_items"`
	SpecialRequests string     `gorm:"type:text" json:"special_requests"`
	ContactName     string     `gorm:"type:varchar(150)" json:"contact_name"`
	ContactPhone    string     `gorm:"type:varchar(30)" json:"contact_phone"`
	CostMinor       int64      `gorm:"not null;default:0" json:"cost_minor"`

	Status      string `gorm:"type:varchar(20);not null;index" json:"status"`
	PriceInKeys int    `gorm:"not null;default:1" json:"price_in_keys"`
	// Booking-only contact unlock, flipped by a one-shot gateway payment.
	IsPaid          bool   `gorm:"not null;default:false" json:"is_paid"`
	UnlockReference string `gorm:"type:varchar(64);default:''" json:"-"`

	Acceptances []RequestAcceptance `gorm:"foreignKey:RequestID" json:"acceptances,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the request reached a final state. Terminal
// requests reject every further transition.
func (r *Request) IsTerminal() bool {
	return r.Status == RequestStatusCompleted || r.Status == RequestStatusRejected
}

// IsBooking reports whether the request uses single-acceptor semantics.
func (r *Request) IsBooking() bool {
	return r.Kind == RequestKindBooking
}

// KeyCost returns the accept price in keys, defaulting to one.
func (r *Request) KeyCost() int {
	if r.PriceInKeys < 1 {
		return 1
	}
	return r.PriceInKeys
}

// InitialStatus returns the creation status for a request kind.
func InitialStatus(kind string) string {
	if kind == RequestKindBooking {
		return RequestStatusPending
	}
	return RequestStatusOpen
}
