package unlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/venuekey/venuekey/app/models"
	"github.com/venuekey/venuekey/internal/pkg/env"
	"github.com/venuekey/venuekey/internal/pkg/payments"
)

var (
	ErrNotFound     = errors.New("booking not found")
	ErrNotBooking   = errors.New("contact unlock only applies to bookings")
	ErrAlreadyPaid  = errors.New("booking contact is already unlocked")
	ErrBadReference = errors.New("unlock reference does not match this booking")
	ErrNotCharged   = errors.New("gateway has no successful charge for this reference")
)

const defaultUnlockFeeMinor = 2500

// Gateway is the slice of the payment client the unlock flow needs.
type Gateway interface {
	InitializeTransaction(ctx context.Context, email string, amountMinor int64, reference, callbackURL string) (*payments.InitializedTransaction, error)
	VerifyTransaction(ctx context.Context, reference string) (*payments.Transaction, error)
}

// Service runs the one-shot contact unlock for bookings: a customer pays a
// flat gateway fee once, after which the booking's private contact fields
// become visible to the accepted provider.
type Service struct {
	db      *gorm.DB
	gateway Gateway
}

func NewService(db *gorm.DB, gateway Gateway) *Service {
	return &Service{db: db, gateway: gateway}
}

// UnlockFeeMinor reads the flat unlock fee from UNLOCK_FEE_MINOR.
func UnlockFeeMinor() int64 {
	raw := env.GetEnv("UNLOCK_FEE_MINOR", "")
	if raw == "" {
		return defaultUnlockFeeMinor
	}
	fee, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || fee < 1 {
		return defaultUnlockFeeMinor
	}
	return fee
}

// Checkout is the hosted-payment handle handed back to the customer.
type Checkout struct {
	BookingID        uint   `json:"booking_id"`
	Reference        string `json:"reference"`
	AmountMinor      int64  `json:"amount_minor"`
	AuthorizationURL string `json:"authorization_url"`
}

// Initiate creates a gateway charge for the unlock fee and pins its reference
// to the booking. Calling it again before payment issues a fresh charge and
// replaces the stored reference.
func (s *Service) Initiate(ctx context.Context, bookingID uint, callbackURL string) (*Checkout, error) {
	var req models.Request
	if err := s.db.WithContext(ctx).First(&req, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !req.IsBooking() {
		return nil, ErrNotBooking
	}
	if req.IsPaid {
		return nil, ErrAlreadyPaid
	}

	var customer models.User
	if err := s.db.WithContext(ctx).First(&customer, req.CustomerID).Error; err != nil {
		return nil, fmt.Errorf("booking customer lookup failed: %w", err)
	}

	fee := UnlockFeeMinor()
	reference := "unlock-" + uuid.NewString()
	init, err := s.gateway.InitializeTransaction(ctx, customer.Email, fee, reference, callbackURL)
	if err != nil {
		return nil, fmt.Errorf("gateway initialize failed: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ?", bookingID).
		Update("unlock_reference", reference).Error; err != nil {
		return nil, err
	}

	return &Checkout{
		BookingID:        bookingID,
		Reference:        reference,
		AmountMinor:      fee,
		AuthorizationURL: init.AuthorizationURL,
	}, nil
}

// Confirm verifies the gateway charge behind a reference and flips the
// booking's paid flag. Replays are harmless: an already-paid booking returns
// success without touching the gateway, and the webhook event row dedupes on
// the reference.
func (s *Service) Confirm(ctx context.Context, bookingID uint, reference string) error {
	var req models.Request
	if err := s.db.WithContext(ctx).First(&req, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !req.IsBooking() {
		return ErrNotBooking
	}
	if req.IsPaid {
		return nil
	}
	if reference == "" || req.UnlockReference != reference {
		return ErrBadReference
	}

	txn, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return fmt.Errorf("gateway verify failed: %w", err)
	}
	if txn.Status != payments.TransactionSuccess {
		return ErrNotCharged
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recordEvent(tx, reference, txn); err != nil {
			return err
		}
		res := tx.Model(&models.Request{}).
			Where("id = ? AND is_paid = ?", bookingID, false).
			Update("is_paid", true)
		if res.Error != nil {
			return res.Error
		}
		// Zero rows means a concurrent confirm already won; that is fine.
		return nil
	})
}

// ConfirmByReference resolves the booking behind a gateway reference and
// confirms it. The hosted checkout redirects back with only the reference, so
// the callback cannot know the booking id up front.
func (s *Service) ConfirmByReference(ctx context.Context, reference string) (uint, error) {
	if reference == "" {
		return 0, ErrBadReference
	}

	var req models.Request
	err := s.db.WithContext(ctx).
		Where("unlock_reference = ?", reference).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return req.ID, s.Confirm(ctx, req.ID, reference)
}

func (s *Service) recordEvent(tx *gorm.DB, reference string, txn *payments.Transaction) error {
	payload, err := json.Marshal(txn)
	if err != nil {
		return err
	}
	now := time.Now()
	event := models.PaymentWebhookEvent{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: reference,
		EventType:       "charge.success",
		PayloadJSON:     string(payload),
		SignatureValid:  true,
		ProcessedAt:     &now,
	}
	res := tx.Where("provider = ? AND provider_event_id = ?", models.PaymentProviderPaystack, reference).
		FirstOrCreate(&event)
	return res.Error
}
