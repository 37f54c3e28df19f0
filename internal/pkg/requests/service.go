package requests

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/venuekey/venuekey/app/models"
	"github.com/venuekey/venuekey/internal/pkg/ledger"
)

var (
	// ErrNotFound is returned when the request does not exist.
	ErrNotFound = errors.New("request not found")

	// ErrAlreadyAccepted is returned when a provider tries to accept the
	// same request twice.
	ErrAlreadyAccepted = errors.New("request already accepted by this provider")

	// ErrInvalidState is returned for any transition out of a state that
	// does not allow it. Terminal requests never come back.
	ErrInvalidState = errors.New("request state does not allow this action")

	// ErrNotAllowed is returned when the caller has no standing on the
	// request: not its customer, not an acceptor, not the targeted provider.
	ErrNotAllowed = errors.New("caller has no standing on this request")
)

// Service owns the request lifecycle. Accepting a request spends keys through
// the ledger; the spend, the acceptance row, and the status flip commit or
// roll back together.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
}

func NewService(db *gorm.DB, keyLedger *ledger.Service) *Service {
	return &Service{db: db, ledger: keyLedger}
}

// AcceptResult reports what a successful acceptance did.
type AcceptResult struct {
	RequestID uint   `json:"request_id"`
	BundleID  uint   `json:"bundle_id"`
	KeysSpent int    `json:"keys_spent"`
	Status    string `json:"status"`
}

// Accept lets a provider claim a request by spending keys. All writes happen
// in one transaction: if any step fails, nothing is recorded anywhere.
//
// Business failures come back as sentinel errors so callers can tell "buy
// more keys" from "you already did this" from "too late".
func (s *Service) Accept(ctx context.Context, requestID, providerID uint) (*AcceptResult, error) {
	if providerID == 0 {
		return nil, errors.New("provider_id is required")
	}

	var out AcceptResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.Request
		if err := tx.First(&req, requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("request load failed: %w", err)
		}

		if req.IsTerminal() {
			return ErrInvalidState
		}
		// Bookings are single-acceptor: once confirmed, nobody else gets in.
		if req.IsBooking() && req.Status != models.RequestStatusPending {
			return ErrInvalidState
		}
		// A targeted booking is reserved for the provider it names.
		if req.IsBooking() && req.ProviderID != nil && *req.ProviderID != providerID {
			return ErrNotAllowed
		}

		var dup int64
		if err := tx.Model(&models.RequestAcceptance{}).
			Where("request_id = ? AND provider_id = ?", req.ID, providerID).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("acceptance lookup failed: %w", err)
		}
		if dup > 0 {
			return ErrAlreadyAccepted
		}

		cost := req.KeyCost()
		bundleID, err := s.ledger.SpendTx(tx, providerID, req.ID, cost)
		if err != nil {
			// Ledger failures propagate verbatim; the rollback undoes
			// nothing because nothing was written yet.
			return err
		}

		acceptance := models.RequestAcceptance{
			RequestID:  req.ID,
			ProviderID: providerID,
			BundleID:   bundleID,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acceptance)
		if res.Error != nil {
			return fmt.Errorf("acceptance insert failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// The unique constraint is the backstop for races the count
			// above cannot see. Aborting rolls the spend back too.
			return ErrAlreadyAccepted
		}

		status, err := s.advanceOnAccept(tx, &req)
		if err != nil {
			return err
		}

		out = AcceptResult{
			RequestID: req.ID,
			BundleID:  bundleID,
			KeysSpent: cost,
			Status:    status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// advanceOnAccept performs the accept-time status transition with a guarded
// update so a stale in-memory status can never resurrect or skip a state.
func (s *Service) advanceOnAccept(tx *gorm.DB, req *models.Request) (string, error) {
	if req.IsBooking() {
		res := tx.Model(&models.Request{}).
			Where("id = ? AND status = ?", req.ID, models.RequestStatusPending).
			Update("status", models.RequestStatusConfirmed)
		if res.Error != nil {
			return "", fmt.Errorf("status transition failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return "", ErrInvalidState
		}
		return models.RequestStatusConfirmed, nil
	}

	// Service requests: the first acceptance moves open -> in_progress,
	// later acceptances join the in_progress request as-is.
	res := tx.Model(&models.Request{}).
		Where("id = ? AND status = ?", req.ID, models.RequestStatusOpen).
		Update("status", models.RequestStatusInProgress)
	if res.Error != nil {
		return "", fmt.Errorf("status transition failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var current models.Request
		if err := tx.Select("status").First(&current, req.ID).Error; err != nil {
			return "", fmt.Errorf("status re-read failed: %w", err)
		}
		if current.Status != models.RequestStatusInProgress {
			return "", ErrInvalidState
		}
		return current.Status, nil
	}
	return models.RequestStatusInProgress, nil
}

// Reject marks a request rejected. Terminal: no further transitions, and no
// refund of keys already spent to accept it. Only the customer or a provider
// who accepted may reject.
func (s *Service) Reject(ctx context.Context, requestID, callerID uint) error {
	return s.finalize(ctx, requestID, callerID, models.RequestStatusRejected,
		[]string{
			models.RequestStatusPending,
			models.RequestStatusOpen,
			models.RequestStatusConfirmed,
			models.RequestStatusInProgress,
		})
}

// Complete marks a request completed. Only legal once work started, and only
// for the customer or a provider who accepted.
func (s *Service) Complete(ctx context.Context, requestID, callerID uint) error {
	return s.finalize(ctx, requestID, callerID, models.RequestStatusCompleted,
		[]string{
			models.RequestStatusConfirmed,
			models.RequestStatusInProgress,
		})
}

func (s *Service) finalize(ctx context.Context, requestID, callerID uint, to string, from []string) error {
	var req models.Request
	if err := s.db.WithContext(ctx).First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("request lookup failed: %w", err)
	}
	if err := s.authorizeFinalize(ctx, &req, callerID); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status IN ?", requestID, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("status transition failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidState
	}
	return nil
}

// authorizeFinalize admits the customer and any provider with an acceptance
// row; everyone else keeps their hands off the lifecycle.
func (s *Service) authorizeFinalize(ctx context.Context, req *models.Request, callerID uint) error {
	if callerID == req.CustomerID {
		return nil
	}
	var accepted int64
	if err := s.db.WithContext(ctx).Model(&models.RequestAcceptance{}).
		Where("request_id = ? AND provider_id = ?", req.ID, callerID).
		Count(&accepted).Error; err != nil {
		return fmt.Errorf("acceptance lookup failed: %w", err)
	}
	if accepted > 0 {
		return nil
	}
	return ErrNotAllowed
}

// Create stores a new customer request in its initial state. The surrounding
// product handles the form flow; this is the persistence entry point.
func (s *Service) Create(ctx context.Context, req *models.Request) error {
	if req.Kind != models.RequestKindBooking && req.Kind != models.RequestKindService {
		return fmt.Errorf("unknown request kind %q", req.Kind)
	}
	if req.CustomerID == 0 {
		return errors.New("customer_id is required")
	}
	if req.PriceInKeys < 1 {
		req.PriceInKeys = 1
	}
	req.Status = models.InitialStatus(req.Kind)
	req.IsPaid = false
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("request create failed: %w", err)
	}
	return nil
}

// Get loads a request with its acceptances.
func (s *Service) Get(ctx context.Context, requestID uint) (*models.Request, error) {
	var req models.Request
	err := s.db.WithContext(ctx).Preload("Acceptances").First(&req, requestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("request load failed: %w", err)
	}
	return &req, nil
}

// View loads a request and projects it for the given viewer, withholding
// private fields the viewer has not paid to see.
func (s *Service) View(ctx context.Context, requestID, viewerID uint) (*View, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	v := Project(req, viewerID)
	return &v, nil
}
