package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/venuekey/venuekey/app/models"
)

var (
	// ErrNoSuchOwner is returned when the owner holds no bundles at all.
	ErrNoSuchOwner = errors.New("owner has no key bundles")

	// ErrInsufficientCredit is returned when no single bundle can cover the
	// requested spend. Spends never split across bundles and never go partial.
	ErrInsufficientCredit = errors.New("insufficient key credit")
)

// Service owns all mutations of key bundle balances. Every grant and spend in
// the system goes through here; nothing else may touch keys_remaining.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Grant credits a bundle of keys purchased through the payment gateway.
// It is idempotent on transactionID: a repeat grant for the same gateway
// transaction returns the existing bundle id and performs no mutation. The
// guarantee is constraint-backed (unique index on transaction_id), not a
// read-then-write check.
func (s *Service) Grant(ctx context.Context, ownerID uint, transactionID, planName string, keyCount int) (uint, error) {
	transactionID = strings.TrimSpace(transactionID)
	if ownerID == 0 || transactionID == "" {
		return 0, errors.New("owner_id and transaction_id are required")
	}
	if keyCount < 1 {
		return 0, fmt.Errorf("invalid key count %d for grant %s", keyCount, transactionID)
	}

	bundle := models.KeyBundle{
		OwnerID:       ownerID,
		TransactionID: transactionID,
		PlanName:      planName,
		TotalKeys:     keyCount,
		KeysUsed:      0,
		KeysRemaining: keyCount,
		PurchasedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(&bundle).Error; err != nil {
		return 0, fmt.Errorf("bundle grant failed: %w", err)
	}

	// Re-read so repeat grants return the original bundle id.
	var stored models.KeyBundle
	if err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&stored).Error; err != nil {
		return 0, fmt.Errorf("bundle lookup after grant failed: %w", err)
	}
	return stored.ID, nil
}

// Spend deducts requiredKeys from the owner's oldest bundle that can cover the
// whole amount and writes the usage record, as one transaction.
func (s *Service) Spend(ctx context.Context, ownerID, requestID uint, requiredKeys int) (uint, error) {
	var bundleID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := s.SpendTx(tx, ownerID, requestID, requiredKeys)
		bundleID = id
		return err
	})
	return bundleID, err
}

// SpendTx runs the spend inside a caller-provided transaction so the caller
// can commit the balance decrement, the usage record, and its own writes as a
// single atomic unit.
//
// Bundles are consumed oldest purchase first. The decrement is a guarded
// update (WHERE keys_remaining >= cost), so two racing spends of the same
// bundle can never both apply: the loser sees zero rows affected and moves on
// to the next candidate.
func (s *Service) SpendTx(tx *gorm.DB, ownerID, requestID uint, requiredKeys int) (uint, error) {
	if requiredKeys < 1 {
		return 0, fmt.Errorf("invalid spend amount %d", requiredKeys)
	}

	var owned int64
	if err := tx.Model(&models.KeyBundle{}).
		Where("owner_id = ?", ownerID).
		Count(&owned).Error; err != nil {
		return 0, fmt.Errorf("bundle count failed: %w", err)
	}
	if owned == 0 {
		return 0, ErrNoSuchOwner
	}

	var candidates []models.KeyBundle
	if err := tx.
		Where("owner_id = ? AND keys_remaining >= ?", ownerID, requiredKeys).
		Order("purchased_at ASC, id ASC").
		Find(&candidates).Error; err != nil {
		return 0, fmt.Errorf("bundle selection failed: %w", err)
	}

	for _, bundle := range candidates {
		res := tx.Model(&models.KeyBundle{}).
			Where("id = ? AND keys_remaining >= ?", bundle.ID, requiredKeys).
			Updates(map[string]interface{}{
				"keys_remaining": gorm.Expr("keys_remaining - ?", requiredKeys),
				"keys_used":      gorm.Expr("keys_used + ?", requiredKeys),
			})
		if res.Error != nil {
			return 0, fmt.Errorf("bundle decrement failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost a race for this bundle; try the next oldest.
			continue
		}

		usage := models.KeyUsageRecord{
			OwnerID:   ownerID,
			BundleID:  bundle.ID,
			RequestID: requestID,
			KeysSpent: requiredKeys,
			SpentAt:   time.Now(),
		}
		if err := tx.Create(&usage).Error; err != nil {
			return 0, fmt.Errorf("usage record failed: %w", err)
		}
		return bundle.ID, nil
	}

	return 0, ErrInsufficientCredit
}

// Balance returns the owner's total remaining keys across all bundles.
func (s *Service) Balance(ctx context.Context, ownerID uint) (int, error) {
	var total struct {
		Remaining int
	}
	err := s.db.WithContext(ctx).Model(&models.KeyBundle{}).
		Select("COALESCE(SUM(keys_remaining), 0) AS remaining").
		Where("owner_id = ?", ownerID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("balance query failed: %w", err)
	}
	return total.Remaining, nil
}

// Bundles returns the owner's bundles, oldest purchase first. Read-only view
// for dashboards and audit.
func (s *Service) Bundles(ctx context.Context, ownerID uint) ([]models.KeyBundle, error) {
	var bundles []models.KeyBundle
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("purchased_at ASC, id ASC").
		Find(&bundles).Error
	return bundles, err
}
