package repository

import (
	"strings"

	"github.com/venuekey/venuekey/app/models"
	"gorm.io/gorm"
)

// bundleRepository implements the BundleRepository interface
type bundleRepository struct {
	db *gorm.DB
}

// NewBundleRepository creates a new key bundle repository instance
func NewBundleRepository(db *gorm.DB) BundleRepository {
	return &bundleRepository{db: db}
}

// GetByID retrieves a bundle by its ID
func (r *bundleRepository) GetByID(id uint) (*models.KeyBundle, error) {
	var bundle models.KeyBundle
	if err := r.db.First(&bundle, id).Error; err != nil {
		return nil, err
	}
	return &bundle, nil
}

// GetByTransactionID retrieves the bundle granted for a gateway transaction
func (r *bundleRepository) GetByTransactionID(transactionID string) (*models.KeyBundle, error) {
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var bundle models.KeyBundle
	if err := r.db.Where("transaction_id = ?", trimmed).First(&bundle).Error; err != nil {
		return nil, err
	}
	return &bundle, nil
}

// ListByOwner returns an owner's bundles in purchase order, oldest first,
// matching the order the ledger spends them in.
func (r *bundleRepository) ListByOwner(ownerID uint) ([]models.KeyBundle, error) {
	var bundles []models.KeyBundle
	err := r.db.Where("owner_id = ?", ownerID).
		Order("purchased_at ASC, id ASC").Find(&bundles).Error
	return bundles, err
}

// UsageHistory returns an owner's spend records, newest first
func (r *bundleRepository) UsageHistory(ownerID uint, offset, limit int) ([]models.KeyUsageRecord, error) {
	var records []models.KeyUsageRecord
	err := r.db.Where("owner_id = ?", ownerID).
		Order("spent_at DESC, id DESC").Offset(offset).Limit(limit).Find(&records).Error
	return records, err
}

// Count returns the total number of bundles
func (r *bundleRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.KeyBundle{}).Count(&count).Error
	return count, err
}
