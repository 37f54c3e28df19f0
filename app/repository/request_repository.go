package repository

import (
	"github.com/venuekey/venuekey/app/models"
	"gorm.io/gorm"
)

// requestRepository implements the RequestRepository interface
type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new request repository instance
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

// GetByID retrieves a request by its ID
func (r *requestRepository) GetByID(id uint) (*models.Request, error) {
	var req models.Request
	if err := r.db.First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// GetWithAcceptances retrieves a request with its acceptance rows preloaded
func (r *requestRepository) GetWithAcceptances(id uint) (*models.Request, error) {
	var req models.Request
	if err := r.db.Preload("Acceptances").First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// ListByCustomer returns a customer's requests, newest first
func (r *requestRepository) ListByCustomer(customerID uint, offset, limit int) ([]models.Request, error) {
	var reqs []models.Request
	err := r.db.Where("customer_id = ?", customerID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&reqs).Error
	return reqs, err
}

// ListForProvider returns bookings targeted at a provider plus requests the
// provider has accepted, newest first.
func (r *requestRepository) ListForProvider(providerID uint, offset, limit int) ([]models.Request, error) {
	var reqs []models.Request
	err := r.db.
		Where("provider_id = ? OR id IN (?)", providerID,
			r.db.Model(&models.RequestAcceptance{}).
				Select("request_id").Where("provider_id = ?", providerID)).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&reqs).Error
	return reqs, err
}

// ListOpenServiceRequests returns service requests still accepting providers
func (r *requestRepository) ListOpenServiceRequests(offset, limit int) ([]models.Request, error) {
	var reqs []models.Request
	err := r.db.
		Where("kind = ? AND status IN ?", models.RequestKindService,
			[]string{models.RequestStatusOpen, models.RequestStatusInProgress}).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&reqs).Error
	return reqs, err
}

// CountByStatus returns the number of requests in a given status
func (r *requestRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Request{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
