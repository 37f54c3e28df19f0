package repository

import (
	"github.com/venuekey/venuekey/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	TouchAPIKeyUsage(id uint) error
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
	AddActivityCounts(id uint, acceptedRequests, keysSpent int64) error
}

// BundleRepository defines read-side views over key bundles. All writes go
// through the ledger service so spend and grant stay transactional.
type BundleRepository interface {
	GetByID(id uint) (*models.KeyBundle, error)
	GetByTransactionID(transactionID string) (*models.KeyBundle, error)
	ListByOwner(ownerID uint) ([]models.KeyBundle, error)
	UsageHistory(ownerID uint, offset, limit int) ([]models.KeyUsageRecord, error)
	Count() (int64, error)
}

// RequestRepository defines the interface for request listings and lookups.
// Lifecycle transitions live in the requests service, not here.
type RequestRepository interface {
	GetByID(id uint) (*models.Request, error)
	GetWithAcceptances(id uint) (*models.Request, error)
	ListByCustomer(customerID uint, offset, limit int) ([]models.Request, error)
	ListForProvider(providerID uint, offset, limit int) ([]models.Request, error)
	ListOpenServiceRequests(offset, limit int) ([]models.Request, error)
	CountByStatus(status string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Bundle  BundleRepository
	Request RequestRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Bundle:  NewBundleRepository(db),
		Request: NewRequestRepository(db),
	}
}
