package unlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/venuekey/venuekey/app/models"
	"github.com/venuekey/venuekey/internal/pkg/payments"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Request{},
		&models.PaymentWebhookEvent{},
	))
	return db
}

func seedBooking(t *testing.T, db *gorm.DB) models.Request {
	t.Helper()

	customer := models.User{Name: "Ada", Email: "ada@example.com", Role: models.ROLE_CUSTOMER, Status: models.STATUS_ACTIVE}
	require.NoError(t, db.Create(&customer).Error)

	providerID := uint(9)
	req := models.Request{
		Kind:         models.RequestKindBooking,
		CustomerID:   customer.ID,
		ProviderID:   &providerID,
		ContactName:  "Ada Wong",
		ContactPhone: "+15550100",
		Status:       models.RequestStatusConfirmed,
		PriceInKeys:  1,
	}
	require.NoError(t, db.Create(&req).Error)
	return req
}

// fakeGateway records initialize calls and serves a canned verify result.
type fakeGateway struct {
	initErr     error
	initCalls   int
	lastRef     string
	lastAmount  int64
	verifyErr   error
	verifyTxns  map[string]*payments.Transaction
	verifyCalls int
}

func (g *fakeGateway) InitializeTransaction(_ context.Context, email string, amountMinor int64, reference, _ string) (*payments.InitializedTransaction, error) {
	g.initCalls++
	g.lastRef = reference
	g.lastAmount = amountMinor
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &payments.InitializedTransaction{
		AuthorizationURL: "https://checkout.example/" + reference,
		Reference:        reference,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*payments.Transaction, error) {
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if txn, ok := g.verifyTxns[reference]; ok {
		return txn, nil
	}
	return &payments.Transaction{Reference: reference, Status: "abandoned"}, nil
}

func TestInitiateCreatesChargeAndStoresReference(t *testing.T) {
	db := setupTestDB(t)
	req := seedBooking(t, db)
	gateway := &fakeGateway{}
	svc := NewService(db, gateway)

	checkout, err := svc.Initiate(context.Background(), req.ID, "https://venuekey.example/cb")
	require.NoError(t, err)

	assert.Equal(t, req.ID, checkout.BookingID)
	assert.True(t, strings.HasPrefix(checkout.Reference, "unlock-"))
	assert.Equal(t, int64(defaultUnlockFeeMinor), checkout.AmountMinor)
	assert.Contains(t, checkout.AuthorizationURL, checkout.Reference)

	var stored models.Request
	require.NoError(t, db.First(&stored, req.ID).Error)
	assert.Equal(t, checkout.Reference, stored.UnlockReference)
	assert.False(t, stored.IsPaid)
}

func TestInitiateAgainReplacesReference(t *testing.T) {
	db := setupTestDB(t)
	req := seedBooking(t, db)
	gateway := &fakeGateway{}
	svc := NewService(db, gateway)

	first, err := svc.Initiate(context.Background(), req.ID, "")
	require.NoError(t, err)
	second, err := svc.Initiate(context.Background(), req.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.Reference, second.Reference)

	var stored models.Request
	require.NoError(t, db.First(&stored, req.ID).Error)
	assert.Equal(t, second.Reference, stored.UnlockReference)
}

func TestInitiateRefusesServiceRequests(t *testing.T) {
	db := setupTestDB(t)
	req := models.Request{Kind: models.RequestKindService, CustomerID: 1, Status: models.RequestStatusOpen}
	require.NoError(t, db.Create(&req).Error)
	svc := NewService(db, &fakeGateway{})

	_, err := svc.Initiate(context.Background(), req.ID, "")
	assert.ErrorIs(t, err, ErrNotBooking)
}

func TestInitiateRefusesPaidBooking(t *testing.T) {
	db := setupTestDB(t)
	req := seedBooking(t, db)
	require.NoError(t, db.Model(&models.Request{}).Where("id = ?", req.ID).Update("is_paid", true).Error)
	gateway := &fakeGateway{}
	svc := NewService(db, gateway)

	_, err := svc.Initiate(context.Background(), req.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Zero(t, gateway.initCalls)
}

func TestInitiateUnknownBooking(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeGateway{})

	_, err := svc.Initiate(context.Background(), 999, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInitiateGatewayFailureLeavesBookingUntouched(t *testing.T) {
	db := setupTestDB(t)
	req := seedBooking(t, db)
	gateway := &fakeGateway{initErr: errors.New("gateway down")}
	svc := NewService(db, gateway)

	_, err := svc.Initiate(context.Background(), req.ID, "")
	require.Error(t, err)

	var stored models.Request
	require.NoError(t, db.First(&stored, req.ID).Error)
	assert.Empty(t, stored.UnlockReference)
}

func confirmSetup(t *testing.T, db *gorm.DB, status string) (models.Request, *fakeGateway, *Service) {
	t.Helper()
	req := seedBooking(t, db)
	gateway := &fakeGateway{verifyTxns: map[string]*payments.Transaction{}}
	svc := NewService(db, gateway)

	checkout, err := svc.Initiate(context.Background(), req.ID, "")
	require.NoError(t, err)
	gateway.verifyTxns[checkout.Reference] = &payments.Transaction{
		Reference:   checkout.Reference,
		AmountMinor: checkout.AmountMinor,
		Status:      status,
	}
	req.UnlockReference = checkout.Reference
	return req, gateway, svc
}

func TestConfirmFlipsPaidFlagAndRecordsEvent(t *testing.T) {
	db := setupTestDB(t)
	req, _, svc := confirmSetup(t, db, payments.TransactionSuccess)

	require.NoError(t, svc.Confirm(context.Background(), req.ID, req.UnlockReference))

	var stored models.Request
	require.NoError(t, db.First(&stored, req.ID).Error)
	assert.True(t, stored.IsPaid)

	var event models.PaymentWebhookEvent
	require.NoError(t, db.Where("provider_event_id = ?", req.UnlockReference).First(&event).Error)
	assert.Equal(t, models.PaymentProviderPaystack, event.Provider)
	assert.Equal(t, "charge.success", event.EventType)
	assert.NotNil(t, event.ProcessedAt)
}

func TestConfirmReplayIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	req, gateway, svc := confirmSetup(t, db, payments.TransactionSuccess)

	require.NoError(t, svc.Confirm(context.Background(), req.ID, req.UnlockReference))
	require.NoError(t, svc.Confirm(context.Background(), req.ID, req.UnlockReference))

	// The second confirm short-circuits before the gateway.
	assert.Equal(t, 1, gateway.verifyCalls)

	var count int64
	require.NoError(t, db.Model(&models.PaymentWebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConfirmByReferenceResolvesBooking(t *testing.T) {
	db := setupTestDB(t)
	req, _, svc := confirmSetup(t, db, payments.TransactionSuccess)

	// The redirect target only has the reference; the booking id comes from
	// the stored reference.
	bookingID, err := svc.ConfirmByReference(context.Background(), req.UnlockReference)
	require.NoError(t, err)
	assert.Equal(t, req.ID, bookingID)

	var stored models.Request
	require.NoError(t, db.First(&stored, req.ID).Error)
	assert.True(t, stored.IsPaid)
}

func TestConfirmByReferenceReplayIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	req, gateway, svc := confirmSetup(t, db, payments.TransactionSuccess)

	_, err := svc.ConfirmByReference(context.Background(), req.UnlockReference)
	require.NoError(t, err)
	bookingID, err := svc.ConfirmByReference(context.Background(), req.UnlockReference)
	require.NoError(t, err)
	assert.Equal(t, req.ID, bookingID)
	assert.Equal(t, 1, gateway.verifyCalls)
}

func TestConfirmByReferenceUnknownReference(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeGateway{})

	_, err := svc.ConfirmByReference(context.Background(), "unlock-nobody-paid-this")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ConfirmByReference(context.Background(), "")
	assert.ErrorIs(t, err, ErrBadReference)
}

func TestConfirmRejectsWrongReference(t *testing.T) {
	db := setupTestDB(t)
	req, _, svc := confirmSetup(t, db, payments.TransactionSuccess)

	err := svc.Confirm(context.Background(), req.ID, "unlock-someone-elses")
	assert.ErrorIs(t, err, ErrBadReference)

	var stored models.Request
	require.NoError(t, db.First(&stored, req.ID).Error)
	assert.False(t, stored.IsPaid)
}

func TestConfirmRejectsUnsuccessfulCharge(t *testing.T) {
	db := setupTestDB(t)
	req, _, svc := confirmSetup(t, db, "abandoned")

	err := svc.Confirm(context.Background(), req.ID, req.UnlockReference)
	assert.ErrorIs(t, err, ErrNotCharged)

	var stored models.Request
	require.NoError(t, db.First(&stored, req.ID).Error)
	assert.False(t, stored.IsPaid)
}

func TestConfirmGatewayFailurePropagates(t *testing.T) {
	db := setupTestDB(t)
	req, gateway, svc := confirmSetup(t, db, payments.TransactionSuccess)
	gateway.verifyErr = errors.New("gateway down")

	err := svc.Confirm(context.Background(), req.ID, req.UnlockReference)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")
}

func TestConfirmUnknownBooking(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, &fakeGateway{})
	assert.ErrorIs(t, svc.Confirm(context.Background(), 42, "ref"), ErrNotFound)
}
