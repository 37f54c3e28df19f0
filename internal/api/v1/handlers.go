package apiv1

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/venuekey/venuekey/app/models"
	"github.com/venuekey/venuekey/app/repository"
	"github.com/venuekey/venuekey/internal/pkg/jobqueue"
	"github.com/venuekey/venuekey/internal/pkg/ledger"
	"github.com/venuekey/venuekey/internal/pkg/metrics/counter"
	"github.com/venuekey/venuekey/internal/pkg/payments"
	"github.com/venuekey/venuekey/internal/pkg/requests"
	"github.com/venuekey/venuekey/internal/pkg/statistics"
	"github.com/venuekey/venuekey/internal/pkg/unlock"
	"github.com/venuekey/venuekey/internal/pkg/usercontext"
)

var validate = validator.New()

// APIServer holds the domain services behind the v1 endpoints.
type APIServer struct {
	Ledger     *ledger.Service
	Requests   *requests.Service
	Unlock     *unlock.Service
	Reconciler *payments.Reconciler
	Jobs       *jobqueue.Queue
}

// NewAPIServer creates a new API server instance
func NewAPIServer(l *ledger.Service, r *requests.Service, u *unlock.Service, rec *payments.Reconciler, jobs *jobqueue.Queue) *APIServer {
	return &APIServer{Ledger: l, Requests: r, Unlock: u, Reconciler: rec, Jobs: jobs}
}

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// CreateRequestBody is the POST /requests payload.
type CreateRequestBody struct {
	Kind            string     `json:"kind" validate:"required,oneof=booking service"`
	ProviderID      *uint      `json:"provider_id"`
	Address         string     `json:"address" validate:"max=255"`
	EventDate       *time.Time `json:"event_date"`
	SelectedItems   string     `json:"selected_items"`
	SpecialRequests string     `json:"special_requests"`
	ContactName     string     `json:"contact_name" validate:"max=150"`
	ContactPhone    string     `json:"contact_phone" validate:"max=30"`
	CostMinor       int64      `json:"cost_minor" validate:"min=0"`
	PriceInKeys     int        `json:"price_in_keys" validate:"min=0,max=100"`
}

// PostRequest creates a booking or service request for the authenticated customer.
func (s *APIServer) PostRequest(c *fiber.Ctx) error {
	var body CreateRequestBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(body); err != nil {
		return badRequest(c, "validation_failed", err.Error())
	}
	if body.Kind == models.RequestKindBooking && body.ProviderID == nil {
		return badRequest(c, "validation_failed", "bookings require a provider_id")
	}

	req := &models.Request{
		Kind:            body.Kind,
		CustomerID:      usercontext.GetUserID(c),
		ProviderID:      body.ProviderID,
		Address:         body.Address,
		EventDate:       body.EventDate,
		SelectedItems:   body.SelectedItems,
		SpecialRequests: body.SpecialRequests,
		ContactName:     body.ContactName,
		ContactPhone:    body.ContactPhone,
		CostMinor:       body.CostMinor,
		PriceInKeys:     body.PriceInKeys,
	}
	if err := s.Requests.Create(c.UserContext(), req); err != nil {
		return serverError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(requests.Project(req, req.CustomerID))
}

// GetRequest returns a request projected for the caller; private contact
// fields only appear for entitled viewers.
func (s *APIServer) GetRequest(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return badRequest(c, "invalid_id", "request id must be a positive integer")
	}

	view, err := s.Requests.View(c.UserContext(), uint(id), usercontext.GetUserID(c))
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return notFound(c, "request not found")
		}
		return serverError(c, err)
	}
	return c.JSON(view)
}

// PostAcceptRequest spends keys and records the caller as an acceptor in one
// atomic step.
func (s *APIServer) PostAcceptRequest(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return badRequest(c, "invalid_id", "request id must be a positive integer")
	}
	providerID := usercontext.GetUserID(c)

	result, err := s.Requests.Accept(c.UserContext(), uint(id), providerID)
	if err != nil {
		switch {
		case errors.Is(err, requests.ErrNotFound):
			return notFound(c, "request not found")
		case errors.Is(err, requests.ErrAlreadyAccepted):
			return badRequest(c, "already_accepted", "you have already accepted this request")
		case errors.Is(err, requests.ErrInvalidState):
			return badRequest(c, "invalid_state", "request no longer accepts providers")
		case errors.Is(err, requests.ErrNotAllowed):
			return forbidden(c, "this booking is reserved for another provider")
		case errors.Is(err, ledger.ErrInsufficientCredit):
			return badRequest(c, "insufficient_credit", "no key bundle covers the request price")
		case errors.Is(err, ledger.ErrNoSuchOwner):
			return badRequest(c, "no_key_bundles", "purchase a key bundle before accepting requests")
		}
		return serverError(c, err)
	}

	// Activity counters are advisory; failures only get logged.
	if err := counter.AddAcceptedRequest(providerID); err != nil {
		log.Printf("accepted-request counter failed for user %d: %v", providerID, err)
	}
	if err := counter.AddKeysSpent(providerID, result.KeysSpent); err != nil {
		log.Printf("keys-spent counter failed for user %d: %v", providerID, err)
	}

	return c.JSON(result)
}

// PostRejectRequest moves a request to the rejected terminal state. Keys spent
// on earlier acceptances stay spent.
func (s *APIServer) PostRejectRequest(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return badRequest(c, "invalid_id", "request id must be a positive integer")
	}

	if err := s.Requests.Reject(c.UserContext(), uint(id), usercontext.GetUserID(c)); err != nil {
		return mapLifecycleError(c, err)
	}
	return c.JSON(fiber.Map{"status": models.RequestStatusRejected})
}

// PostCompleteRequest moves a started request to the completed terminal state.
func (s *APIServer) PostCompleteRequest(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return badRequest(c, "invalid_id", "request id must be a positive integer")
	}

	if err := s.Requests.Complete(c.UserContext(), uint(id), usercontext.GetUserID(c)); err != nil {
		return mapLifecycleError(c, err)
	}
	return c.JSON(fiber.Map{"status": models.RequestStatusCompleted})
}

// BalanceResponse is the GET /balance body.
type BalanceResponse struct {
	OwnerID uint               `json:"owner_id"`
	Balance int                `json:"balance"`
	Bundles []models.KeyBundle `json:"bundles"`
}

// GetBalance returns the caller's total remaining keys and their bundles in
// spend order.
func (s *APIServer) GetBalance(c *fiber.Ctx) error {
	ownerID := usercontext.GetUserID(c)

	balance, err := s.Ledger.Balance(c.UserContext(), ownerID)
	if err != nil {
		return serverError(c, err)
	}
	bundles, err := s.Ledger.Bundles(c.UserContext(), ownerID)
	if err != nil {
		return serverError(c, err)
	}
	return c.JSON(BalanceResponse{OwnerID: ownerID, Balance: balance, Bundles: bundles})
}

// GetUsage returns the caller's spend history, newest first.
func (s *APIServer) GetUsage(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	records, err := repository.GetGlobalRepositories().Bundle.
		UsageHistory(usercontext.GetUserID(c), offset, limit)
	if err != nil {
		return serverError(c, err)
	}
	return c.JSON(fiber.Map{"records": records})
}

// ReconcileBody is the POST /reconcile payload.
type ReconcileBody struct {
	CustomerRef string `json:"customer_ref" validate:"required,max=200"`
	Async       bool   `json:"async"`
}

// PostReconcile pulls the caller's successful gateway charges and grants the
// matching key bundles. Safe to call repeatedly. With async=true the work runs
// on the job queue and the response carries the job id instead.
func (s *APIServer) PostReconcile(c *fiber.Ctx) error {
	var body ReconcileBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(body); err != nil {
		return badRequest(c, "validation_failed", err.Error())
	}

	if body.Async {
		job, err := s.Jobs.EnqueueReconcile(usercontext.GetUserID(c), body.CustomerRef)
		if err != nil {
			return serverError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID})
	}

	results, err := s.Reconciler.Reconcile(c.UserContext(), usercontext.GetUserID(c), body.CustomerRef)
	if err != nil {
		// Partial results are already committed; report both.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "reconcile_incomplete",
			"message": err.Error(),
			"granted": results,
		})
	}
	return c.JSON(fiber.Map{"granted": results})
}

// GetJobStatus returns the state of a queued background job.
func (s *APIServer) GetJobStatus(c *fiber.Ctx) error {
	job, err := s.Jobs.GetJob(c.UserContext(), c.Params("id"))
	if err != nil {
		return notFound(c, "job not found")
	}
	return c.JSON(job)
}

// GetStats returns cached platform totals.
func (s *APIServer) GetStats(c *fiber.Ctx) error {
	return c.JSON(statistics.GetStatistics())
}

// PostUnlockBooking starts the contact-unlock payment for a booking.
func (s *APIServer) PostUnlockBooking(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return badRequest(c, "invalid_id", "booking id must be a positive integer")
	}

	callbackURL := fmt.Sprintf("%s/api/v1/bookings/unlock/callback?booking_id=%d", c.BaseURL(), id)
	checkout, err := s.Unlock.Initiate(c.UserContext(), uint(id), callbackURL)
	if err != nil {
		return mapUnlockError(c, err)
	}
	return c.JSON(checkout)
}

// GetUnlockCallback is the gateway redirect target; it verifies the charge and
// flips the booking's paid flag. The gateway appends only trxref/reference to
// the callback URL, so when booking_id is absent the booking is resolved from
// the stored reference.
func (s *APIServer) GetUnlockCallback(c *fiber.Ctx) error {
	reference := c.Query("reference")
	if reference == "" {
		reference = c.Query("trxref")
	}
	if reference == "" {
		return badRequest(c, "invalid_callback", "reference is required")
	}

	bookingID := uint(c.QueryInt("booking_id", 0))
	var err error
	if bookingID > 0 {
		err = s.Unlock.Confirm(c.UserContext(), bookingID, reference)
	} else {
		bookingID, err = s.Unlock.ConfirmByReference(c.UserContext(), reference)
	}
	if err != nil {
		return mapUnlockError(c, err)
	}
	return c.JSON(fiber.Map{"unlocked": true, "booking_id": bookingID})
}

// GetUserProfile returns account information for the authenticated user.
func (s *APIServer) GetUserProfile(c *fiber.Ctx) error {
	user, err := repository.GetGlobalRepositories().User.GetByID(usercontext.GetUserID(c))
	if err != nil {
		return notFound(c, "user not found")
	}
	return c.JSON(user)
}

func mapLifecycleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, requests.ErrNotFound):
		return notFound(c, "request not found")
	case errors.Is(err, requests.ErrInvalidState):
		return badRequest(c, "invalid_state", "transition not allowed from the current status")
	case errors.Is(err, requests.ErrNotAllowed):
		return forbidden(c, "only the customer or an accepted provider may do this")
	}
	return serverError(c, err)
}

func mapUnlockError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, unlock.ErrNotFound):
		return notFound(c, "booking not found")
	case errors.Is(err, unlock.ErrNotBooking):
		return badRequest(c, "not_a_booking", "contact unlock only applies to bookings")
	case errors.Is(err, unlock.ErrAlreadyPaid):
		return badRequest(c, "already_unlocked", "booking contact is already unlocked")
	case errors.Is(err, unlock.ErrBadReference):
		return badRequest(c, "bad_reference", "unlock reference does not match this booking")
	case errors.Is(err, unlock.ErrNotCharged):
		return badRequest(c, "not_charged", "gateway has no successful charge for this reference")
	}
	return serverError(c, err)
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code, "message": message})
}

func forbidden(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": message})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": message})
}

func serverError(c *fiber.Ctx, err error) error {
	log.Printf("api error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": "something went wrong",
	})
}

// RegisterHandlers wires the v1 endpoints onto a router group. Auth guards are
// attached per route; the API key middleware itself runs app-wide.
func RegisterHandlers(router fiber.Router, s *APIServer, requireAuth, requireProvider fiber.Handler) {
	router.Get("/ping", s.GetPing)
	router.Get("/user/profile", requireAuth, s.GetUserProfile)

	router.Post("/requests", requireAuth, s.PostRequest)
	router.Get("/requests/:id", s.GetRequest)
	router.Post("/requests/:id/accept", requireProvider, s.PostAcceptRequest)
	router.Post("/requests/:id/reject", requireAuth, s.PostRejectRequest)
	router.Post("/requests/:id/complete", requireAuth, s.PostCompleteRequest)

	router.Get("/balance", requireProvider, s.GetBalance)
	router.Get("/usage", requireProvider, s.GetUsage)
	router.Post("/reconcile", requireProvider, s.PostReconcile)
	router.Get("/jobs/:id", requireProvider, s.GetJobStatus)
	router.Get("/stats", s.GetStats)

	router.Post("/bookings/:id/unlock", requireAuth, s.PostUnlockBooking)
	router.Get("/bookings/unlock/callback", s.GetUnlockCallback)
}
