package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	apiv1 "github.com/venuekey/venuekey/internal/api/v1"
	"github.com/venuekey/venuekey/internal/pkg/database"
	"github.com/venuekey/venuekey/internal/pkg/env"
	"github.com/venuekey/venuekey/internal/pkg/jobqueue"
	"github.com/venuekey/venuekey/internal/pkg/ledger"
	"github.com/venuekey/venuekey/internal/pkg/middleware"
	"github.com/venuekey/venuekey/internal/pkg/payments"
	"github.com/venuekey/venuekey/internal/pkg/requests"
	"github.com/venuekey/venuekey/internal/pkg/unlock"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	db := database.GetDB()
	keyLedger := ledger.NewService(db)
	requestService := requests.NewService(db, keyLedger)

	gateway := payments.NewPaystackClientFromEnv()
	plans, err := payments.LoadPlanTableFromEnv()
	if err != nil {
		panic("invalid KEY_PLANS configuration: " + err.Error())
	}
	reconciler := payments.NewReconciler(gateway, keyLedger, plans)

	jobs := jobqueue.NewQueue(2)
	jobs.Register(jobqueue.JobTypeReconcile, jobqueue.NewReconcileHandler(reconciler))
	jobs.Start()

	// API v1 routes
	v1 := api.Group("/v1", middleware.APIKeyAuth)
	apiServer := apiv1.NewAPIServer(
		keyLedger,
		requestService,
		unlock.NewService(db, gateway),
		reconciler,
		jobs,
	)
	apiv1.RegisterHandlers(v1, apiServer, middleware.RequireAuth, middleware.RequireProvider)
}

// limiterStorage keeps rate limit counters in Redis (database 2; the cache
// uses 0) so limits hold across instances.
func limiterStorage() *redisstorage.Storage {
	return redisstorage.New(redisstorage.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: 2,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
