package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/venuekey/venuekey/internal/pkg/payments"
)

// Reconciler is the synchronous reconcile entry point the job handler wraps.
type Reconciler interface {
	Reconcile(ctx context.Context, ownerID uint, customerRef string) ([]payments.GrantResult, error)
}

// NewReconcileHandler returns the handler for reconcile jobs. A failed run is
// safe to retry because grants are idempotent on the transaction reference.
func NewReconcileHandler(reconciler Reconciler) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := ReconcileJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid reconcile payload: %w", err)
		}
		if payload.OwnerID == 0 || payload.CustomerRef == "" {
			return fmt.Errorf("reconcile payload missing owner or customer ref")
		}

		results, err := reconciler.Reconcile(ctx, payload.OwnerID, payload.CustomerRef)
		if err != nil {
			return err
		}
		log.Infof("[JobQueue] Reconcile for owner %d granted %d bundle(s)", payload.OwnerID, len(results))
		return nil
	}
}

// EnqueueReconcile queues a background reconciliation for an owner.
func (q *Queue) EnqueueReconcile(ownerID uint, customerRef string) (*Job, error) {
	payload := ReconcileJobPayload{OwnerID: ownerID, CustomerRef: customerRef}
	return q.EnqueueJob(JobTypeReconcile, payload.ToMap())
}
