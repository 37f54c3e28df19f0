package payments

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
)

// Gateway is the slice of the payment client the reconciler needs.
type Gateway interface {
	ListTransactions(ctx context.Context, customer string, page, pageSize int, status string) ([]Transaction, *ListMeta, error)
}

// KeyLedger is the grant entry point the reconciler credits bundles through.
type KeyLedger interface {
	Grant(ctx context.Context, ownerID uint, transactionID, planName string, keyCount int) (uint, error)
}

// GrantResult records one transaction turned into a bundle grant. AmountMajor
// is display/audit only; matching always happens in minor units.
type GrantResult struct {
	TransactionRef string          `json:"transaction_ref"`
	AmountMinor    int64           `json:"amount_minor"`
	AmountMajor    decimal.Decimal `json:"amount_major"`
	PlanName       string          `json:"plan_name"`
	Keys           int             `json:"keys"`
	BundleID       uint            `json:"bundle_id"`
}

// Reconciler turns a provider's successful gateway transactions into key
// bundle grants. Because Grant is idempotent on the transaction reference,
// reconciliation is safe to re-run at any time, including after a partial
// failure halfway through a page.
type Reconciler struct {
	gateway  Gateway
	ledger   KeyLedger
	plans    *PlanTable
	pageSize int
}

func NewReconciler(gateway Gateway, keyLedger KeyLedger, plans *PlanTable) *Reconciler {
	return &Reconciler{
		gateway:  gateway,
		ledger:   keyLedger,
		plans:    plans,
		pageSize: 50,
	}
}

// Reconcile pulls every successful transaction for the owner's gateway
// identity and grants the matching bundle for each. The gateway fetch happens
// strictly before any ledger write; fetch retries never interleave with
// grants.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID uint, customerRef string) ([]GrantResult, error) {
	if ownerID == 0 || customerRef == "" {
		return nil, fmt.Errorf("owner id and gateway customer reference are required")
	}

	var txns []Transaction
	page := 1
	for {
		batch, meta, err := r.gateway.ListTransactions(ctx, customerRef, page, r.pageSize, TransactionSuccess)
		if err != nil {
			return nil, fmt.Errorf("transaction fetch failed: %w", err)
		}
		txns = append(txns, batch...)
		if meta == nil || page >= meta.PageCount {
			break
		}
		page++
	}

	results := make([]GrantResult, 0, len(txns))
	for _, txn := range txns {
		// The gateway filter should already exclude these, but a plan is
		// only ever granted for a successful charge.
		if txn.Status != TransactionSuccess {
			continue
		}
		plan := r.plans.Match(txn.AmountMinor)
		bundleID, err := r.ledger.Grant(ctx, ownerID, txn.Reference, plan.Name, plan.Keys)
		if err != nil {
			// Stop here; the grants so far are committed and the
			// re-run will skip them via idempotency.
			return results, fmt.Errorf("grant for transaction %s failed: %w", txn.Reference, err)
		}
		log.Printf("reconcile: owner=%d tx=%s amount=%d plan=%s keys=%d bundle=%d",
			ownerID, txn.Reference, txn.AmountMinor, plan.Name, plan.Keys, bundleID)

		results = append(results, GrantResult{
			TransactionRef: txn.Reference,
			AmountMinor:    txn.AmountMinor,
			AmountMajor:    decimal.NewFromInt(txn.AmountMinor).Div(decimal.NewFromInt(100)),
			PlanName:       plan.Name,
			Keys:           plan.Keys,
			BundleID:       bundleID,
		})
	}
	return results, nil
}
