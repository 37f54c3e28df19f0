package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway serves canned transaction pages.
type fakeGateway struct {
	pages [][]Transaction
	calls int
	err   error
}

func (g *fakeGateway) ListTransactions(_ context.Context, _ string, page, _ int, _ string) ([]Transaction, *ListMeta, error) {
	g.calls++
	if g.err != nil {
		return nil, nil, g.err
	}
	if page < 1 || page > len(g.pages) {
		return nil, &ListMeta{Page: page, PageCount: len(g.pages)}, nil
	}
	return g.pages[page-1], &ListMeta{Page: page, PageCount: len(g.pages)}, nil
}

// fakeLedger grants bundles in memory, idempotent on the transaction ref.
type fakeLedger struct {
	bundles map[string]uint
	grants  []string
	failOn  string
	next    uint
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{bundles: map[string]uint{}, next: 1}
}

func (l *fakeLedger) Grant(_ context.Context, _ uint, transactionID, _ string, _ int) (uint, error) {
	if transactionID == l.failOn {
		return 0, errors.New("ledger write failed")
	}
	l.grants = append(l.grants, transactionID)
	if id, ok := l.bundles[transactionID]; ok {
		return id, nil
	}
	id := l.next
	l.next++
	l.bundles[transactionID] = id
	return id, nil
}

func successTx(ref string, amount int64) Transaction {
	return Transaction{Reference: ref, AmountMinor: amount, Status: TransactionSuccess}
}

func TestReconcileGrantsMatchingPlans(t *testing.T) {
	gateway := &fakeGateway{pages: [][]Transaction{{
		successTx("tx_1", 5000),
		successTx("tx_2", 7000),
		successTx("tx_3", 30000),
	}}}
	ledger := newFakeLedger()
	r := NewReconciler(gateway, ledger, testPlans(t))

	results, err := r.Reconcile(context.Background(), 7, "CUS_abc")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "starter", results[0].PlanName)
	assert.Equal(t, "starter", results[1].PlanName)
	assert.Equal(t, "enterprise", results[2].PlanName)
	assert.Equal(t, "50", results[0].AmountMajor.String())
	assert.Equal(t, uint(1), results[0].BundleID)
	assert.Equal(t, []string{"tx_1", "tx_2", "tx_3"}, ledger.grants)
}

func TestReconcileWalksEveryPage(t *testing.T) {
	gateway := &fakeGateway{pages: [][]Transaction{
		{successTx("tx_1", 5000), successTx("tx_2", 5000)},
		{successTx("tx_3", 10000)},
		{successTx("tx_4", 30000)},
	}}
	ledger := newFakeLedger()
	r := NewReconciler(gateway, ledger, testPlans(t))

	results, err := r.Reconcile(context.Background(), 7, "CUS_abc")
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, 3, gateway.calls)
}

func TestReconcileRerunIsIdempotent(t *testing.T) {
	gateway := &fakeGateway{pages: [][]Transaction{{successTx("tx_1", 5000)}}}
	ledger := newFakeLedger()
	r := NewReconciler(gateway, ledger, testPlans(t))

	first, err := r.Reconcile(context.Background(), 7, "CUS_abc")
	require.NoError(t, err)
	second, err := r.Reconcile(context.Background(), 7, "CUS_abc")
	require.NoError(t, err)

	// The grant happens twice but lands on the same bundle.
	assert.Equal(t, first[0].BundleID, second[0].BundleID)
	assert.Len(t, ledger.bundles, 1)
}

func TestReconcileStopsOnGrantFailure(t *testing.T) {
	gateway := &fakeGateway{pages: [][]Transaction{{
		successTx("tx_1", 5000),
		successTx("tx_2", 10000),
		successTx("tx_3", 30000),
	}}}
	ledger := newFakeLedger()
	ledger.failOn = "tx_2"
	r := NewReconciler(gateway, ledger, testPlans(t))

	results, err := r.Reconcile(context.Background(), 7, "CUS_abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx_2")
	// The first grant committed; the failed one and everything after did not.
	require.Len(t, results, 1)
	assert.Equal(t, "tx_1", results[0].TransactionRef)
}

func TestReconcileFetchErrorGrantsNothing(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("gateway down")}
	ledger := newFakeLedger()
	r := NewReconciler(gateway, ledger, testPlans(t))

	_, err := r.Reconcile(context.Background(), 7, "CUS_abc")
	require.Error(t, err)
	assert.Empty(t, ledger.grants)
}

func TestReconcileSkipsNonSuccessTransactions(t *testing.T) {
	gateway := &fakeGateway{pages: [][]Transaction{{
		successTx("tx_1", 5000),
		{Reference: "tx_2", AmountMinor: 5000, Status: "failed"},
	}}}
	ledger := newFakeLedger()
	r := NewReconciler(gateway, ledger, testPlans(t))

	results, err := r.Reconcile(context.Background(), 7, "CUS_abc")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tx_1", results[0].TransactionRef)
}

func TestReconcileValidatesInput(t *testing.T) {
	r := NewReconciler(&fakeGateway{}, newFakeLedger(), testPlans(t))
	_, err := r.Reconcile(context.Background(), 0, "CUS_abc")
	assert.Error(t, err)
	_, err = r.Reconcile(context.Background(), 7, "")
	assert.Error(t, err)
}
