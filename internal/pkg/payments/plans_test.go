package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlans(t *testing.T) *PlanTable {
	t.Helper()
	table, err := NewPlanTable([]Plan{
		{Name: "starter", PriceMinor: 5000, Keys: 5},
		{Name: "growth", PriceMinor: 10000, Keys: 12},
		{Name: "enterprise", PriceMinor: 30000, Keys: 40},
	})
	require.NoError(t, err)
	return table
}

func TestMatchExactAmount(t *testing.T) {
	table := testPlans(t)

	tests := []struct {
		amount int64
		want   string
	}{
		{5000, "starter"},
		{10000, "growth"},
		{30000, "enterprise"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Match(tt.amount).Name)
	}
}

func TestMatchNearestAmount(t *testing.T) {
	table := testPlans(t)

	tests := []struct {
		amount int64
		want   string
	}{
		// 7000 is 2000 from starter, 3000 from growth.
		{7000, "starter"},
		{9000, "growth"},
		{25000, "enterprise"},
		// Far outside the catalogue still maps to something.
		{1, "starter"},
		{1000000, "enterprise"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Match(tt.amount).Name, "amount %d", tt.amount)
	}
}

func TestMatchTieBreaksOnTableOrder(t *testing.T) {
	table := testPlans(t)

	// 7500 is equidistant from starter and growth; first in the table wins.
	assert.Equal(t, "starter", table.Match(7500).Name)
}

func TestParsePlanTable(t *testing.T) {
	table, err := ParsePlanTable("starter:5000:5, growth:10000:12")
	require.NoError(t, err)
	plans := table.Plans()
	require.Len(t, plans, 2)
	assert.Equal(t, Plan{Name: "starter", PriceMinor: 5000, Keys: 5}, plans[0])
	assert.Equal(t, Plan{Name: "growth", PriceMinor: 10000, Keys: 12}, plans[1])
}

func TestParsePlanTableRejectsMalformedEntries(t *testing.T) {
	for _, raw := range []string{
		"",
		"starter:5000",
		"starter:abc:5",
		"starter:5000:0",
		"starter:-1:5",
	} {
		_, err := ParsePlanTable(raw)
		assert.Error(t, err, "table %q", raw)
	}
}
