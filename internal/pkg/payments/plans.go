package payments

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/venuekey/venuekey/internal/pkg/env"
)

// Plan is one purchasable key bundle: a name, a gateway price in minor
// currency units, and the number of keys it grants.
type Plan struct {
	Name       string
	PriceMinor int64
	Keys       int
}

// PlanTable is the ordered plan catalogue, loaded once at process start.
type PlanTable struct {
	plans []Plan
}

// defaultPlanTable mirrors the production catalogue; overridden via KEY_PLANS.
const defaultPlanTable = "starter:5000:5,growth:10000:12,enterprise:30000:40"

// LoadPlanTableFromEnv parses KEY_PLANS ("name:priceMinor:keys,..."). Order in
// the string is preserved and breaks nearest-match ties.
func LoadPlanTableFromEnv() (*PlanTable, error) {
	return ParsePlanTable(env.GetEnv("KEY_PLANS", defaultPlanTable))
}

func ParsePlanTable(raw string) (*PlanTable, error) {
	var plans []Plan
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid plan entry %q (want name:priceMinor:keys)", entry)
		}
		price, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || price < 1 {
			return nil, fmt.Errorf("invalid plan price in %q", entry)
		}
		keys, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || keys < 1 {
			return nil, fmt.Errorf("invalid plan key count in %q", entry)
		}
		plans = append(plans, Plan{
			Name:       strings.ToLower(strings.TrimSpace(parts[0])),
			PriceMinor: price,
			Keys:       keys,
		})
	}
	return NewPlanTable(plans)
}

func NewPlanTable(plans []Plan) (*PlanTable, error) {
	if len(plans) == 0 {
		return nil, errors.New("plan table must not be empty")
	}
	return &PlanTable{plans: plans}, nil
}

// Plans returns the catalogue in declaration order.
func (t *PlanTable) Plans() []Plan {
	out := make([]Plan, len(t.plans))
	copy(out, t.plans)
	return out
}

// Match maps a gateway amount (minor units) to a plan: exact price match
// first, otherwise the plan with the smallest absolute price difference.
// Every amount maps to some plan; comparison never leaves minor units.
func (t *PlanTable) Match(amountMinor int64) Plan {
	for _, p := range t.plans {
		if p.PriceMinor == amountMinor {
			return p
		}
	}

	best := t.plans[0]
	bestDiff := absDiff(amountMinor, best.PriceMinor)
	for _, p := range t.plans[1:] {
		if d := absDiff(amountMinor, p.PriceMinor); d < bestDiff {
			best = p
			bestDiff = d
		}
	}
	return best
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
