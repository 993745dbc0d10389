package metering

import "github.com/shopspring/decimal"

// UsageView is the derived, read-only picture of a tenant's consumption
// against its configured limit. All fields are computed from a counter
// snapshot plus the tenant's billing configuration; nothing here is
// persisted.
type UsageView struct {
	Resource      ResourceType    `json:"resource"`
	Limit         int64           `json:"limit"`
	Used          int64           `json:"used"`
	Remaining     int64           `json:"remaining"`
	OverageCount  int64           `json:"overage_count"`
	OverageCharge decimal.Decimal `json:"overage_charge"`
	OverageRate   decimal.Decimal `json:"overage_rate"`
	PercentUsed   int64           `json:"percent_used"`
}

// ComputeUsageView derives the usage view from a counter snapshot and the
// tenant's limit/rate configuration. PercentUsed is rounded half-up to
// the nearest integer; a zero limit yields zero percent rather than a
// division by zero. Monetary values stay on decimal.Decimal end to end.
func ComputeUsageView(snapshot CounterSnapshot, limit int64, overageRate decimal.Decimal) UsageView {
	used := snapshot.UnitsUsed

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	overageCount := used - limit
	if overageCount < 0 {
		overageCount = 0
	}

	var percentUsed int64
	if limit > 0 {
		percentUsed = decimal.NewFromInt(used * 100).
			DivRound(decimal.NewFromInt(limit), 0).
			IntPart()
	}

	return UsageView{
		Resource:      snapshot.Resource,
		Limit:         limit,
		Used:          used,
		Remaining:     remaining,
		OverageCount:  overageCount,
		OverageCharge: snapshot.OverageAccrued.Round(2),
		OverageRate:   overageRate,
		PercentUsed:   percentUsed,
	}
}
