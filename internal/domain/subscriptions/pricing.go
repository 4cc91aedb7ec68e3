package subscriptions

// Pricing carries the configured Pro prices in cents.
type Pricing struct {
	BaseCents      int64
	ExtraSeatCents int64
}

func (p Pricing) MonthlyCostCents(plan PlanType, extraUsers int) int64 {
	if plan != PlanPro {
		return 0
	}
	if extraUsers < 0 {
		extraUsers = 0
	}
	return p.BaseCents + p.ExtraSeatCents*int64(extraUsers)
}

// MonthlyCost is MonthlyCostCents in major currency units.
func (p Pricing) MonthlyCost(plan PlanType, extraUsers int) float64 {
	return float64(p.MonthlyCostCents(plan, extraUsers)) / 100.0
}
