package reading

import "fmt"

// Reason enumerates why a reading transaction was refused.
type Reason int

const (
	ReasonOutOfRange Reason = iota
	ReasonNotMonotonic
	ReasonImplausibleConsumption
	ReasonDuplicateToday
	ReasonNoActiveTariff
	ReasonNoReadingToday
	ReasonNothingToDelete
	ReasonBusy
)

// String returns the metric-friendly label for the rejection reason.
func (r Reason) String() string {
	switch r {
	case ReasonOutOfRange:
		return "out_of_range"
	case ReasonNotMonotonic:
		return "not_monotonic"
	case ReasonImplausibleConsumption:
		return "implausible_consumption"
	case ReasonDuplicateToday:
		return "duplicate_today"
	case ReasonNoActiveTariff:
		return "no_active_tariff"
	case ReasonNoReadingToday:
		return "no_reading_today"
	case ReasonNothingToDelete:
		return "nothing_to_delete"
	case ReasonBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Rejection is a terminal validation outcome. The user resends a
// corrected message; nothing is retried automatically.
type Rejection struct {
	Reason      Reason
	Candidate   float64
	PriorValue  float64
	Consumption float64
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("reading rejected: %s (candidate=%.0f)", r.Reason, r.Candidate)
}
