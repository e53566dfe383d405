package enums

import "fmt"

// CheckoutStage is the position of a single checkout attempt in its state machine.
type CheckoutStage string

const (
	CheckoutStageIdle             CheckoutStage = "idle"
	CheckoutStageSessionChecked   CheckoutStage = "session_checked"
	CheckoutStageCartValidated    CheckoutStage = "cart_validated"
	CheckoutStageDiscountApplied  CheckoutStage = "discount_applied"
	CheckoutStagePaymentDataBuilt CheckoutStage = "payment_data_built"
	CheckoutStageAwaitingGateway  CheckoutStage = "awaiting_gateway"
	CheckoutStageSucceeded        CheckoutStage = "succeeded"
	CheckoutStageFailed           CheckoutStage = "failed"
)

var validCheckoutStages = []CheckoutStage{
	CheckoutStageIdle,
	CheckoutStageSessionChecked,
	CheckoutStageCartValidated,
	CheckoutStageDiscountApplied,
	CheckoutStagePaymentDataBuilt,
	CheckoutStageAwaitingGateway,
	CheckoutStageSucceeded,
	CheckoutStageFailed,
}

var checkoutTransitions = map[CheckoutStage][]CheckoutStage{
	CheckoutStageIdle:             {CheckoutStageSessionChecked},
	CheckoutStageSessionChecked:   {CheckoutStageCartValidated},
	CheckoutStageCartValidated:    {CheckoutStageDiscountApplied, CheckoutStagePaymentDataBuilt},
	CheckoutStageDiscountApplied:  {CheckoutStagePaymentDataBuilt},
	CheckoutStagePaymentDataBuilt: {CheckoutStageAwaitingGateway},
	CheckoutStageAwaitingGateway:  {CheckoutStageSucceeded},
}

// String implements fmt.Stringer.
func (s CheckoutStage) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CheckoutStage.
func (s CheckoutStage) IsValid() bool {
	for _, candidate := range validCheckoutStages {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the attempt has finished.
func (s CheckoutStage) IsTerminal() bool {
	return s == CheckoutStageSucceeded || s == CheckoutStageFailed
}

// CanTransitionTo reports whether next follows s. Any non-terminal stage may
// move to failed.
func (s CheckoutStage) CanTransitionTo(next CheckoutStage) bool {
	if next == CheckoutStageFailed {
		return !s.IsTerminal()
	}
	for _, candidate := range checkoutTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseCheckoutStage converts raw input into a CheckoutStage.
func ParseCheckoutStage(value string) (CheckoutStage, error) {
	for _, candidate := range validCheckoutStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout stage %q", value)
}
