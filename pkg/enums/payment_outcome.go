package enums

// PaymentOutcome classifies a gateway navigation event.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess       PaymentOutcome = "success"
	PaymentOutcomeFailure       PaymentOutcome = "failure"
	PaymentOutcomeIndeterminate PaymentOutcome = "indeterminate"
)

// String implements fmt.Stringer.
func (o PaymentOutcome) String() string {
	return string(o)
}

// IsTerminal reports whether the outcome ends the gateway round-trip.
func (o PaymentOutcome) IsTerminal() bool {
	return o == PaymentOutcomeSuccess || o == PaymentOutcomeFailure
}
