package checkout

import (
	"fmt"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
)

// StageHook observes every stage an attempt enters, including failed.
type StageHook func(stage enums.CheckoutStage)

// Attempt walks one checkout through
// idle -> session_checked -> cart_validated -> [discount_applied] ->
// payment_data_built -> awaiting_gateway -> succeeded, or to failed from any
// non-terminal stage.
type Attempt struct {
	stage   enums.CheckoutStage
	history []enums.CheckoutStage
	hook    StageHook
}

func newAttempt(hook StageHook) *Attempt {
	return &Attempt{
		stage:   enums.CheckoutStageIdle,
		history: []enums.CheckoutStage{enums.CheckoutStageIdle},
		hook:    hook,
	}
}

func (a *Attempt) Stage() enums.CheckoutStage { return a.stage }

// History lists the stages entered so far, starting with idle.
func (a *Attempt) History() []enums.CheckoutStage {
	out := make([]enums.CheckoutStage, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Attempt) advance(next enums.CheckoutStage) error {
	if !a.stage.CanTransitionTo(next) {
		return fmt.Errorf("checkout cannot move from %s to %s", a.stage, next)
	}
	a.stage = next
	a.history = append(a.history, next)
	if a.hook != nil {
		a.hook(next)
	}
	return nil
}

// fail moves the attempt to failed and returns the stage it failed from.
// Failing a terminal attempt is a no-op.
func (a *Attempt) fail() enums.CheckoutStage {
	from := a.stage
	if from.IsTerminal() {
		return from
	}
	_ = a.advance(enums.CheckoutStageFailed)
	return from
}
