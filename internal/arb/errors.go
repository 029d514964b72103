package arb

import "fmt"

// SimulationError is a tagged variant replacing a polymorphic exception
// hierarchy for RPC simulator failures (§9).
type SimulationError struct {
	Kind         SimulationErrorKind
	Index        int
	Reason       string
	CustomCode   uint32
	Message      string
}

// SimulationErrorKind enumerates the classification buckets from §4.4.
type SimulationErrorKind int

const (
	SimInstructionError SimulationErrorKind = iota
	SimInsufficientFunds
	SimInsufficientFundsForRent
	SimCustomProgramError
	SimOther
)

func (e *SimulationError) Error() string {
	switch e.Kind {
	case SimInstructionError:
		return fmt.Sprintf("instruction error at index %d: %s", e.Index, e.Reason)
	case SimInsufficientFunds:
		return "insufficient funds"
	case SimInsufficientFundsForRent:
		return "insufficient funds for rent"
	case SimCustomProgramError:
		return fmt.Sprintf("custom program error: %d", e.CustomCode)
	default:
		return fmt.Sprintf("simulation error: %s", e.Message)
	}
}

// AggregatorError wraps a failure talking to the swap-route aggregator.
type AggregatorError struct {
	StatusCode int
	NoRoute    bool
	Op         string
	Err        error
}

func (e *AggregatorError) Error() string {
	if e.NoRoute {
		return fmt.Sprintf("aggregator: no route (%s)", e.Op)
	}
	return fmt.Sprintf("aggregator: %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *AggregatorError) Unwrap() error { return e.Err }

// ValidationError wraps a rejection produced by the validator, distinct
// from a ValidationResult{Valid:false} — used only for unexpected
// programming-level failures in the validation path (e.g. malformed
// quote), not ordinary economic rejections.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("validation error: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
