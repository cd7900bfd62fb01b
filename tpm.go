// FILE: tpm.go
// Package main – trailing profit-margin engine (§4.9).
//
// Grounded on _examples/original_source/pt_trader.py's per-symbol trailing
// state (state["active"]/state["peak"]/state["line"]/state["was_above"]):
// a DISARMED/ARMED/TRIGGERED state machine per held asset. DISARMED re-pins
// its base line to avgCost*(1+pmStartPct) every tick until price crosses
// above it; ARMED tracks a monotonically non-decreasing trailing line and
// fires a sell the instant price crosses from above the line to below it.
package main

import "github.com/shopspring/decimal"

// TPMPhase is the trailing profit-margin state machine's phase.
type TPMPhase int

const (
	TPMDisarmed TPMPhase = iota
	TPMArmed
	TPMTriggered
)

// TPMState is the per-asset trailing state carried across ticks.
type TPMState struct {
	Phase    TPMPhase
	BaseLine decimal.Decimal
	Peak     decimal.Decimal
	Line     decimal.Decimal
	WasAbove bool
}

// Reset clears the state back to DISARMED, called on any sell (§4.9).
func (s *TPMState) Reset() {
	*s = TPMState{}
}

// EvaluateTPM advances the state machine by one tick given the current bid
// and the asset's average cost, and reports whether a sell should fire.
// dcaStage is the number of DCA buys triggered for the current trade: it
// selects pmStartPctWithDCA (>=1) vs pmStartPctNoDCA (0), per §4.9.
func EvaluateTPM(
	s *TPMState, bid, avgCost decimal.Decimal, dcaStage int,
	pmStartPctNoDCA, pmStartPctWithDCA, trailGapPct decimal.Decimal,
) (fireSell bool) {
	if avgCost.LessThanOrEqual(decimal.Zero) || bid.LessThanOrEqual(decimal.Zero) {
		return false
	}

	pmStartPct := pmStartPctNoDCA
	if dcaStage >= 1 {
		pmStartPct = pmStartPctWithDCA
	}
	hundred := decimal.NewFromInt(100)

	switch s.Phase {
	case TPMDisarmed, TPMTriggered:
		// Re-pin the base line every tick until armed, and after a prior
		// trigger is cleared by the caller via Reset on the next sell.
		s.BaseLine = avgCost.Mul(decimal.NewFromInt(1).Add(pmStartPct.Div(hundred)))
		if bid.GreaterThan(s.BaseLine) {
			s.Phase = TPMArmed
			s.Peak = bid
			s.Line = s.BaseLine
			s.WasAbove = true
		}
		return false

	case TPMArmed:
		if bid.GreaterThan(s.Peak) {
			s.Peak = bid
		}
		trailLine := s.Peak.Mul(decimal.NewFromInt(1).Sub(trailGapPct.Div(hundred)))
		candidate := s.BaseLine
		if trailLine.GreaterThan(candidate) {
			candidate = trailLine
		}
		if candidate.GreaterThan(s.Line) {
			s.Line = candidate
		}

		aboveNow := bid.GreaterThan(s.Line)
		crossedDown := s.WasAbove && !aboveNow
		s.WasAbove = aboveNow

		if crossedDown {
			s.Phase = TPMTriggered
			return true
		}
		return false
	}
	return false
}
