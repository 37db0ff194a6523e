package synth

import (
	"github.com/nerrad567/reolink-core/internal/ability"
	"github.com/nerrad567/reolink-core/internal/catalog"
)

// Reason explains an eligibility decision.
type Reason string

// Eligibility reasons.
const (
	ReasonAlways       Reason = "ability_none"
	ReasonPermitted    Reason = "permitted"
	ReasonNoCapability Reason = "no_capability_match"
	ReasonNotPermitted Reason = "permit_zero"
	ReasonAIMismatch   Reason = "ai_gate_mismatch"
)

// Eligible decides whether spec applies to a device with matrix m.
//
// "none" always applies. Otherwise the ability must be present with a
// non-zero permit, and when the spec carries an AI gate the gate must equal
// supportsAI.
func Eligible(spec catalog.CommandSpec, m ability.Matrix, supportsAI bool) (bool, Reason) {
	if spec.AbilityNeeded == catalog.AbilityNone {
		return true, ReasonAlways
	}

	entry, ok := m.Lookup(spec.AbilityNeeded)
	if !ok {
		return false, ReasonNoCapability
	}
	if entry.Permit == 0 {
		return false, ReasonNotPermitted
	}
	if gated, wantAI := spec.RequiresAI(); gated && wantAI != supportsAI {
		return false, ReasonAIMismatch
	}
	return true, ReasonPermitted
}
