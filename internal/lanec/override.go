// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanec

// OverridePayload is the control.override event payload.
type OverridePayload struct {
	OriginalDecision  Decision
	EffectiveDecision Decision
}

// applyOverride implements the override controller: if severity crosses
// threshold and the winning decision is refuse, escalate it to
// cancel_output and pin the fallback mode to refuse_politely. Returns the
// (possibly overridden) decision and the override payload, or nil if no
// override occurred.
func applyOverride(d PolicyDecision, threshold int) (PolicyDecision, *OverridePayload) {
	if d.Severity < threshold || d.Decision != DecisionRefuse {
		return d, nil
	}

	original := d.Decision
	d.Decision = DecisionCancelOutput
	d.FallbackMode = "refuse_politely"
	return d, &OverridePayload{OriginalDecision: original, EffectiveDecision: d.Decision}
}
