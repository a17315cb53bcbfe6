// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyOverrideEscalatesRefuseAtOrAboveThreshold(t *testing.T) {
	d := PolicyDecision{Decision: DecisionRefuse, Severity: 4}
	out, override := applyOverride(d, 4)
	assert.Equal(t, DecisionCancelOutput, out.Decision)
	assert.Equal(t, "refuse_politely", out.FallbackMode)
	assert.NotNil(t, override)
	assert.Equal(t, DecisionRefuse, override.OriginalDecision)
	assert.Equal(t, DecisionCancelOutput, override.EffectiveDecision)
}

func TestApplyOverrideLeavesBelowThresholdUntouched(t *testing.T) {
	d := PolicyDecision{Decision: DecisionRefuse, Severity: 3}
	out, override := applyOverride(d, 4)
	assert.Equal(t, DecisionRefuse, out.Decision)
	assert.Nil(t, override)
}

func TestApplyOverrideLeavesNonRefuseUntouched(t *testing.T) {
	d := PolicyDecision{Decision: DecisionEscalate, Severity: 4}
	out, override := applyOverride(d, 4)
	assert.Equal(t, DecisionEscalate, out.Decision)
	assert.Nil(t, override)
}
