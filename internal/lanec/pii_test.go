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

func TestRunPIIRedactModeRewritesAndFlagsSeverity1(t *testing.T) {
	r := runPII("reach me at jane@example.com", PIIModeRedact)
	assert.Equal(t, DecisionRewrite, r.decision)
	assert.Equal(t, 1, r.severity)
	assert.Contains(t, r.safeRewrite, "EMAIL_REDACTED")
	assert.NotContains(t, r.safeRewrite, "jane@example.com")
}

func TestRunPIIFlagModeKeepsTextAndAllows(t *testing.T) {
	r := runPII("my ssn is 123-45-6789", PIIModeFlag)
	assert.Equal(t, DecisionAllow, r.decision)
	assert.Equal(t, 1, r.severity)
	assert.Empty(t, r.safeRewrite)
}

func TestRunPIINoMatchReturnsZeroValue(t *testing.T) {
	r := runPII("just a normal sentence", PIIModeRedact)
	assert.Equal(t, checkResult{}, r)
}

func TestDetectPIIFindsEachKind(t *testing.T) {
	text := "email a@b.com phone 415-555-1234 ssn 987-65-4320 ip 192.168.1.1 addr 123 Main Street card 4111 1111 1111 1111"
	matches := detectPII(text)
	kinds := map[PIIKind]bool{}
	for _, m := range matches {
		kinds[m.kind] = true
	}
	assert.True(t, kinds[PIIEmail])
	assert.True(t, kinds[PIIPhoneUS])
	assert.True(t, kinds[PIISSN])
	assert.True(t, kinds[PIIIP])
	assert.True(t, kinds[PIIStreetAddressLike])
	assert.True(t, kinds[PIICreditCardLike])
}
