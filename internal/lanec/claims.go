// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanec

import "regexp"

// ClaimsRegistry holds the assistant-only claims check: an allow-list of approved claim phrasings and a disallow pattern
// list. A disallowed match always wins regardless of whether an allowed
// phrasing also appears, since the allow-list exists only to document
// reviewed claims, not to suppress a disallowed one nearby in the same
// utterance.
type ClaimsRegistry struct {
	Allowed   []*regexp.Regexp
	Disallow  []*regexp.Regexp
	MinSevere int // severity floor applied to every disallow match; >= 2 is the conservative default
}

// DefaultClaimsRegistry is a representative starter set. Another registry is
// passed to New as its claims argument; PolicyConfig has no claims setting.
func DefaultClaimsRegistry() ClaimsRegistry {
	return ClaimsRegistry{
		Allowed: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwe (can|will) help you troubleshoot\b`),
		},
		Disallow: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(guaranteed (cure|income)|FDA[- ]approved (by us|treatment)|risk[- ]free investment)\b`),
		},
		MinSevere: 2,
	}
}

// runClaims implements pipeline stage 3, assistant-role only. Callers must not invoke
// this for RoleUser input.
func runClaims(text string, reg ClaimsRegistry) checkResult {
	for _, pat := range reg.Disallow {
		if pat.MatchString(text) {
			return checkResult{
				decision:    DecisionRewrite,
				severity:    reg.MinSevere,
				reasonCodes: []string{"CLAIMS_DISALLOWED"},
			}
		}
	}
	return checkResult{}
}
