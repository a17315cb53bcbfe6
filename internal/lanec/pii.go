// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanec

import "regexp"

// PIIKind is one of the supported PII detector kinds.
type PIIKind string

const (
	PIIPhoneUS           PIIKind = "PHONE_US"
	PIIEmail             PIIKind = "EMAIL"
	PIISSN               PIIKind = "SSN"
	PIICreditCardLike    PIIKind = "CREDIT_CARD_LIKE"
	PIIStreetAddressLike PIIKind = "STREET_ADDRESS_LIKE"
	PIIIP                PIIKind = "IP"
)

// piiDetector pairs a kind with the regex that finds it. Order is the
// detection order used to break ties between matches that start at the same
// position; among overlapping matches with different starts, the earlier
// start wins (see redactText).
type piiDetector struct {
	kind    PIIKind
	pattern *regexp.Regexp
}

var piiDetectors = []piiDetector{
	{PIIEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{PIICreditCardLike, regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{PIIPhoneUS, regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{PIIStreetAddressLike, regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z0-9.'\s]{2,40}\s(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way)\b`)},
	{PIIIP, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
}

// PIIRedactionMode selects between rewriting the text (redact) and merely
// annotating it (flag).
type PIIRedactionMode string

const (
	PIIModeRedact PIIRedactionMode = "redact"
	PIIModeFlag   PIIRedactionMode = "flag"
)

// piiMatch is one detected span.
type piiMatch struct {
	kind       PIIKind
	start, end int
}

func detectPII(text string) []piiMatch {
	var matches []piiMatch
	for _, d := range piiDetectors {
		for _, loc := range d.pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, piiMatch{kind: d.kind, start: loc[0], end: loc[1]})
		}
	}
	return matches
}

// runPII implements the first pipeline stage. A
// zero-value checkResult means no PII was found.
func runPII(text string, mode PIIRedactionMode) checkResult {
	matches := detectPII(text)
	if len(matches) == 0 {
		return checkResult{}
	}

	switch mode {
	case PIIModeFlag:
		return checkResult{decision: DecisionAllow, severity: 1, reasonCodes: []string{"PII_DETECTED"}}
	default: // redact
		return checkResult{
			decision:    DecisionRewrite,
			severity:    1,
			reasonCodes: []string{"PII_DETECTED"},
			safeRewrite: redactText(text, matches),
		}
	}
}

// redactText replaces every detected span with "[KIND_REDACTED]",
// resolving overlaps by keeping the match that starts earliest (detection
// order decides only between matches with the same start) and skipping
// matches that start before the previous replacement ended.
func redactText(text string, matches []piiMatch) string {
	// Sort by start position but preserve detection order for identical
	// starts via a stable pass.
	ordered := make([]piiMatch, len(matches))
	copy(ordered, matches)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].start < ordered[j-1].start; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var out []byte
	cursor := 0
	for _, m := range ordered {
		if m.start < cursor {
			continue // overlapping span already covered
		}
		out = append(out, text[cursor:m.start]...)
		out = append(out, '[')
		out = append(out, []byte(string(m.kind))...)
		out = append(out, []byte("_REDACTED]")...)
		cursor = m.end
	}
	out = append(out, text[cursor:]...)
	return string(out)
}
