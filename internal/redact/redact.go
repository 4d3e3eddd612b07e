// Package redact removes customer identifiers from text before it
// enters long-lived storage. Conversation turns keep the verbatim
// exchange for operational audit; everything written to semantic memory
// passes through the scrubber first.
package redact

import (
	"fmt"
	"regexp"
	"sort"
)

// DefaultReplacement substitutes every redacted span.
const DefaultReplacement = "[REDIGIDO]"

// Rule matches one category of personal data.
type Rule struct {
	ID          string
	Description string
	Pattern     string

	compiled *regexp.Regexp
}

// DefaultRules covers the identifiers customers volunteer in Brazilian
// commerce conversations.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "cpf",
			Description: "CPF (formatted)",
			Pattern:     `\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`,
		},
		{
			ID:          "cnpj",
			Description: "CNPJ (formatted)",
			Pattern:     `\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`,
		},
		{
			ID:          "phone",
			Description: "Brazilian phone number",
			Pattern:     `(?:\+55\s?)?\(\d{2}\)\s?9?\d{4}-?\d{4}\b|\+55\s?\d{2}\s?9?\d{4}-?\d{4}\b`,
		},
		{
			ID:          "email",
			Description: "email address",
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		},
		{
			ID:          "card",
			Description: "payment card number",
			Pattern:     `\b\d{4}[ -]\d{4}[ -]\d{4}[ -]\d{4}\b`,
		},
	}
}

// Finding records one redacted span.
type Finding struct {
	Rule  string
	Start int
	End   int
}

// Result reports what the scrubber changed.
type Result struct {
	Scrubbed string
	Findings []Finding
}

// Clean reports whether nothing was redacted.
func (r Result) Clean() bool { return len(r.Findings) == 0 }

// Scrubber applies the configured rules to text.
type Scrubber struct {
	rules       []Rule
	replacement string
}

// New compiles the rules into a Scrubber. Nil rules means DefaultRules;
// an empty replacement means DefaultReplacement.
func New(rules []Rule, replacement string) (*Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if replacement == "" {
		replacement = DefaultReplacement
	}
	compiled := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling redaction rule %q: %w", rule.ID, err)
		}
		rule.compiled = re
		compiled = append(compiled, rule)
	}
	return &Scrubber{rules: compiled, replacement: replacement}, nil
}

// span is a half-open byte range scheduled for replacement.
type span struct {
	start, end int
	rule       string
}

// Scrub replaces every rule match in content.
func (s *Scrubber) Scrub(content string) Result {
	var spans []span
	for _, rule := range s.rules {
		for _, m := range rule.compiled.FindAllStringIndex(content, -1) {
			spans = append(spans, span{start: m[0], end: m[1], rule: rule.ID})
		}
	}
	if len(spans) == 0 {
		return Result{Scrubbed: content}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := mergeSpans(spans)

	result := Result{Findings: make([]Finding, 0, len(merged))}
	for _, sp := range merged {
		result.Findings = append(result.Findings, Finding{Rule: sp.rule, Start: sp.start, End: sp.end})
	}

	// Replace back to front so earlier offsets stay valid.
	scrubbed := content
	for i := len(merged) - 1; i >= 0; i-- {
		sp := merged[i]
		scrubbed = scrubbed[:sp.start] + s.replacement + scrubbed[sp.end:]
	}
	result.Scrubbed = scrubbed
	return result
}

// mergeSpans collapses overlapping matches; the earliest rule wins the
// attribution.
func mergeSpans(spans []span) []span {
	merged := []span{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}
