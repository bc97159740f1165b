package pattern

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Rule detects one class of sensitive spans by regular expression.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string `toml:"id"`

	// Description explains what this rule detects.
	Description string `toml:"description"`

	// EntityType is the redaction type assigned to matches.
	EntityType string `toml:"entity_type"`

	// Pattern is the regex matched against page text.
	Pattern string `toml:"pattern"`

	// Keywords must appear on the page (case-insensitive) for the rule
	// to run at all. Empty means always run.
	Keywords []string `toml:"keywords"`

	// Severity maps to the match confidence (high, medium, low).
	Severity string `toml:"severity"`
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
	score    float64
}

func severityScore(severity string) (float64, error) {
	switch strings.ToLower(severity) {
	case "", "medium":
		return 0.7, nil
	case "high":
		return 0.9, nil
	case "low":
		return 0.5, nil
	}
	return 0, fmt.Errorf("unknown severity %q", severity)
}

func compileRules(rules []Rule) ([]*compiledRule, error) {
	compiled := make([]*compiledRule, 0, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.EntityType == "" {
			return nil, fmt.Errorf("rule %s: entity type is required", rule.ID)
		}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		score, err := severityScore(rule.Severity)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}

		keywords := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			keywords[j] = strings.ToLower(kw)
		}

		compiled = append(compiled, &compiledRule{
			Rule:     rule,
			pattern:  re,
			keywords: keywords,
			score:    score,
		})
	}
	return compiled, nil
}

// DefaultRules returns the built-in PII ruleset.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "email-address",
			Description: "Email addresses",
			EntityType:  "EMAIL",
			Pattern:     `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
			Severity:    "high",
		},
		{
			ID:          "phone-number",
			Description: "International and local phone numbers",
			EntityType:  "PHONE",
			Pattern:     `\+?[0-9][0-9 ().\-]{7,18}[0-9]`,
			Severity:    "medium",
		},
		{
			ID:          "iban",
			Description: "International bank account numbers",
			EntityType:  "IBAN",
			Pattern:     `\b[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}\b`,
			Severity:    "high",
		},
		{
			ID:          "credit-card",
			Description: "Payment card numbers",
			EntityType:  "CREDIT_CARD",
			Pattern:     `\b(?:[0-9][ \-]?){13,19}\b`,
			Keywords:    []string{"card", "visa", "mastercard", "amex", "payment"},
			Severity:    "high",
		},
		{
			ID:          "ipv4-address",
			Description: "IPv4 addresses",
			EntityType:  "IP_ADDRESS",
			Pattern:     `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`,
			Severity:    "low",
		},
	}
}

// LoadRules reads a TOML ruleset file.
func LoadRules(path string) ([]Rule, error) {
	var file struct {
		Rules []Rule `toml:"rules"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("loading rules file %s: %w", path, err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	return file.Rules, nil
}
