package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// literalRuleID identifies matches of configured credential values.
const literalRuleID = "configured-credential"

// minLiteralLen keeps trivially short values from redacting ordinary text.
const minLiteralLen = 8

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool

	// Rules defines the detection rules
	Rules []Rule

	// Literals are exact credential values that must never be published,
	// such as the service's own tokens and the accepted shared secrets.
	Literals []string

	// RedactionString replaces each finding (default: "[REDACTED]")
	RedactionString string

	// AllowList contains patterns whose matches are left untouched
	AllowList []string

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a secret detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	Severity    string
}

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// DefaultConfig returns a configuration with the default rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

// WithLiterals returns a copy of c that also redacts the given values.
// Empty and very short values are ignored.
func (c Config) WithLiterals(values ...string) *Config {
	c.Literals = append([]string(nil), c.Literals...)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) >= minLiteralLen {
			c.Literals = append(c.Literals, v)
		}
	}
	return &c
}

// Validate validates and compiles the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules)+1)
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		c.compiledRules = append(c.compiledRules, &compiledRule{Rule: rule, pattern: pattern})
	}

	if len(c.Literals) > 0 {
		quoted := make([]string, 0, len(c.Literals))
		for _, l := range c.Literals {
			quoted = append(quoted, regexp.QuoteMeta(l))
		}
		c.compiledRules = append(c.compiledRules, &compiledRule{
			Rule: Rule{
				ID:          literalRuleID,
				Description: "Configured service credential",
				Severity:    SeverityHigh,
			},
			pattern: regexp.MustCompile(strings.Join(quoted, "|")),
		})
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}
	return nil
}
