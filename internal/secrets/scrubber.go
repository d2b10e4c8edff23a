// Package secrets redacts credentials from generated files before they are
// published to a public repository.
package secrets

import (
	"sort"
	"strings"
)

// Scrubber detects and redacts secrets. It is safe for concurrent use once
// created.
type Scrubber struct {
	config *Config
}

type redaction struct {
	start, end int
}

// New creates a Scrubber. If cfg is nil, DefaultConfig() is used.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scrubber{config: cfg}, nil
}

// Enabled returns whether scrubbing is active.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.config.Enabled
}

// Scrub redacts secrets from content.
func (s *Scrubber) Scrub(content string) Result {
	result := Result{Scrubbed: content, ByRule: make(map[string]int)}
	if !s.Enabled() {
		return result
	}

	var redactions []redaction
	for _, rule := range s.config.compiledRules {
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[m[0]:m[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:   rule.ID,
				Severity: rule.Severity,
				Line:     strings.Count(content[:m[0]], "\n") + 1,
			})
			result.ByRule[rule.ID]++
			redactions = append(redactions, redaction{start: m[0], end: m[1]})
		}
	}
	if len(redactions) == 0 {
		return result
	}

	sort.Slice(result.Findings, func(i, j int) bool { return result.Findings[i].Line < result.Findings[j].Line })

	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, r := range mergeRedactions(redactions) {
		b.WriteString(content[last:r.start])
		b.WriteString(s.config.RedactionString)
		last = r.end
	}
	b.WriteString(content[last:])
	result.Scrubbed = b.String()
	return result
}

// ScrubFiles redacts every file in files, returning a new map and a report
// listing the files that changed. files is not modified.
func (s *Scrubber) ScrubFiles(files map[string]string) (map[string]string, Report) {
	out := make(map[string]string, len(files))
	report := Report{Files: make(map[string][]Finding)}
	for path, content := range files {
		r := s.Scrub(content)
		out[path] = r.Scrubbed
		if r.HasFindings() {
			report.Files[path] = r.Findings
		}
	}
	return out, report
}

func (s *Scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeRedactions sorts by start and merges overlapping or adjacent spans.
func mergeRedactions(redactions []redaction) []redaction {
	sort.Slice(redactions, func(i, j int) bool { return redactions[i].start < redactions[j].start })

	merged := []redaction{redactions[0]}
	for _, curr := range redactions[1:] {
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
