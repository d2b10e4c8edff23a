package secrets

import (
	"maps"
	"slices"
)

// Result contains the scrubbing result for one piece of content.
type Result struct {
	// Scrubbed is the content with secrets redacted
	Scrubbed string

	// Findings contains the detected secrets (without actual values)
	Findings []Finding

	// ByRule maps rule IDs to finding counts
	ByRule map[string]int
}

// Finding represents a detected secret. The matched value is never kept.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Report summarizes scrubbing across a file set.
type Report struct {
	// Files maps each modified path to its findings.
	Files map[string][]Finding
}

// Total returns the number of findings across all files.
func (r Report) Total() int {
	n := 0
	for _, f := range r.Files {
		n += len(f)
	}
	return n
}

// Paths returns the modified paths in sorted order.
func (r Report) Paths() []string {
	return slices.Sorted(maps.Keys(r.Files))
}

// RuleIDs returns the unique rule IDs that matched, sorted.
func (r Report) RuleIDs() []string {
	seen := make(map[string]struct{})
	for _, findings := range r.Files {
		for _, f := range findings {
			seen[f.RuleID] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
