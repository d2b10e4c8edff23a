// Package task defines the deployment task model, its state machine and the
// store that holds task state for the life of the process.
package task

import (
	"fmt"
	"slices"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusGenerating Status = "GENERATING"
	StatusPublishing Status = "PUBLISHING"
	StatusNotifying  Status = "NOTIFYING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[Status][]Status{
	StatusPending:    {StatusGenerating},
	StatusGenerating: {StatusPublishing, StatusFailed},
	StatusPublishing: {StatusNotifying, StatusFailed},
	StatusNotifying:  {StatusCompleted},
	StatusCompleted:  {}, // terminal
	StatusFailed:     {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	return slices.Contains(ValidTransitions[s], target)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// ErrorKind classifies a task failure or warning.
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindGenerationFailed ErrorKind = "GENERATION_FAILED"
	KindPublishFailed    ErrorKind = "PUBLISH_FAILED"
	KindNotifyIncomplete ErrorKind = "NOTIFY_INCOMPLETE"
	KindPagesUnavailable ErrorKind = "PAGES_UNAVAILABLE"
)

// Key identifies one execution attempt.
type Key struct {
	TaskID string `json:"task_id"`
	Round  int    `json:"round"`
	Nonce  string `json:"nonce"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.TaskID, k.Round, k.Nonce)
}

// Attachment is a named data URI supplied with a request.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RepoRef locates a published repository.
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName returns owner/name.
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the reference is unset.
func (r RepoRef) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// Failure records why a task ended in FAILED.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Warning records a non-fatal problem.
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Task is the unit of work for one deployment request.
type Task struct {
	TaskID        string       `json:"task_id"`
	Round         int          `json:"round"`
	Nonce         string       `json:"nonce"`
	Email         string       `json:"email"`
	Brief         string       `json:"brief"`
	Checks        []string     `json:"checks"`
	EvaluationURL string       `json:"evaluation_url"`
	Attachments   []Attachment `json:"attachments,omitempty"`

	Status Status `json:"status"`

	// Set once publishing succeeds; immutable afterwards.
	RepoURL  string  `json:"repo_url,omitempty"`
	PagesURL string  `json:"pages_url,omitempty"`
	Revision string  `json:"revision,omitempty"`
	Repo     RepoRef `json:"repo"`

	Error          *Failure  `json:"error,omitempty"`
	Warnings       []Warning `json:"warnings,omitempty"`
	NotifyAttempts int       `json:"notify_attempts,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Key returns the idempotency key of t.
func (t *Task) Key() Key {
	return Key{TaskID: t.TaskID, Round: t.Round, Nonce: t.Nonce}
}

// Published reports whether t has a live repository.
func (t *Task) Published() bool {
	return t.RepoURL != "" && (t.Status == StatusNotifying || t.Status == StatusCompleted)
}

// InFlight reports whether t has not reached a terminal state.
func (t *Task) InFlight() bool {
	return !t.Status.IsTerminal()
}

// HasWarning reports whether a warning of kind was recorded.
func (t *Task) HasWarning(kind ErrorKind) bool {
	for _, w := range t.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	c := t
	c.Checks = slices.Clone(t.Checks)
	c.Attachments = slices.Clone(t.Attachments)
	c.Warnings = slices.Clone(t.Warnings)
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}
