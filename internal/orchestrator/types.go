package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

// ErrShuttingDown is returned by Submit after Shutdown was called.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Request is a validated deployment request.
type Request struct {
	TaskID        string
	Round         int
	Nonce         string
	Email         string
	Brief         string
	Checks        []string
	EvaluationURL string
	Attachments   []task.Attachment
}

func (r Request) task() task.Task {
	return task.Task{
		TaskID:        r.TaskID,
		Round:         r.Round,
		Nonce:         r.Nonce,
		Email:         r.Email,
		Brief:         r.Brief,
		Checks:        r.Checks,
		EvaluationURL: r.EvaluationURL,
		Attachments:   r.Attachments,
		Status:        task.StatusPending,
	}
}

// Options tunes execution.
type Options struct {
	// MaxConcurrent bounds the number of tasks executing at once.
	MaxConcurrent int

	GenerateTimeout time.Duration
	PublishTimeout  time.Duration
	NotifyTimeout   time.Duration
}

// OptionsFrom maps pipeline settings onto Options.
func OptionsFrom(cfg config.PipelineConfig) Options {
	return Options{
		MaxConcurrent:   cfg.MaxConcurrent,
		GenerateTimeout: cfg.GenerateTimeout.Duration(),
		PublishTimeout:  cfg.PublishTimeout.Duration(),
		NotifyTimeout:   cfg.NotifyTimeout.Duration(),
	}
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 8
	}
	if o.GenerateTimeout <= 0 {
		o.GenerateTimeout = 5 * time.Minute
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 3 * time.Minute
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 3 * time.Minute
	}
}

// Health reports the orchestrator's own state.
type Health struct {
	Accepting     bool `json:"accepting"`
	InFlight      int  `json:"in_flight"`
	MaxConcurrent int  `json:"max_concurrent"`
}
