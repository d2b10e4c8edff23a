package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/deployd/internal/events"
	"github.com/fyrsmithlabs/deployd/internal/generator"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/metrics"
	"github.com/fyrsmithlabs/deployd/internal/notifier"
	"github.com/fyrsmithlabs/deployd/internal/publisher"
	"github.com/fyrsmithlabs/deployd/internal/secrets"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

const instrumentationName = "github.com/fyrsmithlabs/deployd/internal/orchestrator"

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     task.Store
	Generator generator.Generator
	Publisher publisher.Publisher
	Notifier  notifier.Notifier

	// Optional.
	Scrubber *secrets.Scrubber
	Events   events.Sink
	Tracer   trace.Tracer
	Logger   *logging.Logger
	Gates    []Gate
}

// Orchestrator accepts deployment requests and runs them in the background.
type Orchestrator struct {
	store     task.Store
	generator generator.Generator
	publisher publisher.Publisher
	notifier  notifier.Notifier
	scrubber  *secrets.Scrubber
	events    events.Sink
	tracer    trace.Tracer
	logger    *logging.Logger
	gates     []Gate
	opts      Options

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	inFlight atomic.Int64
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("task store is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Publisher == nil:
		return nil, errors.New("publisher is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	opts.applyDefaults()

	o := &Orchestrator{
		store:     deps.Store,
		generator: deps.Generator,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		scrubber:  deps.Scrubber,
		events:    deps.Events,
		tracer:    deps.Tracer,
		logger:    deps.Logger,
		gates:     deps.Gates,
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	o.logger = o.logger.Named("orchestrator")
	if o.gates == nil {
		o.gates = DefaultGates()
	}
	return o, nil
}

// Submit admits req and starts executing it in the background. It returns
// the accepted task without waiting for any stage.
//
// A replay of an existing (task_id, round, nonce) returns the stored task and
// starts nothing. Admission failures wrap task.ErrConflict or
// task.ErrPrecondition and leave no task behind.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (task.Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return task.Task{}, ErrShuttingDown
	}

	if err := validate(req); err != nil {
		metrics.RecordSubmission(req.Round, metrics.OutcomeRejected)
		return task.Task{}, err
	}

	ctx = logging.WithTask(ctx, req.TaskID, req.Round, req.Nonce)
	stored, created, err := o.store.Put(ctx, req.task(), admit(o.gates))
	switch {
	case errors.Is(err, task.ErrConflict):
		metrics.RecordSubmission(req.Round, metrics.OutcomeConflict)
		o.logger.Info(ctx, "submission rejected", zap.Error(err))
		return task.Task{}, err
	case errors.Is(err, task.ErrPrecondition):
		metrics.RecordSubmission(req.Round, metrics.OutcomePrecondition)
		o.logger.Info(ctx, "submission rejected", zap.Error(err))
		return task.Task{}, err
	case err != nil:
		metrics.RecordSubmission(req.Round, metrics.OutcomeRejected)
		return task.Task{}, fmt.Errorf("storing task: %w", err)
	}

	if !created {
		metrics.RecordSubmission(req.Round, metrics.OutcomeReplayed)
		o.logger.Info(ctx, "replayed submission, returning existing task", zap.String("status", string(stored.Status)))
		return stored, nil
	}

	metrics.RecordSubmission(req.Round, metrics.OutcomeAccepted)
	o.publishEvent(ctx, stored, "")
	o.logger.Info(ctx, "task accepted", zap.String("email", stored.Email))

	o.wg.Add(1)
	o.inFlight.Add(1)
	go o.run(stored)

	return stored, nil
}

// Status returns the latest task for taskID and every round recorded for it.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (task.Task, []task.Task, error) {
	history, err := o.store.History(ctx, taskID)
	if err != nil {
		return task.Task{}, nil, err
	}
	if len(history) == 0 {
		return task.Task{}, nil, fmt.Errorf("%w: %s", task.ErrNotFound, taskID)
	}
	return history[len(history)-1], history, nil
}

// Get returns the task for key.
func (o *Orchestrator) Get(ctx context.Context, key task.Key) (task.Task, error) {
	return o.store.Get(ctx, key)
}

// Counts returns the number of tasks per status.
func (o *Orchestrator) Counts(ctx context.Context) (map[task.Status]int, error) {
	return o.store.Counts(ctx)
}

// Health reports whether the orchestrator accepts work and how much it holds.
func (o *Orchestrator) Health() Health {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Health{
		Accepting:     !o.closed,
		InFlight:      int(o.inFlight.Load()),
		MaxConcurrent: o.opts.MaxConcurrent,
	}
}

// Shutdown stops accepting work and waits for accepted tasks to finish or
// for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info(ctx, "orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.logger.Warn(ctx, "shutdown deadline reached with tasks in flight", zap.Int64("in_flight", o.inFlight.Load()))
		return ctx.Err()
	}
}

// Wait blocks until every accepted task has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func validate(req Request) error {
	switch {
	case req.TaskID == "":
		return &task.ValidationError{Field: "task", Message: "is required"}
	case req.Round < 1:
		return &task.ValidationError{Field: "round", Message: "must be a positive integer"}
	case req.Nonce == "":
		return &task.ValidationError{Field: "nonce", Message: "is required"}
	case req.EvaluationURL == "":
		return &task.ValidationError{Field: "evaluation_url", Message: "is required"}
	}
	return nil
}
