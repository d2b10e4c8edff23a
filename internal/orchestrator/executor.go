package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/events"
	"github.com/fyrsmithlabs/deployd/internal/generator"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/metrics"
	"github.com/fyrsmithlabs/deployd/internal/notifier"
	"github.com/fyrsmithlabs/deployd/internal/publisher"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

// execution carries the artifacts of one task between stages.
type execution struct {
	task      task.Task
	files     generator.FileSet
	published publisher.Result
	delivery  notifier.Result
}

// stage is one step of the pipeline. The task holds status while run
// executes and moves to next when it succeeds.
type stage struct {
	name    string
	status  task.Status
	next    task.Status
	failure task.ErrorKind
	timeout time.Duration
	run     func(ctx context.Context, e *execution) error
	// record copies the stage's outcome onto the task during the transition.
	record func(e *execution, t *task.Task)
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{
			name:    "generate",
			status:  task.StatusGenerating,
			next:    task.StatusPublishing,
			failure: task.KindGenerationFailed,
			timeout: o.opts.GenerateTimeout,
			run:     o.generate,
		},
		{
			name:    "publish",
			status:  task.StatusPublishing,
			next:    task.StatusNotifying,
			failure: task.KindPublishFailed,
			timeout: o.opts.PublishTimeout,
			run:     o.publish,
			record:  recordPublished,
		},
		{
			name:    "notify",
			status:  task.StatusNotifying,
			next:    task.StatusCompleted,
			timeout: o.opts.NotifyTimeout,
			run:     o.notify,
			record:  recordDelivery,
		},
	}
}

func (o *Orchestrator) run(t task.Task) {
	defer o.wg.Done()
	defer o.inFlight.Add(-1)

	ctx := logging.WithTask(context.Background(), t.TaskID, t.Round, t.Nonce)
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.logger.Error(ctx, "failed to acquire worker slot", zap.Error(err))
		return
	}
	defer o.sem.Release(1)

	o.execute(ctx, t)
}

// execute walks t through every stage. Stage failures end the task in FAILED;
// lost compare-and-transition races end the run without touching the task.
func (o *Orchestrator) execute(ctx context.Context, t task.Task) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(
		attribute.String("task.id", t.TaskID),
		attribute.Int("task.round", t.Round),
	))
	defer span.End()

	key := t.Key()
	e := &execution{task: t}
	stages := o.stages()

	current, err := o.transition(ctx, key, task.StatusPending, stages[0].status, nil)
	if err != nil {
		span.RecordError(err)
		return
	}
	e.task = current

	for _, st := range stages {
		if err := o.runStage(ctx, st, e); err != nil {
			stageErr := &task.StageError{Stage: st.status, Kind: st.failure, Err: err}
			o.fail(ctx, key, st.status, stageErr)
			span.SetStatus(codes.Error, stageErr.Error())
			return
		}

		var mutate task.MutateFunc
		if st.record != nil {
			mutate = func(t *task.Task) { st.record(e, t) }
		}
		updated, err := o.transition(ctx, key, st.status, st.next, mutate)
		if err != nil {
			span.RecordError(err)
			return
		}
		e.task = updated
	}

	o.logger.Info(ctx, "task completed",
		zap.String("repo_url", e.task.RepoURL),
		zap.String("pages_url", e.task.PagesURL),
		zap.String("revision", e.task.Revision),
		zap.Bool("notified", e.delivery.Delivered),
	)
}

func (o *Orchestrator) runStage(ctx context.Context, st stage, e *execution) error {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "orchestrator."+st.name)
	defer span.End()

	start := time.Now()
	err := st.run(ctx, e)
	metrics.ObserveStage(st.name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) generate(ctx context.Context, e *execution) error {
	attachments := make([]generator.Attachment, len(e.task.Attachments))
	for i, a := range e.task.Attachments {
		attachments[i] = generator.Attachment{Name: a.Name, URL: a.URL}
	}

	files, err := o.generator.Generate(ctx, generator.Request{
		TaskID:      e.task.TaskID,
		Round:       e.task.Round,
		Brief:       e.task.Brief,
		Checks:      e.task.Checks,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	o.logger.Info(ctx, "files generated", zap.Int("files", len(files)), zap.Int("bytes", files.Size()))

	e.files = o.scrub(ctx, files)
	return nil
}

// scrub removes credentials from generated files before they leave the process.
func (o *Orchestrator) scrub(ctx context.Context, files generator.FileSet) generator.FileSet {
	if o.scrubber == nil || !o.scrubber.Enabled() {
		return files
	}
	cleaned, report := o.scrubber.ScrubFiles(files)
	if n := report.Total(); n > 0 {
		metrics.SecretsRedacted.Add(float64(n))
		o.logger.Warn(ctx, "redacted secrets from generated files",
			zap.Int("findings", n),
			zap.Strings("paths", report.Paths()),
			zap.Strings("rules", report.RuleIDs()),
		)
	}
	return cleaned
}

func (o *Orchestrator) publish(ctx context.Context, e *execution) error {
	var (
		res publisher.Result
		err error
	)
	if e.task.Round == 1 {
		res, err = o.publisher.CreateAndPublish(ctx, publisher.NameSeed{TaskID: e.task.TaskID, Email: e.task.Email}, e.files)
	} else {
		if e.task.Repo.IsZero() {
			return fmt.Errorf("%w: no repository recorded for %s", publisher.ErrRepoNotFound, e.task.TaskID)
		}
		res, err = o.publisher.UpdateAndPublish(ctx, e.task.Repo, e.files)
	}
	if err != nil {
		return err
	}
	e.published = res
	return nil
}

// recordPublished sets the repository fields. Later rounds keep the URLs
// inherited from the round that created the repository.
func recordPublished(e *execution, t *task.Task) {
	if t.RepoURL == "" {
		t.RepoURL = e.published.RepoURL
	}
	if t.PagesURL == "" {
		t.PagesURL = e.published.PagesURL
	}
	if t.Repo.IsZero() {
		t.Repo = e.published.Repo
	}
	t.Revision = e.published.Revision
	if e.published.PagesErr != nil {
		t.Warnings = append(t.Warnings, task.Warning{
			Kind:    task.KindPagesUnavailable,
			Message: e.published.PagesErr.Error(),
			At:      time.Now().UTC(),
		})
	}
}

func (o *Orchestrator) notify(ctx context.Context, e *execution) error {
	e.delivery = o.notifier.Notify(ctx, notifier.Payload{
		Email:     e.task.Email,
		Task:      e.task.TaskID,
		Round:     e.task.Round,
		Nonce:     e.task.Nonce,
		RepoURL:   e.task.RepoURL,
		CommitSHA: e.task.Revision,
		PagesURL:  e.task.PagesURL,
	}, e.task.EvaluationURL)
	metrics.RecordNotify(e.delivery.Delivered, e.delivery.Attempts)
	return nil
}

func recordDelivery(e *execution, t *task.Task) {
	t.NotifyAttempts = e.delivery.Attempts
	if e.delivery.Delivered {
		return
	}
	msg := fmt.Sprintf("evaluation callback not delivered after %d attempts", e.delivery.Attempts)
	if e.delivery.Err != nil {
		msg += ": " + e.delivery.Err.Error()
	}
	t.Warnings = append(t.Warnings, task.Warning{
		Kind:    task.KindNotifyIncomplete,
		Message: msg,
		At:      time.Now().UTC(),
	})
}

func (o *Orchestrator) fail(ctx context.Context, key task.Key, from task.Status, stageErr *task.StageError) {
	o.logger.Error(ctx, "task failed",
		zap.String("stage", string(from)),
		zap.String("kind", string(stageErr.Kind)),
		zap.Error(stageErr.Err),
	)
	_, _ = o.transition(ctx, key, from, task.StatusFailed, func(t *task.Task) {
		t.Error = stageErr.Failure()
	})
}

// transition applies one compare-and-transition and reports it.
func (o *Orchestrator) transition(ctx context.Context, key task.Key, from, to task.Status, mutate task.MutateFunc) (task.Task, error) {
	updated, err := o.store.CompareAndTransition(ctx, key, from, to, mutate)
	if err != nil {
		o.logger.Error(ctx, "task transition rejected",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return task.Task{}, err
	}

	metrics.RecordTransition(string(from), string(to), to.IsTerminal())
	o.logger.Debug(ctx, "task transitioned", zap.String("from", string(from)), zap.String("to", string(to)))
	o.publishEvent(ctx, updated, from)
	return updated, nil
}

func (o *Orchestrator) publishEvent(ctx context.Context, t task.Task, previous task.Status) {
	if err := o.events.Publish(ctx, events.FromTask(t, previous)); err != nil {
		o.logger.Warn(ctx, "failed to publish task event", zap.String("status", string(t.Status)), zap.Error(err))
	}
}
