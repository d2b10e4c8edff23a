package orchestrator

import (
	"fmt"

	"github.com/fyrsmithlabs/deployd/internal/task"
)

// Gate decides whether a candidate task may be admitted given every task
// already recorded for its task_id. Gates run under the store lock.
type Gate interface {
	Name() string
	Check(candidate *task.Task, history []task.Task) error
}

// CreateGate admits round-1 tasks. A task_id gets one live repository: a
// new round 1 is only accepted when every earlier attempt failed.
type CreateGate struct{}

// Name returns the gate identifier.
func (CreateGate) Name() string { return "create" }

// Check implements Gate.
func (CreateGate) Check(candidate *task.Task, history []task.Task) error {
	if candidate.Round != 1 {
		return nil
	}
	for _, prior := range history {
		if prior.Status != task.StatusFailed {
			return fmt.Errorf("%w: round %d nonce %s is %s", task.ErrConflict, prior.Round, prior.Nonce, prior.Status)
		}
	}
	return nil
}

// UpdateGate admits round 2+ tasks that follow a published round and points
// them at that round's repository.
type UpdateGate struct{}

// Name returns the gate identifier.
func (UpdateGate) Name() string { return "update" }

// Check implements Gate.
func (UpdateGate) Check(candidate *task.Task, history []task.Task) error {
	if candidate.Round < 2 {
		return nil
	}
	prior, ok := task.LatestPublished(history)
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrPrecondition, candidate.TaskID)
	}
	candidate.RepoURL = prior.RepoURL
	candidate.PagesURL = prior.PagesURL
	candidate.Repo = prior.Repo
	return nil
}

// DefaultGates returns the admission gates applied by Submit.
func DefaultGates() []Gate {
	return []Gate{CreateGate{}, UpdateGate{}}
}

func admit(gates []Gate) task.AdmitFunc {
	return func(candidate *task.Task, history []task.Task) error {
		for _, g := range gates {
			if err := g.Check(candidate, history); err != nil {
				return fmt.Errorf("%s gate: %w", g.Name(), err)
			}
		}
		return nil
	}
}
