package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/deployd/internal/task"
)

func published(round int) task.Task {
	return task.Task{
		TaskID:   "t1",
		Round:    round,
		Nonce:    "n",
		Status:   task.StatusCompleted,
		RepoURL:  "https://github.com/grader/llm-app",
		PagesURL: "https://grader.github.io/llm-app/",
		Repo:     task.RepoRef{Owner: "grader", Name: "llm-app"},
	}
}

func TestCreateGate(t *testing.T) {
	tests := []struct {
		name    string
		history []task.Status
		wantErr error
	}{
		{"first attempt", nil, nil},
		{"after failure", []task.Status{task.StatusFailed}, nil},
		{"in flight", []task.Status{task.StatusPublishing}, task.ErrConflict},
		{"published", []task.Status{task.StatusCompleted}, task.ErrConflict},
		{"failed then completed", []task.Status{task.StatusFailed, task.StatusNotifying}, task.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var history []task.Task
			for _, s := range tt.history {
				history = append(history, task.Task{TaskID: "t1", Round: 1, Status: s})
			}
			err := CreateGate{}.Check(&task.Task{TaskID: "t1", Round: 1}, history)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.NoError(t, CreateGate{}.Check(&task.Task{Round: 2}, []task.Task{published(1)}), "later rounds are not its concern")
}

func TestUpdateGate(t *testing.T) {
	t.Run("inherits published repository", func(t *testing.T) {
		candidate := &task.Task{TaskID: "t1", Round: 2}
		require.NoError(t, UpdateGate{}.Check(candidate, []task.Task{published(1)}))
		assert.Equal(t, "https://github.com/grader/llm-app", candidate.RepoURL)
		assert.Equal(t, "https://grader.github.io/llm-app/", candidate.PagesURL)
		assert.Equal(t, "grader/llm-app", candidate.Repo.FullName())
	})

	t.Run("follows the latest published round", func(t *testing.T) {
		failed := published(2)
		failed.Status = task.StatusFailed
		candidate := &task.Task{TaskID: "t1", Round: 3}
		require.NoError(t, UpdateGate{}.Check(candidate, []task.Task{published(1), failed}))
		assert.Equal(t, "grader/llm-app", candidate.Repo.FullName())
	})

	t.Run("requires a published round", func(t *testing.T) {
		inFlight := published(1)
		inFlight.Status = task.StatusPublishing
		inFlight.RepoURL = ""
		assert.ErrorIs(t, UpdateGate{}.Check(&task.Task{TaskID: "t1", Round: 2}, nil), task.ErrPrecondition)
		assert.ErrorIs(t, UpdateGate{}.Check(&task.Task{TaskID: "t1", Round: 2}, []task.Task{inFlight}), task.ErrPrecondition)
	})

	t.Run("ignores round 1", func(t *testing.T) {
		assert.NoError(t, UpdateGate{}.Check(&task.Task{TaskID: "t1", Round: 1}, nil))
	})
}

func TestAdmit_NamesFailingGate(t *testing.T) {
	err := admit(DefaultGates())(&task.Task{TaskID: "t1", Round: 2}, nil)
	require.ErrorIs(t, err, task.ErrPrecondition)
	assert.Contains(t, err.Error(), "update gate")
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.applyDefaults()
	assert.Equal(t, 8, o.MaxConcurrent)
	assert.Positive(t, o.GenerateTimeout)
	assert.Positive(t, o.PublishTimeout)
	assert.Positive(t, o.NotifyTimeout)
}
