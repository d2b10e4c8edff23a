package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AdmitFunc decides, under the store lock, whether candidate may be inserted
// given every task already recorded for the same task_id (oldest first).
// It may fill in fields of candidate derived from history.
type AdmitFunc func(candidate *Task, history []Task) error

// MutateFunc edits a task during a transition.
type MutateFunc func(t *Task)

// Store holds task state. Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts t unless its key already exists, in which case the stored
	// task is returned with created=false and admit is not consulted.
	Put(ctx context.Context, t Task, admit AdmitFunc) (stored Task, created bool, err error)

	// Get returns the task for key.
	Get(ctx context.Context, key Key) (Task, error)

	// Latest returns the most recently inserted task for taskID.
	Latest(ctx context.Context, taskID string) (Task, error)

	// History returns every task for taskID, oldest first.
	History(ctx context.Context, taskID string) ([]Task, error)

	// Published returns the most recent published task for taskID.
	Published(ctx context.Context, taskID string) (Task, error)

	// Counts returns the number of tasks per status.
	Counts(ctx context.Context) (map[Status]int, error)

	// CompareAndTransition moves the task at key from expected to next,
	// applying mutate to it first. It is the only way to modify a task.
	CompareAndTransition(ctx context.Context, key Key, expected, next Status, mutate MutateFunc) (Task, error)
}

// MemoryStore is an in-memory Store. Reads return copies.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[Key]*Task
	// Index for task_id lookups, insertion order.
	byID map[string][]Key
	now  func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tasks: make(map[Key]*Task),
		byID:  make(map[string][]Key),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, t Task, admit AdmitFunc) (Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, false, err
	}
	key := t.Key()
	if key.TaskID == "" || key.Round < 1 || key.Nonce == "" {
		return Task{}, false, fmt.Errorf("%w: task key %q is incomplete", ErrValidation, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[key]; ok {
		return existing.Clone(), false, nil
	}

	if admit != nil {
		if err := admit(&t, s.historyLocked(key.TaskID)); err != nil {
			return Task{}, false, err
		}
	}

	stored := t.Clone()
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.tasks[key] = &stored
	s.byID[key.TaskID] = append(s.byID[key.TaskID], key)
	return stored.Clone(), true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[key]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return t.Clone(), nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(ctx context.Context, taskID string) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byID[taskID]
	if len(keys) == 0 {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return s.tasks[keys[len(keys)-1]].Clone(), nil
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, taskID string) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.historyLocked(taskID)
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return history, nil
}

// Published implements Store.
func (s *MemoryStore) Published(ctx context.Context, taskID string) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := LatestPublished(s.historyLocked(taskID)); ok {
		return t, nil
	}
	return Task{}, fmt.Errorf("%w: %s", ErrPrecondition, taskID)
}

// Counts implements Store.
func (s *MemoryStore) Counts(ctx context.Context) (map[Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int, len(ValidTransitions))
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// CompareAndTransition implements Store.
func (s *MemoryStore) CompareAndTransition(ctx context.Context, key Key, expected, next Status, mutate MutateFunc) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	if !expected.CanTransitionTo(next) {
		return Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[key]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if current.Status != expected {
		return Task{}, fmt.Errorf("%w: %s is %s, expected %s", ErrInvalidTransition, key, current.Status, expected)
	}

	updated := current.Clone()
	if mutate != nil {
		mutate(&updated)
	}
	if err := checkWriteOnce(current, &updated); err != nil {
		return Task{}, err
	}

	// Identity and timestamps belong to the store.
	updated.TaskID, updated.Round, updated.Nonce = key.TaskID, key.Round, key.Nonce
	updated.CreatedAt = current.CreatedAt
	updated.Status = next
	updated.UpdatedAt = s.now()
	if next.IsTerminal() {
		ts := updated.UpdatedAt
		updated.CompletedAt = &ts
	}

	*current = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) historyLocked(taskID string) []Task {
	keys := s.byID[taskID]
	history := make([]Task, 0, len(keys))
	for _, k := range keys {
		history = append(history, s.tasks[k].Clone())
	}
	return history
}

func checkWriteOnce(before *Task, after *Task) error {
	changed := func(old, updated string) bool { return old != "" && old != updated }
	switch {
	case changed(before.RepoURL, after.RepoURL):
		return fmt.Errorf("%w: repo_url", ErrImmutableField)
	case changed(before.PagesURL, after.PagesURL):
		return fmt.Errorf("%w: pages_url", ErrImmutableField)
	case changed(before.Revision, after.Revision):
		return fmt.Errorf("%w: revision", ErrImmutableField)
	case !before.Repo.IsZero() && before.Repo != after.Repo:
		return fmt.Errorf("%w: repo", ErrImmutableField)
	}
	return nil
}

// LatestPublished returns the most recent published task in history.
func LatestPublished(history []Task) (Task, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Published() {
			return history[i], true
		}
	}
	return Task{}, false
}
