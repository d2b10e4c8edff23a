package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

// LocalOwner is the owner recorded for repositories on disk.
const LocalOwner = "local"

// Local keeps one git repository per application under a root directory.
// Sites are served from the working trees by the HTTP server.
type Local struct {
	root        string
	siteBaseURL string
	branch      string
	logger      *logging.Logger
	now         func() time.Time

	// go-git worktrees are not safe for concurrent writers.
	mu sync.Mutex
}

var _ Publisher = (*Local)(nil)

// NewLocal creates a local publisher. siteBaseURL is the public prefix the
// HTTP server mounts the root under, for example http://localhost:8000/sites/.
func NewLocal(root, siteBaseURL string, logger *logging.Logger) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving local root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating local root: %w", err)
	}
	if siteBaseURL != "" && !strings.HasSuffix(siteBaseURL, "/") {
		siteBaseURL += "/"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Local{
		root:        abs,
		siteBaseURL: siteBaseURL,
		branch:      "main",
		logger:      logger.Named("publisher"),
		now:         time.Now,
	}, nil
}

// Root returns the directory holding the repositories.
func (l *Local) Root() string {
	return l.root
}

// CreateAndPublish implements Publisher.
func (l *Local) CreateAndPublish(ctx context.Context, seed NameSeed, files map[string]string) (Result, error) {
	if err := validateFiles(files); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	name := DeriveRepoName(seed.TaskID, seed.Email, l.now())
	dir := filepath.Join(l.root, name)

	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(l.branch)},
	})
	if err != nil {
		return Result{}, fmt.Errorf("initializing repository %s: %w", name, err)
	}

	ref := task.RepoRef{Owner: LocalOwner, Name: name}
	sha, err := l.commit(repo, dir, files, createMessage)
	if err != nil {
		return Result{}, err
	}

	l.logger.Info(ctx, "repository published",
		zap.String("repo", ref.FullName()),
		zap.String("revision", sha),
		zap.Int("files", len(files)),
	)
	return l.result(ref, sha), nil
}

// UpdateAndPublish implements Publisher.
func (l *Local) UpdateAndPublish(ctx context.Context, ref task.RepoRef, files map[string]string) (Result, error) {
	if err := validateFiles(files); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if ref.Name == "" || ref.Name != filepath.Base(ref.Name) || strings.HasPrefix(ref.Name, ".") {
		return Result{}, fmt.Errorf("%w: %q", ErrRepoNotFound, ref.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Join(l.root, ref.Name)
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Result{}, fmt.Errorf("%w: %s", ErrRepoNotFound, ref.FullName())
		}
		return Result{}, fmt.Errorf("opening repository %s: %w", ref.Name, err)
	}

	sha, err := l.commit(repo, dir, files, updateMessage)
	if err != nil {
		return Result{}, err
	}

	l.logger.Info(ctx, "repository updated",
		zap.String("repo", ref.FullName()),
		zap.String("revision", sha),
		zap.Int("files", len(files)),
	)
	return l.result(task.RepoRef{Owner: LocalOwner, Name: ref.Name}, sha), nil
}

// Ping implements Publisher by checking the root is writable.
func (l *Local) Ping(ctx context.Context) error {
	f, err := os.CreateTemp(l.root, ".ping-*")
	if err != nil {
		return fmt.Errorf("local root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (l *Local) commit(repo *git.Repository, dir string, files map[string]string, message string) (string, error) {
	for path, content := range files {
		target, err := safeJoin(dir, path)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return "", fmt.Errorf("creating directory for %s: %w", path, err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("writing %s: %w", path, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("staging files: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "deployd",
			Email: "deployd@localhost",
			When:  l.now(),
		},
		// Every round records a revision, even when the content is unchanged.
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

func (l *Local) result(ref task.RepoRef, sha string) Result {
	return Result{
		RepoURL:  "file://" + filepath.ToSlash(filepath.Join(l.root, ref.Name)),
		PagesURL: l.siteBaseURL + ref.Name + "/",
		Revision: sha,
		Repo:     ref,
	}
}

// safeJoin joins a relative file path onto dir, refusing paths that escape it
// or touch git metadata.
func safeJoin(dir, path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("refusing to write %q outside the repository", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".git" {
			return "", fmt.Errorf("refusing to write git metadata %q", path)
		}
	}
	return filepath.Join(dir, clean), nil
}
