package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/retry"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

// NewGitHubClient creates a GitHub client authenticated with the configured
// token. A non-default api_url points the client at a GitHub Enterprise or
// test server.
func NewGitHubClient(ctx context.Context, cfg config.GitHubConfig) (*github.Client, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)

	if cfg.APIURL != "" && cfg.APIURL != client.BaseURL.String() {
		base, err := url.Parse(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("parsing github api_url: %w", err)
		}
		client.BaseURL = base
	}
	return client, nil
}

// GitHubOptions configures the GitHub publisher.
type GitHubOptions struct {
	// Owner is the account repositories are created under. Empty means the
	// authenticated user, looked up on first use.
	Owner string

	// Org creates repositories in an organization instead of the user account.
	Org string

	// Branch holds the published content. Default: main
	Branch string

	// Retry applies to idempotent API calls.
	Retry retry.Policy
}

// GitHubOptionsFrom builds options from configuration.
func GitHubOptionsFrom(gh config.GitHubConfig, pipeline config.PipelineConfig) GitHubOptions {
	return GitHubOptions{
		Owner:  gh.Username,
		Org:    gh.Org,
		Branch: gh.Branch,
		Retry: retry.Policy{
			MaxAttempts: pipeline.MaxAttempts,
			BaseDelay:   pipeline.BaseDelay.Duration(),
			MaxDelay:    pipeline.MaxDelay.Duration(),
			Multiplier:  2,
			Jitter:      0.1,
		},
	}
}

// GitHub publishes to GitHub repositories with GitHub Pages sites.
type GitHub struct {
	client *github.Client
	opts   GitHubOptions
	logger *logging.Logger
	now    func() time.Time

	ownerMu sync.Mutex
	owner   string
}

var _ Publisher = (*GitHub)(nil)

// NewGitHub creates a GitHub publisher.
func NewGitHub(client *github.Client, opts GitHubOptions, logger *logging.Logger) *GitHub {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.Org != "" {
		opts.Owner = opts.Org
	}
	opts.Retry.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GitHub{
		client: client,
		opts:   opts,
		logger: logger.Named("publisher"),
		now:    time.Now,
		owner:  opts.Owner,
	}
}

// CreateAndPublish implements Publisher.
func (g *GitHub) CreateAndPublish(ctx context.Context, seed NameSeed, files map[string]string) (Result, error) {
	if err := validateFiles(files); err != nil {
		return Result{}, err
	}
	owner, err := g.resolveOwner(ctx)
	if err != nil {
		return Result{}, err
	}

	name := DeriveRepoName(seed.TaskID, seed.Email, g.now())
	repo, err := g.createRepo(ctx, owner, name)
	if err != nil {
		return Result{}, fmt.Errorf("creating repository %s/%s: %w", owner, name, err)
	}
	ref := task.RepoRef{Owner: repo.GetOwner().GetLogin(), Name: repo.GetName()}
	if ref.Owner == "" {
		ref.Owner = owner
	}

	sha, err := g.commitFiles(ctx, ref, files, createMessage, true)
	if err != nil {
		return Result{}, fmt.Errorf("committing to %s: %w", ref.FullName(), err)
	}

	pages, pagesErr := g.enablePages(ctx, ref)

	g.logger.Info(ctx, "repository published",
		zap.String("repo", ref.FullName()),
		zap.String("revision", sha),
		zap.Int("files", len(files)),
	)
	return Result{
		RepoURL:  repoURL(repo, ref),
		PagesURL: pages,
		Revision: sha,
		Repo:     ref,
		PagesErr: pagesErr,
	}, nil
}

// UpdateAndPublish implements Publisher.
func (g *GitHub) UpdateAndPublish(ctx context.Context, ref task.RepoRef, files map[string]string) (Result, error) {
	if err := validateFiles(files); err != nil {
		return Result{}, err
	}
	if ref.IsZero() {
		return Result{}, fmt.Errorf("%w: empty reference", ErrRepoNotFound)
	}

	repo, err := call(ctx, g, "get repository", func(ctx context.Context) (*github.Repository, *github.Response, error) {
		return g.client.Repositories.Get(ctx, ref.Owner, ref.Name)
	})
	if err != nil {
		if isMissing(err) {
			return Result{}, fmt.Errorf("%w: %s", ErrRepoNotFound, ref.FullName())
		}
		return Result{}, err
	}

	sha, err := g.commitFiles(ctx, ref, files, updateMessage, false)
	if err != nil {
		return Result{}, fmt.Errorf("committing to %s: %w", ref.FullName(), err)
	}

	pages, pagesErr := g.enablePages(ctx, ref)

	g.logger.Info(ctx, "repository updated",
		zap.String("repo", ref.FullName()),
		zap.String("revision", sha),
		zap.Int("files", len(files)),
	)
	return Result{
		RepoURL:  repoURL(repo, ref),
		PagesURL: pages,
		Revision: sha,
		Repo:     ref,
		PagesErr: pagesErr,
	}, nil
}

// Ping implements Publisher by reading the authenticated user.
func (g *GitHub) Ping(ctx context.Context) error {
	_, _, err := g.client.Users.Get(ctx, "")
	return err
}

func (g *GitHub) resolveOwner(ctx context.Context) (string, error) {
	g.ownerMu.Lock()
	defer g.ownerMu.Unlock()

	if g.owner != "" {
		return g.owner, nil
	}
	user, err := call(ctx, g, "get user", func(ctx context.Context) (*github.User, *github.Response, error) {
		return g.client.Users.Get(ctx, "")
	})
	if err != nil {
		return "", fmt.Errorf("resolving repository owner: %w", err)
	}
	g.owner = user.GetLogin()
	return g.owner, nil
}

// createRepo creates the repository. Creation is not idempotent, so after
// any failure that may have reached GitHub the repository is looked up and
// adopted when it exists.
func (g *GitHub) createRepo(ctx context.Context, owner, name string) (*github.Repository, error) {
	repo, _, err := retry.Do(ctx, g.opts.Retry, func(ctx context.Context, attempt int) (*github.Repository, error) {
		created, _, err := g.client.Repositories.Create(ctx, g.opts.Org, &github.Repository{
			Name:        github.String(name),
			Description: github.String("LLM generated application"),
			Private:     github.Bool(false),
			AutoInit:    github.Bool(true),
		})
		if err == nil {
			return created, nil
		}
		if !isGitHubRetryableError(err) && !isConflict(err) {
			return nil, retry.Permanent(err)
		}

		existing, _, getErr := g.client.Repositories.Get(ctx, owner, name)
		if getErr == nil {
			g.logger.Warn(ctx, "adopting repository after ambiguous create",
				zap.String("repo", owner+"/"+name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return existing, nil
		}
		if isConflict(err) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	},
		retry.WithClassifier(isGitHubRetryableError),
		retry.WithDelay(rateLimitDelay),
		retry.WithNotify(g.notify("create repository")),
	)
	return repo, err
}

// maxRefRaces bounds how often a commit is rebuilt on a branch head that
// moved while it was being written.
const maxRefRaces = 3

// commitFiles writes files as one commit on the publish branch and returns
// its SHA. When another update moves the branch first, the commit is rebuilt
// on the new head.
func (g *GitHub) commitFiles(ctx context.Context, ref task.RepoRef, files map[string]string, message string, fresh bool) (string, error) {
	for race := 1; ; race++ {
		sha, err := g.commitOnce(ctx, ref, files, message, fresh)
		if err == nil || !isNotFastForward(err) || race >= maxRefRaces {
			return sha, err
		}
		g.logger.Warn(ctx, "branch moved during commit, rebuilding on new head",
			zap.String("repo", ref.FullName()),
			zap.Int("race", race),
			zap.Error(err),
		)
	}
}

// commitOnce builds one commit on the current head and moves the branch to
// it. A fresh repository may not expose its initial branch right away, so a
// missing ref is retried in that case.
func (g *GitHub) commitOnce(ctx context.Context, ref task.RepoRef, files map[string]string, message string, fresh bool) (string, error) {
	branchRef := "heads/" + g.opts.Branch

	head, _, err := retry.Do(ctx, g.opts.Retry, func(ctx context.Context, _ int) (*github.Reference, error) {
		r, _, err := g.client.Git.GetRef(ctx, ref.Owner, ref.Name, branchRef)
		return r, err
	},
		retry.WithClassifier(func(err error) bool {
			return isGitHubRetryableError(err) || (fresh && (isMissing(err) || isConflict(err)))
		}),
		retry.WithDelay(rateLimitDelay),
		retry.WithNotify(g.notify("get ref")),
	)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", branchRef, err)
	}
	parentSHA := head.GetObject().GetSHA()

	parent, err := call(ctx, g, "get commit", func(ctx context.Context) (*github.Commit, *github.Response, error) {
		return g.client.Git.GetCommit(ctx, ref.Owner, ref.Name, parentSHA)
	})
	if err != nil {
		return "", err
	}

	tree, err := call(ctx, g, "create tree", func(ctx context.Context) (*github.Tree, *github.Response, error) {
		return g.client.Git.CreateTree(ctx, ref.Owner, ref.Name, parent.GetTree().GetSHA(), treeEntries(files))
	})
	if err != nil {
		return "", err
	}

	commit, err := call(ctx, g, "create commit", func(ctx context.Context) (*github.Commit, *github.Response, error) {
		return g.client.Git.CreateCommit(ctx, ref.Owner, ref.Name, &github.Commit{
			Message: github.String(message),
			Tree:    &github.Tree{SHA: tree.SHA},
			Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
		}, nil)
	})
	if err != nil {
		return "", err
	}

	_, err = call(ctx, g, "update ref", func(ctx context.Context) (*github.Reference, *github.Response, error) {
		return g.client.Git.UpdateRef(ctx, ref.Owner, ref.Name, &github.Reference{
			Ref:    github.String("refs/" + branchRef),
			Object: &github.GitObject{SHA: commit.SHA},
		}, false)
	})
	if err != nil {
		return "", err
	}
	return commit.GetSHA(), nil
}

// enablePages turns on GitHub Pages from the root of the publish branch and
// returns the site URL. An already enabled site is read back instead. Pages
// failures never fail publishing; the conventional URL is returned with the
// error.
func (g *GitHub) enablePages(ctx context.Context, ref task.RepoRef) (string, error) {
	fallback := PagesURL(ref.Owner, ref.Name)

	pages, err := call(ctx, g, "enable pages", func(ctx context.Context) (*github.Pages, *github.Response, error) {
		return g.client.Repositories.EnablePages(ctx, ref.Owner, ref.Name, &github.Pages{
			Source: &github.PagesSource{
				Branch: github.String(g.opts.Branch),
				Path:   github.String("/"),
			},
		})
	})
	if err != nil && isConflict(err) {
		pages, err = call(ctx, g, "get pages", func(ctx context.Context) (*github.Pages, *github.Response, error) {
			return g.client.Repositories.GetPagesInfo(ctx, ref.Owner, ref.Name)
		})
	}
	if err != nil {
		g.logger.Warn(ctx, "pages setup failed, using default site url",
			zap.String("repo", ref.FullName()),
			zap.Error(err),
		)
		return fallback, fmt.Errorf("enabling pages for %s: %w", ref.FullName(), err)
	}
	if u := pages.GetHTMLURL(); u != "" {
		return u, nil
	}
	return fallback, nil
}

func (g *GitHub) notify(op string) retry.NotifyFunc {
	return func(attempt int, err error, next time.Duration) {
		g.logger.Info(context.Background(), "retrying GitHub API operation after transient error",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.opts.Retry.MaxAttempts),
			zap.Int("status_code", statusCode(err)),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}
}

// call runs an idempotent API call under the publisher's retry policy.
func call[T any](ctx context.Context, g *GitHub, op string, fn func(ctx context.Context) (T, *github.Response, error)) (T, error) {
	v, _, err := retry.Do(ctx, g.opts.Retry, func(ctx context.Context, _ int) (T, error) {
		v, _, err := fn(ctx)
		return v, err
	},
		retry.WithClassifier(isGitHubRetryableError),
		retry.WithDelay(rateLimitDelay),
		retry.WithNotify(g.notify(op)),
	)
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			g.logger.Warn(ctx, "GitHub API operation failed after all retries exhausted",
				zap.String("operation", op),
				zap.Int("total_attempts", exhausted.Attempts),
				zap.Error(exhausted.Err),
			)
		}
		return v, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func treeEntries(files map[string]string) []*github.TreeEntry {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]*github.TreeEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(p),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(files[p]),
		})
	}
	return entries
}

func repoURL(repo *github.Repository, ref task.RepoRef) string {
	if u := repo.GetHTMLURL(); u != "" {
		return u
	}
	return "https://github.com/" + ref.FullName()
}
