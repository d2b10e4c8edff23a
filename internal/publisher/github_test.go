package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/retry"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

type fakeRepo struct {
	owner   string
	name    string
	head    string
	files   map[string]string
	pages   bool
	commits int
}

// fakeGitHub implements the slice of the GitHub REST API the publisher uses.
type fakeGitHub struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	login   string
	repos   map[string]*fakeRepo
	trees   map[string]map[string]string
	commits map[string]string // commit sha -> tree sha
	parents map[string]string // commit sha -> parent sha
	seq     int

	createCalls  int
	userCalls    int
	pagesPosts   int
	pagesGets    int
	autoInit     bool
	createStatus int // respond with this status instead of creating
	createLost   int // create the repo but respond 502 this many times
	treeFailures int // respond 503 this many times
	refMissing   int // respond 409 "empty repository" this many times
	pagesStatus  int // respond with this status to POST /pages
	refRaces     int // another writer moves the branch before this many ref updates
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		t:       t,
		login:   "grader",
		repos:   make(map[string]*fakeRepo),
		trees:   make(map[string]map[string]string),
		commits: make(map[string]string),
		parents: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", f.getUser)
	mux.HandleFunc("POST /user/repos", f.createRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.getRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/heads/{branch}", f.getRef)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/git/refs/heads/{branch}", f.updateRef)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/commits/{sha}", f.getCommit)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/commits", f.createCommit)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/trees", f.createTree)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pages", f.enablePages)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pages", f.getPages)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) client(t *testing.T) *github.Client {
	t.Helper()
	client, err := NewGitHubClient(context.Background(), config.GitHubConfig{
		Token:  "ghp_test",
		APIURL: f.srv.URL + "/",
	})
	require.NoError(t, err)
	return client
}

func (f *fakeGitHub) repo(name string) *fakeRepo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repos[name]
}

func (f *fakeGitHub) nextSHA(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%04d", prefix, f.seq)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (f *fakeGitHub) repoJSON(r *fakeRepo) map[string]any {
	return map[string]any{
		"name":      r.name,
		"full_name": r.owner + "/" + r.name,
		"html_url":  "https://github.com/" + r.owner + "/" + r.name,
		"owner":     map[string]any{"login": r.owner},
	}
}

func (f *fakeGitHub) getUser(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	writeJSON(w, http.StatusOK, map[string]any{"login": f.login})
}

func (f *fakeGitHub) createRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		AutoInit bool   `json:"auto_init"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.autoInit = body.AutoInit

	if f.createStatus != 0 {
		writeError(w, f.createStatus, "create rejected")
		return
	}
	if _, ok := f.repos[body.Name]; ok {
		writeError(w, http.StatusUnprocessableEntity, "name already exists on this account")
		return
	}

	initial := f.nextSHA("c")
	f.commits[initial] = "t-init"
	repo := &fakeRepo{
		owner: f.login,
		name:  body.Name,
		head:  initial,
		files: map[string]string{"README.md": "# " + body.Name},
	}
	f.repos[body.Name] = repo

	if f.createLost > 0 {
		f.createLost--
		writeError(w, http.StatusBadGateway, "upstream timed out")
		return
	}
	writeJSON(w, http.StatusCreated, f.repoJSON(repo))
}

func (f *fakeGitHub) getRepo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[r.PathValue("repo")]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, f.repoJSON(repo))
}

func (f *fakeGitHub) getRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refMissing > 0 {
		f.refMissing--
		writeError(w, http.StatusConflict, "Git Repository is empty.")
		return
	}
	repo, ok := f.repos[r.PathValue("repo")]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + r.PathValue("branch"),
		"object": map[string]any{"type": "commit", "sha": repo.head},
	})
}

func (f *fakeGitHub) getCommit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := r.PathValue("sha")
	tree, ok := f.commits[sha]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sha": sha, "tree": map[string]any{"sha": tree}})
}

func (f *fakeGitHub) createTree(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path    string `json:"path"`
			Mode    string `json:"mode"`
			Content string `json:"content"`
		} `json:"tree"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.treeFailures > 0 {
		f.treeFailures--
		writeError(w, http.StatusServiceUnavailable, "try again")
		return
	}
	files := make(map[string]string, len(body.Tree))
	for _, e := range body.Tree {
		assert.Equal(f.t, "100644", e.Mode)
		files[e.Path] = e.Content
	}
	sha := f.nextSHA("t")
	f.trees[sha] = files
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (f *fakeGitHub) createCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(f.t, body.Parents, 1)
	sha := f.nextSHA("c")
	f.commits[sha] = body.Tree
	f.parents[sha] = body.Parents[0]
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha, "message": body.Message})
}

func (f *fakeGitHub) updateRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[r.PathValue("repo")]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	assert.False(f.t, body.Force)
	if f.refRaces > 0 {
		f.refRaces--
		other := f.nextSHA("c")
		f.commits[other] = f.commits[repo.head]
		f.parents[other] = repo.head
		repo.head = other
		repo.commits++
	}
	if f.parents[body.SHA] != repo.head {
		writeError(w, http.StatusUnprocessableEntity, "Update is not a fast forward")
		return
	}
	repo.head = body.SHA
	repo.commits++
	for path, content := range f.trees[f.commits[body.SHA]] {
		repo.files[path] = content
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + r.PathValue("branch"),
		"object": map[string]any{"type": "commit", "sha": body.SHA},
	})
}

func (f *fakeGitHub) pagesURL(repo *fakeRepo) string {
	return "https://" + repo.owner + ".github.io/" + repo.name + "/"
}

func (f *fakeGitHub) enablePages(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source struct {
			Branch string `json:"branch"`
			Path   string `json:"path"`
		} `json:"source"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pagesPosts++
	if f.pagesStatus != 0 {
		writeError(w, f.pagesStatus, "pages unavailable")
		return
	}
	repo, ok := f.repos[r.PathValue("repo")]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	assert.Equal(f.t, "main", body.Source.Branch)
	assert.Equal(f.t, "/", body.Source.Path)
	if repo.pages {
		writeError(w, http.StatusConflict, "GitHub Pages is already enabled.")
		return
	}
	repo.pages = true
	writeJSON(w, http.StatusCreated, map[string]any{"html_url": f.pagesURL(repo)})
}

func (f *fakeGitHub) getPages(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pagesGets++
	repo, ok := f.repos[r.PathValue("repo")]
	if !ok || !repo.pages {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"html_url": f.pagesURL(repo)})
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestGitHub(t *testing.T, f *fakeGitHub, logger *logging.Logger) *GitHub {
	t.Helper()
	return NewGitHub(f.client(t), GitHubOptions{Retry: fastRetry()}, logger)
}

var testFiles = map[string]string{
	"index.html": "<!DOCTYPE html><html><head></head><body>hi</body></html>",
	"LICENSE":    "MIT",
}

func TestGitHub_CreateAndPublish(t *testing.T) {
	f := newFakeGitHub(t)
	p := newTestGitHub(t, f, nil)

	res, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1", Email: "a@example.com"}, testFiles)
	require.NoError(t, err)

	assert.Regexp(t, repoNamePattern, res.Repo.Name)
	assert.Equal(t, "grader", res.Repo.Owner)
	assert.Equal(t, "https://github.com/grader/"+res.Repo.Name, res.RepoURL)
	assert.Equal(t, "https://grader.github.io/"+res.Repo.Name+"/", res.PagesURL)

	repo := f.repo(res.Repo.Name)
	require.NotNil(t, repo)
	assert.Equal(t, repo.head, res.Revision)
	assert.Equal(t, 1, repo.commits, "files land in a single commit")
	assert.Equal(t, testFiles["index.html"], repo.files["index.html"])
	assert.True(t, repo.pages)
	assert.NoError(t, res.PagesErr)
	assert.True(t, f.autoInit)
	assert.Equal(t, 1, f.userCalls, "owner resolved from the authenticated user")
}

func TestGitHub_OwnerResolvedOnce(t *testing.T) {
	f := newFakeGitHub(t)
	p := newTestGitHub(t, f, nil)

	for i := 0; i < 3; i++ {
		_, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: fmt.Sprintf("t%d", i)}, testFiles)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.userCalls)
	assert.Len(t, f.repos, 3)
}

func TestGitHub_UpdateAndPublish(t *testing.T) {
	f := newFakeGitHub(t)
	p := newTestGitHub(t, f, nil)
	ctx := context.Background()

	created, err := p.CreateAndPublish(ctx, NameSeed{TaskID: "t1", Email: "a@example.com"}, testFiles)
	require.NoError(t, err)

	updated, err := p.UpdateAndPublish(ctx, created.Repo, map[string]string{
		"index.html": "<!DOCTYPE html><html><head></head><body>v2</body></html>",
	})
	require.NoError(t, err)

	assert.Equal(t, created.RepoURL, updated.RepoURL)
	assert.Equal(t, created.PagesURL, updated.PagesURL, "enabled site is read back")
	assert.NoError(t, updated.PagesErr)
	assert.Equal(t, created.Repo, updated.Repo)
	assert.NotEqual(t, created.Revision, updated.Revision)

	repo := f.repo(created.Repo.Name)
	assert.Contains(t, repo.files["index.html"], "v2")
	assert.Equal(t, "MIT", repo.files["LICENSE"], "files not in the update are kept")
	assert.Equal(t, 2, repo.commits)
	assert.Equal(t, 2, f.pagesPosts)
	assert.Equal(t, 1, f.pagesGets)
	assert.Equal(t, 1, f.createCalls)
}

func TestGitHub_UpdateMissingRepository(t *testing.T) {
	f := newFakeGitHub(t)
	p := newTestGitHub(t, f, nil)

	_, err := p.UpdateAndPublish(context.Background(), task.RepoRef{Owner: "grader", Name: "gone"}, testFiles)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRepoNotFound)

	_, err = p.UpdateAndPublish(context.Background(), task.RepoRef{}, testFiles)
	assert.ErrorIs(t, err, ErrRepoNotFound)
}

func TestGitHub_UpdateRebuildsOnMovedBranch(t *testing.T) {
	f := newFakeGitHub(t)
	logger := logging.NewTestLogger()
	p := newTestGitHub(t, f, logger.Logger)
	ctx := context.Background()

	created, err := p.CreateAndPublish(ctx, NameSeed{TaskID: "t1"}, testFiles)
	require.NoError(t, err)

	f.refRaces = 1
	updated, err := p.UpdateAndPublish(ctx, created.Repo, map[string]string{"index.html": "<html>v2</html>"})
	require.NoError(t, err)

	repo := f.repo(created.Repo.Name)
	assert.Equal(t, repo.head, updated.Revision)
	f.mu.Lock()
	parent := f.parents[updated.Revision]
	f.mu.Unlock()
	assert.NotEqual(t, created.Revision, parent, "the commit is rebuilt on the moved head")
	assert.Equal(t, 3, repo.commits)
	assert.Equal(t, "<html>v2</html>", repo.files["index.html"])
	logger.AssertLogged(t, zapcore.WarnLevel, "branch moved during commit")
}

func TestGitHub_UpdateGivesUpAfterRepeatedRaces(t *testing.T) {
	f := newFakeGitHub(t)
	p := newTestGitHub(t, f, nil)
	ctx := context.Background()

	created, err := p.CreateAndPublish(ctx, NameSeed{TaskID: "t1"}, testFiles)
	require.NoError(t, err)

	f.refRaces = 10
	_, err = p.UpdateAndPublish(ctx, created.Repo, testFiles)
	require.Error(t, err)
	assert.True(t, isNotFastForward(err))
	assert.Equal(t, 10-maxRefRaces, f.refRaces)
}

func TestIsNotFastForward(t *testing.T) {
	notFF := &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusUnprocessableEntity},
		Message:  "Update is not a fast forward",
	}
	assert.True(t, isNotFastForward(notFF))
	assert.True(t, isNotFastForward(fmt.Errorf("update ref: %w", notFF)))
	assert.False(t, isNotFastForward(errorWithStatus(http.StatusUnprocessableEntity)))
	assert.False(t, isNotFastForward(errorWithStatus(http.StatusConflict)))
	assert.False(t, isNotFastForward(errors.New("connection reset")))
}

func TestGitHub_NoFiles(t *testing.T) {
	f := newFakeGitHub(t)
	p := newTestGitHub(t, f, nil)

	_, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1"}, nil)
	assert.ErrorIs(t, err, ErrNoFiles)
	assert.Zero(t, f.createCalls)
}

func TestGitHub_AdoptsRepositoryAfterAmbiguousCreate(t *testing.T) {
	f := newFakeGitHub(t)
	f.createLost = 1
	logger := logging.NewTestLogger()
	p := newTestGitHub(t, f, logger.Logger)

	res, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1"}, testFiles)
	require.NoError(t, err)

	assert.Equal(t, 1, f.createCalls, "create is not repeated once the repository exists")
	assert.Len(t, f.repos, 1)
	assert.NotEmpty(t, res.Revision)
	logger.AssertLogged(t, zapcore.WarnLevel, "adopting repository")
}

func TestGitHub_CreateRejected(t *testing.T) {
	f := newFakeGitHub(t)
	f.createStatus = http.StatusUnauthorized
	p := newTestGitHub(t, f, nil)

	_, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1"}, testFiles)
	require.Error(t, err)
	assert.Equal(t, 1, f.createCalls, "client errors are not retried")
	assert.Equal(t, http.StatusUnauthorized, statusCode(err))
}

func TestGitHub_RetriesTransientErrors(t *testing.T) {
	f := newFakeGitHub(t)
	f.treeFailures = 2
	f.refMissing = 1
	logger := logging.NewTestLogger()
	p := newTestGitHub(t, f, logger.Logger)

	res, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1"}, testFiles)
	require.NoError(t, err)
	assert.Equal(t, f.repo(res.Repo.Name).head, res.Revision)
	logger.AssertLogged(t, zapcore.InfoLevel, "retrying GitHub API operation")
}

func TestGitHub_TransientErrorsExhausted(t *testing.T) {
	f := newFakeGitHub(t)
	f.treeFailures = 10
	p := newTestGitHub(t, f, nil)

	_, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1"}, testFiles)
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 7, f.treeFailures)
}

func TestGitHub_PagesFailureFallsBack(t *testing.T) {
	f := newFakeGitHub(t)
	f.pagesStatus = http.StatusForbidden
	p := newTestGitHub(t, f, nil)

	res, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1"}, testFiles)
	require.NoError(t, err)
	assert.Equal(t, PagesURL("grader", res.Repo.Name), res.PagesURL)
	require.Error(t, res.PagesErr, "the fallback URL is reported as unconfirmed")
	assert.Equal(t, http.StatusForbidden, statusCode(res.PagesErr))
	assert.Equal(t, 1, f.pagesPosts, "permanent pages errors are not retried")
}

func TestGitHub_ConfiguredOwner(t *testing.T) {
	f := newFakeGitHub(t)
	p := NewGitHub(f.client(t), GitHubOptions{Owner: "grader", Retry: fastRetry()}, nil)

	_, err := p.CreateAndPublish(context.Background(), NameSeed{TaskID: "t1"}, testFiles)
	require.NoError(t, err)
	assert.Zero(t, f.userCalls)

	require.NoError(t, p.Ping(context.Background()))
	assert.Equal(t, 1, f.userCalls)
}

func TestNewGitHubClient(t *testing.T) {
	_, err := NewGitHubClient(context.Background(), config.GitHubConfig{})
	require.Error(t, err)

	client, err := NewGitHubClient(context.Background(), config.GitHubConfig{
		Token:  "ghp_test",
		APIURL: "https://github.example.com/api/v3/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.example.com/api/v3/", client.BaseURL.String())

	_, err = NewGitHubClient(context.Background(), config.GitHubConfig{Token: "ghp_test", APIURL: "://bad"})
	assert.Error(t, err)
}

func errorWithStatus(code int) error {
	return &github.ErrorResponse{Response: &http.Response{StatusCode: code}, Message: http.StatusText(code)}
}

func TestIsGitHubRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection reset by peer"), true},
		{"429", errorWithStatus(http.StatusTooManyRequests), true},
		{"500", errorWithStatus(http.StatusInternalServerError), true},
		{"502", errorWithStatus(http.StatusBadGateway), true},
		{"503", errorWithStatus(http.StatusServiceUnavailable), true},
		{"504", errorWithStatus(http.StatusGatewayTimeout), true},
		{"507", errorWithStatus(http.StatusInsufficientStorage), true},
		{"400", errorWithStatus(http.StatusBadRequest), false},
		{"401", errorWithStatus(http.StatusUnauthorized), false},
		{"403 without rate limit", errorWithStatus(http.StatusForbidden), false},
		{"404", errorWithStatus(http.StatusNotFound), false},
		{"409", errorWithStatus(http.StatusConflict), false},
		{"422", errorWithStatus(http.StatusUnprocessableEntity), false},
		{"rate limit", &github.RateLimitError{Response: &http.Response{StatusCode: http.StatusForbidden}}, true},
		{"secondary rate limit", &github.AbuseRateLimitError{Response: &http.Response{StatusCode: http.StatusForbidden}}, true},
		{"wrapped", fmt.Errorf("create tree: %w", errorWithStatus(http.StatusBadGateway)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isGitHubRetryableError(tt.err))
		})
	}
}

func TestRateLimitDelay(t *testing.T) {
	t.Run("waits for reset", func(t *testing.T) {
		err := &github.RateLimitError{Rate: github.Rate{
			Limit: 5000,
			Reset: github.Timestamp{Time: time.Now().Add(5 * time.Second)},
		}}
		d, ok := rateLimitDelay(err)
		require.True(t, ok)
		assert.InDelta(t, float64(6*time.Second), float64(d), float64(time.Second))
	})

	t.Run("reset in the past", func(t *testing.T) {
		err := &github.RateLimitError{Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(-time.Minute)}}}
		d, ok := rateLimitDelay(err)
		require.True(t, ok)
		assert.Equal(t, time.Second, d)
	})

	t.Run("secondary limit retry-after", func(t *testing.T) {
		after := 3 * time.Second
		d, ok := rateLimitDelay(&github.AbuseRateLimitError{RetryAfter: &after})
		require.True(t, ok)
		assert.Equal(t, after, d)
	})

	t.Run("other errors", func(t *testing.T) {
		_, ok := rateLimitDelay(errorWithStatus(http.StatusBadGateway))
		assert.False(t, ok)
	})
}

func TestTreeEntriesSorted(t *testing.T) {
	entries := treeEntries(map[string]string{"b.js": "b", "a.html": "a", "css/site.css": "c"})
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.GetPath())
		assert.Equal(t, "blob", e.GetType())
	}
	assert.Equal(t, "a.html,b.js,css/site.css", strings.Join(paths, ","))
}
