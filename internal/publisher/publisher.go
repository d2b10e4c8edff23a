// Package publisher creates and updates the repositories that host generated
// applications and turns on their static sites.
//
// Two backends are provided: GitHub, which talks to the GitHub REST API, and
// Local, which keeps plain git repositories on disk and is served by the
// deployd HTTP server.
package publisher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/deployd/internal/task"
)

var (
	// ErrRepoNotFound is returned when an update targets a repository that
	// does not exist.
	ErrRepoNotFound = errors.New("repository not found")

	// ErrNoFiles is returned when there is nothing to commit.
	ErrNoFiles = errors.New("no files to publish")
)

// Commit messages.
const (
	createMessage = "Initial application"
	updateMessage = "Update application"
)

// NameSeed carries the request fields a new repository name is derived from.
type NameSeed struct {
	TaskID string
	Email  string
}

// Result describes a published revision.
type Result struct {
	RepoURL  string
	PagesURL string
	Revision string
	Repo     task.RepoRef
	// PagesErr is set when the site could not be enabled. PagesURL then
	// holds the conventional URL, which may not be live.
	PagesErr error
}

// Publisher creates and updates repositories with public sites.
type Publisher interface {
	// CreateAndPublish creates a fresh repository, commits files and enables
	// its site.
	CreateAndPublish(ctx context.Context, seed NameSeed, files map[string]string) (Result, error)

	// UpdateAndPublish commits files to an existing repository.
	UpdateAndPublish(ctx context.Context, repo task.RepoRef, files map[string]string) (Result, error)

	// Ping reports whether the backend is reachable and authorized.
	Ping(ctx context.Context) error
}

// DeriveRepoName returns a repository name of the form
// llm-app-<task hash>-<email hash>-<time>-<random>.
//
// The hashes keep names stable-looking per task and caller; the time and
// random suffixes make concurrent round 1 requests for the same task land on
// distinct names.
func DeriveRepoName(taskID, email string, now time.Time) string {
	ts := fmt.Sprintf("%d", now.Unix())
	if len(ts) > 6 {
		ts = ts[len(ts)-6:]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("llm-app-%s-%s-%s-%s", shortHash(taskID), shortHash(email), ts, random)
}

func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:6]
}

// PagesURL returns the default GitHub Pages address for a repository.
func PagesURL(owner, name string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", strings.ToLower(owner), name)
}

func validateFiles(files map[string]string) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	return nil
}
