// Package notifier delivers deployment results to the evaluation callback.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/retry"
)

// UserAgent identifies callback requests.
const UserAgent = "LLM-Code-Deployment/1.0"

// unhealthyAfter is the number of consecutive undelivered notifications after
// which Ping reports the notifier as degraded.
const unhealthyAfter = 3

// maxBodyPreview bounds how much of an error response is kept.
const maxBodyPreview = 500

// ErrDegraded is returned by Ping after repeated delivery failures.
var ErrDegraded = errors.New("recent notifications were not delivered")

// Payload is the JSON body sent to the evaluation callback.
type Payload struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

// Result reports the outcome of a delivery.
type Result struct {
	Delivered bool
	Attempts  int
	// Err is the last failure when Delivered is false.
	Err error
}

// Notifier delivers payloads.
type Notifier interface {
	// Notify posts p to url. It never returns an error; failures are
	// reported through Result.
	Notify(ctx context.Context, p Payload, url string) Result

	// Ping reports whether recent deliveries succeeded.
	Ping(ctx context.Context) error
}

// PolicyFrom builds the delivery retry policy from configuration.
func PolicyFrom(cfg config.NotifyConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay.Duration(),
		MaxDelay:       cfg.MaxDelay.Duration(),
		Multiplier:     2,
		AttemptTimeout: cfg.Timeout.Duration(),
	}
}

// HTTP posts payloads with exponential backoff.
type HTTP struct {
	client *http.Client
	policy retry.Policy
	logger *logging.Logger

	consecutiveFailures atomic.Int64
}

var _ Notifier = (*HTTP)(nil)

// New creates an HTTP notifier. A nil client uses http.DefaultClient.
func New(client *http.Client, policy retry.Policy, logger *logging.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	policy.ApplyDefaults()
	return &HTTP{
		client: client,
		policy: policy,
		logger: logger.Named("notifier"),
	}
}

// Notify implements Notifier. Every non-2xx response and transport error is
// retried until the policy's attempts are used up.
func (n *HTTP) Notify(ctx context.Context, p Payload, url string) Result {
	body, err := json.Marshal(p)
	if err != nil {
		return n.failed(ctx, url, 0, fmt.Errorf("encoding payload: %w", err))
	}

	n.logger.Info(ctx, "submitting evaluation", zap.String("url", url))

	_, attempts, err := retry.Do(ctx, n.policy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, n.post(ctx, url, body)
	},
		retry.WithNotify(func(attempt int, err error, next time.Duration) {
			n.logger.Warn(ctx, "evaluation submission failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", n.policy.MaxAttempts),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return n.failed(ctx, url, attempts, err)
	}

	n.consecutiveFailures.Store(0)
	n.logger.Info(ctx, "evaluation submitted", zap.Int("attempts", attempts))
	return Result{Delivered: true, Attempts: attempts}
}

// Ping implements Notifier.
func (n *HTTP) Ping(ctx context.Context) error {
	if failures := n.consecutiveFailures.Load(); failures >= unhealthyAfter {
		return fmt.Errorf("%w: %d in a row", ErrDegraded, failures)
	}
	return nil
}

func (n *HTTP) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyPreview))
	return &retry.StatusError{Code: resp.StatusCode, Body: string(preview)}
}

func (n *HTTP) failed(ctx context.Context, url string, attempts int, err error) Result {
	n.consecutiveFailures.Add(1)
	n.logger.Error(ctx, "all evaluation submission attempts failed",
		zap.String("url", url),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return Result{Attempts: attempts, Err: err}
}
