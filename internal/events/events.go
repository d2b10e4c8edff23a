// Package events publishes task lifecycle transitions.
//
// Every transition is published to NATS on the subject
//
//	{prefix}.{task_id}.{status}
//
// with status lower-cased, for example deployments.captcha-solver.completed.
// Subscribers can follow one task with deployments.<task_id>.> or every
// failure with deployments.*.failed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

// Event describes one task transition.
type Event struct {
	TaskID   string         `json:"task_id"`
	Round    int            `json:"round"`
	Nonce    string         `json:"nonce"`
	Status   task.Status    `json:"status"`
	Previous task.Status    `json:"previous,omitempty"`
	RepoURL  string         `json:"repo_url,omitempty"`
	PagesURL string         `json:"pages_url,omitempty"`
	Revision string         `json:"revision,omitempty"`
	Error    *task.Failure  `json:"error,omitempty"`
	Warnings []task.Warning `json:"warnings,omitempty"`
	At       time.Time      `json:"at"`
}

// FromTask builds the event for t having just entered its current status.
func FromTask(t task.Task, previous task.Status) Event {
	return Event{
		TaskID:   t.TaskID,
		Round:    t.Round,
		Nonce:    t.Nonce,
		Status:   t.Status,
		Previous: previous,
		RepoURL:  t.RepoURL,
		PagesURL: t.PagesURL,
		Revision: t.Revision,
		Error:    t.Error,
		Warnings: t.Warnings,
		At:       t.UpdatedAt,
	}
}

// Sink receives lifecycle events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Sink.
func (Nop) Close() {}

// NATS publishes events to a NATS server.
type NATS struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *logging.Logger
}

var _ Sink = (*NATS)(nil)

// Connect dials url and returns a sink that owns the connection.
func Connect(url, prefix string, logger *logging.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("deployd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	s := NewNATS(nc, prefix, logger)
	s.owned = true
	return s, nil
}

// NewNATS wraps an existing connection. The caller keeps ownership of nc.
func NewNATS(nc *nats.Conn, prefix string, logger *logging.Logger) *NATS {
	if prefix == "" {
		prefix = "deployments"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATS{nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// Subject returns the subject an event is published on.
func (n *NATS) Subject(ev Event) string {
	return fmt.Sprintf("%s.%s.%s", n.prefix, token(ev.TaskID), strings.ToLower(string(ev.Status)))
}

// Publish implements Sink.
func (n *NATS) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := n.Subject(ev)
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", strings.ToLower(string(ev.Status)), err)
	}
	n.logger.Debug(ctx, "event published", zap.String("subject", subject))
	return nil
}

// Close flushes pending events and closes the connection when the sink owns it.
func (n *NATS) Close() {
	if !n.owned {
		return
	}
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
	}
}

// token makes s usable as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>':
			return '_'
		case r <= ' ' || r == 0x7f:
			return '_'
		}
		return r
	}, s)
}
