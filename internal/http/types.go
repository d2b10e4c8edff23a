package http

import (
	"time"

	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

// DeployRequest is the request body for POST /deploy and POST /update.
type DeployRequest struct {
	Email         string              `json:"email"`
	Secret        string              `json:"secret"`
	Task          string              `json:"task"`
	Round         *int                `json:"round"`
	Nonce         string              `json:"nonce"`
	Brief         string              `json:"brief"`
	Checks        []string            `json:"checks"`
	EvaluationURL string              `json:"evaluation_url"`
	Attachments   []AttachmentRequest `json:"attachments"`
}

// AttachmentRequest is a named data URI.
type AttachmentRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (r *DeployRequest) toRequest() orchestrator.Request {
	attachments := make([]task.Attachment, len(r.Attachments))
	for i, a := range r.Attachments {
		attachments[i] = task.Attachment{Name: a.Name, URL: a.URL}
	}
	return orchestrator.Request{
		TaskID:        r.Task,
		Round:         *r.Round,
		Nonce:         r.Nonce,
		Email:         r.Email,
		Brief:         r.Brief,
		Checks:        r.Checks,
		EvaluationURL: r.EvaluationURL,
		Attachments:   attachments,
	}
}

// DeployResponse is returned when a request is accepted.
type DeployResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	TaskID    string    `json:"task_id"`
	Round     int       `json:"round"`
	RepoURL   string    `json:"repo_url"`
	PagesURL  string    `json:"pages_url"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	// Field names the request field that failed validation.
	Field string `json:"field,omitempty"`
	// Task is the existing task on a conflict.
	Task *task.Task `json:"task,omitempty"`
}

// StatusResponse is the response body for GET /status/:task_id.
type StatusResponse struct {
	TaskID  string      `json:"task_id"`
	Latest  task.Task   `json:"latest"`
	History []task.Task `json:"history"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status       string              `json:"status"`
	Version      string              `json:"version,omitempty"`
	Uptime       string              `json:"uptime"`
	Components   map[string]string   `json:"components"`
	Orchestrator orchestrator.Health `json:"orchestrator"`
	Tasks        map[string]int      `json:"tasks,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// RootResponse is the response body for GET /.
type RootResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)
