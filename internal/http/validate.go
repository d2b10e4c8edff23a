package http

import (
	"crypto/subtle"
	"net/url"
	"strings"

	"github.com/fyrsmithlabs/deployd/internal/task"
)

func required(field string) error {
	return &task.ValidationError{Field: field, Message: "is required"}
}

// validateRequest checks the shape of a deployment request. The shared
// secret and the round are checked separately.
func validateRequest(r *DeployRequest) error {
	fields := []struct {
		name  string
		value string
	}{
		{"email", r.Email},
		{"secret", r.Secret},
		{"task", r.Task},
		{"nonce", r.Nonce},
		{"brief", r.Brief},
		{"evaluation_url", r.EvaluationURL},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return required(f.name)
		}
	}
	if r.Round == nil {
		return required("round")
	}
	if *r.Round < 1 {
		return &task.ValidationError{Field: "round", Message: "must be a positive integer"}
	}
	if r.Checks == nil {
		return &task.ValidationError{Field: "checks", Message: "must be a list"}
	}
	for _, a := range r.Attachments {
		if a.Name == "" || a.URL == "" {
			return &task.ValidationError{Field: "attachments", Message: "each attachment needs a name and a url"}
		}
	}
	return nil
}

// validateEvaluationURL accepts absolute http and https URLs.
func validateEvaluationURL(raw string) error {
	invalid := &task.ValidationError{Field: "evaluation_url", Message: "Invalid evaluation URL"}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return invalid
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return invalid
	}
	return nil
}

// secretAllowed compares secret against every accepted value in constant time.
func secretAllowed(secret string, allowed []string) bool {
	ok := 0
	for _, candidate := range allowed {
		if candidate == "" {
			continue
		}
		ok |= subtle.ConstantTimeCompare([]byte(secret), []byte(candidate))
	}
	return ok == 1
}
