package publisher

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
)

// statusCode extracts the HTTP status from a go-github error, or 0 when the
// request never produced a response.
func statusCode(err error) int {
	var (
		errResp   *github.ErrorResponse
		rateErr   *github.RateLimitError
		abuseErr  *github.AbuseRateLimitError
		responded *http.Response
	)
	switch {
	case errors.As(err, &errResp):
		responded = errResp.Response
	case errors.As(err, &rateErr):
		responded = rateErr.Response
	case errors.As(err, &abuseErr):
		responded = abuseErr.Response
	}
	if responded == nil {
		return 0
	}
	return responded.StatusCode
}

// isGitHubRetryableError reports whether a GitHub API error is transient.
func isGitHubRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var (
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
	)
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}

	switch code := statusCode(err); code {
	case 0:
		// Network errors, timeouts, etc.
		return true
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity:
		return false
	default:
		return code >= 500 && code < 600
	}
}

// rateLimitDelay waits for the GitHub rate limit window to reset.
func rateLimitDelay(err error) (time.Duration, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time) + time.Second
		if wait < time.Second {
			wait = time.Second
		}
		return wait, true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return *abuseErr.RetryAfter, true
	}
	return 0, false
}

// isMissing reports a 404 from the API.
func isMissing(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// isConflict reports the 409/422 GitHub returns for resources that already
// exist, such as a taken repository name or an enabled Pages site.
func isConflict(err error) bool {
	code := statusCode(err)
	return code == http.StatusConflict || code == http.StatusUnprocessableEntity
}

// isNotFastForward reports the 422 GitHub returns when a ref update would
// drop commits because the branch moved.
func isNotFastForward(err error) bool {
	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) || statusCode(err) != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(strings.ToLower(errResp.Message), "fast forward")
}
