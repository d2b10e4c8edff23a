package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

const healthCheckTimeout = 5 * time.Second

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{
		Status:    "ready",
		Service:   "deployd",
		Version:   s.config.Version,
		Timestamp: time.Now().UTC(),
	})
}

// handleDeploy accepts round 1 requests.
func (s *Server) handleDeploy(c echo.Context) error {
	return s.submit(c, func(round int) string {
		if round != 1 {
			return "Use /update for rounds 2+"
		}
		return ""
	}, "Deployment started successfully. The application is being generated and deployed.")
}

// handleUpdate accepts round 2+ requests.
func (s *Server) handleUpdate(c echo.Context) error {
	return s.submit(c, func(round int) string {
		if round < 2 {
			return "Use /deploy for round 1"
		}
		return ""
	}, "Update started successfully. The application is being updated.")
}

func (s *Server) submit(c echo.Context, checkRound func(int) string, message string) error {
	var body DeployRequest
	if err := c.Bind(&body); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return err
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  string(task.KindValidation),
			Detail: "Invalid request data",
		})
	}

	if err := validateRequest(&body); err != nil {
		return s.validationError(c, http.StatusBadRequest, err)
	}
	if !secretAllowed(body.Secret, s.secrets) {
		s.logger.Warn(c.Request().Context(), "rejected request with invalid secret", zap.String("task.id", body.Task))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:  string(task.KindValidation),
			Detail: "Invalid secret",
			Field:  "secret",
		})
	}
	if err := validateEvaluationURL(body.EvaluationURL); err != nil {
		return s.validationError(c, http.StatusBadRequest, err)
	}
	if detail := checkRound(*body.Round); detail != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  string(task.KindValidation),
			Detail: detail,
			Field:  "round",
		})
	}

	req := body.toRequest()
	ctx := logging.WithTask(c.Request().Context(), req.TaskID, req.Round, req.Nonce)

	accepted, err := s.deployer.Submit(ctx, req)
	if err != nil {
		return s.submitError(ctx, c, req, err)
	}

	return c.JSON(http.StatusOK, DeployResponse{
		Status:    "processing",
		Message:   message,
		TaskID:    accepted.TaskID,
		Round:     accepted.Round,
		RepoURL:   accepted.RepoURL,
		PagesURL:  accepted.PagesURL,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) submitError(ctx context.Context, c echo.Context, req orchestrator.Request, err error) error {
	switch {
	case errors.Is(err, task.ErrValidation):
		return s.validationError(c, http.StatusBadRequest, err)
	case errors.Is(err, task.ErrConflict):
		resp := ErrorResponse{Error: "CONFLICT", Detail: "A deployment for this task already exists"}
		if latest, _, serr := s.deployer.Status(ctx, req.TaskID); serr == nil {
			resp.Task = &latest
		}
		return c.JSON(http.StatusConflict, resp)
	case errors.Is(err, task.ErrPrecondition):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "PRECONDITION_FAILED",
			Detail: "No published deployment exists for this task; deploy round 1 first",
		})
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:  "UNAVAILABLE",
			Detail: "Server is shutting down",
		})
	}
	s.logger.Error(ctx, "failed to submit task", zap.Error(err))
	return err
}

func (s *Server) validationError(c echo.Context, code int, err error) error {
	resp := ErrorResponse{Error: string(task.KindValidation), Detail: err.Error()}
	var ve *task.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Detail = ve.Error()
	}
	return c.JSON(code, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	taskID := c.Param("task_id")
	latest, history, err := s.deployer.Status(c.Request().Context(), taskID)
	if errors.Is(err, task.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:  "NOT_FOUND",
			Detail: "Unknown task " + taskID,
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatusResponse{TaskID: taskID, Latest: latest, History: history})
}

// handleHealth pings every collaborator concurrently. A failing collaborator
// marks the service degraded without failing the request.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	var mu sync.Mutex
	components := make(map[string]string, len(s.checks))
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range s.checks {
		g.Go(func() error {
			status := statusHealthy
			if err := check.Ping(gctx); err != nil {
				status = statusDegraded
				s.logger.Warn(ctx, "health check failed", zap.String("component", name), zap.Error(err))
			}
			mu.Lock()
			components[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:       statusHealthy,
		Version:      s.config.Version,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Components:   components,
		Orchestrator: s.deployer.Health(),
		Timestamp:    time.Now().UTC(),
	}
	for _, status := range components {
		if status != statusHealthy {
			resp.Status = statusDegraded
		}
	}
	if !resp.Orchestrator.Accepting {
		resp.Status = statusDegraded
	}
	if counts, err := s.deployer.Counts(ctx); err == nil {
		resp.Tasks = make(map[string]int, len(counts))
		for status, n := range counts {
			resp.Tasks[strings.ToLower(string(status))] = n
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// handleSite serves published sites from the local publisher's root. Hidden
// path segments such as .git are never served.
func (s *Server) handleSite(c echo.Context) error {
	p, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.ErrNotFound
	}
	for _, segment := range strings.Split(path.Clean("/"+p), "/") {
		if strings.HasPrefix(segment, ".") {
			return echo.ErrNotFound
		}
	}
	return s.sites(c)
}

// handleError renders every error as an ErrorResponse.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		} else {
			detail = http.StatusText(code)
		}
	} else {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}

	resp := ErrorResponse{
		Error:  strings.ToUpper(strings.ReplaceAll(http.StatusText(code), " ", "_")),
		Detail: detail,
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to write error response", zap.Error(err))
	}
}
