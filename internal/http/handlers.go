package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/sanitize"
	"github.com/fyrsmithlabs/planner/internal/revision"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/store"
	"github.com/fyrsmithlabs/planner/internal/telemetry"
)

// maxListLimit caps GET /api/v1/plans.
const maxListLimit = 500

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// ReviseRequest is the request body for POST /api/v1/plans/:id/revisions.
type ReviseRequest struct {
	Scope  string `json:"scope"`
	Remark string `json:"remark"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Report *plan.RunReport `json:"report,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		h := s.health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGenerate(c echo.Context) error {
	var in plan.PlanningInput
	if err := c.Bind(&in); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid planning request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.svc.Generate(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) handleList(c echo.Context) error {
	opts := store.ListOptions{PlanningID: c.QueryParam("planning_id")}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if opts.Limit == 0 || opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	list, err := s.svc.List(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	if list == nil {
		list = []store.Summary{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGet(c echo.Context) error {
	id, err := planID(c)
	if err != nil {
		return err
	}
	p, err := s.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleArtifact(c echo.Context) error {
	id, err := planID(c)
	if err != nil {
		return err
	}
	data, err := s.svc.GetArtifact(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, data)
}

func (s *Server) handleAudit(c echo.Context) error {
	id, err := planID(c)
	if err != nil {
		return err
	}
	records, err := s.svc.Audit(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleLineage(c echo.Context) error {
	id, err := planID(c)
	if err != nil {
		return err
	}
	chain, err := s.svc.Lineage(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chain)
}

func (s *Server) handleRevise(c echo.Context) error {
	var req ReviseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope, err := plan.ParseRevisionScope(req.Scope)
	if err != nil {
		return err
	}
	id, err := planID(c)
	if err != nil {
		return err
	}
	out, err := s.svc.Revise(c.Request().Context(), id, scope, req.Remark)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) handleValidateStored(c echo.Context) error {
	id, err := planID(c)
	if err != nil {
		return err
	}
	report, err := s.svc.ValidateStored(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// handleValidate scores the raw request body. A malformed artifact is a
// failing report, not a bad request.
func (s *Server) handleValidate(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	report, err := s.svc.Validate(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// errorHandler maps domain errors onto status codes.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, resp := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "write error response", zap.Error(err))
	}
}

func statusFor(err error) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, ErrorResponse{Error: msg}
	}

	var halt *orchestrator.HaltError
	if errors.As(err, &halt) {
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Report: &halt.Report}
	}

	var llmErr *llm.Error
	switch {
	case errors.Is(err, gate.ErrHalted):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error()}
	case errors.Is(err, store.ErrExists), errors.Is(err, store.ErrMissingParent):
		return http.StatusConflict, ErrorResponse{Error: err.Error()}
	case errors.Is(err, plan.ErrUnknownScope),
		errors.Is(err, revision.ErrEmptyRemark),
		errors.Is(err, revision.ErrInvalidRevision):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, services.ErrNotConfigured):
		return http.StatusNotImplemented, ErrorResponse{Error: err.Error()}
	case errors.As(err, &llmErr):
		return http.StatusBadGateway, ErrorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

// planID returns the validated :id path parameter.
func planID(c echo.Context) (string, error) {
	id := c.Param("id")
	if err := sanitize.ValidatePlanID(id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return id, nil
}
