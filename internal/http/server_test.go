package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/revision"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/store"
	"github.com/fyrsmithlabs/planner/internal/telemetry"
)

func newPlanner(t *testing.T) *services.Planner {
	t.Helper()
	reg := registry.Default()
	client := llm.NewMock()
	v, err := compliance.New(reg, "")
	require.NoError(t, err)
	p, err := services.NewPlanner(services.NewRegistry(services.Options{
		Rules:     reg,
		Pipeline:  orchestrator.New(reg, client, orchestrator.Config{}),
		Validator: v,
		Reviser:   revision.New(client, v),
		Store:     store.NewMemory(),
	}))
	require.NoError(t, err)
	return p
}

func newTestServer(t *testing.T, svc services.Service, opts ...Option) (*Server, *logging.TestLogger) {
	t.Helper()
	logs := logging.NewTestLogger()
	s, err := NewServer(svc, logs.Logger, nil, opts...)
	require.NoError(t, err)
	return s, logs
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, logging.Nop(), nil)
	assert.ErrorContains(t, err, "planner service cannot be nil")

	_, err = NewServer(newPlanner(t), nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(newPlanner(t), logging.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", s.config.Host)
	assert.Equal(t, 9090, s.config.Port)
	assert.Equal(t, "2M", s.config.BodyLimit)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, newPlanner(t))
	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	degraded, _ := newTestServer(t, newPlanner(t), WithTelemetryHealth(func() telemetry.HealthStatus {
		return telemetry.HealthStatus{Healthy: true, Degraded: true, Reason: "exporter down"}
	}))
	resp := decode[HealthResponse](t, do(t, degraded, http.MethodGet, "/health", nil))
	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.Telemetry)
	assert.Equal(t, "exporter down", resp.Telemetry.Reason)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, newPlanner(t))
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPlanLifecycle(t *testing.T) {
	s, logs := newTestServer(t, newPlanner(t))

	rec := do(t, s, http.MethodPost, "/api/v1/plans", plan.PlanningInput{
		PlanningID:       "pl-1",
		Concern:          "CLABSI",
		Intent:           "Review central line infections",
		TargetPopulation: "Adult ICU",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	gen := decode[services.Generated](t, rec)
	id := gen.Plan.Metadata.PlanID
	require.NotEmpty(t, id)
	assert.Equal(t, 100, gen.Compliance.Score)

	rec = do(t, s, http.MethodGet, "/api/v1/plans/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[plan.PlannerPlan](t, rec).Metadata.PlanID)

	rec = do(t, s, http.MethodGet, "/api/v1/plans/"+id+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]plan.StageRecord](t, rec), len(plan.AllStages()))

	artifact := do(t, s, http.MethodGet, "/api/v1/plans/"+id+"/artifact", nil)
	require.Equal(t, http.StatusOK, artifact.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/compliance", artifact.Body.Bytes())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[compliance.Report](t, rec).IsValid)

	rec = do(t, s, http.MethodPost, "/api/v1/plans/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, decode[compliance.Report](t, rec).Score)

	rec = do(t, s, http.MethodPost, "/api/v1/plans/"+id+"/revisions", ReviseRequest{Scope: "rules", Remark: "tighten exclusions"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decode[services.Revised](t, rec)
	assert.Equal(t, id, rev.Plan.Metadata.ParentPlanID)

	rec = do(t, s, http.MethodGet, "/api/v1/plans/"+rev.Plan.Metadata.PlanID+"/lineage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chain := decode[[]store.Summary](t, rec)
	require.Len(t, chain, 2)
	assert.Equal(t, "criteria", chain[1].RevisionScope)

	rec = do(t, s, http.MethodGet, "/api/v1/plans?planning_id=pl-1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Summary](t, rec), 1)

	logs.AssertLogged(t, zapcore.InfoLevel, "http request")
	logs.AssertField(t, "http request", "route", "/api/v1/plans/:id/lineage")
}

func TestGenerate_HaltIsUnprocessable(t *testing.T) {
	s, _ := newTestServer(t, newPlanner(t))
	rec := do(t, s, http.MethodPost, "/api/v1/plans", plan.PlanningInput{Concern: "WIDGET QUALITY"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "halted at S1")
	require.NotNil(t, resp.Report)
	assert.Equal(t, plan.StageDomain, resp.Report.HaltedAt)
}

func TestRequestErrors(t *testing.T) {
	s, _ := newTestServer(t, newPlanner(t))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown plan", http.MethodGet, "/api/v1/plans/nope", nil, http.StatusNotFound},
		{"unknown lineage", http.MethodGet, "/api/v1/plans/nope/lineage", nil, http.StatusNotFound},
		{"bad body", http.MethodPost, "/api/v1/plans", []byte("{"), http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/plans?limit=x", nil, http.StatusBadRequest},
		{"bad scope", http.MethodPost, "/api/v1/plans/nope/revisions", ReviseRequest{Scope: "everything", Remark: "x"}, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v2/plans", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestValidate_MalformedBodyIsReport(t *testing.T) {
	s, _ := newTestServer(t, newPlanner(t))
	rec := do(t, s, http.MethodPost, "/api/v1/compliance", []byte("not an artifact"))
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[compliance.Report](t, rec)
	assert.False(t, report.IsValid)
	assert.NotEmpty(t, report.Errors)
}

// mockService lets error paths be driven without a pipeline.
type mockService struct {
	mock.Mock
	services.Service
}

func (m *mockService) Get(ctx context.Context, id string) (plan.PlannerPlan, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(plan.PlannerPlan), args.Error(1)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{llm.Errorf(llm.KindTimeout, "deadline"), http.StatusBadGateway},
		{store.ErrExists, http.StatusConflict},
		{services.ErrNotConfigured, http.StatusNotImplemented},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &mockService{}
			svc.On("Get", mock.Anything, "p-1").Return(plan.PlannerPlan{}, tt.err)
			s, logs := newTestServer(t, svc)

			rec := do(t, s, http.MethodGet, "/api/v1/plans/p-1", nil)
			assert.Equal(t, tt.want, rec.Code)
			svc.AssertExpectations(t)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", decode[ErrorResponse](t, rec).Error)
				logs.AssertLogged(t, zapcore.ErrorLevel, "request failed")
			}
		})
	}
}
