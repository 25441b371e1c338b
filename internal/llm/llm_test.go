package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/planner/internal/metrics"
	"github.com/fyrsmithlabs/planner/internal/plan"
)

func taskPayload() plan.PromptPayload {
	return plan.PromptPayload{
		Kind:                plan.PromptTask,
		TaskID:              "process_auditor:bundle_audit",
		Task:                "bundle_audit",
		Archetype:           plan.ArchetypeProcessAuditor,
		Concern:             "CLABSI",
		Domain:              plan.Domain{ID: "CLABSI", Kind: plan.KindSafety, Name: "Central line infection"},
		DomainRules:         []string{"Positive blood culture with central line in place for more than 2 days"},
		TaskDifferentiators: []string{"bundle_compliance"},
		Groups: []plan.GroupContext{
			{ID: plan.GroupBundleGaps, Title: "Bundle gaps", Hints: []string{"dressing"}},
			{ID: plan.GroupRuleIn, Title: "Rule in"},
		},
		Facts: []plan.SourcedFact{{ID: "CLABSI-rule-1", Source: "NHSN", Text: "line days"}},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", errors.Join(errors.New("call"), context.DeadlineExceeded), KindTimeout},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		{"429", errors.New("API returned unexpected status code: 429"), KindRateLimited},
		{"auth", errors.New("401 Unauthorized"), KindUnauthorized},
		{"other", errors.New("model overloaded"), KindProvider},
		{"typed", Errorf(KindMalformed, "bad"), KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.Nil(t, Classify(nil))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestMock_TaskOutput(t *testing.T) {
	m := NewMock()
	req, err := TaskRequest(plan.Prompt{TaskID: "process_auditor:bundle_audit", System: "sys", Payload: taskPayload()}, nil)
	require.NoError(t, err)

	raw, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	out, err := DecodeTaskOutput(raw)
	require.NoError(t, err)

	require.Len(t, out.SignalGroups, 2)
	assert.Equal(t, plan.GroupBundleGaps, out.SignalGroups[0].ID)
	sig := out.SignalGroups[0].Signals[0]
	assert.Equal(t, "process_auditor.bundle_audit.bundle_gaps", sig.ID)
	assert.Equal(t, plan.ArchetypeProcessAuditor, sig.Archetype)
	require.NotNil(t, sig.Provenance)
	assert.Equal(t, "NHSN", sig.Provenance.Source)
	assert.Equal(t, []string{"CLABSI-rule-1"}, sig.EvidenceRefs)
	assert.Contains(t, sig.Description, "dressing")
	assert.Equal(t, []string{"bundle_compliance"}, out.DifferentiatorsAddressed)
	require.Len(t, out.Criteria, 1)
	require.Len(t, out.References, 1)
	assert.NotEmpty(t, out.Rationale)

	again, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
	assert.Len(t, m.Calls(), 2)
}

func TestMock_FailTask(t *testing.T) {
	m := NewMock().FailTask("a:b", KindTimeout)
	_, err := m.Complete(context.Background(), Request{TaskID: "a:b"})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestMock_Revision(t *testing.T) {
	payload := plan.RevisionPayload{
		Kind:   plan.PromptRevision,
		PlanID: "p1",
		Scope:  plan.ScopeQuestions,
		Remark: "Ask whether the line was still indicated",
		Sections: plan.RevisionSections{
			Questions: []plan.Question{{ID: "q1", Text: "existing", Type: plan.QuestionBoolean}},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := NewMock().Complete(context.Background(), Request{Kind: plan.PromptRevision, Payload: raw})
	require.NoError(t, err)
	var got plan.RevisionSections
	require.NoError(t, json.Unmarshal(resp, &got))
	require.Len(t, got.Questions, 2)
	assert.Equal(t, payload.Remark, got.Questions[1].Text)
	assert.Empty(t, got.Criteria)
}

func TestDecodeTaskOutput_Malformed(t *testing.T) {
	_, err := DecodeTaskOutput(json.RawMessage(`not json`))
	assert.Equal(t, KindMalformed, KindOf(err))

	_, err = DecodeTaskOutput(json.RawMessage(`{"rationale":"x"}`))
	assert.Equal(t, KindMalformed, KindOf(err))
}

func TestExtractJSON(t *testing.T) {
	raw, err := extractJSON("```json\n{\"signal_groups\": []}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"signal_groups": []}`, string(raw))

	_, err = extractJSON("sorry, I cannot help")
	assert.Equal(t, KindMalformed, KindOf(err))
}

func TestRetrying(t *testing.T) {
	var calls atomic.Int32
	flaky := ClientFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		if calls.Add(1) < 3 {
			return nil, Errorf(KindRateLimited, "slow down")
		}
		return json.RawMessage(`{"signal_groups":[]}`), nil
	})

	r := NewRetrying(flaky, RetryConfig{RatePerMinute: 60000, Burst: 10, MaxRetries: 3})
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	out, err := r.Complete(context.Background(), Request{TaskID: "t"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"signal_groups":[]}`, string(out))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestRetrying_NonRetryableStopsImmediately(t *testing.T) {
	var calls atomic.Int32
	bad := ClientFunc(func(context.Context, Request) (json.RawMessage, error) {
		calls.Add(1)
		return nil, Errorf(KindMalformed, "garbage")
	})
	r := NewRetrying(bad, RetryConfig{RatePerMinute: 60000, MaxRetries: 3})
	r.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := r.Complete(context.Background(), Request{})
	assert.Equal(t, KindMalformed, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestInstrumented(t *testing.T) {
	m := metrics.New()

	c := NewInstrumented(NewMock().FailTask("x", KindNetwork), m)
	_, err := c.Complete(context.Background(), Request{Kind: plan.PromptTask, TaskID: "x"})
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(m.LLMCallDuration), 1)
}

type recordingModel struct {
	opts llms.CallOptions
}

func (m *recordingModel) GenerateContent(_ context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.opts = llms.CallOptions{}
	for _, opt := range options {
		opt(&m.opts)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: `{"ok":true}`}}}, nil
}

func (m *recordingModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestModelClient_Temperature(t *testing.T) {
	zero, hot := 0.0, 0.9
	tests := []struct {
		name string
		in   *float64
		want float64
	}{
		{"unset uses default", nil, defaultTemperature},
		{"zero is kept", &zero, 0},
		{"explicit", &hot, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingModel{}
			out, err := NewModelClient(m, Config{Temperature: tt.in}).Complete(context.Background(), Request{TaskID: "t", System: "s", Payload: json.RawMessage(`{}`)})
			require.NoError(t, err)
			assert.JSONEq(t, `{"ok":true}`, string(out))
			assert.Equal(t, tt.want, m.opts.Temperature)
			assert.Equal(t, defaultMaxTokens, m.opts.MaxTokens)
		})
	}
}
