package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func samplePlan(id, parent string, minutes int) plan.PlannerPlan {
	p := plan.PlannerPlan{
		Metadata: plan.Metadata{
			PlanID:        id,
			ParentPlanID:  parent,
			PlanningID:    "pl-1",
			Concern:       "CLABSI",
			Domain:        "CLABSI",
			DomainKind:    plan.KindSafety,
			SchemaVersion: plan.SchemaVersion,
			GateDecision:  plan.DecisionPass,
			CreatedAt:     epoch.Add(time.Duration(minutes) * time.Minute),
		},
		SignalGroups: []plan.SignalGroup{{ID: plan.GroupRuleIn, Signals: []plan.Signal{}}},
		Validation:   plan.NewValidationResult(),
		Audit: []plan.StageRecord{
			{Stage: plan.StageIntake, Name: "intake", Gate: plan.GateDecision{Decision: plan.DecisionPass}, Validation: plan.NewValidationResult(), StartedAt: epoch, DurationMS: 1},
			{Stage: plan.StageDomain, Name: "domain_resolution", Gate: plan.GateDecision{Decision: plan.DecisionWarn, Reason: "fallback"}, Validation: plan.NewValidationResult(), StartedAt: epoch, DurationMS: 2},
		},
	}
	if parent != "" {
		p.Metadata.Revision = &plan.RevisionInfo{Scope: "signals", Remark: "more"}
	}
	return p
}

func backends(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"sqlite": func() Store {
			s, err := OpenSQLite(":memory:")
			require.NoError(t, err)
			return s
		},
		"s3": func() Store {
			s, err := NewS3(newFakeS3(), "plans-bucket", "planner")
			require.NoError(t, err)
			return s
		},
		"instrumented": func() Store { return NewInstrumented(NewMemory(), "memory", zaptest.NewLogger(t)) },
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			root := samplePlan("p1", "", 0)
			require.NoError(t, s.Save(ctx, root))
			require.NoError(t, s.Save(ctx, samplePlan("p2", "p1", 1)))
			require.NoError(t, s.Save(ctx, samplePlan("p3", "p2", 2)))

			got, err := s.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "p1", got.Metadata.PlanID)
			assert.True(t, root.Metadata.CreatedAt.Equal(got.Metadata.CreatedAt))

			data, err := s.GetArtifact(ctx, "p2")
			require.NoError(t, err)
			decoded, err := plan.UnmarshalArtifact(data)
			require.NoError(t, err)
			assert.Equal(t, "p1", decoded.Metadata.ParentPlanID)

			assert.ErrorIs(t, s.Save(ctx, root), ErrExists)
			assert.ErrorIs(t, s.Save(ctx, samplePlan("orphan", "missing", 3)), ErrMissingParent)
			assert.ErrorIs(t, s.Save(ctx, samplePlan("", "", 3)), ErrInvalidPlan)

			_, err = s.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			chain, err := s.Lineage(ctx, "p3")
			require.NoError(t, err)
			ids := make([]string, len(chain))
			for i, c := range chain {
				ids[i] = c.PlanID
			}
			assert.Equal(t, []string{"p1", "p2", "p3"}, ids)
			assert.Equal(t, "signals", chain[2].RevisionScope)

			_, err = s.Lineage(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			list, err := s.List(ctx, ListOptions{Limit: 2})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "p3", list[0].PlanID)
			assert.Equal(t, "p2", list[1].PlanID)

			list, err = s.List(ctx, ListOptions{PlanningID: "other"})
			require.NoError(t, err)
			assert.Empty(t, list)

			recs, err := s.Audit(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, plan.StageDomain, recs[1].Stage)
			assert.Equal(t, plan.DecisionWarn, recs[1].Gate.Decision)
			assert.Equal(t, "fallback", recs[1].Gate.Reason)

			_, err = s.Audit(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestS3_Keys(t *testing.T) {
	fake := newFakeS3()
	s, err := NewS3(fake, "b", "/tenant-a/")
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), samplePlan("p1", "", 0)))
	assert.Contains(t, fake.keys(), "tenant-a/plans/p1.json")

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Save(context.Background(), samplePlan("p2", "", 0)), ErrClosed)

	_, err = NewS3(fake, "", "")
	assert.Error(t, err)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Save(context.Background(), samplePlan("p1", "", 0)), ErrClosed)
	_, err := m.Get(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrClosed)
}

// fakeS3 is an in-memory bucket returning one key per list page.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{Message: aws.String("missing")}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var matching []string
	for _, k := range f.keys() {
		if len(k) >= len(aws.ToString(in.Prefix)) && k[:len(aws.ToString(in.Prefix))] == aws.ToString(in.Prefix) {
			matching = append(matching, k)
		}
	}
	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if start < len(matching) {
		out.Contents = []types.Object{{Key: aws.String(matching[start])}}
		if start+1 < len(matching) {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(strconv.Itoa(start + 1))
		}
	}
	return out, nil
}
