package research

import (
	"context"
	"errors"
	"hash/fnv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// hashEmbedding creates a deterministic embedding from a text hash.
func hashEmbedding(_ context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	out := make([]float32, 16)
	for i := range out {
		out[i] = float32((seed>>uint(i%32))&0xff)/255.0 + 0.01
	}
	return out, nil
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(registry.Default())

	b, err := p.Fetch(context.Background(), "CLABSI", "")
	require.NoError(t, err)
	assert.Equal(t, plan.CacheLive, b.CacheStatus)
	assert.Equal(t, 1.0, b.Coverage)
	assert.NotEmpty(t, b.Facts)
	for _, f := range b.Facts {
		assert.NotEmpty(t, f.ID)
		assert.NotEmpty(t, f.Source)
	}

	_, err = p.Fetch(context.Background(), "mystery", "")
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestCachingProvider(t *testing.T) {
	var calls atomic.Int32
	next := ProviderFunc(func(ctx context.Context, concern string, domain plan.DomainID) (*plan.ResearchBundle, error) {
		calls.Add(1)
		return &plan.ResearchBundle{
			Facts:       []plan.SourcedFact{{ID: concern, Source: "test", Text: "fact"}},
			CacheStatus: plan.CacheLive,
			Coverage:    1,
		}, nil
	})
	c := NewCachingProvider(next, time.Minute, 2)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := c.Fetch(ctx, "A", "CLABSI")
	require.NoError(t, err)
	assert.Equal(t, plan.CacheLive, first.CacheStatus)

	second, err := c.Fetch(ctx, "A", "CLABSI")
	require.NoError(t, err)
	assert.Equal(t, plan.CacheCached, second.CacheStatus)
	assert.Equal(t, int32(1), calls.Load())

	// Cached copies are independent.
	second.Facts[0].Text = "mutated"
	third, _ := c.Fetch(ctx, "A", "CLABSI")
	assert.Equal(t, "fact", third.Facts[0].Text)

	// LRU eviction keeps the cache bounded.
	_, _ = c.Fetch(ctx, "B", "CLABSI")
	_, _ = c.Fetch(ctx, "C", "CLABSI")
	assert.Equal(t, 2, c.Len())

	// Expiry forces a refetch.
	before := calls.Load()
	now = now.Add(2 * time.Minute)
	b, err := c.Fetch(ctx, "C", "CLABSI")
	require.NoError(t, err)
	assert.Equal(t, plan.CacheLive, b.CacheStatus)
	assert.Equal(t, before+1, calls.Load())
}

func TestCachingProvider_ErrorNotCached(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	c := NewCachingProvider(ProviderFunc(func(context.Context, string, plan.DomainID) (*plan.ResearchBundle, error) {
		calls++
		return nil, boom
	}), time.Minute, 4)

	_, err := c.Fetch(context.Background(), "A", "")
	assert.ErrorIs(t, err, boom)
	_, err = c.Fetch(context.Background(), "A", "")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestCachingProvider_NilBundleNotCached(t *testing.T) {
	var calls int
	c := NewCachingProvider(ProviderFunc(func(context.Context, string, plan.DomainID) (*plan.ResearchBundle, error) {
		calls++
		return nil, nil
	}), time.Minute, 4)

	for range 2 {
		b, err := c.Fetch(context.Background(), "A", "")
		require.NoError(t, err)
		assert.Nil(t, b)
	}
	assert.Equal(t, 2, calls)
	assert.Zero(t, c.Len())
}

func TestMultiProvider_NilBundles(t *testing.T) {
	empty := ProviderFunc(func(context.Context, string, plan.DomainID) (*plan.ResearchBundle, error) {
		return nil, nil
	})
	full := ProviderFunc(func(context.Context, string, plan.DomainID) (*plan.ResearchBundle, error) {
		return &plan.ResearchBundle{Facts: []plan.SourcedFact{{ID: "f1", Source: "s"}}}, nil
	})

	m := NewMultiProvider(stubComparator{},
		Source{Name: "a", Provider: empty},
		Source{Name: "b", Provider: full},
	)
	b, err := m.Fetch(context.Background(), "CLABSI", "CLABSI")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Len(t, b.Facts, 1)
	assert.Empty(t, b.Conflicts)

	none := NewMultiProvider(nil, Source{Name: "a", Provider: empty})
	b, err = none.Fetch(context.Background(), "CLABSI", "")
	require.NoError(t, err)
	assert.Nil(t, b)
}

type stubComparator struct{}

func (stubComparator) Compare(_ context.Context, bundles map[string]*plan.ResearchBundle) ([]plan.Conflict, error) {
	if len(bundles) < 2 {
		return nil, nil
	}
	return []plan.Conflict{{Topic: "benchmark", Sources: []string{"a", "b"}, Detail: "values differ"}}, nil
}

func TestMultiProvider(t *testing.T) {
	bundle := func(ids ...string) Provider {
		return ProviderFunc(func(context.Context, string, plan.DomainID) (*plan.ResearchBundle, error) {
			b := &plan.ResearchBundle{CacheStatus: plan.CacheCached, Coverage: 0.5}
			for _, id := range ids {
				b.Facts = append(b.Facts, plan.SourcedFact{ID: id, Source: "s"})
			}
			return b, nil
		})
	}
	failing := ProviderFunc(func(context.Context, string, plan.DomainID) (*plan.ResearchBundle, error) {
		return nil, errors.New("down")
	})

	m := NewMultiProvider(stubComparator{},
		Source{Name: "a", Provider: bundle("f1", "f2")},
		Source{Name: "b", Provider: bundle("f2", "f3")},
		Source{Name: "c", Provider: failing},
	)
	b, err := m.Fetch(context.Background(), "CLABSI", "CLABSI")
	require.NoError(t, err)
	assert.Len(t, b.Facts, 3)
	assert.Equal(t, plan.CacheCached, b.CacheStatus)
	require.Len(t, b.Conflicts, 1)

	allDown := NewMultiProvider(nil, Source{Name: "c", Provider: failing})
	_, err = allDown.Fetch(context.Background(), "CLABSI", "")
	assert.Error(t, err)
}

func TestVectorProvider(t *testing.T) {
	db, err := OpenDB("")
	require.NoError(t, err)
	v, err := NewVectorProvider(db, "research", chromem.EmbeddingFunc(hashEmbedding), 2)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = v.Fetch(ctx, "anything", "")
	assert.ErrorIs(t, err, ErrNoCoverage)

	require.NoError(t, v.Index(ctx, "CLABSI", []plan.SourcedFact{
		{ID: "c1", Source: "NHSN", Text: "central line days"},
		{ID: "c2", Source: "CDC", Text: "chlorhexidine bathing"},
	}))
	require.NoError(t, v.Index(ctx, "CAUTI", []plan.SourcedFact{
		{ID: "u1", Source: "NHSN", Text: "catheter days"},
	}))

	b, err := v.Fetch(ctx, "line infection", "CLABSI")
	require.NoError(t, err)
	require.Len(t, b.Facts, 2)
	for _, f := range b.Facts {
		assert.Contains(t, []string{"c1", "c2"}, f.ID)
	}
	assert.Equal(t, 1.0, b.Coverage)

	_, err = NewVectorProvider(db, "x", nil, 2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewEmbeddingFunc_Validates(t *testing.T) {
	_, err := NewEmbeddingFunc(EmbeddingConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
