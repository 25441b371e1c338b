package sanitize

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple lowercase", "clabsi", "clabsi"},
		{"uppercase conversion", "CLABSI", "clabsi"},
		{"metric code", "C41.1a", "c41_1a"},
		{"slashes and spaces", "Adult ICU / Q3", "adult_icu_q3"},
		{"multiple underscores collapsed", "foo___bar", "foo_bar"},
		{"leading/trailing underscores trimmed", "_foo_bar_", "foo_bar"},
		{"empty string", "", DefaultIdentifier},
		{"only invalid chars", "!!!", DefaultIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Identifier(tt.input))
		})
	}
}

func TestIdentifier_LengthLimit(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Identifier(long)
	assert.Len(t, got, MaxIdentifierLength)
	assert.NotEqual(t, got, Identifier(long+"b"), "hash suffix keeps long inputs distinct")

	exact := strings.Repeat("b", MaxIdentifierLength)
	assert.Equal(t, exact, Identifier(exact))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "research_clabsi", CollectionName("research", "CLABSI"))
	assert.Equal(t, "research", CollectionName("Research", ""))
	assert.LessOrEqual(t, len(CollectionName(strings.Repeat("x", 60), "ORTHOPEDICS")), MaxIdentifierLength)
}

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	got, err := ValidatePath(filepath.Join(root, "plans", "p.json"), root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "plans", "p.json"), got)

	tests := []struct {
		name string
		path string
		root string
		want error
	}{
		{"empty", "", "", ErrEmptyPath},
		{"traversal", "../etc/passwd", "", ErrPathTraversal},
		{"embedded traversal", "plans/../../x", "", ErrPathTraversal},
		{"outside root", "/tmp", root, ErrPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePath(tt.path, tt.root)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidatePlanID(t *testing.T) {
	for _, ok := range []string{"6f1c2a9e-3b7d-4c1e-9a2f-0d8e7b6a5c4d", "id-1", "plan:v2.1"} {
		assert.NoError(t, ValidatePlanID(ok), ok)
	}
	for _, bad := range []string{"", "-leading", "has space", "semi;colon", strings.Repeat("a", 129)} {
		assert.ErrorIs(t, ValidatePlanID(bad), ErrInvalidPlanID, bad)
	}
}
