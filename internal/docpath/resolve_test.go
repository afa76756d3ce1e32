package docpath

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samvidmistry/Armls/internal/cst"
)

const template = `{
  "$schema": "https://schema.management.azure.com/schemas/2019-04-01/deploymentTemplate.json#",
  "parameters": {
    "name": { "type": "string", "metadata": { "description": "n" } }
  },
  "resources": [
    // leading comment
    {
      "type": "Microsoft.Storage/storageAccounts",
      "apiVersion": "2021-04-01",
      "location": "westus",
      "properties": {
        "accessTier": "Hot",
        "networkAcls": { "ipRules": [ { "value": "1.2.3.4" } ] }
      }
    }
  ]
}`

func parse(t *testing.T, src string) *cst.Tree {
	t.Helper()
	tree, err := cst.ParseString(context.Background(), src)
	require.NoError(t, err)
	return tree
}

// pointOf returns the position of the first byte of needle's nth occurrence.
func pointOf(t *testing.T, src, needle string, nth int) cst.Point {
	t.Helper()
	off := -1
	for i := 0; i <= nth; i++ {
		next := strings.Index(src[off+1:], needle)
		require.GreaterOrEqual(t, next, 0, "needle %q not found", needle)
		off += next + 1
	}
	row := strings.Count(src[:off], "\n")
	col := off - (strings.LastIndex(src[:off], "\n") + 1)
	return cst.Point{Row: uint32(row), Column: uint32(col)}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	tree := parse(t, template)

	tests := []struct {
		name   string
		needle string
		nth    int
		want   Path
	}{
		{
			name:   "resource property value",
			needle: `"westus"`,
			want:   Path{"resources", "0", "Microsoft.Storage/storageAccounts", "location"},
		},
		{
			name:   "resource property key",
			needle: `"location"`,
			want:   Path{"resources", "0", "Microsoft.Storage/storageAccounts", "location"},
		},
		{
			name:   "nested properties",
			needle: `"Hot"`,
			want:   Path{"resources", "0", "Microsoft.Storage/storageAccounts", "properties", "accessTier"},
		},
		{
			name:   "array inside resource",
			needle: `"1.2.3.4"`,
			want: Path{"resources", "0", "Microsoft.Storage/storageAccounts",
				"properties", "networkAcls", "ipRules", "0", "value"},
		},
		{
			name:   "outside resources",
			needle: `"n"`,
			want:   Path{"parameters", "name", "metadata", "description"},
		},
		{
			name:   "top-level key",
			needle: `"$schema"`,
			want:   Path{"$schema"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pointOf(t, template, tt.needle, tt.nth)
			p.Column++ // inside the quotes

			got, err := Resolve(tree, tree.NodeAt(p))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_Root(t *testing.T) {
	t.Parallel()
	tree := parse(t, `{}`)

	got, err := Resolve(tree, tree.Root())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_ArrayIndexSkipsComments(t *testing.T) {
	t.Parallel()
	src := `[ /* a */ 1, // b
  2, 3 ]`
	tree := parse(t, src)

	got, err := Resolve(tree, tree.NodeAt(pointOf(t, src, "3", 0)))
	require.NoError(t, err)
	assert.Equal(t, Path{"2"}, got)
}

func TestResolve_NestedApiVersionObjectTriggersHeuristic(t *testing.T) {
	t.Parallel()
	src := `{"outputs": {"o": {"type": "A.B/c", "apiVersion": "x", "value": 1}}}`
	tree := parse(t, src)

	got, err := Resolve(tree, tree.NodeAt(pointOf(t, src, "1", 0)))
	require.NoError(t, err)
	assert.Equal(t, Path{"outputs", "o", "A.B/c", "value"}, got)
}

func TestElementIndex_NotContained(t *testing.T) {
	t.Parallel()
	src := `{"a": [1, 2], "b": 3}`
	tree := parse(t, src)
	arr := tree.Member(tree.Top(), "a")
	other := tree.Member(tree.Top(), "b")

	assert.Equal(t, -1, elementIndex(arr, other))
	assert.Equal(t, 1, elementIndex(arr, cst.Elements(arr)[1]))
}

func TestIsResourceDeclaration(t *testing.T) {
	t.Parallel()
	tree := parse(t, `[{"apiVersion": "1"}, {"type": "x"}, {"nested": {"apiVersion": "1"}}]`)
	els := cst.Elements(tree.Top())

	assert.True(t, IsResourceDeclaration(tree, els[0]))
	assert.False(t, IsResourceDeclaration(tree, els[1]))
	assert.False(t, IsResourceDeclaration(tree, els[2]))
}

func TestLookup(t *testing.T) {
	t.Parallel()
	tree := parse(t, template)

	n, consumed := Lookup(tree, []string{"resources", "0", "properties", "accessTier"})
	assert.Equal(t, 4, consumed)
	assert.Equal(t, `"Hot"`, tree.Text(n))

	n, consumed = Lookup(tree, []string{"resources", "5"})
	assert.Equal(t, 1, consumed)
	assert.Equal(t, "array", n.Type())

	n, consumed = Lookup(tree, nil)
	assert.Equal(t, 0, consumed)
	assert.Equal(t, "object", n.Type())
}

func TestPathString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/resources/0", Path{"resources", "0"}.String())
	assert.Equal(t, "/", Path{}.String())
}
