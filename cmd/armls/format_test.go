package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputResultText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result any
		want   string
	}{
		{
			name: "diagnostics",
			result: []CLIDiagnostic{
				{File: "a.json", StartLine: 3, StartCol: 4, Severity: "warning", Message: "bad"},
				{File: "b.json", Severity: "error", Message: "syntax error"},
			},
			want: "a.json:3:4: warning: bad\nb.json:0:0: error: syntax error\n",
		},
		{
			name:   "hover",
			result: CLIHover{Contents: "The SKU name."},
			want:   "The SKU name.\n",
		},
		{
			name:   "candidates use first description line",
			result: []CLICandidate{{Name: "kind", Description: "Kind.\nMore."}, {Name: "sku", Description: "Sku."}},
			want:   "NAME  DESCRIPTION\nkind  Kind.\nsku   Sku.\n",
		},
		{
			name:   "index stats",
			result: CLIIndexStats{Catalog: "c.db", Indexed: 2, Unchanged: 1},
			want:   "Catalog: c.db\nIndexed: 2\nUnchanged: 1\nRemoved: 0\n",
		},
		{
			name: "nil",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, outputResultText(&buf, CLIResult{Results: tt.result}))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutputResultText_Unsupported(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := outputResultText(&buf, CLIResult{Results: 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported result type")
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("yaml"))
}
