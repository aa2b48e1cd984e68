package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaplan/internal/domain"
)

func TestParseTableColumns(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []Column
		wantErr string
	}{
		{
			name: "order_follows_file",
			body: "[host]\ntype=\"STRING\"\nmode=\"REQUIRED\"\n\n[score]\ntype=\"NUMERIC\"\n\n[aliases]\ntype=\"STRING\"\nmode=\"REPEATED\"\n",
			want: []Column{
				{Name: "host", Type: "STRING", Mode: ModeRequired},
				{Name: "score", Type: "NUMERIC", Mode: ModeNullable},
				{Name: "aliases", Type: "STRING", Mode: ModeRepeated},
			},
		},
		{
			name: "mode_defaults_to_nullable",
			body: "[id]\ntype=\"INTEGER\"\n",
			want: []Column{{Name: "id", Type: "INTEGER", Mode: ModeNullable}},
		},
		{
			name:    "missing_type",
			body:    "[id]\nmode=\"REQUIRED\"\n",
			wantErr: "missing a type",
		},
		{
			name:    "invalid_mode",
			body:    "[id]\ntype=\"INTEGER\"\nmode=\"SOMETIMES\"\n",
			wantErr: "invalid mode",
		},
		{
			name:    "malformed_toml",
			body:    "[id\ntype=",
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTableColumns(tt.body)
			if tt.name == "malformed_toml" {
				require.Error(t, err)
				return
			}
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObjectRenderedMemoization(t *testing.T) {
	obj := &Object{ID: domain.ObjectID{Dataset: "main", Kind: domain.KindView, Name: "v"}}

	_, ok := obj.Rendered()
	assert.False(t, ok)

	obj.SetRendered("SELECT 1")
	obj.SetRendered("SELECT 2") // first write wins

	body, ok := obj.Rendered()
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", body)
}
