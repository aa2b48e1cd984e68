package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema(t *testing.T) {
	got, err := CreateSchema("proj", "main")
	require.NoError(t, err)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "proj"."main"`, got)

	_, err = CreateSchema("proj", "bad name")
	require.Error(t, err)
	_, err = CreateSchema("", "main")
	require.Error(t, err)
}

func TestCreateTable(t *testing.T) {
	tests := []struct {
		name    string
		columns []ColumnDef
		want    string
		wantErr string
	}{
		{
			name: "simple",
			columns: []ColumnDef{
				{Name: "host", Type: "STRING", Required: true},
				{Name: "score", Type: "NUMERIC"},
			},
			want: `CREATE TABLE "proj"."main"."t" ("host" VARCHAR NOT NULL, "score" DECIMAL(38,9))`,
		},
		{
			name:    "repeated_column_becomes_array",
			columns: []ColumnDef{{Name: "aliases", Type: "STRING", Repeated: true}},
			want:    `CREATE TABLE "proj"."main"."t" ("aliases" VARCHAR[])`,
		},
		{
			name:    "no_columns",
			wantErr: "at least one column",
		},
		{
			name:    "bad_column_name",
			columns: []ColumnDef{{Name: "bad name", Type: "STRING"}},
			wantErr: "invalid column name",
		},
		{
			name:    "bad_column_type",
			columns: []ColumnDef{{Name: "x", Type: "VARCHAR; DROP"}},
			wantErr: "invalid column type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateTable("proj", "main", "t", tt.columns)
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

func TestCreateOrReplaceView(t *testing.T) {
	got, err := CreateOrReplaceView("proj", "main", "v", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "CREATE OR REPLACE VIEW \"proj\".\"main\".\"v\" AS\nSELECT 1", got)

	_, err = CreateOrReplaceView("proj", "main", "v", "   ")
	require.Error(t, err)
	_, err = CreateOrReplaceView("proj", "main", "bad name", "SELECT 1")
	require.Error(t, err)
}

func TestDropStatements(t *testing.T) {
	got, err := DropTable("proj", "main", "t")
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "proj"."main"."t"`, got)

	got, err = DropView("proj", "main", "v")
	require.NoError(t, err)
	assert.Equal(t, `DROP VIEW IF EXISTS "proj"."main"."v"`, got)

	got, err = DropMacro("proj", "main", "r")
	require.NoError(t, err)
	assert.Equal(t, `DROP MACRO IF EXISTS "proj"."main"."r"`, got)
}

func TestCommentOn(t *testing.T) {
	got, err := CommentOn("TABLE", "proj", "main", "t", "it's tracked")
	require.NoError(t, err)
	assert.Equal(t, `COMMENT ON TABLE "proj"."main"."t" IS 'it''s tracked'`, got)

	got, err = CommentOn("MACRO", "proj", "main", "r", "sums scores")
	require.NoError(t, err)
	assert.Equal(t, `COMMENT ON MACRO "proj"."main"."r" IS 'sums scores'`, got)

	_, err = CommentOn("SEQUENCE", "proj", "main", "s", "x")
	require.Error(t, err)
}
