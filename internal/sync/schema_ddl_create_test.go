package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildTablePlan_SQLServerToPostgres(t *testing.T) {
	cols := []ColumnSchema{
		{Name: "Id", SourceType: "int", Nullable: false, Ordinal: 1, IsPrimary: true},
		{Name: "Name", SourceType: "nvarchar", MaxLength: intPtr(100), Nullable: true, Ordinal: 2},
		{Name: "Amount", SourceType: "money", Nullable: false, Ordinal: 3},
		{Name: "Shape", SourceType: "geography", Nullable: true, Ordinal: 4},
	}

	plan, err := buildTablePlan(NewTypeMapper("sqlserver", "postgres"), "postgres", "tbl_Product", cols, true, zaptest.NewLogger(t))
	require.NoError(t, err)

	want := "CREATE TABLE IF NOT EXISTS \"tbl_product\" (\n" +
		"  \"id\" INTEGER NOT NULL,\n" +
		"  \"name\" VARCHAR(100),\n" +
		"  \"amount\" NUMERIC(19,4) NOT NULL,\n" +
		"  \"shape\" TEXT,\n" +
		"  PRIMARY KEY (\"id\")\n" +
		");"
	assert.Equal(t, want, plan.DDL)
	assert.Equal(t, "tbl_product", plan.TargetTable)
	assert.Equal(t, []string{"Id"}, plan.SourcePKs)
	assert.Equal(t, []string{"id"}, plan.TargetPKs)
}

func TestBuildTablePlan_KeepsCaseAndQuotesForMySQL(t *testing.T) {
	cols := []ColumnSchema{
		{Name: "Code", SourceType: "INTEGER", Ordinal: 1},
	}
	plan, err := buildTablePlan(NewTypeMapper("sqlite", "mysql"), "mysql", "Codes", cols, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS `Codes` (\n  `Code` BIGINT NOT NULL\n);", plan.DDL)
	assert.Empty(t, plan.TargetPKs)
}

func TestBuildTablePlan_NoColumns(t *testing.T) {
	_, err := buildTablePlan(NewTypeMapper("sqlite", "sqlite"), "sqlite", "t", nil, true, zaptest.NewLogger(t))
	assert.Error(t, err)
}
