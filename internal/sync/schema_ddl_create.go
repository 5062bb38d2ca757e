package sync

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/utils"
)

// targetColumn pairs a source column with its target name and mapped type.
type targetColumn struct {
	Source     ColumnSchema
	Name       string
	TargetType string
}

// tablePlan is everything the synchronizer needs to create and fill one target table.
type tablePlan struct {
	SourceTable string
	TargetTable string
	Columns     []targetColumn
	SourcePKs   []string // ordinal order
	TargetPKs   []string
	DDL         string
}

func targetIdentifier(name string, lower bool) string {
	if lower {
		return strings.ToLower(name)
	}
	return name
}

// buildTablePlan maps every column and renders CREATE TABLE IF NOT EXISTS for
// the target dialect. Existing tables are never dropped or altered.
func buildTablePlan(mapper *TypeMapper, dstDialect, table string, cols []ColumnSchema, lowercase bool, log *zap.Logger) (*tablePlan, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("cannot create table '%s' with no columns", table)
	}

	plan := &tablePlan{
		SourceTable: table,
		TargetTable: targetIdentifier(table, lowercase),
		Columns:     make([]targetColumn, 0, len(cols)),
	}

	columnDefs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		mapped, known := mapper.MapColumn(col)
		if !known {
			log.Warn("No type mapping for source column, using generic fallback",
				zap.String("column", col.Name),
				zap.String("source_type", col.SourceType),
				zap.String("target_type", mapped))
		}
		tc := targetColumn{Source: col, Name: targetIdentifier(col.Name, lowercase), TargetType: mapped}
		plan.Columns = append(plan.Columns, tc)

		def := utils.QuoteIdentifier(tc.Name, dstDialect) + " " + mapped
		if !col.Nullable {
			def += " NOT NULL"
		}
		columnDefs = append(columnDefs, "  "+def)

		if col.IsPrimary {
			plan.SourcePKs = append(plan.SourcePKs, col.Name)
			plan.TargetPKs = append(plan.TargetPKs, tc.Name)
		}
	}

	if len(plan.TargetPKs) > 0 {
		columnDefs = append(columnDefs, fmt.Sprintf("  PRIMARY KEY (%s)",
			strings.Join(utils.QuoteIdentifiers(plan.TargetPKs, dstDialect), ", ")))
	}

	quotedTable := utils.QuoteIdentifier(plan.TargetTable, dstDialect)
	body := strings.Join(columnDefs, ",\n")
	if dstDialect == "sqlserver" {
		plan.DDL = fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n%s\n);",
			strings.ReplaceAll(plan.TargetTable, "'", "''"), quotedTable, body)
	} else {
		plan.DDL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", quotedTable, body)
	}
	return plan, nil
}
