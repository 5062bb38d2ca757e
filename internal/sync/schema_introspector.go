package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/db"
	"github.com/arwahdevops/replisearch/internal/utils"
)

// CatalogIntrospector reads column metadata from the source catalog.
// It only issues read queries.
type CatalogIntrospector struct {
	conn   *db.Connector
	logger *zap.Logger
}

var _ SchemaIntrospector = (*CatalogIntrospector)(nil)

func NewCatalogIntrospector(conn *db.Connector, logger *zap.Logger) *CatalogIntrospector {
	return &CatalogIntrospector{
		conn:   conn,
		logger: logger.Named("schema-introspector"),
	}
}

// catalogColumn is the row shape shared by the INFORMATION_SCHEMA queries.
type catalogColumn struct {
	ColumnName             string        `gorm:"column:column_name"`
	DataType               string        `gorm:"column:data_type"`
	UdtName                string        `gorm:"column:udt_name"`
	CharacterMaximumLength sql.NullInt64 `gorm:"column:character_maximum_length"`
	IsNullable             string        `gorm:"column:is_nullable"` // YES / NO
	OrdinalPosition        int           `gorm:"column:ordinal_position"`
	IsPrimaryKey           int           `gorm:"column:is_primary_key"`
}

const sqlServerColumnsQuery = `
SELECT
	c.COLUMN_NAME AS column_name,
	c.DATA_TYPE AS data_type,
	'' AS udt_name,
	c.CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
	c.IS_NULLABLE AS is_nullable,
	c.ORDINAL_POSITION AS ordinal_position,
	CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END AS is_primary_key
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN (
	SELECT kcu.TABLE_SCHEMA, kcu.TABLE_NAME, kcu.COLUMN_NAME
	FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
	JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
	  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
	 AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
	 AND tc.TABLE_NAME = kcu.TABLE_NAME
	WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
) pk ON pk.TABLE_SCHEMA = c.TABLE_SCHEMA AND pk.TABLE_NAME = c.TABLE_NAME AND pk.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_NAME = ? AND c.TABLE_SCHEMA = SCHEMA_NAME()
ORDER BY c.ORDINAL_POSITION`

const postgresColumnsQuery = `
SELECT
	c.column_name,
	c.data_type,
	c.udt_name,
	c.character_maximum_length,
	c.is_nullable,
	c.ordinal_position,
	CASE WHEN pk.column_name IS NULL THEN 0 ELSE 1 END AS is_primary_key
FROM information_schema.columns c
LEFT JOIN (
	SELECT kcu.table_schema, kcu.table_name, kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
	  ON tc.constraint_name = kcu.constraint_name
	 AND tc.table_schema = kcu.table_schema
	 AND tc.table_name = kcu.table_name
	WHERE tc.constraint_type = 'PRIMARY KEY'
) pk ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
WHERE c.table_schema = current_schema() AND c.table_name = ?
ORDER BY c.ordinal_position`

// COLUMN_TYPE keeps display modifiers such as tinyint(1) that DATA_TYPE drops.
const mysqlColumnsQuery = `
SELECT
	COLUMN_NAME AS column_name,
	COLUMN_TYPE AS data_type,
	'' AS udt_name,
	CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
	IS_NULLABLE AS is_nullable,
	ORDINAL_POSITION AS ordinal_position,
	CASE WHEN COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END AS is_primary_key
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

// GetSchema returns the table's columns ordered by ordinal position.
// An unknown table yields *SchemaNotFoundError, a failing query *ConnectionError.
func (i *CatalogIntrospector) GetSchema(ctx context.Context, table string) ([]ColumnSchema, error) {
	log := i.logger.With(zap.String("table", table), zap.String("dialect", i.conn.Dialect))
	log.Debug("Fetching source column metadata")

	var (
		cols []ColumnSchema
		err  error
	)
	switch i.conn.Dialect {
	case "sqlserver":
		cols, err = i.queryInformationSchema(ctx, sqlServerColumnsQuery, table)
	case "postgres":
		cols, err = i.queryInformationSchema(ctx, postgresColumnsQuery, table)
	case "mysql":
		cols, err = i.queryInformationSchema(ctx, mysqlColumnsQuery, table)
	case "sqlite":
		cols, err = i.querySQLitePragma(ctx, table)
	default:
		return nil, fmt.Errorf("schema introspection: unsupported source dialect %s", i.conn.Dialect)
	}
	if err != nil {
		log.Error("Schema query failed", zap.Error(err))
		return nil, &ConnectionError{Op: fmt.Sprintf("introspect table '%s'", table), Err: err}
	}
	if len(cols) == 0 {
		log.Warn("Source catalog returned no columns for table")
		return nil, &SchemaNotFoundError{Table: table}
	}

	log.Debug("Source column metadata fetched", zap.Int("column_count", len(cols)))
	return cols, nil
}

func (i *CatalogIntrospector) queryInformationSchema(ctx context.Context, query, table string) ([]ColumnSchema, error) {
	var rows []catalogColumn
	if err := i.conn.DB.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, err
	}

	cols := make([]ColumnSchema, 0, len(rows))
	for _, r := range rows {
		srcType := r.DataType
		if srcType == "USER-DEFINED" && r.UdtName != "" {
			srcType = r.UdtName
		}
		col := ColumnSchema{
			Name:       r.ColumnName,
			SourceType: srcType,
			Nullable:   strings.EqualFold(r.IsNullable, "YES"),
			Ordinal:    r.OrdinalPosition,
			IsPrimary:  r.IsPrimaryKey == 1,
		}
		if r.CharacterMaximumLength.Valid {
			n := int(r.CharacterMaximumLength.Int64)
			col.MaxLength = &n
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (i *CatalogIntrospector) querySQLitePragma(ctx context.Context, table string) ([]ColumnSchema, error) {
	var rows []struct {
		Cid     int    `gorm:"column:cid"`
		Name    string `gorm:"column:name"`
		Type    string `gorm:"column:type"`
		NotNull int    `gorm:"column:notnull"`
		Pk      int    `gorm:"column:pk"`
	}
	query := fmt.Sprintf("PRAGMA table_info(%s);", utils.QuoteIdentifier(table, "sqlite"))
	if err := i.conn.DB.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, err
	}

	cols := make([]ColumnSchema, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, ColumnSchema{
			Name:       r.Name,
			SourceType: r.Type,
			Nullable:   r.NotNull == 0,
			Ordinal:    r.Cid + 1,
			IsPrimary:  r.Pk > 0,
		})
	}
	return cols, nil
}

// primaryKeyColumns returns the names of the PK columns in ordinal order.
func primaryKeyColumns(cols []ColumnSchema) []string {
	var pks []string
	for _, c := range cols {
		if c.IsPrimary {
			pks = append(pks, c.Name)
		}
	}
	return pks
}
