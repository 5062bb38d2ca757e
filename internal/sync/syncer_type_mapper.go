package sync

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reTypeModifier   = regexp.MustCompile(`\(\s*([^)]*?)\s*\)`)
	reCollapseSpaces = regexp.MustCompile(`\s+`)
)

var typeNameAliases = map[string]string{
	"character varying": "varchar", "double precision": "double", "boolean": "bool",
	"timestamp with time zone": "timestamptz", "timestamp without time zone": "timestamp",
	"time with time zone": "timetz", "time without time zone": "time", "integer": "int",
	"int4": "int", "int8": "bigint", "serial4": "serial", "serial8": "bigserial",
	"character": "char", "bit varying": "varbit",
}

// TypeMapper translates source column types into target column types for one
// fixed dialect pair. It is pure: the same input always yields the same output.
type TypeMapper struct {
	srcDialect string
	dstDialect string
}

func NewTypeMapper(srcDialect, dstDialect string) *TypeMapper {
	return &TypeMapper{
		srcDialect: strings.ToLower(srcDialect),
		dstDialect: strings.ToLower(dstDialect),
	}
}

// MapType returns the target type for a source type name. maxLength is the
// catalog's character length (nil when not applicable, -1 for MAX). When it is
// nil a length modifier inside sourceType, e.g. VARCHAR(40), is used instead.
// Unknown types map to the target's unbounded text type.
func (m *TypeMapper) MapType(sourceType string, maxLength *int) string {
	mapped, _ := m.resolve(sourceType, maxLength)
	return mapped
}

// MapColumn is MapType for a ColumnSchema. The bool is false when the
// generic fallback was used.
func (m *TypeMapper) MapColumn(col ColumnSchema) (string, bool) {
	return m.resolve(col.SourceType, col.MaxLength)
}

func (m *TypeMapper) resolve(sourceType string, maxLength *int) (string, bool) {
	raw := strings.ToLower(strings.TrimSpace(sourceType))
	if raw == "" {
		return m.fallbackType(), false
	}
	key := normalizeTypeName(reTypeModifier.ReplaceAllString(raw, ""))
	length := maxLength
	if length == nil {
		length = parseLengthModifier(raw)
	}

	if m.srcDialect == m.dstDialect {
		return m.passThrough(sourceType, key, length), true
	}

	var mapped string
	switch {
	case m.srcDialect == "sqlserver" && m.dstDialect == "postgres":
		mapped = sqlServerToPostgres(key, length)
	case m.srcDialect == "mysql" && m.dstDialect == "postgres":
		mapped = mysqlToPostgres(key, raw, length)
	case m.srcDialect == "postgres" && m.dstDialect == "mysql":
		mapped = postgresToMySQL(key, raw, length)
	case m.srcDialect == "sqlite" && m.dstDialect == "postgres":
		mapped = sqliteToPostgres(key)
	case m.srcDialect == "sqlite" && m.dstDialect == "mysql":
		mapped = sqliteToMySQL(key)
	}
	if mapped == "" {
		return m.fallbackType(), false
	}
	return mapped, true
}

// passThrough keeps the source type when both ends speak the same dialect,
// re-attaching the catalog length for character and binary types.
func (m *TypeMapper) passThrough(sourceType, key string, length *int) string {
	upper := strings.ToUpper(strings.TrimSpace(sourceType))
	if strings.Contains(upper, "(") || length == nil {
		return upper
	}
	if !strings.Contains(key, "char") && !strings.Contains(key, "binary") {
		return upper
	}
	switch {
	case *length > 0:
		return fmt.Sprintf("%s(%d)", upper, *length)
	case *length == -1 && m.dstDialect == "sqlserver":
		return upper + "(MAX)"
	default:
		return upper
	}
}

func (m *TypeMapper) fallbackType() string {
	switch m.dstDialect {
	case "mysql":
		return "LONGTEXT"
	case "sqlserver":
		return "NVARCHAR(MAX)"
	default:
		return "TEXT"
	}
}

func sqlServerToPostgres(key string, length *int) string {
	switch key {
	case "int":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "smallint", "tinyint":
		return "SMALLINT"
	case "bit":
		return "BOOLEAN"
	case "decimal", "numeric":
		return "NUMERIC"
	case "money", "smallmoney":
		return "NUMERIC(19,4)"
	case "float":
		return "DOUBLE PRECISION"
	case "real":
		return "REAL"
	case "date":
		return "DATE"
	case "datetime", "datetime2", "smalldatetime":
		return "TIMESTAMP"
	case "datetimeoffset":
		return "TIMESTAMP WITH TIME ZONE"
	case "time":
		return "TIME"
	case "char", "nchar":
		return sizedType("CHAR", length, "CHAR(1)")
	case "varchar", "nvarchar":
		return sizedType("VARCHAR", length, "TEXT")
	case "text", "ntext", "xml":
		return "TEXT"
	case "uniqueidentifier":
		return "UUID"
	case "binary", "varbinary", "image":
		return "BYTEA"
	}
	return ""
}

func mysqlToPostgres(key, raw string, length *int) string {
	if key == "tinyint" && strings.HasPrefix(raw, "tinyint(1)") {
		return "BOOLEAN"
	}
	switch key {
	case "bit":
		return "VARBIT"
	case "tinyint", "smallint", "year":
		return "SMALLINT"
	case "mediumint", "int":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "float":
		return "REAL"
	case "double":
		return "DOUBLE PRECISION"
	case "decimal", "numeric":
		return withNumericModifier("NUMERIC", raw)
	case "char":
		return sizedType("CHAR", length, "CHAR(1)")
	case "varchar":
		return sizedType("VARCHAR", length, "TEXT")
	case "tinytext", "text", "mediumtext", "longtext", "set":
		return "TEXT"
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return "BYTEA"
	case "json":
		return "JSONB"
	case "enum":
		return "VARCHAR"
	case "date":
		return "DATE"
	case "time":
		return "TIME WITHOUT TIME ZONE"
	case "datetime":
		return "TIMESTAMP WITHOUT TIME ZONE"
	case "timestamp":
		return "TIMESTAMP WITH TIME ZONE"
	}
	return ""
}

func postgresToMySQL(key, raw string, length *int) string {
	if strings.HasSuffix(key, "[]") || key == "array" {
		return "JSON"
	}
	switch key {
	case "bool":
		return "TINYINT(1)"
	case "smallint", "int2":
		return "SMALLINT"
	case "int", "serial":
		return "INT"
	case "bigint", "bigserial":
		return "BIGINT"
	case "real", "float4":
		return "FLOAT"
	case "double", "float8":
		return "DOUBLE"
	case "numeric", "decimal":
		return withNumericModifier("DECIMAL", raw)
	case "money":
		return "DECIMAL(19,2)"
	case "char", "bpchar":
		return sizedType("CHAR", length, "CHAR(1)")
	case "varchar":
		return sizedType("VARCHAR", length, "LONGTEXT")
	case "text":
		return "LONGTEXT"
	case "bytea":
		return "LONGBLOB"
	case "json", "jsonb":
		return "JSON"
	case "uuid":
		return "CHAR(36)"
	case "date":
		return "DATE"
	case "time", "timetz":
		return "TIME"
	case "timestamp":
		return "DATETIME"
	case "timestamptz":
		return "TIMESTAMP"
	case "interval":
		return "VARCHAR(100)"
	case "cidr", "inet":
		return "VARCHAR(43)"
	case "macaddr":
		return "VARCHAR(17)"
	}
	return ""
}

func sqliteToPostgres(key string) string {
	switch key {
	case "int", "bigint":
		return "BIGINT"
	case "real", "double", "float":
		return "DOUBLE PRECISION"
	case "text", "varchar", "char", "clob":
		return "TEXT"
	case "blob":
		return "BYTEA"
	case "numeric", "decimal":
		return "NUMERIC"
	case "datetime", "timestamp":
		return "TIMESTAMP WITHOUT TIME ZONE"
	case "date":
		return "DATE"
	case "bool":
		return "BOOLEAN"
	}
	return ""
}

func sqliteToMySQL(key string) string {
	switch key {
	case "int", "bigint":
		return "BIGINT"
	case "real", "double", "float":
		return "DOUBLE"
	case "text", "varchar", "char", "clob":
		return "LONGTEXT"
	case "blob":
		return "LONGBLOB"
	case "numeric", "decimal":
		return "DECIMAL(38,18)"
	case "datetime", "timestamp":
		return "DATETIME(6)"
	case "date":
		return "DATE"
	case "bool":
		return "TINYINT(1)"
	}
	return ""
}

// sizedType renders base(n) for a positive length, otherwise the unbounded form.
func sizedType(base string, length *int, unbounded string) string {
	if length != nil && *length > 0 {
		return fmt.Sprintf("%s(%d)", base, *length)
	}
	return unbounded
}

// withNumericModifier carries a (precision[,scale]) modifier over from the raw type.
func withNumericModifier(base, raw string) string {
	m := reTypeModifier.FindStringSubmatch(raw)
	if len(m) < 2 {
		return base
	}
	parts := strings.Split(m[1], ",")
	if len(parts) > 2 {
		return base
	}
	p, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || p <= 0 {
		return base
	}
	if len(parts) == 1 {
		return fmt.Sprintf("%s(%d)", base, p)
	}
	s, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || s < 0 || s > p {
		return base
	}
	return fmt.Sprintf("%s(%d,%d)", base, p, s)
}

func parseLengthModifier(raw string) *int {
	m := reTypeModifier.FindStringSubmatch(raw)
	if len(m) < 2 {
		return nil
	}
	if strings.EqualFold(m[1], "max") {
		n := -1
		return &n
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// normalizeTypeName lowercases a type name, strips MySQL display attributes
// and resolves the common multi-word aliases.
func normalizeTypeName(typeName string) string {
	name := strings.ToLower(strings.TrimSpace(typeName))
	name = strings.ReplaceAll(name, " unsigned", "")
	name = strings.ReplaceAll(name, " zerofill", "")
	name = strings.TrimSpace(reCollapseSpaces.ReplaceAllString(name, " "))
	if mapped, ok := typeNameAliases[name]; ok {
		name = mapped
	}
	return name
}
