package sync

import (
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

type valueFamily int

const (
	familyOther valueFamily = iota
	familyBool
	familyDecimal
	familyUUID
	familyBinary
)

type normalizedColumn struct {
	source string
	target string
	family valueFamily
}

// rowNormalizer converts driver values of a source row into values the target
// accepts, keyed by target column name.
type rowNormalizer struct {
	srcDialect string
	columns    []normalizedColumn
}

func newRowNormalizer(srcDialect string, cols []targetColumn) *rowNormalizer {
	n := &rowNormalizer{srcDialect: srcDialect, columns: make([]normalizedColumn, 0, len(cols))}
	for _, c := range cols {
		n.columns = append(n.columns, normalizedColumn{
			source: c.Source.Name,
			target: c.Name,
			family: classifyColumn(c),
		})
	}
	return n
}

func classifyColumn(c targetColumn) valueFamily {
	srcKey := normalizeTypeName(reTypeModifier.ReplaceAllString(strings.ToLower(c.Source.SourceType), ""))
	target := strings.ToUpper(c.TargetType)
	switch {
	case srcKey == "uniqueidentifier" || target == "UUID":
		return familyUUID
	case strings.HasPrefix(target, "BOOL"):
		return familyBool
	case strings.HasPrefix(target, "NUMERIC") || strings.HasPrefix(target, "DECIMAL"):
		return familyDecimal
	case strings.Contains(target, "BYTEA") || strings.Contains(target, "BLOB") ||
		strings.Contains(target, "BINARY") || strings.Contains(target, "IMAGE") || target == "VARBIT":
		return familyBinary
	}
	return familyOther
}

func (n *rowNormalizer) normalizeBatch(rows []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		out[i] = n.normalizeRow(row)
	}
	return out
}

func (n *rowNormalizer) normalizeRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(n.columns))
	for _, c := range n.columns {
		val, ok := row[c.source]
		if !ok {
			continue
		}
		out[c.target] = n.normalizeValue(c.family, val)
	}
	return out
}

func (n *rowNormalizer) normalizeValue(family valueFamily, val interface{}) interface{} {
	if val == nil {
		return nil
	}
	switch family {
	case familyBinary:
		return val
	case familyUUID:
		if b, ok := val.([]byte); ok && len(b) == 16 {
			if id, err := decodeUUIDBytes(b, n.srcDialect == "sqlserver"); err == nil {
				return id.String()
			}
		}
	case familyDecimal:
		if s, ok := decimalText(val); ok {
			return s
		}
	case familyBool:
		return toBool(val)
	}
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

// decodeUUIDBytes handles SQL Server's uniqueidentifier layout, which stores
// the first three groups little-endian.
func decodeUUIDBytes(b []byte, mixedEndian bool) (uuid.UUID, error) {
	if !mixedEndian {
		return uuid.FromBytes(b)
	}
	swapped := []byte{
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15],
	}
	return uuid.FromBytes(swapped)
}

// decimalText canonicalizes textual decimals (drivers hand DECIMAL/MONEY back as
// bytes or strings) without going through float64.
func decimalText(val interface{}) (string, bool) {
	var s string
	switch v := val.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return "", false
	}
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return d.Text('f'), true
}

func toBool(val interface{}) interface{} {
	switch v := val.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int8:
		return v != 0
	case int16:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case uint8:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	case []byte:
		if len(v) == 1 && (v[0] == 0 || v[0] == 1) {
			return v[0] == 1
		}
		return string(v) == "1" || strings.EqualFold(string(v), "true")
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	default:
		return val
	}
}
