package utils

import (
	"fmt"
	"strings"
)

// QuoteIdentifier quotes an identifier for the given SQL dialect, escaping
// embedded quote characters.
func QuoteIdentifier(name, dialect string) string {
	switch strings.ToLower(dialect) {
	case "mysql":
		return fmt.Sprintf("`%s`", strings.ReplaceAll(name, "`", "``"))
	case "sqlserver":
		return fmt.Sprintf("[%s]", strings.ReplaceAll(name, "]", "]]"))
	default:
		// postgres, sqlite and anything ANSI-ish
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	}
}

// QuoteIdentifiers quotes every name in names.
func QuoteIdentifiers(names []string, dialect string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = QuoteIdentifier(n, dialect)
	}
	return out
}

// UnquoteIdentifier removes dialect-specific quotes from an identifier and
// unescapes quote characters within the name. Unquoted input is returned as is.
func UnquoteIdentifier(quotedName, dialect string) string {
	name := strings.TrimSpace(quotedName)
	if len(name) < 2 {
		return name
	}

	first, last := name[0], name[len(name)-1]
	var escapeSequence, originalChar string

	switch strings.ToLower(dialect) {
	case "mysql":
		if first == '`' && last == '`' {
			escapeSequence, originalChar = "``", "`"
		}
	case "sqlserver":
		if first == '[' && last == ']' {
			escapeSequence, originalChar = "]]", "]"
		}
	default:
		if first == '"' && last == '"' {
			escapeSequence, originalChar = "\"\"", "\""
		}
	}

	if escapeSequence == "" {
		return name
	}
	return strings.ReplaceAll(name[1:len(name)-1], escapeSequence, originalChar)
}
