package mssql

import (
	"regexp"
	"testing"
)

// reservedWord matches IDENTITY or SCHEMA used as a bare identifier, outside
// brackets and not as part of a longer name like schema_versions.
var reservedWord = regexp.MustCompile(`(?i)(^|[^\[@_a-zA-Z0-9])(identity|schema)($|[^\]_a-zA-Z0-9])`)

// TestStatementsBracketReservedColumns verifies that every statement quotes
// the identity and schema columns, which are reserved words in T-SQL.
func TestStatementsBracketReservedColumns(t *testing.T) {
	t.Parallel()

	stmts := map[string]string{
		"createDocuments": createDocumentsStmt,
		"createVersions":  createVersionsStmt,
		"lookup":          lookupStmt,
		"insert":          insertStmt,
		"replace":         replaceStmt,
		"allocateVersion": allocateVersionStmt,
		"insertVersion":   insertVersionStmt,
	}
	for name, q := range stmts {
		if m := reservedWord.FindString(q); m != "" {
			t.Errorf("%s: unbracketed reserved word %q", name, m)
		}
	}
}
