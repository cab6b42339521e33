// Package ddl classifies DDL statements replicated through the ddl_queue
// side-channel. Classification is purely informational: the applier executes
// side-channel statements verbatim whether or not they parse.
package ddl

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// Classify parses a statement and returns a coarse tag for logging, such as
// "CREATE TABLE" or "ALTER TABLE". Statements that fail to parse or contain
// more than one statement return an error alongside the "UNKNOWN" tag.
func Classify(sql string) (string, error) {
	if strings.TrimSpace(sql) == "" {
		return "UNKNOWN", fmt.Errorf("empty statement")
	}

	result, err := pg_query.Parse(sql)
	if err != nil {
		return "UNKNOWN", fmt.Errorf("parse error: %w", err)
	}
	if len(result.Stmts) != 1 {
		return "UNKNOWN", fmt.Errorf("expected a single statement, got %d", len(result.Stmts))
	}

	stmt := result.Stmts[0].Stmt
	switch stmt.Node.(type) {
	case *pg_query.Node_CreateStmt:
		return "CREATE TABLE", nil
	case *pg_query.Node_AlterTableStmt:
		return "ALTER TABLE", nil
	case *pg_query.Node_IndexStmt:
		return "CREATE INDEX", nil
	case *pg_query.Node_DropStmt:
		return "DROP", nil
	case *pg_query.Node_TruncateStmt:
		return "TRUNCATE", nil
	case *pg_query.Node_CreateSchemaStmt:
		return "CREATE SCHEMA", nil
	case *pg_query.Node_RenameStmt:
		return "RENAME", nil
	case *pg_query.Node_ViewStmt:
		return "CREATE VIEW", nil
	default:
		return "OTHER", nil
	}
}
