// Package sqlgen renders decoded replication tuples into SQL statements
// targeting the columnar shadow tables. Values arrive in the text output
// format of the upstream server, so rendering is a quoting decision driven
// by the column's type OID rather than a conversion.
package sqlgen

import (
	"strings"

	"github.com/colsync/colsync/pkg/wal"
	"github.com/jackc/pgx/v5/pgtype"
)

// ShadowSuffix is appended to a replicated relation's name to form the name
// of its columnar shadow table.
const ShadowSuffix = "_col"

// ShadowTable returns the shadow table name for a replicated relation.
func ShadowTable(name string) string {
	return name + ShadowSuffix
}

// needsQuotes reports whether values of the given type OID must be rendered
// as quoted string literals. Numeric types pass through unquoted; their text
// representation is already a valid SQL literal.
func needsQuotes(typeOID uint32) bool {
	switch typeOID {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return false
	}
	return true
}

// Literal renders a single tuple column as a SQL literal.
//
// Null columns become the unquoted token NULL. Unchanged TOAST columns also
// render as NULL: they cannot occur on an INSERT-only stream, and the caller
// is expected to log them. Embedded single quotes in quoted literals are
// doubled.
func Literal(typeOID uint32, col wal.TupleColumn) string {
	if col.IsNull() || col.IsToast() {
		return "NULL"
	}
	if !needsQuotes(typeOID) {
		return col.Value
	}
	return "'" + strings.ReplaceAll(col.Value, "'", "''") + "'"
}

// Insert builds the shadow-table INSERT statement for a decoded row. Column
// values are rendered positionally, in message column order.
func Insert(rel *wal.Relation, tuple []wal.TupleColumn) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(ShadowTable(rel.Name))
	sb.WriteString(" VALUES (")

	for i, col := range tuple {
		if i > 0 {
			sb.WriteString(", ")
		}
		var typeOID uint32
		if i < len(rel.Columns) {
			typeOID = rel.Columns[i].TypeOID
		}
		sb.WriteString(Literal(typeOID, col))
	}

	sb.WriteString(");")
	return sb.String()
}
