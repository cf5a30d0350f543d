package postgres

import "strings"

// Catalog queries used for materialized-view statistics.
const (
	queryViewRowCount = `SELECT count(*) FROM %s`

	queryViewSize = `SELECT pg_total_relation_size($1::regclass)`

	queryViewIndexCount = `
SELECT count(*)
FROM pg_indexes
WHERE schemaname = current_schema() AND tablename = $1`
)

// quoteIdent double-quotes a SQL identifier, escaping embedded quotes.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
