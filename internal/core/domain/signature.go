package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// QueryID derives a deterministic identifier from a SQL statement and its
// bound parameters. Identical SQL with identical parameter values always
// yields the same id, so metrics and analyses for repeated executions
// collapse onto one entry.
func QueryID(sql string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(sql)))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, params[k])
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// StructuralFingerprint returns a parameter-stripped signature of the query
// shape using the PostgreSQL parser. Queries that differ only in constants or
// bound values share a fingerprint.
func StructuralFingerprint(sql string) (string, error) {
	fp, err := pg_query.Fingerprint(sql)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return fp, nil
}

// TruncateSQL shortens a statement for logs and metrics, keeping the head
// where the query shape lives.
func TruncateSQL(sql string, max int) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
