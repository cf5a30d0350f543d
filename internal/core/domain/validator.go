package domain

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// PgQueryValidator validates SQL statements using PostgreSQL's actual parser.
// Report queries are read-only by contract, so only SELECT (and EXPLAIN, for
// the analyzer's plan requests) are permitted.
type PgQueryValidator struct{}

func NewPgQueryValidator() *PgQueryValidator {
	return &PgQueryValidator{}
}

// Validate parses the SQL and rejects anything that isn't a single SELECT or
// EXPLAIN statement.
func (v *PgQueryValidator) Validate(sql string) error {
	stmt, err := singleStatement(sql)
	if err != nil {
		return err
	}
	switch stmt.Node.(type) {
	case *pg_query.Node_SelectStmt, *pg_query.Node_ExplainStmt:
		return nil
	default:
		return ErrNotAllowed
	}
}

// ValidateViewSource accepts only a single plain SELECT, the shape a
// materialized view definition must have.
func (v *PgQueryValidator) ValidateViewSource(sql string) error {
	stmt, err := singleStatement(sql)
	if err != nil {
		return err
	}
	if _, ok := stmt.Node.(*pg_query.Node_SelectStmt); !ok {
		return ErrNotAllowed
	}
	return nil
}

func singleStatement(sql string) (*pg_query.Node, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, ErrEmptyQuery
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	switch {
	case len(tree.Stmts) == 0:
		return nil, ErrEmptyQuery
	case len(tree.Stmts) > 1:
		return nil, ErrMultiStatement
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return nil, ErrEmptyQuery
	}
	return stmt, nil
}
