package domain

import "errors"

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNotAllowed     = errors.New("only SELECT queries are allowed")
	ErrMultiStatement = errors.New("multiple statements are not allowed")
	ErrParseFailed    = errors.New("failed to parse SQL")

	ErrViewNotFound = errors.New("materialized view not found")
	ErrViewExists   = errors.New("materialized view already registered")
	ErrInvalidCron  = errors.New("invalid cron expression")

	ErrSerialization = errors.New("value cannot be serialized")
	ErrClosed        = errors.New("manager is closed")
)
