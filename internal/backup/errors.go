package backup

import (
	"errors"
	"fmt"
)

// Common store errors
var (
	ErrNotConnected = errors.New("backup store not connected")
	ErrNotFound     = errors.New("no backups for path")
	ErrStoreClosed  = errors.New("backup store is closed")
)

// StoreError represents a backup store operation error
type StoreError struct {
	Message string
	Code    string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ConnectionError represents a connection failure
type ConnectionError struct {
	StoreError
}

// NewConnectionError creates a new connection error
func NewConnectionError(message string, cause error) *ConnectionError {
	return &ConnectionError{
		StoreError: StoreError{
			Message: message,
			Code:    "CONNECTION_ERROR",
			Cause:   cause,
		},
	}
}

// QueryError represents a backend query failure
type QueryError struct {
	StoreError
}

// NewQueryError creates a new query error
func NewQueryError(message string, cause error) *QueryError {
	return &QueryError{
		StoreError: StoreError{
			Message: message,
			Code:    "QUERY_ERROR",
			Cause:   cause,
		},
	}
}
