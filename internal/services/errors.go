package services

import (
	"errors"
	"fmt"

	"github.com/smarttransit/busticket-backend/internal/database"
)

// ValidationError is a request that can never succeed as sent
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError is a request that lost a race for a seat or a trip version.
// The caller should refresh and retry.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NotFoundError is a reference to a trip, booking or seat that does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// PermissionError is raised when the session lacks a permission
type PermissionError struct {
	Permission string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// storeError translates repository sentinels into service errors
func storeError(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return &NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, database.ErrVersionConflict) && resource == "booking":
		return &ConflictError{Message: "booking changed since it was loaded, refresh and try again"}
	case errors.Is(err, database.ErrVersionConflict):
		return &ConflictError{Message: "seat map changed since it was loaded, refresh and try again"}
	default:
		return err
	}
}
