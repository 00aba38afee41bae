package services

import (
	"context"

	"github.com/smarttransit/busticket-backend/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/smarttransit/busticket-backend/internal/services")

// AuthSession is the caller of a service operation
type AuthSession interface {
	UserID() string
	Username() string
	HasPermission(permission models.Permission) bool
}

// StaticSession is an AuthSession with a fixed permission list
type StaticSession struct {
	ID          string
	Name        string
	Permissions []string
}

func (s StaticSession) UserID() string { return s.ID }

func (s StaticSession) Username() string { return s.Name }

func (s StaticSession) HasPermission(permission models.Permission) bool {
	return containsString(s.Permissions, string(permission))
}

// SystemSession is used by scheduled jobs and the maintenance CLI
var SystemSession AuthSession = systemSession{}

type systemSession struct{}

func (systemSession) UserID() string { return "system" }

func (systemSession) Username() string { return "system" }

func (systemSession) HasPermission(models.Permission) bool { return true }

type sessionKey struct{}

// WithSession attaches the caller to ctx
func WithSession(ctx context.Context, session AuthSession) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFrom returns the caller attached to ctx, or the system session
func SessionFrom(ctx context.Context) AuthSession {
	if session, ok := ctx.Value(sessionKey{}).(AuthSession); ok && session != nil {
		return session
	}
	return SystemSession
}

func requirePermission(ctx context.Context, permission models.Permission) error {
	if !SessionFrom(ctx).HasPermission(permission) {
		return &PermissionError{Permission: string(permission)}
	}
	return nil
}
