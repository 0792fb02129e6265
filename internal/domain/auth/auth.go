// Package auth carries the authenticated caller through request handling.
// Tokens are issued elsewhere; this package only describes who is acting.
package auth

import "context"

// Role is the permission level of an actor.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor is the caller on whose behalf an operation runs. A zero UserID is a
// guest.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor has administrative rights.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// IsGuest reports whether the actor is unauthenticated.
func (a Actor) IsGuest() bool { return a.UserID == "" }

type actorKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored in ctx, or a guest.
func FromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
