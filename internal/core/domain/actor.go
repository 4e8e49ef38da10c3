package domain

import "github.com/google/uuid"

// ActorKind is what authenticated the call.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAdmin  ActorKind = "admin"
	ActorSystem ActorKind = "system"
)

// Actor is the caller of a ledger operation.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Kind   ActorKind `json:"kind"`
}

// SystemActor is used by the auto-release scheduler.
var SystemActor = Actor{Kind: ActorSystem}

// UserActor returns an ordinary marketplace user.
func UserActor(id uuid.UUID) Actor {
	return Actor{UserID: id, Kind: ActorUser}
}

// AdminActor returns an administrator.
func AdminActor(id uuid.UUID) Actor {
	return Actor{UserID: id, Kind: ActorAdmin}
}

// IsAdmin reports whether the actor holds administrative rights.
func (a Actor) IsAdmin() bool {
	return a.Kind == ActorAdmin
}

// ID returns the user id, or nil for the system actor.
func (a Actor) ID() *uuid.UUID {
	if a.Kind == ActorSystem || a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// Role is the part an actor plays on a specific escrow record.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
	RoleNone       Role = "none"
)
