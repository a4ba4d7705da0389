package identity

import (
	"errors"

	"github.com/google/uuid"
)

// Role classifies what a user is allowed to do on the platform.
type Role string

const (
	RoleFarmer     Role = "farmer"
	RoleConsultant Role = "consultant"
	RoleAdmin      Role = "admin"
)

var (
	ErrUnknownUser      = errors.New("unknown user")
	ErrInvalidRole      = errors.New("invalid role")
	ErrPermissionDenied = errors.New("permission denied")
)

// ParseRole validates a role string coming off the wire.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleFarmer, RoleConsultant, RoleAdmin:
		return Role(s), nil
	}
	return "", ErrInvalidRole
}

// User is the identity the external auth system hands us.
type User struct {
	UserID uuid.UUID `json:"userId"`
	Name   string    `json:"name"`
	Role   Role      `json:"role"`
}

// Actor is the identity performing an operation. Permission checks live
// here so they are not re-implemented per handler.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanRequest reports whether the actor may create a consultation request.
func (a Actor) CanRequest() bool {
	return a.Role == RoleFarmer || a.Role == RoleConsultant
}

// CanClaim reports whether the actor may claim a pending request.
func (a Actor) CanClaim() bool {
	return a.Role == RoleConsultant
}

// CanCancel reports whether the actor may cancel a consultation owned by
// farmerID and assigned to expertID (nil while unassigned).
func (a Actor) CanCancel(farmerID uuid.UUID, expertID *uuid.UUID) bool {
	if a.IsAdmin() {
		return true
	}
	if a.Role == RoleFarmer && a.UserID == farmerID {
		return true
	}
	return a.Role == RoleConsultant && expertID != nil && *expertID == a.UserID
}

// CanStart reports whether the actor may start the live session. Either
// party of an assigned consultation may start it.
func (a Actor) CanStart(farmerID uuid.UUID, expertID *uuid.UUID) bool {
	if a.IsAdmin() {
		return true
	}
	if a.Role == RoleFarmer && a.UserID == farmerID {
		return true
	}
	return a.Role == RoleConsultant && expertID != nil && *expertID == a.UserID
}

// CanComplete reports whether the actor may complete the consultation.
// Only the assigned expert (or an admin) closes out a session.
func (a Actor) CanComplete(expertID *uuid.UUID) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleConsultant && expertID != nil && *expertID == a.UserID
}

// CanEditTopic reports whether the actor may edit the topic. The topic is
// owned by the requesting farmer and frozen once an expert is assigned.
func (a Actor) CanEditTopic(farmerID uuid.UUID, assigned bool) bool {
	return !assigned && (a.IsAdmin() || (a.Role == RoleFarmer && a.UserID == farmerID))
}

// CanEditNotes reports whether the actor may maintain the expert notes.
func (a Actor) CanEditNotes(expertID *uuid.UUID) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleConsultant && expertID != nil && *expertID == a.UserID
}
