package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is the privilege level granted by the identity layer.
type Role string

// Roles understood by the access-scoping rules.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the caller as supplied by the session layer.
type Identity struct {
	UserID int64
	Role   Role
}

// SystemIdentity is used by background reconciliation, which may touch any job.
func SystemIdentity() Identity {
	return Identity{Role: RoleAdmin}
}

// ParseIdentity builds an Identity from raw user id and role values.
// An empty role defaults to RoleUser.
func ParseIdentity(rawID, rawRole string) (Identity, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("invalid user id %q", rawID)
	}
	role := Role(strings.ToLower(strings.TrimSpace(rawRole)))
	switch role {
	case "":
		role = RoleUser
	case RoleUser, RoleAdmin:
	default:
		return Identity{}, fmt.Errorf("invalid role %q", rawRole)
	}
	return Identity{UserID: id, Role: role}, nil
}

// Scope returns the set of jobs this identity may see.
func (i Identity) Scope() Scope {
	if i.Role == RoleAdmin {
		return Scope{All: true}
	}
	return Scope{OwnerID: i.UserID}
}

// Scope restricts store lookups to one owner unless All is set.
type Scope struct {
	OwnerID int64
	All     bool
}

// Allows reports whether a job owned by ownerID is visible in this scope.
func (s Scope) Allows(ownerID int64) bool {
	return s.All || s.OwnerID == ownerID
}
