package authorization

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Role is the closed set of actor roles.
type Role string

const (
	RoleCitizen   Role = "CITIZEN"
	RoleAgent     Role = "AGENT"
	RoleAdmin     Role = "ADMIN"
	RoleAnalytics Role = "ANALYTICS"
	RoleOperator  Role = "OPERATOR"
)

// ParseRole accepts any casing of a known role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RoleCitizen, RoleAgent, RoleAdmin, RoleAnalytics, RoleOperator:
		return role, true
	default:
		return "", false
	}
}

// Subject is the casbin subject for the role, e.g. "role:admin".
func (r Role) Subject() string {
	return "role:" + strings.ToLower(string(r))
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID snowflake.ID
	Role   Role
}

// System is the actor used by startup provisioning.
var System = Actor{Role: RoleOperator}

type Service interface {
	// Authorize fails with ErrForbidden unless the actor's role grants action on object.
	Authorize(ctx context.Context, actor Actor, object, action string) error
	// AuthorizeOwner passes when the actor owns the resource or may bypass ownership.
	AuthorizeOwner(ctx context.Context, actor Actor, ownerID snowflake.ID) error
	// Can reports a grant without auditing a denial.
	Can(actor Actor, object, action string) bool
}

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidActor = errors.New("invalid_actor")
	ErrInvalidInput = errors.New("invalid_authorization_input")
)
