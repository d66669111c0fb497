package state

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the resolved capability of a caller
type Role uint8

const (
	RoleSubscriber Role = iota
	RoleAdministrator
	RoleOracle
)

func (r Role) String() string {
	switch r {
	case RoleAdministrator:
		return "administrator"
	case RoleOracle:
		return "oracle"
	default:
		return "subscriber"
	}
}

// AccessController resolves caller identities to roles. The administrator is
// fixed at construction; the oracle is mutable by the administrator only.
// Until rotated, the administrator doubles as the oracle.
type AccessController struct {
	admin  uuid.UUID
	oracle uuid.UUID
}

func NewAccessController(admin uuid.UUID) (*AccessController, error) {
	if admin == uuid.Nil {
		return nil, fmt.Errorf("administrator: %w", ErrInvalidAddress)
	}
	return &AccessController{
		admin:  admin,
		oracle: admin,
	}, nil
}

// Resolve returns the caller's role. Oracle wins over administrator when the
// two coincide, so an admin-as-oracle deployment still passes oracle checks.
func (ac *AccessController) Resolve(caller uuid.UUID) Role {
	switch caller {
	case ac.oracle:
		return RoleOracle
	case ac.admin:
		return RoleAdministrator
	default:
		return RoleSubscriber
	}
}

// RequireAdmin rejects any caller other than the administrator
func (ac *AccessController) RequireAdmin(caller uuid.UUID) error {
	if caller != ac.admin {
		return fmt.Errorf("caller %s is not the administrator: %w", caller, ErrUnauthorized)
	}
	return nil
}

// RequireOracle rejects any caller other than the current oracle
func (ac *AccessController) RequireOracle(caller uuid.UUID) error {
	if caller != ac.oracle {
		return fmt.Errorf("caller %s is not the oracle: %w", caller, ErrUnauthorized)
	}
	return nil
}

// SetOracle rotates the oracle. Admin-only; the zero UUID is rejected.
func (ac *AccessController) SetOracle(caller, newOracle uuid.UUID) error {
	if err := ac.RequireAdmin(caller); err != nil {
		return err
	}
	if newOracle == uuid.Nil {
		return fmt.Errorf("oracle: %w", ErrInvalidAddress)
	}
	ac.oracle = newOracle
	return nil
}

// Admin returns the fixed administrator identity
func (ac *AccessController) Admin() uuid.UUID {
	return ac.admin
}

// Oracle returns the current oracle identity
func (ac *AccessController) Oracle() uuid.UUID {
	return ac.oracle
}

// RestoreOracle reinstates the oracle from a snapshot
func (ac *AccessController) RestoreOracle(oracle uuid.UUID) {
	ac.oracle = oracle
}
