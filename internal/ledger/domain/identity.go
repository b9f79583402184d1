package domain

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleIndividual         Role = "individual"
	RoleOrganizationAdmin  Role = "organization_admin"
	RoleOrganizationMember Role = "organization_member"
)

// ParseRole normalizes a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleIndividual:
		return RoleIndividual, nil
	case RoleOrganizationAdmin:
		return RoleOrganizationAdmin, nil
	case RoleOrganizationMember:
		return RoleOrganizationMember, nil
	default:
		return "", ErrInvalidRole
	}
}

// Identity is an already authenticated caller.
type Identity struct {
	AccountID      snowflake.ID `json:"account_id"`
	Role           Role         `json:"role"`
	OrganizationID snowflake.ID `json:"organization_id,omitempty"`
}

func (i Identity) Validate() error {
	if i.AccountID == 0 {
		return ErrInvalidAccount
	}
	switch i.Role {
	case RoleIndividual:
		return nil
	case RoleOrganizationAdmin, RoleOrganizationMember:
		if i.OrganizationID == 0 {
			return ErrInvalidOrganization
		}
		return nil
	default:
		return ErrInvalidRole
	}
}

// WalletKind derives which wallet the identity spends from.
func (i Identity) WalletKind() WalletKind {
	if i.Role == RoleOrganizationMember {
		return WalletKindAllocation
	}
	return WalletKindAccount
}

// OwnerID is the account whose balance record backs the wallet. Members
// have none.
func (i Identity) OwnerID() snowflake.ID {
	switch i.Role {
	case RoleOrganizationAdmin:
		return i.OrganizationID
	case RoleOrganizationMember:
		return 0
	default:
		return i.AccountID
	}
}
