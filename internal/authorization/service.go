package authorization

import "context"

// Actor is the caller asking for a capability. System actors have no account.
type Actor struct {
	AccountID      string
	Role           string
	OrganizationID string
}

type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}
