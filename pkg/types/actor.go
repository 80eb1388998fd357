package types

import "github.com/google/uuid"

const (
	ActorRoleCustomer = "customer"
	ActorRoleSeller   = "seller"
	ActorRoleAdmin    = "admin"
	ActorRoleSystem   = "system"
)

// Actor identifies who triggered a lifecycle operation. It is passed
// explicitly to every mutation that needs attribution.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

// SystemActor attributes work done by schedulers and gateway callbacks.
func SystemActor() Actor {
	return Actor{Role: ActorRoleSystem}
}

func (a Actor) IsAdmin() bool {
	return a.Role == ActorRoleAdmin
}

func (a Actor) IsSystem() bool {
	return a.Role == ActorRoleSystem
}
