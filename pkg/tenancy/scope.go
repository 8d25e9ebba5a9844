package tenancy

// Scoped is implemented by every entity type that belongs to exactly one
// project. Stores call Enforcer.Admit with the entity before any write.
// TenantID must return 0 on a nil receiver.
type Scoped interface {
	TenantID() int64
	EntityType() string
}

// Actor is the identity performing an operation, resolved once per request
// by the request layer and passed explicitly into every core operation.
type Actor struct {
	UserID      int64
	GlobalAdmin bool

	// Origin of the request, copied into audit entries.
	IPAddress string
	UserAgent string
}

// System returns the actor used for system-initiated changes such as
// scheduled jobs. Audit entries written by it have no acting user.
func System() Actor {
	return Actor{}
}

// IsSystem reports whether the actor is the system actor.
func (a Actor) IsSystem() bool {
	return a.UserID == 0
}

// ID returns the acting user id, or nil for the system actor.
func (a Actor) ID() *int64 {
	if a.IsSystem() {
		return nil
	}
	id := a.UserID
	return &id
}
