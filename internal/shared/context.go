package shared

import "context"

// Actor identifies the user performing an operation, together with the
// purchasing permissions attached to their role.
type Actor struct {
	ID            int64
	Name          string
	Role          string
	ApprovalLimit float64
}

// CanApprove reports whether the actor role may approve purchase orders.
func (a Actor) CanApprove() bool {
	switch a.Role {
	case "admin", "manager":
		return true
	}
	return false
}

// CanReceive reports whether the actor role may record goods receipts.
func (a Actor) CanReceive() bool {
	switch a.Role {
	case "admin", "manager", "cashier", "warehouse":
		return true
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
