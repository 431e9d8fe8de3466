package tooling

import "context"

// Context key type (unexported to prevent collisions).
type ownerIDKey struct{}

var ctxKeyOwnerID = ownerIDKey{}

// WithOwner returns a context carrying the authenticated owner identity.
// The agent stamps it onto the request context before handing control to
// the model runtime, so handlers invoked outside the Dispatcher still run
// owner-scoped.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKeyOwnerID, ownerID)
}

// OwnerFromContext retrieves the owner identity stored by WithOwner.
// Returns empty string and false if not present.
func OwnerFromContext(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ctxKeyOwnerID).(string)
	return ownerID, ok
}
