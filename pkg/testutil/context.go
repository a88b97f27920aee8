package testutil

import (
	"net/http"
	"time"

	id "familyledger/pkg/domain"
	"familyledger/pkg/requestcontext"
)

// WithTenant adds a tenant (and, when non-empty, a user) to the request
// context. This simulates what the identity middleware does for handlers
// invoked directly.
func WithTenant(req *http.Request, tenantID id.TenantID, userID id.UserID) *http.Request {
	ctx := requestcontext.WithTenantID(req.Context(), tenantID)
	if !userID.IsNil() {
		ctx = requestcontext.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
