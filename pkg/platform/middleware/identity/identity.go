// Package identity reads the caller identity supplied by the session layer.
// This service performs no authentication: the tenant and the acting user
// arrive as headers and are only validated for shape.
package identity

import (
	"net/http"

	id "familyledger/pkg/domain"
	"familyledger/pkg/platform/httputil"
	"familyledger/pkg/requestcontext"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// RequireTenant rejects requests without a valid X-Tenant-ID and stores the
// tenant (and optional X-User-ID) in the request context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := id.ParseTenantID(r.Header.Get(HeaderTenantID))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		userID, err := id.ParseUserID(r.Header.Get(HeaderUserID))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		ctx := requestcontext.WithTenantID(r.Context(), tenantID)
		if !userID.IsNil() {
			ctx = requestcontext.WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
