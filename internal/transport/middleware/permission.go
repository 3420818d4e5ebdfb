package middleware

import (
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/transport"
)

const (
	ScopeCollectionsWrite = "collections:write"
	ScopeChargesRead      = "charges:read"
	ScopeAuditRead        = "audit:read"
)

// RequireScopes lets a request through when its service token carries any of scopes. Requests
// without claims pass, so routes stay open when service tokens are disabled.
func RequireScopes(lg *slog.Logger, scopes ...string) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(lg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !hasAnyScope(claims.Scopes, scopes) {
				base.Logger.Warn("access denied: token lacks required scope",
					"caller", claims.Caller(),
					"required_scopes", scopes,
					"token_scopes", claims.Scopes)
				base.HandleError(w, errors.NewForbiddenError("service token lacks required scope", errors.ErrCodeInsufficientScope))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyScope(have, want []string) bool {
	for _, required := range want {
		for _, scope := range have {
			if scope == required {
				return true
			}
		}
	}
	return false
}
