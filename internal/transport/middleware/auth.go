package middleware

import (
	"context"
	"crypto/rsa"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/transport"
	"github.com/frahmantamala/charge-orchestrator/pkg/logger"
)

type claimsKey struct{}

// ServiceClaims are carried by the tokens internal collectors present.
type ServiceClaims struct {
	Service string   `json:"svc"`
	Scopes  []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Caller is the service name, falling back to the subject.
func (c *ServiceClaims) Caller() string {
	if c.Service != "" {
		return c.Service
	}
	return c.Subject
}

func ClaimsFromContext(ctx context.Context) (*ServiceClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*ServiceClaims)
	return claims, ok && claims != nil
}

// ServiceAuth verifies RS256 service tokens against the configured public key.
type ServiceAuth struct {
	transport.BaseHandler
	publicKey *rsa.PublicKey
	issuer    string
	required  bool
}

func NewServiceAuth(cfg errors.SecurityConfig, lg *slog.Logger) (*ServiceAuth, error) {
	a := &ServiceAuth{
		BaseHandler: *transport.NewBaseHandler(lg),
		issuer:      cfg.ServiceTokenIssuer,
		required:    cfg.RequireServiceToken,
	}
	if !cfg.RequireServiceToken {
		return a, nil
	}

	key, err := cfg.GetPublicKey()
	if err != nil {
		return nil, err
	}
	a.publicKey = key
	return a, nil
}

// NewServiceAuthWithKey is used when the key is already parsed.
func NewServiceAuthWithKey(key *rsa.PublicKey, issuer string, lg *slog.Logger) *ServiceAuth {
	return &ServiceAuth{
		BaseHandler: *transport.NewBaseHandler(lg),
		publicKey:   key,
		issuer:      issuer,
		required:    true,
	}
}

func (a *ServiceAuth) Validate(tokenString string) (*ServiceClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &ServiceClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Caller() == "" {
		return nil, stderrors.New("token names no service")
	}
	return claims, nil
}

// Middleware rejects requests without a valid service token. When tokens are not required every
// request passes and no caller is recorded.
func (a *ServiceAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.required {
			next.ServeHTTP(w, r)
			return
		}

		token := a.ExtractTokenFromHeader(r)
		if token == "" {
			a.Logger.Warn("service auth: missing bearer token", "path", r.URL.Path)
			a.HandleError(w, errors.ErrInvalidToken)
			return
		}

		claims, err := a.Validate(token)
		if err != nil {
			a.Logger.Warn("service auth: token rejected", "path", r.URL.Path, "error", err)
			a.HandleError(w, errors.ErrInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = errors.ContextWithCaller(ctx, claims.Caller())
		ctx = logger.With(ctx, "caller", claims.Caller())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
