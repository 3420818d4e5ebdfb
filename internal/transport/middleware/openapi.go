package middleware

import (
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/transport"
)

// OpenAPIValidator rejects requests that do not match the document's parameters or request bodies.
// Paths the document does not describe are passed through untouched. Authentication is left to
// ServiceAuth.
func OpenAPIValidator(doc *openapi3.T, lg *slog.Logger) (func(http.Handler) http.Handler, error) {
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, err
	}
	base := transport.NewBaseHandler(lg)

	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				base.Logger.Info("request rejected by openapi validation", "path", r.URL.Path, "error", err)
				base.HandleError(w, errors.NewValidationError(validationMessage(err), errors.ErrCodeValidationFailed))
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func validationMessage(err error) string {
	switch e := err.(type) {
	case *openapi3filter.RequestError:
		if e.Parameter != nil {
			return "invalid parameter " + e.Parameter.Name + ": " + e.Reason
		}
		if e.Reason != "" {
			return "invalid request body: " + e.Reason
		}
		return "invalid request body"
	case *openapi3filter.SecurityRequirementsError:
		return "security requirements not met"
	default:
		return "request does not match the api contract"
	}
}
