package middleware

import (
	"crypto/subtle"
	"net/http"

	"paygate-be/internal/auth"
	"paygate-be/internal/logger"
	"paygate-be/internal/utils"

	"go.uber.org/zap"
)

// ServiceAuthHeader carries the shared key of trusted internal callers.
const ServiceAuthHeader = "X-Service-Auth"

// Auth attaches the signed-in customer to the context. Requests without a
// token pass through anonymously; a bad token is rejected.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := auth.ExtractAccessToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseToken(tokenStr, secret)
			if err != nil {
				logger.FromCtx(r.Context()).Info("rejected access token",
					zap.String("layer", "middleware"),
					zap.String("path", r.URL.Path),
				)
				utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := utils.SetUserContext(r.Context(), claims.UserID, claims.Email, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := utils.GetUserIDFromContext(r.Context()); !ok {
			utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InternalOnly admits only callers presenting the internal service key. An
// empty key closes the route.
func InternalOnly(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceAuthHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logger.FromCtx(r.Context()).Warn("internal route denied",
					zap.String("layer", "middleware"),
					zap.String("path", r.URL.Path),
				)
				utils.WriteJSONError(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(utils.WithInternalRequest(r.Context())))
		})
	}
}
