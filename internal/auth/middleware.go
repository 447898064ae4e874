package auth

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// SignInPath is where unauthenticated page navigation is sent.
const SignInPath = "/auth/signin"

// Middleware attaches the verified user to the request context. Requests
// without a valid token pass through anonymously.
func (a *Authenticator) Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := a.Verify(token)
			if err != nil {
				logger.Debug("rejected session token", zap.String("path", r.URL.Path), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireUser answers 401 with the error envelope when no user is attached.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized", "a valid session is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectToSignIn sends anonymous page navigation to the sign-in route.
func RedirectToSignIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil && r.URL.Path != SignInPath {
			http.Redirect(w, r, SignInPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
