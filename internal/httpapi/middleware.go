package httpapi

import (
	"context"
	"net/http"
	"strings"

	"example.com/wepoker/internal/auth"
)

type ctxKey string

const tableIDKey ctxKey = "tableID"

type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// JoinTokenMiddleware admits requests carrying a valid join token.
func JoinTokenMiddleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			claims, err := v.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), tableIDKey, claims.TableID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TableIDFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(tableIDKey)
	s, ok := v.(string)
	return s, ok
}
