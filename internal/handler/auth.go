package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/learnlive/learnlive/internal/model"
)

const sessionCookieName = "session"

// Sessions resolves session tokens issued by the identity provider.
type Sessions interface {
	GetAuthSession(token string) (*model.AuthSession, error)
	GetUserByID(id string) (*model.User, error)
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// identify is middleware that requires a valid session token and puts the
// signed-in identity in the request context.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" || h.sessions == nil {
			writeError(w, http.StatusUnauthorized, "Sign in required")
			return
		}

		authSess, err := h.sessions.GetAuthSession(token)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		if authSess == nil {
			writeError(w, http.StatusUnauthorized, "Sign in required")
			return
		}

		user, err := h.sessions.GetUserByID(authSess.UserID)
		if err != nil || user == nil {
			writeError(w, http.StatusUnauthorized, "Sign in required")
			return
		}

		ctx := model.ContextWithIdentity(r.Context(), model.Identity{ID: user.ID, Email: user.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
