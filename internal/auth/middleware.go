package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/quill/pkg/models"
)

// Middleware resolves the principal of each request and stores it with
// WithUser. Requests without a valid credential pass through anonymous;
// handlers that need a principal reject them. With auth disabled every
// request runs as the configured anonymous user, if any.
func Middleware(service *Service, anonymous string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				if anonymous != "" {
					r = r.WithContext(WithUser(r.Context(), &models.User{ID: anonymous, Name: "Local User"}))
				}
				next.ServeHTTP(w, r)
				return
			}
			credential := service.credential(r)
			if credential == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := service.Authenticate(r.Context(), credential)
			if err != nil {
				logger.Warn("credential rejected", "error", err, "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func (s *Service) credential(r *http.Request) string {
	if token := extractBearer(r.Header.Get("Authorization")); token != "" {
		return token
	}
	for _, key := range []string{"X-API-Key", "Api-Key"} {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return v
		}
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func extractBearer(value string) string {
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}
