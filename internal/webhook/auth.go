package webhook

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ValidateToken reports whether provided matches configured.
// An empty configured token never validates.
func ValidateToken(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	if len(provided) != len(configured) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// ExtractToken extracts a token from an Authorization: Bearer <token> header.
func ExtractToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", errors.New("missing API token")
	}
	return token, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !ValidateToken(token, s.apiToken) {
			s.logger.Warn("API token rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			s.writeError(w, http.StatusUnauthorized, "invalid API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
