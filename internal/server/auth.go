package server

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Auth guards the API with a single shared key carried in X-API-Key.
// Only a bcrypt hash of the key is kept in config; an empty hash
// leaves the API open.
type Auth struct {
	apiKeyHash string
}

func NewAuth(cfg ServerConfig) *Auth {
	return &Auth{apiKeyHash: strings.TrimSpace(cfg.Security.APIKeyHash)}
}

func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authenticate(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) Authenticate(r *http.Request) bool {
	if a.apiKeyHash == "" {
		return true
	}
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			key = strings.TrimSpace(authHeader[7:])
		}
	}
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.apiKeyHash), []byte(key)) == nil
}

// HashAPIKey produces the bcrypt hash stored in security.api_key_hash.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
