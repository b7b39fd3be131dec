package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

// APIKey is a provisioned credential. Only the SHA-256 of the raw key is
// kept; the raw key exists in configuration and in the client's hands.
type APIKey struct {
	Name    string
	KeyHash string
	Role    string
}

// APIKeyStore holds provisioned keys, hashed, keyed by hash for constant-time
// independent lookup.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]*APIKey)}
}

// Add provisions a raw key with a name and role.
func (s *APIKeyStore) Add(name, rawKey, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := HashKey(rawKey)
	s.keys[hash] = &APIKey{Name: name, KeyHash: hash, Role: role}
}

// Lookup resolves a raw key to its provisioned credential.
func (s *APIKeyStore) Lookup(rawKey string) (*APIKey, bool) {
	hash := HashKey(rawKey)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for stored, key := range s.keys {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(hash)) == 1 {
			return key, true
		}
	}
	return nil, false
}

// Len reports the number of provisioned keys.
func (s *APIKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// HashKey returns the hex SHA-256 of a raw API key.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// APIKeyMiddleware authenticates requests by the X-API-Key header against the
// store and records the principal and role in the request context. Requests
// without the header fall through to the next authenticator in the chain.
func APIKeyMiddleware(store *APIKeyStore, attempts *AttemptTracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawKey := c.Request().Header.Get("X-API-Key")
			if rawKey == "" {
				return next(c)
			}

			source := c.RealIP()
			if attempts != nil && attempts.Blocked(source) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed authentication attempts")
			}

			key, ok := store.Lookup(rawKey)
			if !ok {
				if attempts != nil {
					attempts.RecordFailure(source)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			if attempts != nil {
				attempts.RecordSuccess(source)
			}

			ctx := WithPrincipal(c.Request().Context(), "apikey:"+key.Name, []string{key.Role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireAuth rejects requests that reached a protected group without any
// authenticator having established a principal.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if PrincipalFromContext(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// ParseKeySpec parses a "name:rawkey:role" configuration entry.
func ParseKeySpec(spec string) (name, rawKey, role string, ok bool) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	role = parts[2]
	if role != RoleWriter && role != RoleAdmin {
		return "", "", "", false
	}
	return parts[0], parts[1], role, true
}
