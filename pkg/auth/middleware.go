package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ContextKeyAPIKey is the context key for the authenticated key
	ContextKeyAPIKey contextKey = "auth_api_key"

	// HeaderAPIKey is accepted as an alternative to a Bearer token
	HeaderAPIKey = "X-API-Key"
)

// PermissionFunc decides which permission a request needs
type PermissionFunc func(r *http.Request) Permission

// Middleware returns an HTTP middleware that authenticates the request's
// API key and checks the permission required by permissionFor
func (ks *KeyStore) Middleware(permissionFor PermissionFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, ok := credentials(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing API key")
				return
			}

			key, err := ks.Authenticate(secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				return
			}

			permission := permissionFor(r)
			if !HasPermission(key.Role, permission) {
				writeError(w, http.StatusForbidden, "Forbidden", ErrPermissionDenied.Error()+": "+string(permission))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAPIKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credentials extracts the API key from the Authorization or X-API-Key header
func credentials(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, err := ParseAuthHeader(header)
		return token, err == nil
	}
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key, true
	}
	return "", false
}

// GetAPIKey extracts the authenticated key from the request context
func GetAPIKey(r *http.Request) (*APIKey, bool) {
	key, ok := r.Context().Value(ContextKeyAPIKey).(*APIKey)
	return key, ok
}

// PermissionForRequest maps the HTTP API's routes to permissions
func PermissionForRequest(r *http.Request) Permission {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/_stats" || path == "/_metrics" || strings.HasSuffix(path, "/_stats"):
		return PermissionViewStats
	case path == "/_import":
		return PermissionImport
	case path == "/_export" || strings.HasSuffix(path, "/_export"):
		return PermissionExport
	case strings.Contains(path, "/_index"):
		switch r.Method {
		case http.MethodGet:
			return PermissionRead
		case http.MethodDelete:
			return PermissionDropIndex
		default:
			return PermissionCreateIndex
		}
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return PermissionRead
	case http.MethodDelete:
		// DELETE /{collection} drops the collection
		if strings.Count(path, "/") == 1 {
			return PermissionDropCollection
		}
		return PermissionWrite
	}

	// Read-only POST endpoints
	for _, suffix := range []string{"/_search", "/_count", "/_aggregate", "/_explain"} {
		if strings.HasSuffix(path, suffix) {
			return PermissionRead
		}
	}
	if path == "/_cursors" {
		return PermissionRead
	}
	return PermissionWrite
}

func writeError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": message,
		"code":    status,
	})
}
