package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrInvalidCredentials is returned when an API key matches no registered key
	ErrInvalidCredentials = errors.New("invalid API key")
	// ErrKeyExists is returned when registering a key name twice
	ErrKeyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when removing an unknown key
	ErrKeyNotFound = errors.New("API key not found")
	// ErrInvalidHash is returned for malformed key hashes
	ErrInvalidHash = errors.New("invalid API key hash")
	// ErrPermissionDenied is returned when a key's role lacks a permission
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	hashScheme     = "pbkdf2-sha256"
	saltLength     = 16
	iterationCount = 4096
	keyLength      = 32
)

// Role represents a key role with associated permissions
type Role string

const (
	// RoleAdmin has full access to all operations
	RoleAdmin Role = "admin"
	// RoleReadWrite can read and write data
	RoleReadWrite Role = "readWrite"
	// RoleRead can only read data
	RoleRead Role = "read"
)

// Permission represents an operation permission
type Permission string

const (
	PermissionRead           Permission = "read"
	PermissionWrite          Permission = "write"
	PermissionCreateIndex    Permission = "createIndex"
	PermissionDropIndex      Permission = "dropIndex"
	PermissionDropCollection Permission = "dropCollection"
	PermissionExport         Permission = "export"
	PermissionImport         Permission = "import"
	PermissionViewStats      Permission = "viewStats"
)

// rolePermissions maps roles to their permissions
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionRead,
		PermissionWrite,
		PermissionCreateIndex,
		PermissionDropIndex,
		PermissionDropCollection,
		PermissionExport,
		PermissionImport,
		PermissionViewStats,
	},
	RoleReadWrite: {
		PermissionRead,
		PermissionWrite,
		PermissionCreateIndex,
		PermissionDropIndex,
		PermissionExport,
		PermissionViewStats,
	},
	RoleRead: {
		PermissionRead,
		PermissionViewStats,
	},
}

// ParseRole parses a role name
func ParseRole(name string) (Role, error) {
	role := Role(name)
	if _, ok := rolePermissions[role]; !ok {
		return "", fmt.Errorf("unknown role: %s", name)
	}
	return role, nil
}

// APIKey is a registered key. Only the PBKDF2-SHA256 derivation of the
// secret is kept.
type APIKey struct {
	Name       string
	Role       Role
	Iterations int
	Salt       []byte
	DerivedKey []byte
}

// HashAPIKey derives a storable hash of secret with a random salt, in the
// form pbkdf2-sha256$<iterations>$<salt>$<key> (base64, unpadded)
func HashAPIKey(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("API key is empty")
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(secret), salt, iterationCount, keyLength, sha256.New)
	return strings.Join([]string{
		hashScheme,
		strconv.Itoa(iterationCount),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(derived),
	}, "$"), nil
}

// ParseKeyHash parses a hash produced by HashAPIKey
func ParseKeyHash(name, hash string, role Role) (*APIKey, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return nil, fmt.Errorf("%w: expected %s$<iterations>$<salt>$<key>", ErrInvalidHash, hashScheme)
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("%w: bad iteration count %q", ErrInvalidHash, parts[1])
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt: %v", ErrInvalidHash, err)
	}
	derived, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(derived) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrInvalidHash)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	return &APIKey{Name: name, Role: role, Iterations: iterations, Salt: salt, DerivedKey: derived}, nil
}

// matches derives secret with the key's salt and compares in constant time
func (k *APIKey) matches(secret string) bool {
	derived := pbkdf2.Key([]byte(secret), k.Salt, k.Iterations, len(k.DerivedKey), sha256.New)
	return hmac.Equal(derived, k.DerivedKey)
}

// KeyStore holds the registered API keys
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey

	// verified caches successful lookups by secret digest so PBKDF2 runs
	// once per key rather than once per request
	verified map[[sha256.Size]byte]*APIKey
}

// NewKeyStore creates an empty key store
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys:     make(map[string]*APIKey),
		verified: make(map[[sha256.Size]byte]*APIKey),
	}
}

// Add registers a key
func (ks *KeyStore) Add(key *APIKey) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, exists := ks.keys[key.Name]; exists {
		return fmt.Errorf("%w: %s", ErrKeyExists, key.Name)
	}
	ks.keys[key.Name] = key
	return nil
}

// AddHashed parses hash and registers it under name
func (ks *KeyStore) AddHashed(name, hash string, role Role) error {
	key, err := ParseKeyHash(name, hash, role)
	if err != nil {
		return err
	}
	return ks.Add(key)
}

// Remove unregisters a key
func (ks *KeyStore) Remove(name string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, exists := ks.keys[name]; !exists {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	delete(ks.keys, name)
	ks.verified = make(map[[sha256.Size]byte]*APIKey)
	return nil
}

// Len returns the number of registered keys
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// Authenticate returns the key that secret belongs to
func (ks *KeyStore) Authenticate(secret string) (*APIKey, error) {
	if secret == "" {
		return nil, ErrInvalidCredentials
	}
	digest := sha256.Sum256([]byte(secret))

	ks.mu.RLock()
	if key, ok := ks.verified[digest]; ok {
		ks.mu.RUnlock()
		return key, nil
	}
	keys := make([]*APIKey, 0, len(ks.keys))
	for _, key := range ks.keys {
		keys = append(keys, key)
	}
	ks.mu.RUnlock()

	for _, key := range keys {
		if key.matches(secret) {
			ks.mu.Lock()
			if ks.keys[key.Name] == key {
				ks.verified[digest] = key
			}
			ks.mu.Unlock()
			return key, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// HasPermission reports whether role grants permission
func HasPermission(role Role, permission Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// ParseAuthHeader parses an Authorization header (Bearer token)
func ParseAuthHeader(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("invalid authorization header")
	}
	return parts[1], nil
}
