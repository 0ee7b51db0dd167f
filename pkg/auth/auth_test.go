package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndAuthenticate(t *testing.T) {
	hash, err := HashAPIKey("s3cret-key")
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2-sha256$4096$") {
		t.Errorf("Unexpected hash format %q", hash)
	}
	if strings.Contains(hash, "s3cret-key") {
		t.Error("Hash must not contain the secret")
	}

	other, _ := HashAPIKey("s3cret-key")
	if other == hash {
		t.Error("Expected a fresh salt per hash")
	}

	ks := NewKeyStore()
	if err := ks.AddHashed("ops", hash, RoleAdmin); err != nil {
		t.Fatalf("AddHashed failed: %v", err)
	}

	key, err := ks.Authenticate("s3cret-key")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if key.Name != "ops" || key.Role != RoleAdmin {
		t.Errorf("Unexpected key %+v", key)
	}

	// Cached path
	if _, err := ks.Authenticate("s3cret-key"); err != nil {
		t.Errorf("Second Authenticate failed: %v", err)
	}

	if _, err := ks.Authenticate("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := ks.Authenticate(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for empty key, got %v", err)
	}
}

func TestKeyStoreAddRemove(t *testing.T) {
	ks := NewKeyStore()
	hash, _ := HashAPIKey("reader")

	if err := ks.AddHashed("reader", hash, RoleRead); err != nil {
		t.Fatalf("AddHashed failed: %v", err)
	}
	if err := ks.AddHashed("reader", hash, RoleRead); !errors.Is(err, ErrKeyExists) {
		t.Errorf("Expected ErrKeyExists, got %v", err)
	}
	if _, err := ks.Authenticate("reader"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if err := ks.Remove("reader"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ks.Len() != 0 {
		t.Errorf("Expected empty store, got %d keys", ks.Len())
	}
	if _, err := ks.Authenticate("reader"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Removed key should not authenticate from cache, got %v", err)
	}
	if err := ks.Remove("reader"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestParseKeyHash(t *testing.T) {
	cases := []string{
		"",
		"bcrypt$10$abc$def",
		"pbkdf2-sha256$zero$abc$def",
		"pbkdf2-sha256$-1$abc$def",
		"pbkdf2-sha256$4096$!!$def",
		"pbkdf2-sha256$4096$abc$",
	}
	for _, hash := range cases {
		if _, err := ParseKeyHash("k", hash, RoleRead); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("%q: expected ErrInvalidHash, got %v", hash, err)
		}
	}

	hash, _ := HashAPIKey("x")
	if _, err := ParseKeyHash("k", hash, Role("root")); err == nil {
		t.Error("Expected unknown role to fail")
	}
}

func TestHasPermission(t *testing.T) {
	cases := []struct {
		role       Role
		permission Permission
		allowed    bool
	}{
		{RoleAdmin, PermissionImport, true},
		{RoleAdmin, PermissionDropCollection, true},
		{RoleReadWrite, PermissionWrite, true},
		{RoleReadWrite, PermissionExport, true},
		{RoleReadWrite, PermissionImport, false},
		{RoleReadWrite, PermissionDropCollection, false},
		{RoleRead, PermissionRead, true},
		{RoleRead, PermissionWrite, false},
		{RoleRead, PermissionCreateIndex, false},
		{Role("nobody"), PermissionRead, false},
	}
	for _, tc := range cases {
		if got := HasPermission(tc.role, tc.permission); got != tc.allowed {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tc.role, tc.permission, got, tc.allowed)
		}
	}
}

func TestParseAuthHeader(t *testing.T) {
	token, err := ParseAuthHeader("Bearer abc")
	if err != nil || token != "abc" {
		t.Errorf("Expected abc, got %q (%v)", token, err)
	}
	for _, header := range []string{"Basic abc", "Bearer", "Bearer ", "abc"} {
		if _, err := ParseAuthHeader(header); err == nil {
			t.Errorf("Expected %q to be rejected", header)
		}
	}
}
