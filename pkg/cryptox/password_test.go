package cryptox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Set up a temporary pepper file for testing
	dir, err := os.MkdirTemp("", "cryptox-pepper")
	if err != nil {
		panic(err)
	}
	if err := LoadPepper(filepath.Join(dir, "pepper")); err != nil {
		panic(err)
	}

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "password123"},
		{"complex password", "P@ssw0rd!#$%^&*()"},
		{"long password", strings.Repeat("a", 100)},
		{"empty password", ""},
		{"unicode password", "Ğ¿Ğ°Ñ€Ğ¾Ğ»ÑŒğŸ”’å¯†ç "},
		{"whitespace password", "   spaces   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			require.NoError(t, err)
			require.NotEmpty(t, hash)

			// Verify PHC format
			require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"),
				"hash should be in PHC format")

			// Verify hash contains all expected parts
			parts := strings.Split(hash, "$")
			require.Len(t, parts, 6, "PHC hash should have 6 parts")
			require.Equal(t, "", parts[0]) // empty before first $
			require.Equal(t, "argon2id", parts[1])
			require.Equal(t, "v=19", parts[2])
			require.Contains(t, parts[3], "m=", "should contain memory parameter")
			require.Contains(t, parts[3], "t=", "should contain iterations parameter")
			require.Contains(t, parts[3], "p=", "should contain parallelism parameter")
			require.NotEmpty(t, parts[4], "salt should not be empty")
			require.NotEmpty(t, parts[5], "hash should not be empty")
		})
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	password := "samepassword"

	// Generate multiple hashes for the same password
	hash1, err := HashPassword(password)
	require.NoError(t, err)

	hash2, err := HashPassword(password)
	require.NoError(t, err)

	hash3, err := HashPassword(password)
	require.NoError(t, err)

	// Each hash should be different due to unique salts
	require.NotEqual(t, hash1, hash2, "hashes should differ due to unique salts")
	require.NotEqual(t, hash2, hash3, "hashes should differ due to unique salts")
	require.NotEqual(t, hash1, hash3, "hashes should differ due to unique salts")

	// But all should verify the same password
	require.NoError(t, VerifyPassword(password, hash1))
	require.NoError(t, VerifyPassword(password, hash2))
	require.NoError(t, VerifyPassword(password, hash3))
}

func TestVerifyPassword_Success(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "password123"},
		{"complex password", "P@ssw0rd!#$%^&*()"},
		{"long password", strings.Repeat("a", 100)},
		{"empty password", ""},
		{"unicode password", "Ğ¿Ğ°Ñ€Ğ¾Ğ»ÑŒğŸ”’å¯†ç "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			require.NoError(t, err)

			// Verify should succeed with correct password
			err = VerifyPassword(tt.password, hash)
			require.NoError(t, err)
		})
	}
}

func TestVerifyPassword_WrongPassword(t *testing.T) {
	correctPassword := "correct-password"
	hash, err := HashPassword(correctPassword)
	require.NoError(t, err)

	tests := []struct {
		name           string
		wrongPassword  string
		expectedErrMsg string
	}{
		{"completely wrong", "wrong-password", "password does not match"},
		{"case difference", "Correct-Password", "password does not match"},
		{"extra space", "correct-password ", "password does not match"},
		{"empty password", "", "password does not match"},
		{"similar password", "correct-passwor", "password does not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPassword(tt.wrongPassword, hash)
			require.ErrorIs(t, err, ErrPasswordMismatch)
			require.Contains(t, err.Error(), tt.expectedErrMsg)
		})
	}
}

func TestVerifyPassword_InvalidHashFormat(t *testing.T) {
	password := "test-password"

	tests := []struct {
		name        string
		invalidHash string
	}{
		{"empty hash", ""},
		{"wrong algorithm", "$bcrypt$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
		{"missing parts", "$argon2id$v=19$m=19456"},
		{"malformed parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{"invalid base64 salt", "$argon2id$v=19$m=19456,t=2,p=1$!!!invalid!!!$aGFzaA"},
		{"invalid base64 hash", "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$!!!invalid!!!"},
		{"wrong version", "$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
		{"missing version", "$argon2id$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPassword(password, tt.invalidHash)
			require.ErrorIs(t, err, ErrInvalidHash)
		})
	}
}

func TestVerifyPassword_TimingAttackResistance(t *testing.T) {
	// This test verifies that constant-time comparison is used
	password := "correct-password"
	hash, err := HashPassword(password)
	require.NoError(t, err)

	// Even with completely wrong passwords, the comparison should be constant-time
	wrongPasswords := []string{
		"a",                        // very short
		"wrong-password",           // same length
		strings.Repeat("x", 10000), // very long
	}

	for _, wp := range wrongPasswords {
		err := VerifyPassword(wp, hash)
		require.Error(t, err)
		require.Equal(t, "password does not match", err.Error())
	}
}

func TestLoadPepper(t *testing.T) {
	original := GetPepper()
	t.Cleanup(func() { SetPepper(original) })

	path := filepath.Join(t.TempDir(), "nested", "pepper")

	// First load generates and persists
	require.NoError(t, LoadPepper(path))
	generated := GetPepper()
	require.NotEmpty(t, generated)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, generated, string(raw))

	// Second load reads the same value back
	SetPepper("")
	require.NoError(t, LoadPepper(path))
	require.Equal(t, generated, GetPepper())
}

func TestPepperChangesHash(t *testing.T) {
	original := GetPepper()
	t.Cleanup(func() { SetPepper(original) })

	SetPepper("pepper-one")
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, VerifyPassword("hunter2", hash))

	SetPepper("pepper-two")
	require.ErrorIs(t, VerifyPassword("hunter2", hash), ErrPasswordMismatch)
}
