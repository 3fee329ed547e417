package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	pepperMu sync.RWMutex
	pepper   string
)

// SetPepper installs the pepper appended to every password before hashing.
// Mainly for tests, production loads it with LoadPepper.
func SetPepper(p string) {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	pepper = p
}

// GetPepper returns the current pepper, empty if none was loaded.
func GetPepper() string {
	pepperMu.RLock()
	defer pepperMu.RUnlock()
	return pepper
}

// LoadPepper loads the pepper from file, generating and persisting a new one
// if the file does not exist yet. Losing this file invalidates every stored
// password hash.
func LoadPepper(file string) error {
	file = filepath.Clean(file)
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return err
	}

	raw, err := os.ReadFile(file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		b := make([]byte, keyLength)
		if _, err := rand.Read(b); err != nil {
			return err
		}
		p := base64.RawURLEncoding.EncodeToString(b)
		if err := os.WriteFile(file, []byte(p), 0600); err != nil {
			return err
		}
		SetPepper(p)
		return nil
	case err != nil:
		return err
	}

	SetPepper(strings.TrimSpace(string(raw)))
	return nil
}
