// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Identity is the anonymous device identity used as the owner for remote
// records and cached collections.
type Identity struct {
	UserID   string
	Username string
}

// Load reads the persisted anonymous identity from path, generating and
// persisting a fresh one when the file is missing or its content is not a
// valid identifier. The same device keeps the same identity across runs.
func Load(path string) (Identity, error) {
	if raw, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(raw))
		if isValidAnonID(id) {
			return Identity{UserID: id, Username: deriveUsername(id)}, nil
		}
	}

	id, err := generateAnonID()
	if err != nil {
		return Identity{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Identity{}, fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return Identity{}, fmt.Errorf("persist anonymous id: %w", err)
	}

	return Identity{UserID: id, Username: deriveUsername(id)}, nil
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}
