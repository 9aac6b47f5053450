package state

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const secretFile = "session.secret"

// InitSecret returns the HS256 session signing secret. A configured secret
// wins; otherwise one is generated on first run and persisted in the state
// dir, so sessions survive restarts on the same machine.
func InitSecret(stateDir, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}

	path := filepath.Join(stateDir, secretFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		if secret := strings.TrimSpace(string(raw)); secret != "" {
			return []byte(secret), nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read session secret: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return nil, fmt.Errorf("persist session secret: %w", err)
	}
	log.Info().Msg("Session secret initialized successfully")
	return []byte(secret), nil
}
