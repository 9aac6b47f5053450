package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sessionFile = "session.jwt"
	deviceFile  = "device.id"
)

// ErrNoSession is returned by RestoreSession when nobody is signed in.
var ErrNoSession = errors.New("no persisted session")

// LocalAuthenticator keeps the session as a signed token on disk so a restart
// lands in the same account. Tokens are HS256-signed with the configured
// session secret, which also invalidates sessions carried between machines
// with different secrets.
type LocalAuthenticator struct {
	stateDir string
	secret   []byte
	now      func() time.Time
	log      zerolog.Logger
}

func NewLocalAuthenticator(stateDir string, secret []byte) (*LocalAuthenticator, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session secret must not be empty")
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &LocalAuthenticator{
		stateDir: stateDir,
		secret:   secret,
		now:      time.Now,
		log:      log.With().Str("component", "auth").Logger(),
	}, nil
}

// WithClock overrides the time source. Test hook.
func (a *LocalAuthenticator) WithClock(now func() time.Time) *LocalAuthenticator {
	a.now = now
	return a
}

func (a *LocalAuthenticator) Login(ctx context.Context, identity Identity) error {
	if identity.ID == "" || identity.DisplayName == "" {
		return fmt.Errorf("identity needs an id and a display name")
	}
	tokenStr, err := signSession(identity, a.secret, a.now())
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	if err := os.WriteFile(a.sessionPath(), []byte(tokenStr), 0o600); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	a.log.Info().Str("user", identity.ID).Msg("session persisted")
	return nil
}

func (a *LocalAuthenticator) RestoreSession(ctx context.Context) (Identity, error) {
	raw, err := os.ReadFile(a.sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, ErrNoSession
	}
	if err != nil {
		return Identity{}, fmt.Errorf("read session: %w", err)
	}

	identity, err := parseSession(strings.TrimSpace(string(raw)), a.secret, a.now())
	if err != nil {
		// a stale or foreign token behaves like no session at all
		a.log.Warn().Err(err).Msg("discarding unusable persisted session")
		_ = os.Remove(a.sessionPath())
		return Identity{}, ErrNoSession
	}
	a.log.Info().Str("user", identity.ID).Msg("session restored")
	return identity, nil
}

func (a *LocalAuthenticator) Logout(ctx context.Context) error {
	err := os.Remove(a.sessionPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	a.log.Info().Msg("session cleared")
	return nil
}

// DeviceID returns this installation's stable device identifier, minting and
// persisting one on first use. The id survives logout so presence records stay
// attributable to the same physical device.
func (a *LocalAuthenticator) DeviceID() (string, error) {
	path := filepath.Join(a.stateDir, deviceFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	a.log.Info().Str("device", id).Msg("minted device identity")
	return id, nil
}

func (a *LocalAuthenticator) sessionPath() string {
	return filepath.Join(a.stateDir, sessionFile)
}
