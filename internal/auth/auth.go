package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the signed-in user as the rest of the engine sees them.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Authenticator owns the local session lifecycle. Login persists a session so
// the next start can restore it without re-authenticating; Logout discards it.
type Authenticator interface {
	Login(ctx context.Context, identity Identity) error
	RestoreSession(ctx context.Context) (Identity, error)
	Logout(ctx context.Context) error
}

type sessionClaims struct {
	Sub    string `json:"sub"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Iat    int64  `json:"iat"`
	Exp    int64  `json:"exp"`
	jwt.RegisteredClaims
}

const sessionTTL = 30 * 24 * time.Hour

func signSession(identity Identity, secret []byte, now time.Time) (string, error) {
	issueAt := now.Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    identity.ID,
		"name":   identity.DisplayName,
		"avatar": identity.AvatarURL,
		"iat":    issueAt,
		"exp":    issueAt + int64(sessionTTL.Seconds()),
	})
	return token.SignedString(secret)
}

func parseSession(tokenStr string, secret []byte, now time.Time) (Identity, error) {
	parsedToken, err := jwt.ParseWithClaims(tokenStr, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Identity{}, err
	}

	claims, ok := parsedToken.Claims.(*sessionClaims)
	if !ok || !parsedToken.Valid {
		return Identity{}, fmt.Errorf("invalid session claims")
	}
	if time.Unix(claims.Exp, 0).Before(now) {
		return Identity{}, fmt.Errorf("session expired")
	}

	return Identity{
		ID:          claims.Sub,
		DisplayName: claims.Name,
		AvatarURL:   claims.Avatar,
	}, nil
}
