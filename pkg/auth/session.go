package auth

import (
	"context"
	"os/user"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/api"
)

const (
	MechanismUnauthenticated = "UNAUTHENTICATED"
	MechanismJWT             = "JWT"
)

// SessionFactory produces the session key attached to privileged RPCs. It is
// consulted before every such call, so rotated credentials take effect
// without rebuilding the client.
type SessionFactory func(ctx context.Context) (api.SessionKey, error)

// StaticSession always returns key.
func StaticSession(key api.SessionKey) SessionFactory {
	return func(context.Context) (api.SessionKey, error) { return key, nil }
}

// UnixSession identifies the caller by the current OS user, without proof.
func UnixSession() SessionFactory {
	return func(context.Context) (api.SessionKey, error) {
		u, err := user.Current()
		if err != nil {
			return api.SessionKey{}, errors.Wrap(err, "looking up current user")
		}
		return api.SessionKey{Mechanism: MechanismUnauthenticated, Data: []byte(u.Username)}, nil
	}
}

// SessionClaims are carried by JWT session keys.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// IssueSessionToken returns an HS256 token for subject valid for ttl.
func IssueSessionToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty session secret")
	}
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifySessionToken checks signature and expiry and returns the claims.
func VerifySessionToken(secret []byte, token string) (*SessionClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty session secret")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	tok, err := parser.ParseWithClaims(token, &SessionClaims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*SessionClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// JWTSession mints a short-lived token for subject on every call.
func JWTSession(secret []byte, subject string, ttl time.Duration) SessionFactory {
	return func(context.Context) (api.SessionKey, error) {
		tok, err := IssueSessionToken(secret, subject, ttl)
		if err != nil {
			return api.SessionKey{}, err
		}
		return api.SessionKey{Mechanism: MechanismJWT, Data: []byte(tok)}, nil
	}
}
