package auth

import (
	"context"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/VerteraIO/schedclient/pkg/cluster"
)

// Authenticator produces the Authorization value sent with every transport
// request. An empty value means no header is sent.
type Authenticator interface {
	Authorization(ctx context.Context) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (string, error)

func (f AuthenticatorFunc) Authorization(ctx context.Context) (string, error) {
	return f(ctx)
}

// Factory builds the authenticator for a cluster.
type Factory func(c cluster.Cluster) (Authenticator, error)

// None sends no credentials.
func None() Authenticator {
	return AuthenticatorFunc(func(context.Context) (string, error) { return "", nil })
}

// Basic sends HTTP basic credentials.
func Basic(username, password string) Authenticator {
	v := "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	return AuthenticatorFunc(func(context.Context) (string, error) { return v, nil })
}

// Bearer sends tokens from ts, refreshing them as the source sees fit.
func Bearer(ts oauth2.TokenSource) Authenticator {
	return AuthenticatorFunc(func(context.Context) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", errors.Wrap(err, "obtaining bearer token")
		}
		return tok.Type() + " " + tok.AccessToken, nil
	})
}

// DefaultFactory picks an authenticator from the cluster's auth mechanism.
// UNAUTHENTICATED clusters get None; BEARER clusters get a static token
// supplied by token.
func DefaultFactory(token func() (string, error)) Factory {
	return func(c cluster.Cluster) (Authenticator, error) {
		switch c.AuthMechanism {
		case "", "UNAUTHENTICATED":
			return None(), nil
		case "BEARER":
			if token == nil {
				return nil, errors.Errorf("cluster %q requires a bearer token", c.Name)
			}
			tok, err := token()
			if err != nil {
				return nil, errors.Wrapf(err, "reading bearer token for cluster %q", c.Name)
			}
			return Bearer(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"})), nil
		default:
			return nil, errors.Errorf("cluster %q: unsupported auth mechanism %q", c.Name, c.AuthMechanism)
		}
	}
}
