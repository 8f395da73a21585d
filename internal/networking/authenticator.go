package networking

import (
	"errors"
	"net/http"
	"strings"

	"tunnelflight/engine/internal/auth"
)

// Role decides whether a connection may steer or only watch.
type Role string

const (
	RolePilot     Role = "pilot"
	RoleSpectator Role = "spectator"
)

// Identity is what an Authenticator learned about a connection.
type Identity struct {
	Subject string
	Role    Role
}

// Authenticator inspects the upgrade request before the socket is accepted.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// OpenAuthenticator lets every connection pilot. It is used when no pilot secret is set.
type OpenAuthenticator struct{}

// Authenticate implements Authenticator.
func (OpenAuthenticator) Authenticate(*http.Request) (Identity, error) {
	return Identity{Role: RolePilot}, nil
}

// TokenAuthenticator grants the pilot role to holders of a valid pilot token. Connections
// without a token become spectators; a bad token is refused outright.
type TokenAuthenticator struct {
	Tokens *auth.PilotTokens
}

// Authenticate implements Authenticator.
func (a TokenAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	if a.Tokens == nil {
		return Identity{}, errors.New("pilot tokens not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return Identity{Role: RoleSpectator}, nil
	}
	claims, err := a.Tokens.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: claims.Subject, Role: RolePilot}, nil
}
