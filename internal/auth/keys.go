package auth

import (
	"fmt"

	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
)

// Token is the result of a successful key exchange.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Role        Role   `json:"role"`
}

// Authenticator exchanges access keys for JWTs. Keys are configured only
// as Argon2id hashes; the admin key is checked first.
type Authenticator struct {
	keys   []roleKey
	secret string
	ttl    int
}

type roleKey struct {
	role Role
	hash string
}

// NewAuthenticator builds an Authenticator from the security config.
func NewAuthenticator(cfg config.SecurityConfig) *Authenticator {
	a := &Authenticator{secret: cfg.JWT.Secret, ttl: cfg.JWT.AccessTokenTTL}
	if a.ttl <= 0 {
		a.ttl = int(defaultTokenTTL.Minutes())
	}
	if cfg.Keys.AdminHash != "" {
		a.keys = append(a.keys, roleKey{RoleAdmin, cfg.Keys.AdminHash})
	}
	if cfg.Keys.OperatorHash != "" {
		a.keys = append(a.keys, roleKey{RoleOperator, cfg.Keys.OperatorHash})
	}
	return a
}

// Authenticate returns the role whose key hash matches key.
func (a *Authenticator) Authenticate(key string) (Role, error) {
	if len(a.keys) == 0 {
		return "", ErrNoKeys
	}
	if key == "" {
		return "", ErrInvalidCredentials
	}
	for _, k := range a.keys {
		ok, err := VerifyKey(key, k.hash)
		if err != nil {
			return "", fmt.Errorf("verifying %s key: %w", k.role, err)
		}
		if ok {
			return k.role, nil
		}
	}
	return "", ErrInvalidCredentials
}

// Issue authenticates key and signs a token for subject.
func (a *Authenticator) Issue(subject, key string) (Token, error) {
	role, err := a.Authenticate(key)
	if err != nil {
		return Token{}, err
	}
	signed, err := GenerateAccessToken(subject, role, a.secret, a.ttl)
	if err != nil {
		return Token{}, err
	}
	return Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   a.ttl * 60, //nolint:mnd // minutes to seconds
		Role:        role,
	}, nil
}

// Verify parses a bearer token issued by this Authenticator.
func (a *Authenticator) Verify(token string) (*CustomClaims, error) {
	return ParseToken(token, a.secret)
}
