// Package identity validates credential tokens against the identity
// provider. The production implementation verifies HMAC-signed JWTs issued
// by the platform's auth service; the engine only sees the Verifier
// interface and the resolved identity and role.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cartly/chat-engine/internal/engine"
)

// Claims are the JWT claims carried by a chat credential token. Subject is
// the identity id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds token verification settings.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration // used when issuing tokens
}

// JWTVerifier verifies HMAC-signed credential tokens. It implements
// engine.Verifier.
type JWTVerifier struct {
	cfg Config
}

// NewJWTVerifier builds a verifier from config.
func NewJWTVerifier(cfg Config) *JWTVerifier {
	return &JWTVerifier{cfg: cfg}
}

// Verify parses and validates the token and resolves the identity and role
// behind it. Tokens with an unknown role are rejected — the role set is
// closed.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, engine.Role, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.cfg.Secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("identity: parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", "", fmt.Errorf("identity: invalid token claims")
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("identity: token has no subject")
	}

	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return "", "", fmt.Errorf("identity: invalid issuer %q", claims.Issuer)
	}
	if v.cfg.Audience != "" {
		valid := false
		for _, aud := range claims.Audience {
			if aud == v.cfg.Audience {
				valid = true
				break
			}
		}
		if !valid {
			return "", "", fmt.Errorf("identity: invalid audience")
		}
	}

	role, err := parseRole(claims.Role)
	if err != nil {
		return "", "", err
	}
	return claims.Subject, role, nil
}

// IssueToken creates a signed credential token for the given identity and
// role. Used by the platform's auth service and by test tooling.
func IssueToken(cfg Config, identity string, role engine.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

func parseRole(s string) (engine.Role, error) {
	switch engine.Role(s) {
	case engine.RoleMember, engine.RoleSupportAgent, engine.RoleAdministrator:
		return engine.Role(s), nil
	default:
		return "", fmt.Errorf("identity: unknown role %q", s)
	}
}
