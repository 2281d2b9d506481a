// Package jwtverify checks bearer tokens minted by the external identity
// layer. This service never issues tokens.
package jwtverify

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ctdms/internal/config"
	"ctdms/internal/domain"
	"ctdms/internal/port"
)

// Claims is the token payload expected from the identity layer.
type Claims struct {
	jwt.RegisteredClaims
	UserID    uuid.UUID         `json:"user_id"`
	Email     string            `json:"email"`
	Roles     []domain.UserRole `json:"roles"`
	SessionID string            `json:"session_id,omitempty"`
}

type verifier struct {
	secret []byte
	parser *jwt.Parser
}

// New creates a TokenVerifier for HMAC-signed tokens.
func New(cfg config.JWTConfig) port.TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &verifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}
}

func (v *verifier) Verify(tokenString string) (*domain.Actor, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: parsing token: %w", domain.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: token has no user_id", domain.ErrUnauthorized)
	}

	var roles []domain.UserRole
	for _, r := range claims.Roles {
		if domain.ValidRoles[r] {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: token grants no known role", domain.ErrUnauthorized)
	}

	session := claims.SessionID
	if session == "" {
		session = claims.ID
	}
	return &domain.Actor{
		ID:        claims.UserID,
		Email:     claims.Email,
		Roles:     roles,
		SessionID: session,
	}, nil
}
