package port

import "ctdms/internal/domain"

// TokenVerifier turns a bearer token issued by the identity layer into an actor.
type TokenVerifier interface {
	Verify(token string) (*domain.Actor, error)
}
