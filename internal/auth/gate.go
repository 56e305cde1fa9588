package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candidatehub/api/internal/rbac"
	"candidatehub/api/internal/store"
)

// Identity is the authenticated principal bound to a realtime connection.
// It is copied by value and never changes for the connection's lifetime.
type Identity struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"userName"`
	Email       string    `json:"email,omitempty"`
	Role        rbac.Role `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == rbac.RoleAdmin
}

type UserLookup interface {
	GetUserByID(context.Context, string) (store.User, error)
}

// Gate turns a bearer credential into an Identity.
type Gate struct {
	secret  []byte
	users   UserLookup
	timeout time.Duration
}

func NewGate(secret []byte, users UserLookup, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{secret: secret, users: users, timeout: timeout}
}

type lookupResult struct {
	user store.User
	err  error
}

// Authenticate verifies the credential and resolves its user. The whole call,
// including the user lookup, is bounded by the gate timeout.
func (g *Gate) Authenticate(ctx context.Context, credential string) (Identity, error) {
	claims, err := ParseToken(g.secret, credential)
	if err != nil {
		return Identity{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		user, err := g.users.GetUserByID(ctx, claims.Subject)
		done <- lookupResult{user: user, err: err}
	}()

	var result lookupResult
	select {
	case <-ctx.Done():
		return Identity{}, ErrAuthTimeout
	case result = <-done:
	}

	if result.err != nil {
		if errors.Is(result.err, store.ErrNotFound) {
			return Identity{}, fmt.Errorf("%w: user not found", ErrInvalidToken)
		}
		if errors.Is(result.err, context.DeadlineExceeded) {
			return Identity{}, ErrAuthTimeout
		}
		return Identity{}, fmt.Errorf("resolve user: %w", result.err)
	}
	if !result.user.IsActive {
		return Identity{}, ErrInactiveAccount
	}

	return Identity{
		UserID:      result.user.ID,
		DisplayName: result.user.DisplayName,
		Email:       result.user.Email,
		Role:        rbac.Normalize(result.user.Role),
	}, nil
}
