package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"candidatehub/api/internal/rbac"
	"candidatehub/api/internal/store"
)

type fakeUsers struct {
	getUserByIDFn func(context.Context, string) (store.User, error)
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (store.User, error) {
	return f.getUserByIDFn(ctx, id)
}

func issue(t *testing.T, secret []byte, userID string) string {
	t.Helper()
	token, err := IssueToken(secret, NewClaims(userID, "Avery", "admin", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func TestGateAuthenticate(t *testing.T) {
	secret := []byte("secret")
	users := &fakeUsers{getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
		switch id {
		case "u-active":
			return store.User{ID: id, DisplayName: "Avery", Email: "avery@example.com", Role: "hiring_manager", IsActive: true}, nil
		case "u-inactive":
			return store.User{ID: id, DisplayName: "Blake", Role: "recruiter", IsActive: false}, nil
		default:
			return store.User{}, store.ErrNotFound
		}
	}}
	gate := NewGate(secret, users, time.Second)

	identity, err := gate.Authenticate(context.Background(), "Bearer "+issue(t, secret, "u-active"))
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	// Role comes from the user record, not from the token claims.
	if identity.UserID != "u-active" || identity.DisplayName != "Avery" || identity.Role != rbac.RoleHiringManager {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "missing", token: "", want: ErrMissingToken},
		{name: "deactivated", token: issue(t, secret, "u-inactive"), want: ErrInactiveAccount},
		{name: "unknown user", token: issue(t, secret, "u-ghost"), want: ErrInvalidToken},
		{name: "forged", token: issue(t, []byte("nope"), "u-active"), want: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := gate.Authenticate(context.Background(), tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGateAuthenticateTimesOut(t *testing.T) {
	secret := []byte("secret")
	release := make(chan struct{})
	defer close(release)
	users := &fakeUsers{getUserByIDFn: func(context.Context, string) (store.User, error) {
		<-release
		return store.User{}, nil
	}}
	gate := NewGate(secret, users, 20*time.Millisecond)

	started := time.Now()
	_, err := gate.Authenticate(context.Background(), issue(t, secret, "u-slow"))
	if !errors.Is(err, ErrAuthTimeout) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthTimeout", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Authenticate() took %v, expected to be bounded by the timeout", elapsed)
	}
}
