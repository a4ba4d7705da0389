package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Provider resolves the current user from the opaque credentials the
// transport layer extracted. The real implementation lives in the external
// auth system; this engine only consumes it.
type Provider interface {
	Resolve(ctx context.Context, userID uuid.UUID, declaredRole Role) (*User, error)
}

// StaticProvider is a fixed in-memory user directory. Used by tests and the
// seed tool.
type StaticProvider struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewStaticProvider(users ...User) *StaticProvider {
	p := &StaticProvider{users: make(map[uuid.UUID]User, len(users))}
	for _, u := range users {
		p.users[u.UserID] = u
	}
	return p
}

func (p *StaticProvider) Add(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.UserID] = u
}

func (p *StaticProvider) Resolve(_ context.Context, userID uuid.UUID, declaredRole Role) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	if declaredRole != "" && declaredRole != u.Role {
		return nil, ErrPermissionDenied
	}
	return &u, nil
}

// TrustingProvider accepts whatever identity the gateway asserted. It stands
// in for the upstream auth service, which terminates sessions before
// requests reach this engine.
type TrustingProvider struct{}

func (TrustingProvider) Resolve(_ context.Context, userID uuid.UUID, declaredRole Role) (*User, error) {
	if userID == uuid.Nil {
		return nil, ErrUnknownUser
	}
	if _, err := ParseRole(string(declaredRole)); err != nil {
		return nil, err
	}
	return &User{UserID: userID, Role: declaredRole}, nil
}
