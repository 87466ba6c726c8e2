package main

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jsonapi-go/engine"
)

// memoryUserLinker is a reference jsonapi.UserLinker: it keeps the
// provider-id and email indexes in memory rather than against the users
// table gormstore itself manages, so a demo run never needs its own
// migration ahead of the registry's.
type memoryUserLinker struct {
	mu         sync.Mutex
	byProvider map[string]string // provider+":"+providerID -> userID
	byEmail    map[string]string
}

func newMemoryUserLinker() *memoryUserLinker {
	return &memoryUserLinker{
		byProvider: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (l *memoryUserLinker) FindByProviderID(ctx context.Context, provider, providerID string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byProvider[provider+":"+providerID]
	return id, ok, nil
}

func (l *memoryUserLinker) FindByEmail(ctx context.Context, email string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byEmail[email]
	return id, ok, nil
}

func (l *memoryUserLinker) CreateUser(ctx context.Context, provider, providerID, email string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New().String()
	l.byProvider[provider+":"+providerID] = id
	if email != "" {
		l.byEmail[email] = id
	}
	return id, nil
}
