package clients

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Directory used by the memory storage driver and
// by tests.
type Memory struct {
	mu       sync.RWMutex
	byClient map[string]string
	byDomain map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byClient: make(map[string]string),
		byDomain: make(map[string]string),
	}
}

func (m *Memory) Register(_ context.Context, clientID, domain string) error {
	domain = strings.ToLower(domain)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byDomain[domain]; ok {
		return ErrClientExists
	}
	if _, ok := m.byClient[clientID]; ok {
		return ErrClientExists
	}
	m.byClient[clientID] = domain
	m.byDomain[domain] = clientID
	return nil
}

func (m *Memory) DomainFor(_ context.Context, clientID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domain, ok := m.byClient[clientID]
	if !ok {
		return "", ErrNotFound
	}
	return domain, nil
}

func (m *Memory) ClientIDFor(_ context.Context, domain string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clientID, ok := m.byDomain[strings.ToLower(domain)]
	if !ok {
		return "", ErrNotFound
	}
	return clientID, nil
}

func (m *Memory) Delete(_ context.Context, clientID, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byClient, clientID)
	delete(m.byDomain, strings.ToLower(domain))
	return nil
}
