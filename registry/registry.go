/*
Package registry wraps the external record lookups used at case creation.

PURPOSE:
  Filing a case references records held by other systems: the police FIR
  register, the national identity register, and bank KYC. The engine only
  needs found / not-found answers to reject malformed submissions; nothing
  from these systems is persisted beyond that.

IMPLEMENTATIONS:
  - Memory: seedable fake for tests and local development. A production
    deployment supplies HTTP clients for the real registers behind the
    same interface.
*/
package registry

import (
	"context"
	"sync"
)

// Lookup answers existence queries against the external registers.
type Lookup interface {
	// FIRExists checks the police register for a filing number at a station.
	FIRExists(ctx context.Context, region, station, firNumber string) (bool, error)

	// IdentityExists checks the identity register for a person number.
	IdentityExists(ctx context.Context, identityNumber string) (bool, error)

	// BankAccountValid checks KYC for an account/IFSC pair.
	BankAccountValid(ctx context.Context, account, ifsc string) (bool, error)
}

// =============================================================================
// MEMORY - Seedable fake
// =============================================================================

type firKey struct {
	Region  string
	Station string
	Number  string
}

type bankKey struct {
	Account string
	IFSC    string
}

// Memory is an in-memory Lookup seeded by tests or the dev server.
type Memory struct {
	mu         sync.RWMutex
	firs       map[firKey]bool
	identities map[string]bool
	accounts   map[bankKey]bool
}

func NewMemory() *Memory {
	return &Memory{
		firs:       make(map[firKey]bool),
		identities: make(map[string]bool),
		accounts:   make(map[bankKey]bool),
	}
}

func (m *Memory) AddFIR(region, station, number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firs[firKey{region, station, number}] = true
}

func (m *Memory) AddIdentity(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[number] = true
}

func (m *Memory) AddBankAccount(account, ifsc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[bankKey{account, ifsc}] = true
}

func (m *Memory) FIRExists(_ context.Context, region, station, firNumber string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.firs[firKey{region, station, firNumber}], nil
}

func (m *Memory) IdentityExists(_ context.Context, identityNumber string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identities[identityNumber], nil
}

func (m *Memory) BankAccountValid(_ context.Context, account, ifsc string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts[bankKey{account, ifsc}], nil
}
