// Package stub provides an in-memory solana.AccountReader for tests.
package stub

import (
	"context"
	"sync"

	"solana-signal-lab/internal/solana"
)

// AccountReader serves accounts from a map. Errors, when set, are returned
// for the keyed address instead of the account.
type AccountReader struct {
	mu       sync.Mutex
	Accounts map[string]*solana.AccountInfo
	Errors   map[string]error
	calls    map[string]int
}

var _ solana.AccountReader = (*AccountReader)(nil)

// NewAccountReader creates an empty stub.
func NewAccountReader() *AccountReader {
	return &AccountReader{
		Accounts: make(map[string]*solana.AccountInfo),
		Errors:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Put stores base64 account data under pubkey.
func (r *AccountReader) Put(pubkey, owner, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Accounts[pubkey] = &solana.AccountInfo{Owner: owner, Data: data}
}

// GetAccountInfo returns the stored account, nil if absent.
func (r *AccountReader) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[pubkey]++
	if err, ok := r.Errors[pubkey]; ok {
		return nil, err
	}
	return r.Accounts[pubkey], nil
}

// Calls returns how often pubkey was read.
func (r *AccountReader) Calls(pubkey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[pubkey]
}
