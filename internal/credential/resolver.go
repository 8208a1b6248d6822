package credential

import (
	"context"
	"fmt"
	"sync"
)

// Store holds encrypted credential records in memory, keyed by the
// opaque credential ID a workflow node references from its config.
// Adapted from credential_service.go's persistence-backed flow to a
// process-local map: RustFlow nodes receive the resolver when they are
// configured and call Resolve while they run
// (noderuntime.CredentialResolver), so there is no need for the
// full repository/service layering the teacher's multi-tenant API used.
type Store struct {
	encryption *CredentialEncryptionService
	mu         sync.RWMutex
	records    map[string]*CredentialData
}

// NewStore creates a credential store backed by the given encryptor.
func NewStore(encryptor *Encryptor) *Store {
	return &Store{
		encryption: NewCredentialEncryptionService(encryptor),
		records:    make(map[string]*CredentialData),
	}
}

// Put stores a credential's plaintext fields under id, encrypting
// sensitive fields before they are held in memory.
func (s *Store) Put(id string, credType string, data map[string]interface{}) error {
	cred := &CredentialData{Type: credType, Data: copyCredentialData(data)}
	if err := s.encryption.EncryptCredential(cred); err != nil {
		return fmt.Errorf("credential %q: %w", id, err)
	}
	s.mu.Lock()
	s.records[id] = cred
	s.mu.Unlock()
	return nil
}

// Resolve implements noderuntime.CredentialResolver: it looks up the
// record by id, decrypts its sensitive fields, and flattens every field
// to a string since nodes only ever splice credential fields into
// headers, auth tokens, or connection strings (spec.md §10.2).
func (s *Store) Resolve(ctx context.Context, id string) (map[string]string, error) {
	s.mu.RLock()
	cred, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("credential %q not found", id)
	}

	decrypted := &CredentialData{Type: cred.Type, Data: copyCredentialData(cred.Data), IsEncrypted: cred.IsEncrypted}
	if err := s.encryption.DecryptCredential(decrypted); err != nil {
		return nil, fmt.Errorf("credential %q: %w", id, err)
	}

	out := make(map[string]string, len(decrypted.Data))
	for k, v := range decrypted.Data {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

func copyCredentialData(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
