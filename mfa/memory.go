package mfa

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process [Store] for tests and single-node dev
// deployments. A single mutex serializes every mutation, which satisfies
// the atomic failure-count contract.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]*Credential
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]*Credential),
		now:   time.Now,
	}
}

// SetNow overrides the clock for tests, matching [Service.SetNow] so a
// fake clock drives the lock deadlines it later reads back.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	out := *cred
	out.BackupCodes = append([][32]byte(nil), cred.BackupCodes...)
	return &out, nil
}

func (s *MemoryStore) Put(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cred
	stored.BackupCodes = append([][32]byte(nil), cred.BackupCodes...)
	s.creds[cred.UserID] = &stored
	return nil
}

func (s *MemoryStore) Enable(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.Enabled = true
	cred.VerifiedAt = at
	cred.UpdatedAt = at
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[userID]; !ok {
		return ErrCredentialNotFound
	}
	delete(s.creds, userID)
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, userID string, threshold int, lockFor time.Duration) (FailureState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return FailureState{}, ErrCredentialNotFound
	}

	now := s.now()
	wasLocked := cred.Locked(now)
	cred.FailedAttempts++
	cred.UpdatedAt = now

	state := FailureState{Attempts: cred.FailedAttempts}
	if cred.FailedAttempts >= threshold && !wasLocked {
		cred.LockedUntil = now.Add(lockFor)
		state.Locked = true
	}
	state.LockedUntil = cred.LockedUntil
	return state, nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.FailedAttempts = 0
	cred.LockedUntil = time.Time{}
	cred.LastUsed = at
	cred.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return false, ErrCredentialNotFound
	}
	for i, stored := range cred.BackupCodes {
		if stored == hash {
			cred.BackupCodes = append(cred.BackupCodes[:i], cred.BackupCodes[i+1:]...)
			cred.UpdatedAt = s.now()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ReplaceBackupCodes(_ context.Context, userID string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.BackupCodes = append([][32]byte(nil), hashes...)
	cred.UpdatedAt = s.now()
	return nil
}
