// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import "sync"

// z-base-32, the alphabet the B32 SAS rendering uses. Chosen for easy
// reading over the phone.
const sasAlphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

// renderSAS maps the top 20 bits of the SAS value to four characters.
func renderSAS(value []byte) string {
	if len(value) < 3 {
		return ""
	}
	bits := uint32(value[0])<<12 | uint32(value[1])<<4 | uint32(value[2])>>4
	out := make([]byte, 4)
	for i := 3; i >= 0; i-- {
		out[i] = sasAlphabet[bits&0x1f]
		bits >>= 5
	}
	return string(out)
}

// Verification is the tri-state SAS trust status for a peer.
type Verification int

// SAS verification states.
const (
	VerificationUnset Verification = iota
	VerificationVerified
	VerificationUnverified
)

// SASStore caches SAS verification per peer ZID so a user does not re-verify
// on every stream restart within a session. Safe for concurrent use; the
// embedding application decides its lifetime and persistence.
type SASStore struct {
	mu      sync.Mutex
	entries map[string]Verification
}

// NewSASStore creates an empty store.
func NewSASStore() *SASStore {
	return &SASStore{entries: map[string]Verification{}}
}

// Get returns the cached verification for a peer ZID.
func (s *SASStore) Get(zid []byte) Verification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[string(zid)]
}

// Set records the verification outcome for a peer ZID.
func (s *SASStore) Set(zid []byte, v Verification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[string(zid)] = v
}
