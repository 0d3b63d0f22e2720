// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pion/srtp/v3"
)

// KDF labels. Each derived secret gets a distinct ASCII label so the
// directional halves can never collide.
const (
	labelInitiatorKey  = "Initiator SRTP master key"
	labelInitiatorSalt = "Initiator SRTP master salt"
	labelResponderKey  = "Responder SRTP master key"
	labelResponderSalt = "Responder SRTP master salt"
	labelInitiatorMAC  = "Initiator HMAC key"
	labelResponderMAC  = "Responder HMAC key"
	labelSAS           = "SAS"

	sasValueLen = 4
)

// KeyMaterial is one direction's SRTP master key and salt.
type KeyMaterial struct {
	MasterKey  []byte
	MasterSalt []byte
}

// Zero wipes the key material in place.
func (k *KeyMaterial) Zero() {
	zeroize(k.MasterKey)
	zeroize(k.MasterSalt)
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// sessionSecrets holds everything derived from one handshake.
type sessionSecrets struct {
	initiator KeyMaterial
	responder KeyMaterial

	initiatorConfirmKey []byte
	responderConfirmKey []byte

	sasValue []byte
}

func (s *sessionSecrets) zero() {
	s.initiator.Zero()
	s.responder.Zero()
	zeroize(s.initiatorConfirmKey)
	zeroize(s.responderConfirmKey)
	zeroize(s.sasValue)
}

// deriveS0 binds the DH result to both Hello messages and the Commit so a
// man in the middle cannot splice two independent handshakes together.
func deriveS0(dhResult, initiatorHello, responderHello, commit []byte) []byte {
	h := sha256.New()
	h.Write(dhResult)
	h.Write(initiatorHello)
	h.Write(responderHello)
	h.Write(commit)
	return h.Sum(nil)
}

// kdf is an HMAC-SHA256 expand: counter || label || 0x00 || length.
func kdf(s0 []byte, label string, outLen int) []byte {
	out := make([]byte, 0, outLen)
	var counter uint32
	for len(out) < outLen {
		counter++
		mac := hmac.New(sha256.New, s0)
		var cnt [4]byte
		binary.BigEndian.PutUint32(cnt[:], counter)
		mac.Write(cnt[:])
		mac.Write([]byte(label))
		mac.Write([]byte{0})
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(outLen)) //nolint:gosec
		mac.Write(l[:])
		out = append(out, mac.Sum(nil)...)
	}
	return out[:outLen]
}

// deriveSecrets expands s0 into both directional key halves, the confirm
// MAC keys and the SAS value, sized for the negotiated profile.
func deriveSecrets(s0 []byte, profile srtp.ProtectionProfile) (*sessionSecrets, error) {
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, err
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, err
	}

	return &sessionSecrets{
		initiator: KeyMaterial{
			MasterKey:  kdf(s0, labelInitiatorKey, keyLen),
			MasterSalt: kdf(s0, labelInitiatorSalt, saltLen),
		},
		responder: KeyMaterial{
			MasterKey:  kdf(s0, labelResponderKey, keyLen),
			MasterSalt: kdf(s0, labelResponderSalt, saltLen),
		},
		initiatorConfirmKey: kdf(s0, labelInitiatorMAC, sha256.Size),
		responderConfirmKey: kdf(s0, labelResponderMAC, sha256.Size),
		sasValue:            kdf(s0, labelSAS, sasValueLen),
	}, nil
}

// confirmMAC computes the truncated MAC carried by Confirm1/Confirm2.
func confirmMAC(key, totalHash []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(totalHash)
	return mac.Sum(nil)[:confirmMACSize]
}
