// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import (
	"github.com/pion/srtp/v3"
)

// Algorithm tokens, 4 ASCII bytes on the wire.
const (
	HashS256 = "S256"

	CipherAES1 = "AES1" // AES-128 counter mode
	CipherAES3 = "AES3" // AES-256 counter mode

	AuthTagHS32 = "HS32" // HMAC-SHA1, 32 bit tag
	AuthTagHS80 = "HS80" // HMAC-SHA1, 80 bit tag

	KeyAgreementX255 = "X255" // X25519

	SASB32 = "B32 " // 4 character base-32 rendering
)

// DefaultAlgorithms is the locally supported preference order used when a
// config does not override it.
func DefaultAlgorithms() Algorithms {
	return Algorithms{
		Hashes:        []string{HashS256},
		Ciphers:       []string{CipherAES1, CipherAES3},
		AuthTags:      []string{AuthTagHS80, AuthTagHS32},
		KeyAgreements: []string{KeyAgreementX255},
		SASTypes:      []string{SASB32},
	}
}

// negotiate intersects the local ordered preferences with what the peer
// advertises. The first local entry the peer also supports wins, per list,
// so the outcome is deterministic given both lists.
func negotiate(local, peer Algorithms) (Selected, error) {
	sel := Selected{}
	pairs := []struct {
		local, peer []string
		out         *string
	}{
		{local.Hashes, peer.Hashes, &sel.Hash},
		{local.Ciphers, peer.Ciphers, &sel.Cipher},
		{local.AuthTags, peer.AuthTags, &sel.AuthTag},
		{local.KeyAgreements, peer.KeyAgreements, &sel.KeyAgreement},
		{local.SASTypes, peer.SASTypes, &sel.SAS},
	}
	for _, p := range pairs {
		*p.out = firstCommon(p.local, p.peer)
		if *p.out == "" {
			return Selected{}, errNoCommonAlgo
		}
	}
	return sel, nil
}

func firstCommon(local, peer []string) string {
	for _, l := range local {
		for _, p := range peer {
			if l == p {
				return l
			}
		}
	}
	return ""
}

// supports reports whether every component of a peer's Commit choice is in
// our local preference lists.
func (a Algorithms) supports(sel Selected) bool {
	return contains(a.Hashes, sel.Hash) &&
		contains(a.Ciphers, sel.Cipher) &&
		contains(a.AuthTags, sel.AuthTag) &&
		contains(a.KeyAgreements, sel.KeyAgreement) &&
		contains(a.SASTypes, sel.SAS)
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// ProtectionProfile maps the negotiated cipher and auth tag onto the SRTP
// protection profile handed to the cipher collaborator.
func (s Selected) ProtectionProfile() (srtp.ProtectionProfile, error) {
	switch {
	case s.Cipher == CipherAES1 && s.AuthTag == AuthTagHS80:
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case s.Cipher == CipherAES1 && s.AuthTag == AuthTagHS32:
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case s.Cipher == CipherAES3 && s.AuthTag == AuthTagHS80:
		return srtp.ProtectionProfileAes256CmHmacSha1_80, nil
	case s.Cipher == CipherAES3 && s.AuthTag == AuthTagHS32:
		return srtp.ProtectionProfileAes256CmHmacSha1_32, nil
	default:
		return 0, errNoCommonAlgo
	}
}
