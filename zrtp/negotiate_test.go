// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import (
	"testing"

	"github.com/pion/srtp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateFirstLocalPreferenceWins(t *testing.T) {
	local := DefaultAlgorithms()
	peer := DefaultAlgorithms()
	// The peer prefers the opposite order; our order decides.
	peer.Ciphers = []string{CipherAES3, CipherAES1}
	peer.AuthTags = []string{AuthTagHS32, AuthTagHS80}

	sel, err := negotiate(local, peer)
	require.NoError(t, err)
	assert.Equal(t, CipherAES1, sel.Cipher)
	assert.Equal(t, AuthTagHS80, sel.AuthTag)

	// Same inputs, same outcome.
	again, err := negotiate(local, peer)
	require.NoError(t, err)
	assert.Equal(t, sel, again)
}

func TestNegotiateRespectsPeerSupport(t *testing.T) {
	local := DefaultAlgorithms()
	peer := DefaultAlgorithms()
	peer.Ciphers = []string{CipherAES3}

	sel, err := negotiate(local, peer)
	require.NoError(t, err)
	assert.Equal(t, CipherAES3, sel.Cipher)
}

func TestNegotiateNoCommonAlgorithm(t *testing.T) {
	local := DefaultAlgorithms()
	peer := DefaultAlgorithms()
	peer.Hashes = []string{"S384"}

	_, err := negotiate(local, peer)
	assert.ErrorIs(t, err, errNoCommonAlgo)
}

func TestSelectedProtectionProfile(t *testing.T) {
	for _, tc := range []struct {
		cipher, authTag string
		profile         srtp.ProtectionProfile
	}{
		{CipherAES1, AuthTagHS80, srtp.ProtectionProfileAes128CmHmacSha1_80},
		{CipherAES1, AuthTagHS32, srtp.ProtectionProfileAes128CmHmacSha1_32},
		{CipherAES3, AuthTagHS80, srtp.ProtectionProfileAes256CmHmacSha1_80},
		{CipherAES3, AuthTagHS32, srtp.ProtectionProfileAes256CmHmacSha1_32},
	} {
		profile, err := Selected{Cipher: tc.cipher, AuthTag: tc.authTag}.ProtectionProfile()
		require.NoError(t, err)
		assert.Equal(t, tc.profile, profile)
	}

	_, err := Selected{Cipher: "NONE", AuthTag: AuthTagHS80}.ProtectionProfile()
	assert.Error(t, err)
}
