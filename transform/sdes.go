// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import (
	"encoding/base64"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/srtp/v3"
)

// CryptoSuite is a crypto attribute suite name from call signaling
// (RFC 4568).
type CryptoSuite string

// Supported suites.
const (
	CryptoSuiteAesCm128HmacSha1_80 CryptoSuite = "AES_CM_128_HMAC_SHA1_80"
	CryptoSuiteAesCm128HmacSha1_32 CryptoSuite = "AES_CM_128_HMAC_SHA1_32"
	CryptoSuiteAes256CmHmacSha1_80 CryptoSuite = "AES_256_CM_HMAC_SHA1_80"
	CryptoSuiteAes256CmHmacSha1_32 CryptoSuite = "AES_256_CM_HMAC_SHA1_32"
)

// Profile maps the suite onto the cipher collaborator's protection profile.
func (s CryptoSuite) Profile() (srtp.ProtectionProfile, error) {
	switch s {
	case CryptoSuiteAesCm128HmacSha1_80:
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case CryptoSuiteAesCm128HmacSha1_32:
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case CryptoSuiteAes256CmHmacSha1_80:
		return srtp.ProtectionProfileAes256CmHmacSha1_80, nil
	case CryptoSuiteAes256CmHmacSha1_32:
		return srtp.ProtectionProfileAes256CmHmacSha1_32, nil
	default:
		return 0, errUnknownSuite
	}
}

// ParseKeyParams decodes an "inline:" key parameter into master key and
// salt sized for the suite.
func ParseKeyParams(suite CryptoSuite, keyParams string) (key, salt []byte, err error) {
	profile, err := suite.Profile()
	if err != nil {
		return nil, nil, err
	}
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, nil, err
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, nil, err
	}

	b64 := strings.TrimPrefix(keyParams, "inline:")
	// Lifetime and MKI parameters may trail the concatenated key.
	if i := strings.IndexByte(b64, '|'); i >= 0 {
		b64 = b64[:i]
	}
	material, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, nil, err
	}
	if len(material) != keyLen+saltLen {
		return nil, nil, errBadInlineKey
	}
	return material[:keyLen], material[keyLen:], nil
}

// SDESTransformEngine protects a stream with key material exchanged over
// the signaling channel. Unlike the in-band key agreement there is no
// handshake: both directions are installed at construction.
type SDESTransformEngine struct {
	mu sync.Mutex

	log     logging.LeveledLogger
	sendCtx *srtp.Context
	recvCtx *srtp.Context
	closed  bool
}

// NewSDESTransformEngine installs contexts for both directions from the
// local and remote crypto attributes.
func NewSDESTransformEngine(suite CryptoSuite, localKeyParams, remoteKeyParams string, loggerFactory logging.LoggerFactory) (*SDESTransformEngine, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	profile, err := suite.Profile()
	if err != nil {
		return nil, err
	}

	localKey, localSalt, err := ParseKeyParams(suite, localKeyParams)
	if err != nil {
		return nil, err
	}
	remoteKey, remoteSalt, err := ParseKeyParams(suite, remoteKeyParams)
	if err != nil {
		return nil, err
	}

	sendCtx, err := srtp.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return nil, err
	}
	recvCtx, err := srtp.CreateContext(remoteKey, remoteSalt, profile,
		srtp.SRTPReplayProtection(64), srtp.SRTCPReplayProtection(64))
	if err != nil {
		return nil, err
	}

	return &SDESTransformEngine{
		log:     loggerFactory.NewLogger("transform"),
		sendCtx: sendCtx,
		recvCtx: recvCtx,
	}, nil
}

// TransformRTP protects one outgoing RTP packet.
func (t *SDESTransformEngine) TransformRTP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil
	}
	return t.sendCtx.EncryptRTP(nil, pkt, nil)
}

// ReverseTransformRTP unprotects one incoming RTP packet. Authentication
// failures drop the packet without error.
func (t *SDESTransformEngine) ReverseTransformRTP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil
	}
	dec, err := t.recvCtx.DecryptRTP(nil, pkt, nil)
	if err != nil {
		t.log.Warnf("dropping undecryptable media packet: %v", err)
		return nil, nil
	}
	return dec, nil
}

// TransformRTCP protects one outgoing RTCP compound packet.
func (t *SDESTransformEngine) TransformRTCP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil
	}
	return t.sendCtx.EncryptRTCP(nil, pkt, nil)
}

// ReverseTransformRTCP unprotects one incoming RTCP compound packet.
func (t *SDESTransformEngine) ReverseTransformRTCP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil
	}
	dec, err := t.recvCtx.DecryptRTCP(nil, pkt, nil)
	if err != nil {
		t.log.Warnf("dropping undecryptable RTCP packet: %v", err)
		return nil, nil
	}
	if _, err := rtcp.Unmarshal(dec); err != nil {
		t.log.Warnf("dropping malformed RTCP compound packet: %v", err)
		return nil, nil
	}
	return dec, nil
}

// Close releases both contexts.
func (t *SDESTransformEngine) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.sendCtx = nil
	t.recvCtx = nil
	return nil
}
