// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/srtp/v3"

	"github.com/jitsi/libjitsi-transform/zrtp"
)

// SecureState is the externally visible security status of a stream.
type SecureState int

// Stream security states.
const (
	StateClear SecureState = iota
	StateNegotiating
	StateSecure
	StateFailed
	StateClosed
)

func (s SecureState) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateNegotiating:
		return "negotiating"
	case StateSecure:
		return "secure"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultGraceWindow = 1500 * time.Millisecond

// Config configures a transform engine.
type Config struct {
	LoggerFactory logging.LoggerFactory

	// EventSink receives security notifications. May be nil; events are
	// then only logged.
	EventSink EventSink

	// RequireEncryption makes the engine drop media instead of forwarding
	// it in clear once negotiation has failed. Tearing the stream down is
	// still the caller's decision.
	RequireEncryption bool

	// GraceWindow bounds how long incoming media is muted after a restart
	// while no receive context exists yet. The window also ends on the
	// first successful decrypt.
	GraceWindow time.Duration

	// ZRTP configures the key agreement engine. LoggerFactory and
	// OnTimerExpired are filled in by the transform engine.
	ZRTP zrtp.Config
}

// ZRTPTransformEngine multiplexes the key agreement handshake onto the RTP
// stream and moves media through SRTP contexts as the handshake installs
// them. Control packets are written to the raw transport directly and never
// surface to the caller.
type ZRTPTransformEngine struct {
	mu sync.Mutex

	cfg Config
	log logging.LeveledLogger
	out io.Writer

	engine  *zrtp.Engine
	sendCtx *srtp.Context
	recvCtx *srtp.Context

	state     SecureState
	muteUntil time.Time
	started   bool
	closed    bool
}

// NewZRTPTransformEngine creates an engine writing control packets to out.
// The transport collaborator must deliver incoming raw packets to
// ReverseTransformRTP.
func NewZRTPTransformEngine(out io.Writer, cfg Config) (*ZRTPTransformEngine, error) {
	if out == nil {
		return nil, errNilWriter
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}

	t := &ZRTPTransformEngine{
		cfg:   cfg,
		log:   cfg.LoggerFactory.NewLogger("transform"),
		out:   out,
		state: StateClear,
	}

	zcfg := cfg.ZRTP
	zcfg.LoggerFactory = cfg.LoggerFactory
	zcfg.OnTimerExpired = t.onTimerExpired
	engine, err := zrtp.NewEngine(zcfg)
	if err != nil {
		return nil, err
	}
	t.engine = engine
	return t, nil
}

// StartNegotiation sends the first discovery message. While negotiation is
// in progress incoming media is muted unless a previously established
// receive context still exists.
func (t *ZRTPTransformEngine) StartNegotiation() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errEngineClosed
	}
	if t.started {
		return errAlreadyStarted
	}
	t.started = true
	t.state = StateNegotiating
	if t.recvCtx == nil {
		t.muteUntil = time.Now().Add(t.cfg.GraceWindow)
	}

	t.emitLocked(Event{Severity: SeverityInfo, Code: CodeNegotiationStarted})
	t.handleEngineEventsLocked(t.engine.Start())
	return nil
}

// Restart tears the key agreement down and runs it again with a fresh
// engine. The fresh engine picks a new pseudo-random control sequence
// number, so packets still in flight from the previous handshake cannot be
// confused with the new one. Established contexts are kept until the new
// handshake replaces them.
func (t *ZRTPTransformEngine) Restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errEngineClosed
	}

	t.engine.Close()
	zcfg := t.cfg.ZRTP
	zcfg.LoggerFactory = t.cfg.LoggerFactory
	zcfg.OnTimerExpired = t.onTimerExpired
	engine, err := zrtp.NewEngine(zcfg)
	if err != nil {
		return err
	}
	t.engine = engine
	t.started = true
	t.state = StateNegotiating
	if t.recvCtx == nil {
		t.muteUntil = time.Now().Add(t.cfg.GraceWindow)
	}

	t.emitLocked(Event{Severity: SeverityInfo, Code: CodeNegotiationStarted})
	t.handleEngineEventsLocked(t.engine.Start())
	return nil
}

// TransformRTP protects one outgoing RTP packet.
func (t *ZRTPTransformEngine) TransformRTP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil
	}
	if zrtp.IsControlPacket(pkt) {
		// Control packets must reach the peer unencrypted; SRTP is not
		// established for them by definition.
		return pkt, nil
	}
	if t.sendCtx != nil {
		return t.sendCtx.EncryptRTP(nil, pkt, nil)
	}
	if t.cfg.RequireEncryption && t.state == StateFailed {
		t.log.Debugf("dropping outgoing media, encryption required but negotiation failed")
		return nil, nil
	}
	return pkt, nil
}

// ReverseTransformRTP unprotects one incoming packet. Control packets are
// consumed; undecryptable or muted media is dropped silently.
func (t *ZRTPTransformEngine) ReverseTransformRTP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil
	}

	if zrtp.IsControlPacket(pkt) {
		evs := t.engine.Process(pkt)
		t.handleEngineEventsLocked(evs)
		return nil, nil
	}

	if t.recvCtx != nil {
		dec, err := t.recvCtx.DecryptRTP(nil, pkt, nil)
		if err != nil {
			t.log.Warnf("dropping undecryptable media packet: %v", err)
			t.emitLocked(Event{Severity: SeverityWarning, Code: CodeDecryptFailed, Err: err})
			return nil, nil
		}
		// A successful decrypt proves the secure path works; stop muting.
		t.muteUntil = time.Time{}
		return dec, nil
	}

	if t.state == StateNegotiating || time.Now().Before(t.muteUntil) {
		t.log.Tracef("muted, dropping media packet during negotiation")
		return nil, nil
	}
	if t.cfg.RequireEncryption && t.state == StateFailed {
		return nil, nil
	}
	return pkt, nil
}

// TransformRTCP protects one outgoing RTCP compound packet.
func (t *ZRTPTransformEngine) TransformRTCP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil
	}
	if t.sendCtx != nil {
		return t.sendCtx.EncryptRTCP(nil, pkt, nil)
	}
	if t.cfg.RequireEncryption && t.state == StateFailed {
		return nil, nil
	}
	return pkt, nil
}

// ReverseTransformRTCP unprotects one incoming RTCP compound packet and
// validates that the result parses as RTCP.
func (t *ZRTPTransformEngine) ReverseTransformRTCP(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil
	}

	out := pkt
	if t.recvCtx != nil {
		dec, err := t.recvCtx.DecryptRTCP(nil, pkt, nil)
		if err != nil {
			t.log.Warnf("dropping undecryptable RTCP packet: %v", err)
			t.emitLocked(Event{Severity: SeverityWarning, Code: CodeDecryptFailed, Err: err})
			return nil, nil
		}
		out = dec
	} else if t.state == StateNegotiating || time.Now().Before(t.muteUntil) {
		return nil, nil
	}

	if _, err := rtcp.Unmarshal(out); err != nil {
		t.log.Warnf("dropping malformed RTCP compound packet: %v", err)
		return nil, nil
	}
	return out, nil
}

// SecureState returns the stream's security status.
func (t *ZRTPTransformEngine) SecureState() SecureState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SAS returns the short authentication string once available.
func (t *ZRTPTransformEngine) SAS() (string, zrtp.Verification, bool) {
	return t.engine.SAS()
}

// SetSASVerified records the user's comparison outcome.
func (t *ZRTPTransformEngine) SetSASVerified(verified bool) {
	t.engine.SetSASVerified(verified)
}

// Close stops the handshake timer, releases both contexts and makes all
// further transform calls no-ops. Safe to call while a packet is being
// transformed on another goroutine.
func (t *ZRTPTransformEngine) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.state = StateClosed
	t.engine.Close()
	t.sendCtx = nil
	t.recvCtx = nil
	return nil
}

// onTimerExpired runs on the key agreement engine's timer goroutine. It
// only hands off into the serialized processing path; shared state is never
// mutated from the timer goroutine itself.
func (t *ZRTPTransformEngine) onTimerExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	evs := t.engine.HandleTimeout()
	if len(evs) > 0 {
		t.emitLocked(Event{Severity: SeverityWarning, Code: CodeRetransmitTimeout})
	}
	t.handleEngineEventsLocked(evs)
}

func (t *ZRTPTransformEngine) handleEngineEventsLocked(evs []zrtp.Event) {
	for _, ev := range evs {
		switch ev := ev.(type) {
		case zrtp.OutgoingMessage:
			if _, err := t.out.Write(ev.Packet); err != nil {
				t.log.Warnf("failed to send control packet: %v", err)
			}
		case zrtp.SecretsReady:
			t.installContextLocked(ev.Direction, ev.Keys, ev.Profile)
		case zrtp.SASReady:
			t.emitLocked(Event{
				Severity:    SeverityInfo,
				Code:        CodeSASAvailable,
				SAS:         ev.SAS,
				SASVerified: ev.Verification == zrtp.VerificationVerified,
			})
		case zrtp.SecureEstablished:
			t.state = StateSecure
			t.muteUntil = time.Time{}
			t.emitLocked(Event{Severity: SeverityInfo, Code: CodeSecureOn, Cipher: ev.Cipher})
		case zrtp.HandshakeWarning:
			code := CodeMalformedControlPacket
			if errors.Is(ev.Err, zrtp.ErrBadCRC) {
				code = CodeCRCMismatch
			}
			t.emitLocked(Event{Severity: SeverityWarning, Code: code, Err: ev.Err})
		case zrtp.NegotiationFailed:
			t.state = StateFailed
			t.emitLocked(Event{Severity: SeverityProtocolError, Code: CodeNegotiationFailed})
			if t.cfg.RequireEncryption {
				t.emitLocked(Event{Severity: SeveritySevere, Code: CodeEncryptionRequired})
			}
		case zrtp.PeerUnsupported:
			// Degrade to clear media unless policy forbids it; the caller
			// owns the tear-down decision either way.
			t.state = StateFailed
			t.muteUntil = time.Time{}
			t.emitLocked(Event{Severity: SeverityProtocolError, Code: CodePeerUnsupported})
			if t.cfg.RequireEncryption {
				t.emitLocked(Event{Severity: SeveritySevere, Code: CodeEncryptionRequired})
			}
		}
	}
}

// installContextLocked creates and installs the SRTP context for one
// direction, replacing any previous one. Reinstalling with identical key
// material is valid; renegotiation relies on it.
func (t *ZRTPTransformEngine) installContextLocked(dir zrtp.Direction, keys zrtp.KeyMaterial, profile srtp.ProtectionProfile) {
	opts := []srtp.ContextOption{}
	if dir == zrtp.ForReceiver {
		opts = append(opts, srtp.SRTPReplayProtection(64), srtp.SRTCPReplayProtection(64))
	}
	ctx, err := srtp.CreateContext(keys.MasterKey, keys.MasterSalt, profile, opts...)
	if err != nil {
		t.log.Errorf("failed to create %s SRTP context: %v", dir, err)
		t.emitLocked(Event{Severity: SeveritySevere, Code: CodeContextFailed, Err: err})
		return
	}

	switch dir {
	case zrtp.ForSender:
		t.sendCtx = ctx
	case zrtp.ForReceiver:
		t.recvCtx = ctx
	}
	t.log.Debugf("installed %s SRTP context", dir)
}

func (t *ZRTPTransformEngine) emitLocked(ev Event) {
	t.log.Debugf("security event %s/%s", ev.Severity, ev.Code)
	if t.cfg.EventSink != nil {
		t.cfg.EventSink.OnSecurityEvent(ev)
	}
}
