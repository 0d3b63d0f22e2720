// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/srtp/v3"
	"golang.org/x/crypto/curve25519"
)

// Role of this endpoint in the handshake. The initiator sends the Commit.
type Role int

// Roles.
const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

// State is the handshake lifecycle.
type State int

// Lifecycle states.
const (
	StateIdle State = iota
	StateNegotiating
	StateSecretsReady
	StateSecure
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateSecretsReady:
		return "secrets-ready"
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

const (
	defaultRetransmitBase   = 150 * time.Millisecond
	defaultRetransmitCap    = 1200 * time.Millisecond
	defaultRetransmitBudget = 10
)

// Config configures an Engine. Zero values get defaults.
type Config struct {
	// Role decides which endpoint commits. Both endpoints send Hello.
	Role Role

	// ZID identifies this endpoint across restarts, 12 bytes. Generated
	// randomly when empty.
	ZID []byte

	// Preferences are the ordered algorithm lists advertised in Hello.
	Preferences Algorithms

	// SASStore caches SAS verification across engine restarts. A private
	// store is created when nil.
	SASStore *SASStore

	LoggerFactory logging.LoggerFactory

	RetransmitBase   time.Duration
	RetransmitCap    time.Duration
	RetransmitBudget int

	// OnTimerExpired is invoked from the engine's single timer goroutine
	// when the outstanding retransmit timer fires. The owner must call
	// HandleTimeout from its own processing context; the timer goroutine
	// never mutates engine state itself. When nil no timer is armed and
	// the owner drives timeouts explicitly.
	OnTimerExpired func()
}

// Engine runs the key agreement state machine for one media stream. All
// methods are safe for concurrent use; Start, Process and HandleTimeout
// return the events produced so the owner can act on them outside any
// engine-internal callback.
type Engine struct {
	mu sync.Mutex

	cfg Config
	log logging.LeveledLogger

	role     Role
	state    State
	seq      uint16
	sourceID uint32

	localHelloRaw []byte
	peerHelloRaw  []byte
	commitRaw     []byte
	peerHello     *Hello
	peerZID       []byte
	helloAcked    bool
	commitSent    bool

	selected Selected
	profile  srtp.ProtectionProfile

	dhPriv []byte
	dhPub  []byte

	secrets   *sessionSecrets
	totalHash []byte
	sas       string

	retransmitMsg      []byte
	retransmitAttempts int
	retransmitInterval time.Duration
	timer              *time.Timer
}

// NewEngine creates an engine. The control sequence counter starts at a
// pseudo-random value so a restarted session cannot be confused with
// packets still in flight from a previous one.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Role == 0 {
		cfg.Role = RoleResponder
	}
	if len(cfg.ZID) == 0 {
		cfg.ZID = make([]byte, zidSize)
		if _, err := rand.Read(cfg.ZID); err != nil {
			return nil, err
		}
	}
	if len(cfg.ZID) != zidSize {
		return nil, errBadZID
	}
	if len(cfg.Preferences.Hashes) == 0 {
		cfg.Preferences = DefaultAlgorithms()
	}
	if cfg.SASStore == nil {
		cfg.SASStore = NewSASStore()
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.RetransmitBase <= 0 {
		cfg.RetransmitBase = defaultRetransmitBase
	}
	if cfg.RetransmitCap <= 0 {
		cfg.RetransmitCap = defaultRetransmitCap
	}
	if cfg.RetransmitBudget <= 0 {
		cfg.RetransmitBudget = defaultRetransmitBudget
	}

	g := randutil.NewMathRandomGenerator()
	return &Engine{
		cfg:      cfg,
		log:      cfg.LoggerFactory.NewLogger("zrtp"),
		role:     cfg.Role,
		state:    StateIdle,
		seq:      uint16(g.Intn(0x7fff)), //nolint:gosec
		sourceID: g.Uint32(),
	}, nil
}

// Start sends the discovery Hello and arms its retransmission.
func (e *Engine) Start() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return nil
	}
	e.state = StateNegotiating

	hello := &Hello{Version: ProtocolVersion, ZID: e.cfg.ZID, Algorithms: e.cfg.Preferences}
	e.localHelloRaw = MarshalMessage(hello)

	var evs []Event
	evs = e.sendLocked(evs, e.localHelloRaw, true)
	return evs
}

// Process consumes one incoming control packet and advances the handshake.
func (e *Engine) Process(raw []byte) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed || e.state == StateFailed {
		return nil
	}

	pkt, err := ParsePacket(raw)
	if err != nil {
		e.log.Warnf("dropping control packet: %v", err)
		return []Event{HandshakeWarning{Err: err}}
	}
	msg, err := ParseMessage(pkt.Message)
	if err != nil {
		e.log.Warnf("dropping control message: %v", err)
		return []Event{HandshakeWarning{Err: err}}
	}

	e.log.Debugf("received %q in state %v", string(msg.Type()), e.state)

	switch m := msg.(type) {
	case *Hello:
		return e.onHello(m, pkt.Message)
	case *HelloACK:
		return e.onHelloACK()
	case *Commit:
		return e.onCommit(m, pkt.Message)
	case *DHPart:
		if m.Type() == TypeDHPart1 {
			return e.onDHPart1(m)
		}
		return e.onDHPart2(m)
	case *Confirm:
		if m.Type() == TypeConfirm1 {
			return e.onConfirm1(m)
		}
		return e.onConfirm2(m)
	case *Conf2ACK:
		e.clearRetransmitLocked()
		return nil
	case *ErrorMessage:
		e.log.Warnf("peer reported protocol error 0x%x", m.Code)
		e.state = StateFailed
		e.clearRetransmitLocked()
		return []Event{NegotiationFailed{Code: m.Code}}
	default:
		return []Event{HandshakeWarning{Err: errUnknownMessage}}
	}
}

// HandleTimeout retransmits the outstanding message or abandons the
// handshake once the retry budget is spent. The owner calls this after the
// timer goroutine signalled expiry via OnTimerExpired.
func (e *Engine) HandleTimeout() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed || e.state == StateFailed || e.retransmitMsg == nil {
		return nil
	}

	e.retransmitAttempts++
	if e.retransmitAttempts > e.cfg.RetransmitBudget {
		e.clearRetransmitLocked()
		if e.peerHello == nil {
			// Never heard a Hello back: the peer does not speak the
			// protocol. The owner decides whether to continue in clear.
			e.state = StateFailed
			e.log.Infof("discovery timed out, peer unsupported")
			return []Event{PeerUnsupported{}}
		}
		e.state = StateFailed
		e.log.Warnf("handshake abandoned after %d retransmits", e.cfg.RetransmitBudget)
		return []Event{NegotiationFailed{Code: ErrCodeMalformed}}
	}

	msg := e.retransmitMsg
	e.seq++
	out := (&Packet{SequenceNumber: e.seq, SourceID: e.sourceID, Message: msg}).Marshal()

	e.retransmitInterval *= 2
	if e.retransmitInterval > e.cfg.RetransmitCap {
		e.retransmitInterval = e.cfg.RetransmitCap
	}
	e.armTimerLocked(e.retransmitInterval)

	return []Event{OutgoingMessage{Packet: out}}
}

// Close stops the timer, wipes derived key material and rejects further
// calls. Safe to call concurrently with Process.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return
	}
	e.state = StateClosed
	e.clearRetransmitLocked()
	if e.secrets != nil {
		e.secrets.zero()
	}
	zeroize(e.dhPriv)
}

// State returns the handshake lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SAS returns the short authentication string and its cached verification,
// once the handshake has derived it.
func (e *Engine) SAS() (string, Verification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sas == "" {
		return "", VerificationUnset, false
	}
	return e.sas, e.cfg.SASStore.Get(e.peerZID), true
}

// SetSASVerified records the user's verification outcome for the current
// peer. It persists in the SASStore across engine restarts.
func (e *Engine) SetSASVerified(verified bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peerZID == nil {
		return
	}
	v := VerificationUnverified
	if verified {
		v = VerificationVerified
	}
	e.cfg.SASStore.Set(e.peerZID, v)
}

// message handlers, all called under e.mu

func (e *Engine) onHello(m *Hello, raw []byte) []Event {
	if m.Version != ProtocolVersion {
		e.log.Warnf("peer speaks version %q, want %q", m.Version, ProtocolVersion)
		return e.failLocked(ErrCodeHelloMismatch)
	}

	e.peerHello = m
	e.peerZID = m.ZID
	e.peerHelloRaw = append([]byte(nil), raw...)

	var evs []Event
	evs = e.sendLocked(evs, MarshalMessage(&HelloACK{}), false)

	if e.role == RoleInitiator && e.helloAcked && !e.commitSent {
		evs = e.sendCommitLocked(evs)
	}
	return evs
}

func (e *Engine) onHelloACK() []Event {
	e.helloAcked = true
	e.clearRetransmitLocked()

	if e.role == RoleInitiator && e.peerHello != nil && !e.commitSent {
		return e.sendCommitLocked(nil)
	}
	return nil
}

func (e *Engine) sendCommitLocked(evs []Event) []Event {
	sel, err := negotiate(e.cfg.Preferences, e.peerHello.Algorithms)
	if err != nil {
		e.log.Warnf("negotiation failed: %v", err)
		return append(evs, e.failLocked(ErrCodeUnsupported)...)
	}
	profile, err := sel.ProtectionProfile()
	if err != nil {
		return append(evs, e.failLocked(ErrCodeUnsupported)...)
	}
	if err := e.generateKeyPairLocked(); err != nil {
		e.log.Errorf("DH keypair generation: %v", err)
		return append(evs, e.failLocked(ErrCodeDHError)...)
	}

	e.selected = sel
	e.selected.ZID = e.cfg.ZID
	e.profile = profile

	hvi := sha256.Sum256(e.dhPub)
	commit := &Commit{Selected: e.selected, HVI: hvi[:]}
	e.commitRaw = MarshalMessage(commit)
	e.commitSent = true
	return e.sendLocked(evs, e.commitRaw, true)
}

func (e *Engine) onCommit(m *Commit, raw []byte) []Event {
	if e.peerHello == nil {
		return []Event{HandshakeWarning{Err: &errUnexpectedMessage{State: e.state, Type: TypeCommit}}}
	}

	if e.role == RoleInitiator {
		if !e.commitSent {
			// The peer committed first; yield the initiator role.
			e.role = RoleResponder
		} else if bytes.Compare(m.HVI, e.commitHVILocked()) > 0 {
			// Commit contention: the larger HVI keeps the initiator role,
			// so we step back and process the peer's Commit.
			e.role = RoleResponder
			e.commitSent = false
			e.clearRetransmitLocked()
		} else {
			e.log.Debugf("ignoring contending Commit, we keep the initiator role")
			return nil
		}
	}

	if !e.cfg.Preferences.supports(m.Selected) {
		e.log.Warnf("peer committed to unsupported algorithms")
		return e.failLocked(ErrCodeUnsupported)
	}
	profile, err := m.Selected.ProtectionProfile()
	if err != nil {
		return e.failLocked(ErrCodeUnsupported)
	}
	if err := e.generateKeyPairLocked(); err != nil {
		e.log.Errorf("DH keypair generation: %v", err)
		return e.failLocked(ErrCodeDHError)
	}

	e.selected = m.Selected
	e.profile = profile
	e.commitRaw = append([]byte(nil), raw...)

	return e.sendLocked(nil, MarshalMessage(&DHPart{typ: TypeDHPart1, PublicKey: e.dhPub}), true)
}

func (e *Engine) onDHPart1(m *DHPart) []Event {
	if e.role != RoleInitiator || !e.commitSent {
		return []Event{HandshakeWarning{Err: &errUnexpectedMessage{State: e.state, Type: TypeDHPart1}}}
	}
	if e.secrets != nil {
		// Retransmitted DHPart1; our DHPart2 was lost. Resend it.
		return e.sendLocked(nil, MarshalMessage(&DHPart{typ: TypeDHPart2, PublicKey: e.dhPub}), true)
	}

	if evs := e.deriveLocked(m.PublicKey); evs != nil {
		return evs
	}

	// The initiator can encrypt its own media as soon as the shared secret
	// exists; decryption waits for the responder's Confirm1.
	evs := []Event{SecretsReady{Direction: ForSender, Profile: e.profile, Keys: e.secrets.initiator}}
	return e.sendLocked(evs, MarshalMessage(&DHPart{typ: TypeDHPart2, PublicKey: e.dhPub}), true)
}

func (e *Engine) onDHPart2(m *DHPart) []Event {
	if e.role != RoleResponder || e.commitRaw == nil {
		return []Event{HandshakeWarning{Err: &errUnexpectedMessage{State: e.state, Type: TypeDHPart2}}}
	}
	if e.secrets != nil {
		return e.resendConfirm1Locked()
	}

	hvi := sha256.Sum256(m.PublicKey)
	var commit Commit
	if msg, err := ParseMessage(e.commitRaw); err == nil {
		commit = *(msg.(*Commit)) //nolint:forcetypeassert
	}
	if !bytes.Equal(hvi[:], commit.HVI) {
		e.log.Warnf("DHPart2 public key does not match committed HVI")
		return e.failLocked(ErrCodeDHError)
	}

	if evs := e.deriveLocked(m.PublicKey); evs != nil {
		return evs
	}

	// The responder can decrypt the initiator's media from here on.
	evs := []Event{SecretsReady{Direction: ForReceiver, Profile: e.profile, Keys: e.secrets.initiator}}
	return e.resendConfirm1Locked(evs...)
}

func (e *Engine) resendConfirm1Locked(evs ...Event) []Event {
	confirm := &Confirm{
		typ:             TypeConfirm1,
		MAC:             confirmMAC(e.secrets.responderConfirmKey, e.totalHash),
		SASVerifiedFlag: e.cfg.SASStore.Get(e.peerZID) == VerificationVerified,
	}
	return e.sendLocked(evs, MarshalMessage(confirm), true)
}

func (e *Engine) onConfirm1(m *Confirm) []Event {
	if e.role != RoleInitiator || e.secrets == nil {
		return []Event{HandshakeWarning{Err: &errUnexpectedMessage{State: e.state, Type: TypeConfirm1}}}
	}
	if !bytes.Equal(m.MAC, confirmMAC(e.secrets.responderConfirmKey, e.totalHash)) {
		e.log.Warnf("Confirm1 MAC mismatch")
		return e.failLocked(ErrCodeBadConfirm)
	}

	evs := []Event{SecretsReady{Direction: ForReceiver, Profile: e.profile, Keys: e.secrets.responder}}

	confirm := &Confirm{
		typ:             TypeConfirm2,
		MAC:             confirmMAC(e.secrets.initiatorConfirmKey, e.totalHash),
		SASVerifiedFlag: e.cfg.SASStore.Get(e.peerZID) == VerificationVerified,
	}
	evs = e.sendLocked(evs, MarshalMessage(confirm), true)
	return append(evs, e.secureLocked()...)
}

func (e *Engine) onConfirm2(m *Confirm) []Event {
	if e.role != RoleResponder || e.secrets == nil {
		return []Event{HandshakeWarning{Err: &errUnexpectedMessage{State: e.state, Type: TypeConfirm2}}}
	}
	if !bytes.Equal(m.MAC, confirmMAC(e.secrets.initiatorConfirmKey, e.totalHash)) {
		e.log.Warnf("Confirm2 MAC mismatch")
		return e.failLocked(ErrCodeBadConfirm)
	}
	e.clearRetransmitLocked()

	evs := []Event{SecretsReady{Direction: ForSender, Profile: e.profile, Keys: e.secrets.responder}}
	evs = e.sendLocked(evs, MarshalMessage(&Conf2ACK{}), false)
	return append(evs, e.secureLocked()...)
}

func (e *Engine) secureLocked() []Event {
	if e.state == StateSecure {
		return nil
	}
	e.state = StateSecure
	e.sas = renderSAS(e.secrets.sasValue)
	e.log.Infof("handshake complete, cipher %s/%s, SAS %q", e.selected.Cipher, e.selected.AuthTag, e.sas)
	return []Event{
		SASReady{SAS: e.sas, Verification: e.cfg.SASStore.Get(e.peerZID)},
		SecureEstablished{Cipher: e.selected.Cipher + "/" + e.selected.AuthTag},
	}
}

func (e *Engine) deriveLocked(peerPub []byte) []Event {
	dhResult, err := curve25519.X25519(e.dhPriv, peerPub)
	if err != nil {
		e.log.Warnf("DH computation failed: %v", err)
		return e.failLocked(ErrCodeDHError)
	}
	defer zeroize(dhResult)

	initiatorHello, responderHello := e.localHelloRaw, e.peerHelloRaw
	if e.role == RoleResponder {
		initiatorHello, responderHello = e.peerHelloRaw, e.localHelloRaw
	}

	s0 := deriveS0(dhResult, initiatorHello, responderHello, e.commitRaw)
	defer zeroize(s0)

	h := sha256.New()
	h.Write(initiatorHello)
	h.Write(responderHello)
	h.Write(e.commitRaw)
	e.totalHash = h.Sum(nil)

	secrets, err := deriveSecrets(s0, e.profile)
	if err != nil {
		e.log.Errorf("key derivation: %v", err)
		return e.failLocked(ErrCodeMalformed)
	}
	e.secrets = secrets
	e.state = StateSecretsReady
	return nil
}

func (e *Engine) generateKeyPairLocked() error {
	if e.dhPriv != nil {
		return nil
	}
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return err
	}
	e.dhPriv, e.dhPub = priv, pub
	return nil
}

func (e *Engine) commitHVILocked() []byte {
	hvi := sha256.Sum256(e.dhPub)
	return hvi[:]
}

func (e *Engine) failLocked(code uint32) []Event {
	e.state = StateFailed
	e.clearRetransmitLocked()
	e.seq++
	out := (&Packet{
		SequenceNumber: e.seq,
		SourceID:       e.sourceID,
		Message:        MarshalMessage(&ErrorMessage{Code: code}),
	}).Marshal()
	return []Event{OutgoingMessage{Packet: out}, NegotiationFailed{Code: code}}
}

// sendLocked frames msg with the next sequence number. When retransmit is
// set, the message is retained and the single retransmit timer re-armed,
// replacing any pending one.
func (e *Engine) sendLocked(evs []Event, msg []byte, retransmit bool) []Event {
	e.seq++
	out := (&Packet{SequenceNumber: e.seq, SourceID: e.sourceID, Message: msg}).Marshal()

	if retransmit {
		e.retransmitMsg = msg
		e.retransmitAttempts = 0
		e.retransmitInterval = e.cfg.RetransmitBase
		e.armTimerLocked(e.retransmitInterval)
	}
	return append(evs, OutgoingMessage{Packet: out})
}

func (e *Engine) armTimerLocked(d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.cfg.OnTimerExpired == nil {
		return
	}
	e.timer = time.AfterFunc(d, e.cfg.OnTimerExpired)
}

func (e *Engine) clearRetransmitLocked() {
	e.retransmitMsg = nil
	e.retransmitAttempts = 0
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
