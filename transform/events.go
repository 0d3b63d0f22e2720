// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

// Severity classifies a security event. Sinks are expected to match on it
// exhaustively; there is no open-ended subclassing.
type Severity int

// Severities.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeveritySevere
	SeverityProtocolError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeveritySevere:
		return "severe"
	case SeverityProtocolError:
		return "protocol-error"
	default:
		return "unknown"
	}
}

// Code identifies what happened.
type Code int

// Event codes.
const (
	CodeNegotiationStarted Code = iota + 1
	CodeSecureOn
	CodeSASAvailable
	CodeCRCMismatch
	CodeMalformedControlPacket
	CodeDecryptFailed
	CodeRetransmitTimeout
	CodeNegotiationFailed
	CodePeerUnsupported
	CodeEncryptionRequired
	CodeContextFailed
)

func (c Code) String() string {
	switch c {
	case CodeNegotiationStarted:
		return "negotiation-started"
	case CodeSecureOn:
		return "secure-on"
	case CodeSASAvailable:
		return "sas-available"
	case CodeCRCMismatch:
		return "crc-mismatch"
	case CodeMalformedControlPacket:
		return "malformed-control-packet"
	case CodeDecryptFailed:
		return "decrypt-failed"
	case CodeRetransmitTimeout:
		return "retransmit-timeout"
	case CodeNegotiationFailed:
		return "negotiation-failed"
	case CodePeerUnsupported:
		return "peer-unsupported"
	case CodeEncryptionRequired:
		return "encryption-required"
	case CodeContextFailed:
		return "context-failed"
	default:
		return "unknown"
	}
}

// Event is one typed security notification. Only the fields relevant to the
// Code are populated.
type Event struct {
	Severity Severity
	Code     Code

	// Cipher is set for CodeSecureOn.
	Cipher string
	// SAS and SASVerified are set for CodeSASAvailable.
	SAS         string
	SASVerified bool
	// Err carries detail for warnings and errors.
	Err error
}

// EventSink receives security events. Implementations must not call back
// into the emitting engine; events are delivered under the engine's lock.
type EventSink interface {
	OnSecurityEvent(Event)
}
