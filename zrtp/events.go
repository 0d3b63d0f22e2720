// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import "github.com/pion/srtp/v3"

// Direction selects which half of the transform pipeline a negotiated
// secret applies to. Initiator and responder complete the two directions at
// different protocol steps, so the engine reports them independently.
type Direction int

// Directions.
const (
	ForSender Direction = iota + 1
	ForReceiver
)

func (d Direction) String() string {
	switch d {
	case ForSender:
		return "sender"
	case ForReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Event is the engine's output. The engine never calls back into its owner;
// every Start/Process/HandleTimeout call returns the events it produced and
// the owner consumes them in its own serialized processing loop.
type Event interface {
	isEvent()
}

// OutgoingMessage is a fully framed control packet to hand to the transport
// unencrypted.
type OutgoingMessage struct {
	Packet []byte
}

// SecretsReady publishes one direction's SRTP key material.
type SecretsReady struct {
	Direction Direction
	Profile   srtp.ProtectionProfile
	Keys      KeyMaterial
}

// SASReady surfaces the short authentication string once it is computable.
type SASReady struct {
	SAS          string
	Verification Verification
}

// SecureEstablished signals that the handshake completed for this endpoint.
type SecureEstablished struct {
	Cipher string
}

// HandshakeWarning reports a dropped packet or ignored message. Processing
// continues.
type HandshakeWarning struct {
	Err error
}

// NegotiationFailed reports an abandoned handshake with a protocol code.
type NegotiationFailed struct {
	Code uint32
}

// PeerUnsupported reports that the peer never answered the discovery
// message; it likely does not speak the protocol.
type PeerUnsupported struct{}

func (OutgoingMessage) isEvent()   {}
func (SecretsReady) isEvent()      {}
func (SASReady) isEvent()          {}
func (SecureEstablished) isEvent() {}
func (HandshakeWarning) isEvent()  {}
func (NegotiationFailed) isEvent() {}
func (PeerUnsupported) isEvent()   {}
