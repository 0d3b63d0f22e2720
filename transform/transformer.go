// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package transform gates RTP and RTCP packets through the security layer.
// Callers see plain RTP in and out; key agreement, SRTP context management
// and control packet consumption happen behind the PacketTransformer
// interface.
package transform

// PacketTransformer transforms packets on their way to and from the
// network. A nil packet with a nil error means the packet was consumed by
// the security layer (control packet) or intentionally dropped (muted
// stream, failed authentication) and must not be forwarded.
type PacketTransformer interface {
	// TransformRTP protects one outgoing RTP packet.
	TransformRTP(pkt []byte) ([]byte, error)
	// ReverseTransformRTP unprotects one incoming RTP packet.
	ReverseTransformRTP(pkt []byte) ([]byte, error)
	// TransformRTCP protects one outgoing RTCP compound packet.
	TransformRTCP(pkt []byte) ([]byte, error)
	// ReverseTransformRTCP unprotects one incoming RTCP compound packet.
	ReverseTransformRTCP(pkt []byte) ([]byte, error)

	Close() error
}
