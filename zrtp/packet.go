// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package zrtp implements the in-band key agreement protocol used to derive
// SRTP key material over the media path itself (RFC 6189 style framing).
package zrtp

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/jitsi/libjitsi-transform/internal/packet"
)

// Control packets reuse a 12 byte RTP-like framing header. The version bits
// are zero so the packet can never be mistaken for media, and the magic
// cookie sits where an RTP timestamp would.
const (
	// MagicCookie marks a control packet ("ZRTP" in ASCII).
	MagicCookie uint32 = 0x5a525450

	headerSize    = 12
	crcSize       = 4
	minPacketSize = headerSize + crcSize
	cookieStart   = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Packet is one framed control packet: header, message, trailing CRC.
type Packet struct {
	SequenceNumber uint16
	SourceID       uint32
	// Message is the raw message body including its type block.
	Message []byte
}

// IsControlPacket reports whether buf carries the control-protocol framing.
// It only inspects the marker bytes; CRC validation happens in ParsePacket.
func IsControlPacket(buf []byte) bool {
	if len(buf) < minPacketSize {
		return false
	}
	return buf[0] == 0x10 && binary.BigEndian.Uint32(buf[cookieStart:]) == MagicCookie
}

// Marshal frames the message and appends the CRC.
func (p *Packet) Marshal() []byte {
	out := make([]byte, headerSize+len(p.Message)+crcSize)
	out[0] = 0x10
	binary.BigEndian.PutUint16(out[2:], p.SequenceNumber)
	binary.BigEndian.PutUint32(out[cookieStart:], MagicCookie)
	binary.BigEndian.PutUint32(out[8:], p.SourceID)
	copy(out[headerSize:], p.Message)

	crc := crc32.Checksum(out[:len(out)-crcSize], castagnoli)
	binary.BigEndian.PutUint32(out[len(out)-crcSize:], crc)
	return out
}

// ParsePacket validates the framing and CRC of buf and returns the packet.
// The message bytes are copied out of buf.
func ParsePacket(buf []byte) (*Packet, error) {
	raw := packet.FromBytes(buf)
	if raw.Len() < minPacketSize {
		return nil, errPacketTooShort
	}
	if !IsControlPacket(buf) {
		return nil, errNotControlPacket
	}

	body, err := raw.Slice(0, raw.Len()-crcSize)
	if err != nil {
		return nil, err
	}
	want, err := raw.Uint32At(raw.Len() - crcSize)
	if err != nil {
		return nil, err
	}
	if crc32.Checksum(body, castagnoli) != want {
		return nil, ErrBadCRC
	}

	seq, _ := raw.Uint16At(2)
	src, _ := raw.Uint32At(8)
	msg, err := raw.Slice(headerSize, raw.Len()-crcSize)
	if err != nil {
		return nil, err
	}
	out := &Packet{SequenceNumber: seq, SourceID: src, Message: make([]byte, len(msg))}
	copy(out.Message, msg)
	return out, nil
}
