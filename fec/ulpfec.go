// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package fec

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

// ULPFEC (RFC 5109) payload, protection level 0 only:
//
//	FEC header (10 bytes):
//	|E|L|P|X|  CC   |M| PT recovery |            SN base            |
//	|                          TS recovery                          |
//	|        length recovery        |
//	Level 0 header (4 or 8 bytes):
//	|       Protection Length       |             mask              |
//	|              mask cont. (present only when L = 1)             |
//
// ULPFEC carries no protected SSRC on the wire; the media SSRC the
// receiver was created for is used instead.
const (
	ulpfecHeaderSize     = 10
	ulpfecLevelShortSize = 4
	ulpfecLevelLongSize  = 8
)

type ulpfec struct{}

func (ulpfec) name() string { return "ulpfec" }

func (ulpfec) parse(pkt *rtp.Packet, mediaSSRC uint32) (*fecHeader, error) {
	p := pkt.Payload
	if len(p) < ulpfecHeaderSize+ulpfecLevelShortSize {
		return nil, errHeaderTooShort
	}
	if p[0]&0x80 != 0 {
		// E bit is reserved and must be zero.
		return nil, errHeaderTooShort
	}
	longMask := p[0]&0x40 != 0

	hdr := &fecHeader{
		bitsRecovery:   [2]byte{p[0] & 0x3f, p[1]},
		lengthRecovery: binary.BigEndian.Uint16(p[8:10]),
		protectedSSRC:  mediaSSRC,
	}
	copy(hdr.tsRecovery[:], p[4:8])
	snBase := binary.BigEndian.Uint16(p[2:4])

	levelSize := ulpfecLevelShortSize
	if longMask {
		levelSize = ulpfecLevelLongSize
		if len(p) < ulpfecHeaderSize+levelSize {
			return nil, errHeaderTooShort
		}
		mask := uint64(binary.BigEndian.Uint16(p[12:14]))<<32 |
			uint64(binary.BigEndian.Uint32(p[14:18]))
		appendMaskedSeqs(hdr, snBase, 0, mask, 48)
	} else {
		mask := uint64(binary.BigEndian.Uint16(p[12:14]))
		appendMaskedSeqs(hdr, snBase, 0, mask, 16)
	}

	protectionLength := int(binary.BigEndian.Uint16(p[10:12]))
	payload := p[ulpfecHeaderSize+levelSize:]
	if protectionLength > len(payload) {
		return nil, errHeaderTooShort
	}
	hdr.payload = append([]byte(nil), payload[:protectionLength]...)

	if len(hdr.protected) == 0 {
		return nil, errHeaderTooShort
	}
	return hdr, nil
}
