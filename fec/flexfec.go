// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package fec

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

// FlexFEC-03 repair payload, single SSRC:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|0|0| P|X|  CC  |M| PT recovery |         length recovery       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          TS recovery                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|   SSRCCount   |                    reserved                   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                             SSRC_i                            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|           SN base_i           |k|          Mask [0-14]        |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|k|                   Mask [15-45] (optional)                   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|k|                                                             |
//	+-+                   Mask [46-108] (optional)                  |
//	|                                                               |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
const (
	flexfec03BaseHeaderSize = 20
	flexfec03Mask2Size      = 4
	flexfec03Mask3Size      = 8
)

type flexfec03 struct{}

func (flexfec03) name() string { return "flexfec-03" }

func (flexfec03) parse(pkt *rtp.Packet, _ uint32) (*fecHeader, error) {
	p := pkt.Payload
	if len(p) < flexfec03BaseHeaderSize {
		return nil, errHeaderTooShort
	}
	if p[8] != 1 {
		return nil, errMultiSSRC
	}

	hdr := &fecHeader{
		bitsRecovery:   [2]byte{p[0] & 0x3f, p[1]},
		lengthRecovery: binary.BigEndian.Uint16(p[2:4]),
		protectedSSRC:  binary.BigEndian.Uint32(p[12:16]),
	}
	copy(hdr.tsRecovery[:], p[4:8])

	snBase := binary.BigEndian.Uint16(p[16:18])
	headerSize := flexfec03BaseHeaderSize

	mask1 := binary.BigEndian.Uint16(p[18:20])
	appendMaskedSeqs(hdr, snBase, 0, uint64(mask1&0x7fff), 15)

	if mask1&0x8000 == 0 {
		if len(p) < headerSize+flexfec03Mask2Size {
			return nil, errHeaderTooShort
		}
		mask2 := binary.BigEndian.Uint32(p[20:24])
		appendMaskedSeqs(hdr, snBase, 15, uint64(mask2&0x7fffffff), 31)
		headerSize += flexfec03Mask2Size

		if mask2&0x80000000 == 0 {
			if len(p) < headerSize+flexfec03Mask3Size {
				return nil, errHeaderTooShort
			}
			mask3 := binary.BigEndian.Uint64(p[24:32])
			appendMaskedSeqs(hdr, snBase, 46, mask3&^(uint64(1)<<63), 63)
			headerSize += flexfec03Mask3Size
		}
	}

	hdr.payload = append([]byte(nil), p[headerSize:]...)
	if len(hdr.protected) == 0 {
		return nil, errHeaderTooShort
	}
	return hdr, nil
}

// appendMaskedSeqs expands a protection bitmask into sequence numbers.
// Bit fields are MSB first: the highest of the width bits is delta 0.
func appendMaskedSeqs(hdr *fecHeader, snBase uint16, delta int, mask uint64, width int) {
	for j := 0; j < width; j++ {
		if mask>>(width-1-j)&1 == 1 {
			hdr.protected = append(hdr.protected, snBase+uint16(delta+j)) //nolint:gosec
		}
	}
}
