// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package fec

import (
	"encoding/binary"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMediaSSRC = 0x11223344
	testFECSSRC   = 0x55667788
)

func makeMediaPackets(t *testing.T, baseSeq uint16, count int) ([]*rtp.Packet, [][]byte) {
	t.Helper()
	packets := make([]*rtp.Packet, count)
	raws := make([][]byte, count)
	for i := 0; i < count; i++ {
		// Vary payload sizes so length recovery is actually exercised.
		payload := make([]byte, 20+i*7)
		for j := range payload {
			payload[j] = byte(i*31 + j)
		}
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i%2 == 0,
				PayloadType:    96,
				SequenceNumber: baseSeq + uint16(i), //nolint:gosec
				Timestamp:      90000 + uint32(i)*3000,
				SSRC:           testMediaSSRC,
			},
			Payload: payload,
		}
		raw, err := packets[i].Marshal()
		require.NoError(t, err)
		raws[i] = raw
	}
	return packets, raws
}

// encodeFlexFEC03 builds one FlexFEC-03 repair packet protecting media, all
// of which must fit the first 15-bit mask.
func encodeFlexFEC03(t *testing.T, media [][]byte, fecSeq uint16) []byte {
	t.Helper()
	require.NotEmpty(t, media)

	base := binary.BigEndian.Uint16(media[0][2:4])
	maxPayload := 0
	var mask1 uint16
	for _, raw := range media {
		delta := binary.BigEndian.Uint16(raw[2:4]) - base
		require.Less(t, int(delta), 15)
		mask1 |= 1 << (14 - delta)
		if n := len(raw) - rtpHeaderSize; n > maxPayload {
			maxPayload = n
		}
	}

	header := make([]byte, flexfec03BaseHeaderSize)
	repair := make([]byte, maxPayload)
	for _, raw := range media {
		header[0] ^= raw[0]
		header[1] ^= raw[1]
		header[0] &= 0x3f
		length := uint16(len(raw) - rtpHeaderSize) //nolint:gosec
		header[2] ^= byte(length >> 8)
		header[3] ^= byte(length)
		for i := 4; i < 8; i++ {
			header[i] ^= raw[i]
		}
		for i, b := range raw[rtpHeaderSize:] {
			repair[i] ^= b
		}
	}
	header[8] = 1
	binary.BigEndian.PutUint32(header[12:16], testMediaSSRC)
	binary.BigEndian.PutUint16(header[16:18], base)
	binary.BigEndian.PutUint16(header[18:20], mask1|0x8000)

	fecPkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    115,
			SequenceNumber: fecSeq,
			Timestamp:      54243243,
			SSRC:           testFECSSRC,
		},
		Payload: append(header, repair...),
	}
	raw, err := fecPkt.Marshal()
	require.NoError(t, err)
	return raw
}

// encodeULPFEC builds one ULPFEC repair packet with a single level-0
// header and a 16-bit mask.
func encodeULPFEC(t *testing.T, media [][]byte, fecSeq uint16) []byte {
	t.Helper()
	require.NotEmpty(t, media)

	base := binary.BigEndian.Uint16(media[0][2:4])
	maxPayload := 0
	var mask uint16
	for _, raw := range media {
		delta := binary.BigEndian.Uint16(raw[2:4]) - base
		require.Less(t, int(delta), 16)
		mask |= 1 << (15 - delta)
		if n := len(raw) - rtpHeaderSize; n > maxPayload {
			maxPayload = n
		}
	}

	header := make([]byte, ulpfecHeaderSize+ulpfecLevelShortSize)
	repair := make([]byte, maxPayload)
	for _, raw := range media {
		header[0] ^= raw[0]
		header[1] ^= raw[1]
		header[0] &= 0x3f
		for i := 4; i < 8; i++ {
			header[i] ^= raw[i]
		}
		length := uint16(len(raw) - rtpHeaderSize) //nolint:gosec
		header[8] ^= byte(length >> 8)
		header[9] ^= byte(length)
		for i, b := range raw[rtpHeaderSize:] {
			repair[i] ^= b
		}
	}
	binary.BigEndian.PutUint16(header[2:4], base)
	binary.BigEndian.PutUint16(header[10:12], uint16(maxPayload)) //nolint:gosec
	binary.BigEndian.PutUint16(header[12:14], mask)

	fecPkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    117,
			SequenceNumber: fecSeq,
			Timestamp:      1234,
			SSRC:           testFECSSRC,
		},
		Payload: append(header, repair...),
	}
	raw, err := fecPkt.Marshal()
	require.NoError(t, err)
	return raw
}

func TestFlexFECRecoversAnyMissingPacket(t *testing.T) {
	_, raws := makeMediaPackets(t, 2000, 8)
	fecRaw := encodeFlexFEC03(t, raws, 500)

	for missing := range raws {
		receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
		for i, raw := range raws {
			if i == missing {
				continue
			}
			receiver.Insert(raw)
		}
		receiver.Insert(fecRaw)

		recovered := receiver.Recover()
		require.Lenf(t, recovered, 1, "packet %d must be recoverable", missing)

		got, err := recovered[0].Marshal()
		require.NoError(t, err)
		assert.Equalf(t, raws[missing], got, "recovered packet %d must be byte-identical", missing)
		receiver.Close()
	}
}

func TestULPFECRecoversAnyMissingPacket(t *testing.T) {
	_, raws := makeMediaPackets(t, 777, 6)
	fecRaw := encodeULPFEC(t, raws, 42)

	for missing := range raws {
		receiver := NewULPFECReceiver(testMediaSSRC, testFECSSRC)
		for i, raw := range raws {
			if i == missing {
				continue
			}
			receiver.Insert(raw)
		}
		receiver.Insert(fecRaw)

		recovered := receiver.Recover()
		require.Lenf(t, recovered, 1, "packet %d must be recoverable", missing)

		got, err := recovered[0].Marshal()
		require.NoError(t, err)
		assert.Equal(t, raws[missing], got)
		receiver.Close()
	}
}

func TestFECCompleteSetYieldsNothing(t *testing.T) {
	_, raws := makeMediaPackets(t, 300, 5)
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
	defer receiver.Close()

	for _, raw := range raws {
		receiver.Insert(raw)
	}
	receiver.Insert(encodeFlexFEC03(t, raws, 9))

	assert.Empty(t, receiver.Recover())
	// The FEC packet was evaluated and discarded; it is never reevaluated.
	assert.Empty(t, receiver.fecBuf)
}

func TestFECRefusesWithTwoMissing(t *testing.T) {
	_, raws := makeMediaPackets(t, 100, 10)
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
	defer receiver.Close()

	for i, raw := range raws {
		if i == 4 || i == 5 {
			continue
		}
		receiver.Insert(raw)
	}
	before := receiver.media.len()
	receiver.Insert(encodeFlexFEC03(t, raws, 77))

	assert.Empty(t, receiver.Recover())
	assert.Empty(t, receiver.fecBuf)
	// Neither missing packet appeared and nothing else was disturbed.
	assert.Equal(t, before, receiver.media.len())
	_, ok := receiver.media.get(104)
	assert.False(t, ok)
	_, ok = receiver.media.get(105)
	assert.False(t, ok)
}

func TestEndToEndScenario(t *testing.T) {
	// Ten sequential packets 100..109 plus one FEC packet protecting all
	// of them; packet 105 vanishes from the buffer before evaluation.
	_, raws := makeMediaPackets(t, 100, 10)
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
	defer receiver.Close()

	for _, raw := range raws {
		receiver.Insert(raw)
	}
	receiver.media.delete(105)

	recovered := receiver.ProcessBatch([][]byte{encodeFlexFEC03(t, raws, 1000)})
	require.Len(t, recovered, 1)
	assert.Equal(t, uint16(105), recovered[0].Header.SequenceNumber)
	assert.Equal(t, uint32(testMediaSSRC), recovered[0].Header.SSRC)

	got, err := recovered[0].Marshal()
	require.NoError(t, err)
	assert.Equal(t, raws[5], got)

	// The recovered packet joined the media buffer.
	_, ok := receiver.media.get(105)
	assert.True(t, ok)
}

func TestRecoveredPacketFeedsLaterRecovery(t *testing.T) {
	// Recovery output goes back into the media buffer, so a second FEC
	// packet arriving later can build on it.
	_, raws := makeMediaPackets(t, 600, 4)
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
	defer receiver.Close()

	for i, raw := range raws {
		if i == 2 {
			continue
		}
		receiver.Insert(raw)
	}
	receiver.Insert(encodeFlexFEC03(t, raws, 31))
	require.Len(t, receiver.Recover(), 1)

	// Same protection set again: now complete, nothing more to do.
	receiver.Insert(encodeFlexFEC03(t, raws, 32))
	assert.Empty(t, receiver.Recover())
}

func TestMediaBufferEvictsOldest(t *testing.T) {
	buf := newSequenceBuffer(4)
	for seq := uint16(10); seq < 15; seq++ {
		buf.put(seq, []byte{byte(seq)})
	}

	assert.Equal(t, 4, buf.len())
	_, ok := buf.get(10)
	assert.False(t, ok, "oldest entry must be evicted")
	for seq := uint16(11); seq < 15; seq++ {
		_, ok := buf.get(seq)
		assert.Truef(t, ok, "seq %d must survive", seq)
	}
}

func TestMediaBufferOverwriteDoesNotGrow(t *testing.T) {
	buf := newSequenceBuffer(4)
	buf.put(1, []byte{1})
	buf.put(1, []byte{2})
	assert.Equal(t, 1, buf.len())
	p, ok := buf.get(1)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, p)
}

func TestMediaBufferOwnsItsCopies(t *testing.T) {
	buf := newSequenceBuffer(4)
	transport := []byte{1, 2, 3}
	buf.put(7, transport)
	transport[0] = 99

	stored, ok := buf.get(7)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, stored)
}

func TestFECBufferBounded(t *testing.T) {
	_, raws := makeMediaPackets(t, 0, 3)
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC, WithFECCapacity(2))
	defer receiver.Close()

	for i := 0; i < 5; i++ {
		receiver.Insert(encodeFlexFEC03(t, raws, uint16(i))) //nolint:gosec
	}
	assert.Len(t, receiver.fecBuf, 2)
	assert.Equal(t, uint16(3), receiver.fecBuf[0].seq)
	assert.Equal(t, uint16(4), receiver.fecBuf[1].seq)
}

func TestMalformedFECDropped(t *testing.T) {
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
	defer receiver.Close()

	short := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 115, SequenceNumber: 1, SSRC: testFECSSRC},
		Payload: make([]byte, 8),
	}
	raw, err := short.Marshal()
	require.NoError(t, err)
	receiver.Insert(raw)
	assert.Empty(t, receiver.fecBuf)

	multi := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 115, SequenceNumber: 2, SSRC: testFECSSRC},
		Payload: make([]byte, flexfec03BaseHeaderSize+10),
	}
	multi.Payload[8] = 2 // two protected SSRCs
	raw, err = multi.Marshal()
	require.NoError(t, err)
	receiver.Insert(raw)
	assert.Empty(t, receiver.fecBuf)
}

func TestUnrelatedSSRCIgnored(t *testing.T) {
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
	defer receiver.Close()

	other := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 3, SSRC: 0x999},
		Payload: []byte{1, 2, 3},
	}
	raw, err := other.Marshal()
	require.NoError(t, err)
	receiver.Insert(raw)

	assert.Equal(t, 0, receiver.media.len())
	assert.Empty(t, receiver.fecBuf)
}

func TestClosedReceiverNoOps(t *testing.T) {
	_, raws := makeMediaPackets(t, 50, 2)
	receiver := NewFlexFECReceiver(testMediaSSRC, testFECSSRC)
	receiver.Close()

	receiver.Insert(raws[0])
	assert.Equal(t, 0, receiver.media.len())
	assert.Nil(t, receiver.Recover())
}
