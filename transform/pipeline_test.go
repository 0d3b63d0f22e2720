// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transform

import (
	"encoding/binary"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitsi/libjitsi-transform/fec"
)

const (
	pipelineMediaSSRC = 0xcafebabe
	pipelineFECSSRC   = 0x00000fec
)

// encodeFlexFEC builds one FlexFEC-03 repair packet over media, enough for
// single-loss recovery in the pipeline test.
func encodeFlexFEC(t *testing.T, media [][]byte, fecSeq uint16) []byte {
	t.Helper()
	base := binary.BigEndian.Uint16(media[0][2:4])
	maxPayload := 0
	var mask uint16
	for _, raw := range media {
		delta := binary.BigEndian.Uint16(raw[2:4]) - base
		require.Less(t, int(delta), 15)
		mask |= 1 << (14 - delta)
		if n := len(raw) - 12; n > maxPayload {
			maxPayload = n
		}
	}

	header := make([]byte, 20)
	repair := make([]byte, maxPayload)
	for _, raw := range media {
		header[0] ^= raw[0] & 0x3f
		header[1] ^= raw[1]
		length := uint16(len(raw) - 12) //nolint:gosec
		header[2] ^= byte(length >> 8)
		header[3] ^= byte(length)
		for i := 4; i < 8; i++ {
			header[i] ^= raw[i]
		}
		for i, b := range raw[12:] {
			repair[i] ^= b
		}
	}
	header[8] = 1
	binary.BigEndian.PutUint32(header[12:16], pipelineMediaSSRC)
	binary.BigEndian.PutUint16(header[16:18], base)
	binary.BigEndian.PutUint16(header[18:20], mask|0x8000)

	raw, err := (&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    115,
			SequenceNumber: fecSeq,
			Timestamp:      777,
			SSRC:           pipelineFECSSRC,
		},
		Payload: append(header, repair...),
	}).Marshal()
	require.NoError(t, err)
	return raw
}

func TestPipelineRecoversLostPacketThroughSRTP(t *testing.T) {
	sender, receiver := newSDESPair(t, CryptoSuiteAesCm128HmacSha1_80, 30)
	defer sender.Close() //nolint:errcheck

	pipeline := NewReceivePipeline(receiver,
		fec.NewFlexFECReceiver(pipelineMediaSSRC, pipelineFECSSRC))
	defer pipeline.Close() //nolint:errcheck

	media := make([][]byte, 5)
	for i := range media {
		media[i] = makeRTPPacket(t, uint16(100+i)) //nolint:gosec
	}
	fecRaw := encodeFlexFEC(t, media, 1)

	// Protect everything, then lose packet 102 on the wire.
	var batch [][]byte
	for i, raw := range media {
		if i == 2 {
			continue
		}
		enc, err := sender.TransformRTP(raw)
		require.NoError(t, err)
		batch = append(batch, enc)
	}
	encFEC, err := sender.TransformRTP(fecRaw)
	require.NoError(t, err)
	batch = append(batch, encFEC)

	out := pipeline.ProcessIncoming(batch)
	// Four surviving media packets, the FEC packet, and the recovered one.
	require.Len(t, out, 6)
	assert.Equal(t, media[2], out[len(out)-1])
}

func TestPipelineWithoutFECPassesThrough(t *testing.T) {
	sender, receiver := newSDESPair(t, CryptoSuiteAesCm128HmacSha1_80, 30)
	defer sender.Close() //nolint:errcheck

	pipeline := NewReceivePipeline(receiver, nil)
	defer pipeline.Close() //nolint:errcheck

	clear := makeRTPPacket(t, 50)
	enc, err := sender.TransformRTP(clear)
	require.NoError(t, err)

	out := pipeline.ProcessIncoming([][]byte{enc, []byte{0xde, 0xad}})
	require.Len(t, out, 1, "undecryptable input is dropped")
	assert.Equal(t, clear, out[0])
}
