// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package fec reconstructs lost RTP packets from XOR parity packets on the
// receive side. FlexFEC-03 and ULPFEC (RFC 5109, level 0) layouts are
// supported; the wire differences live in per-scheme parsers feeding one
// shared recovery routine.
package fec

import (
	"encoding/binary"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/transport/v3/utils/xor"
)

// Default buffer capacities. Oldest entries are evicted on overflow.
const (
	DefaultMediaCapacity = 64
	DefaultFECCapacity   = 32

	rtpHeaderSize    = 12
	maxRecoveredSize = 1500
)

// fecHeader is the scheme-independent result of parsing one FEC packet:
// which sequence numbers it protects and the XOR seed material.
type fecHeader struct {
	protected     []uint16
	protectedSSRC uint32

	// bitsRecovery is the XOR of every protected packet's first two header
	// bytes with the version bits cleared.
	bitsRecovery   [2]byte
	lengthRecovery uint16
	tsRecovery     [4]byte
	payload        []byte
}

type scheme interface {
	name() string
	parse(pkt *rtp.Packet, mediaSSRC uint32) (*fecHeader, error)
}

// Receiver buffers recent media and FEC packets for one protected stream
// and reconstructs missing media packets when exactly one protected packet
// is absent. It owns its buffers; inserted packets are copied, never
// aliased to transport buffers.
type Receiver struct {
	mu sync.Mutex

	log       logging.LeveledLogger
	mediaSSRC uint32
	fecSSRC   uint32

	media  *sequenceBuffer
	fecBuf []*bufferedFEC
	fecCap int

	scheme scheme
	closed bool
}

type bufferedFEC struct {
	seq uint16
	hdr *fecHeader
}

// Option tunes a Receiver.
type Option func(*Receiver)

// WithMediaCapacity bounds the media packet buffer.
func WithMediaCapacity(n int) Option {
	return func(r *Receiver) {
		if n > 0 {
			r.media = newSequenceBuffer(n)
		}
	}
}

// WithFECCapacity bounds the FEC packet buffer.
func WithFECCapacity(n int) Option {
	return func(r *Receiver) {
		if n > 0 {
			r.fecCap = n
		}
	}
}

// WithLoggerFactory overrides the default logger.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(r *Receiver) {
		if f != nil {
			r.log = f.NewLogger("fec")
		}
	}
}

// NewFlexFECReceiver creates a receiver for a FlexFEC-03 repair stream
// protecting mediaSSRC.
func NewFlexFECReceiver(mediaSSRC, fecSSRC uint32, opts ...Option) *Receiver {
	return newReceiver(flexfec03{}, mediaSSRC, fecSSRC, opts...)
}

// NewULPFECReceiver creates a receiver for a ULPFEC repair stream
// protecting mediaSSRC.
func NewULPFECReceiver(mediaSSRC, fecSSRC uint32, opts ...Option) *Receiver {
	return newReceiver(ulpfec{}, mediaSSRC, fecSSRC, opts...)
}

func newReceiver(s scheme, mediaSSRC, fecSSRC uint32, opts ...Option) *Receiver {
	r := &Receiver{
		log:       logging.NewDefaultLoggerFactory().NewLogger("fec"),
		mediaSSRC: mediaSSRC,
		fecSSRC:   fecSSRC,
		media:     newSequenceBuffer(DefaultMediaCapacity),
		fecCap:    DefaultFECCapacity,
		scheme:    s,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert routes one raw packet into the media or FEC buffer by SSRC.
// Packets for unrelated SSRCs are ignored.
func (r *Receiver) Insert(raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	var header rtp.Header
	if _, err := header.Unmarshal(raw); err != nil {
		r.log.Warnf("dropping unparseable packet: %v", err)
		return
	}

	switch header.SSRC {
	case r.mediaSSRC:
		r.media.put(header.SequenceNumber, raw)
	case r.fecSSRC:
		r.insertFECLocked(&header, raw)
	default:
		r.log.Tracef("ignoring packet for unrelated ssrc %d", header.SSRC)
	}
}

func (r *Receiver) insertFECLocked(header *rtp.Header, raw []byte) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		r.log.Warnf("dropping unparseable FEC packet: %v", err)
		return
	}
	hdr, err := r.scheme.parse(pkt, r.mediaSSRC)
	if err != nil {
		r.log.Errorf("dropping FEC packet seq %d: %v",
			header.SequenceNumber, &errMalformedFEC{Scheme: r.scheme.name(), Reason: err})
		return
	}

	if len(r.fecBuf) >= r.fecCap {
		r.fecBuf = r.fecBuf[1:]
	}
	r.fecBuf = append(r.fecBuf, &bufferedFEC{seq: header.SequenceNumber, hdr: hdr})
}

// Recover evaluates every buffered FEC packet against the media buffer once
// and returns the packets it reconstructed. Each FEC packet is evaluated at
// most once: complete, recovered or failed, it leaves the buffer. Call this
// once per batch of inserted packets; a single call may yield zero, one or
// several recovered packets.
func (r *Receiver) Recover() []*rtp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	var recovered []*rtp.Packet
	pending := r.fecBuf
	r.fecBuf = nil

	for _, f := range pending {
		missing, missingCount := r.findMissingLocked(f.hdr)
		switch {
		case missingCount == 0:
			r.log.Tracef("FEC seq %d complete, nothing to recover", f.seq)
		case missingCount > 1:
			r.log.Debugf("FEC seq %d unrecoverable, %d packets missing", f.seq, missingCount)
		default:
			pkt, err := r.recoverLocked(f.hdr, missing)
			if err != nil {
				r.log.Errorf("recovery of seq %d via FEC seq %d failed: %v", missing, f.seq, err)
				continue
			}
			raw, err := pkt.Marshal()
			if err != nil {
				r.log.Errorf("marshal of recovered seq %d failed: %v", missing, err)
				continue
			}
			r.media.put(missing, raw)
			recovered = append(recovered, pkt)
			r.log.Debugf("recovered media packet seq %d from FEC seq %d", missing, f.seq)
		}
	}
	return recovered
}

// ProcessBatch inserts a batch of raw packets and runs one recovery pass.
func (r *Receiver) ProcessBatch(raws [][]byte) []*rtp.Packet {
	for _, raw := range raws {
		r.Insert(raw)
	}
	return r.Recover()
}

// Close drops all buffered packets. Safe to call concurrently with Insert
// and Recover; in-flight operations observe the closed state and no-op.
func (r *Receiver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.media.reset()
	r.fecBuf = nil
}

func (r *Receiver) findMissingLocked(hdr *fecHeader) (uint16, int) {
	var missing uint16
	count := 0
	for _, seq := range hdr.protected {
		if _, ok := r.media.get(seq); !ok {
			missing = seq
			count++
		}
	}
	return missing, count
}

// recoverLocked rebuilds the one missing packet: seed the buffer with the
// FEC packet's recovery fields, XOR every present protected packet back out,
// then fix up the fields the XOR cannot carry (version, sequence number,
// SSRC, true length).
func (r *Receiver) recoverLocked(hdr *fecHeader, missing uint16) (*rtp.Packet, error) {
	buf := make([]byte, maxRecoveredSize)
	if len(hdr.payload) > len(buf)-rtpHeaderSize {
		return nil, errPayloadTooLarge
	}

	buf[0], buf[1] = hdr.bitsRecovery[0], hdr.bitsRecovery[1]
	copy(buf[4:8], hdr.tsRecovery[:])
	copy(buf[rtpHeaderSize:], hdr.payload)
	length := hdr.lengthRecovery

	for _, seq := range hdr.protected {
		if seq == missing {
			continue
		}
		p, ok := r.media.get(seq)
		if !ok {
			return nil, errProtectedMissing
		}
		if len(p) < rtpHeaderSize {
			return nil, errShortMediaPacket
		}
		buf[0] ^= p[0]
		buf[1] ^= p[1]
		length ^= uint16(len(p) - rtpHeaderSize) //nolint:gosec
		xorBytes(buf[4:8], p[4:8])
		xorBytes(buf[rtpHeaderSize:], p[rtpHeaderSize:])
	}

	// Every summed packet shares version 2, so the XOR left garbage in the
	// top bits. Force them back.
	buf[0] = buf[0]&0x3f | 0x80
	binary.BigEndian.PutUint16(buf[2:4], missing)
	binary.BigEndian.PutUint32(buf[8:12], hdr.protectedSSRC)

	total := rtpHeaderSize + int(length)
	if total > len(buf) {
		return nil, errRecoveredTooLong
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf[:total]); err != nil {
		return nil, err
	}
	return pkt, nil
}

// xorBytes xors src into dst in place, bounded by the shorter slice, and
// returns the number of bytes written.
func xorBytes(dst, src []byte) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	return xor.XorBytes(dst[:n], dst[:n], src[:n])
}

// sequenceBuffer is a bounded seq number -> packet map with strict
// oldest-first eviction. Values are owned copies.
type sequenceBuffer struct {
	capacity int
	order    []uint16
	packets  map[uint16][]byte
}

func newSequenceBuffer(capacity int) *sequenceBuffer {
	return &sequenceBuffer{
		capacity: capacity,
		packets:  make(map[uint16][]byte, capacity),
	}
}

func (b *sequenceBuffer) put(seq uint16, pkt []byte) {
	owned := make([]byte, len(pkt))
	copy(owned, pkt)

	if _, ok := b.packets[seq]; ok {
		b.packets[seq] = owned
		return
	}
	if len(b.order) >= b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.packets, oldest)
	}
	b.order = append(b.order, seq)
	b.packets[seq] = owned
}

func (b *sequenceBuffer) get(seq uint16) ([]byte, bool) {
	p, ok := b.packets[seq]
	return p, ok
}

func (b *sequenceBuffer) len() int {
	return len(b.order)
}

func (b *sequenceBuffer) reset() {
	b.order = nil
	b.packets = make(map[uint16][]byte)
}

// delete removes a single entry. Exposed for tests that withhold packets.
func (b *sequenceBuffer) delete(seq uint16) {
	for i, s := range b.order {
		if s == seq {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	delete(b.packets, seq)
}
