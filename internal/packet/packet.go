// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package packet provides a bounds-checked view over a raw packet buffer.
package packet

import (
	"encoding/binary"
	"errors"
)

var errOutOfRange = errors.New("offset out of packet range")

// Raw is a window (offset+length) over an owned byte buffer. All accessors
// are bounds-checked against the window, never against the backing array.
type Raw struct {
	buf    []byte
	offset int
	length int
}

// New wraps buf[offset : offset+length] without copying.
func New(buf []byte, offset, length int) (*Raw, error) {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return nil, errOutOfRange
	}
	return &Raw{buf: buf, offset: offset, length: length}, nil
}

// FromBytes wraps an entire buffer.
func FromBytes(buf []byte) *Raw {
	return &Raw{buf: buf, length: len(buf)}
}

// Clone copies the window into a freshly owned buffer.
func (r *Raw) Clone() *Raw {
	b := make([]byte, r.length)
	copy(b, r.buf[r.offset:r.offset+r.length])
	return &Raw{buf: b, length: r.length}
}

// Len returns the window length.
func (r *Raw) Len() int { return r.length }

// Bytes returns the window. Callers must not retain it past the lifetime
// of the transport buffer it may alias.
func (r *Raw) Bytes() []byte { return r.buf[r.offset : r.offset+r.length] }

// Byte returns the byte at index i within the window.
func (r *Raw) Byte(i int) (byte, error) {
	if i < 0 || i >= r.length {
		return 0, errOutOfRange
	}
	return r.buf[r.offset+i], nil
}

// Uint16At reads a big-endian uint16 at index i.
func (r *Raw) Uint16At(i int) (uint16, error) {
	if i < 0 || i+2 > r.length {
		return 0, errOutOfRange
	}
	return binary.BigEndian.Uint16(r.buf[r.offset+i:]), nil
}

// Uint32At reads a big-endian uint32 at index i.
func (r *Raw) Uint32At(i int) (uint32, error) {
	if i < 0 || i+4 > r.length {
		return 0, errOutOfRange
	}
	return binary.BigEndian.Uint32(r.buf[r.offset+i:]), nil
}

// Slice returns the sub-window [from, to).
func (r *Raw) Slice(from, to int) ([]byte, error) {
	if from < 0 || to < from || to > r.length {
		return nil, errOutOfRange
	}
	return r.buf[r.offset+from : r.offset+to], nil
}
