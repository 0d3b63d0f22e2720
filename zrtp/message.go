// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import (
	"encoding/binary"
)

// MessageType is the 8 byte ASCII type of a control message, space padded.
type MessageType string

// Message types exchanged during a handshake.
const (
	TypeHello    MessageType = "Hello   "
	TypeHelloACK MessageType = "HelloACK"
	TypeCommit   MessageType = "Commit  "
	TypeDHPart1  MessageType = "DHPart1 "
	TypeDHPart2  MessageType = "DHPart2 "
	TypeConfirm1 MessageType = "Confirm1"
	TypeConfirm2 MessageType = "Confirm2"
	TypeConf2ACK MessageType = "Conf2ACK"
	TypeError    MessageType = "Error   "
)

const (
	messagePreamble uint16 = 0x505a
	typeBlockSize          = 12 // preamble + length + type
	zidSize                = 12
	wordSize               = 4
	pubKeySize             = 32
	hviSize                = 32
	confirmMACSize         = 8

	// ProtocolVersion travels in every Hello.
	ProtocolVersion = "1.10"
)

// Message is one self-delimited control message body.
type Message interface {
	Type() MessageType
	marshalBody() []byte
	unmarshalBody(body []byte) error
}

// MarshalMessage prepends the type block (preamble, length in 32-bit words,
// type) to the message body.
func MarshalMessage(m Message) []byte {
	body := m.marshalBody()
	out := make([]byte, typeBlockSize+len(body))
	binary.BigEndian.PutUint16(out[0:], messagePreamble)
	binary.BigEndian.PutUint16(out[2:], uint16(len(out)/wordSize)) //nolint:gosec
	copy(out[4:], string(m.Type()))
	copy(out[typeBlockSize:], body)
	return out
}

// ParseMessage decodes a message from its type block onward. Bodies must be
// a whole number of 32-bit words; the length field must cover the buffer.
func ParseMessage(buf []byte) (Message, error) {
	if len(buf) < typeBlockSize {
		return nil, errTruncatedMessage
	}
	if binary.BigEndian.Uint16(buf) != messagePreamble {
		return nil, errBadPreamble
	}
	if int(binary.BigEndian.Uint16(buf[2:]))*wordSize != len(buf) || len(buf)%wordSize != 0 {
		return nil, errBadLength
	}

	var msg Message
	switch MessageType(buf[4:typeBlockSize]) {
	case TypeHello:
		msg = &Hello{}
	case TypeHelloACK:
		msg = &HelloACK{}
	case TypeCommit:
		msg = &Commit{}
	case TypeDHPart1:
		msg = &DHPart{typ: TypeDHPart1}
	case TypeDHPart2:
		msg = &DHPart{typ: TypeDHPart2}
	case TypeConfirm1:
		msg = &Confirm{typ: TypeConfirm1}
	case TypeConfirm2:
		msg = &Confirm{typ: TypeConfirm2}
	case TypeConf2ACK:
		msg = &Conf2ACK{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, errUnknownMessage
	}
	if err := msg.unmarshalBody(buf[typeBlockSize:]); err != nil {
		return nil, err
	}
	return msg, nil
}

// Hello advertises the sender's identity and ordered algorithm preferences.
type Hello struct {
	Version string // 4 ASCII bytes
	ZID     []byte // 12 bytes
	Algorithms
}

// Algorithms carries the five ordered preference lists of a Hello, each
// entry a 4 byte ASCII token.
type Algorithms struct {
	Hashes        []string
	Ciphers       []string
	AuthTags      []string
	KeyAgreements []string
	SASTypes      []string
}

func (h *Hello) Type() MessageType { return TypeHello }

func (h *Hello) marshalBody() []byte {
	lists := [][]string{h.Hashes, h.Ciphers, h.AuthTags, h.KeyAgreements, h.SASTypes}
	n := wordSize + zidSize + 2*wordSize
	for _, l := range lists {
		n += len(l) * wordSize
	}
	out := make([]byte, n)
	copy(out, h.Version)
	copy(out[wordSize:], h.ZID)
	off := wordSize + zidSize
	for i, l := range lists {
		out[off+i] = byte(len(l))
	}
	off += 2 * wordSize
	for _, l := range lists {
		for _, word := range l {
			copy(out[off:], word)
			off += wordSize
		}
	}
	return out
}

func (h *Hello) unmarshalBody(body []byte) error {
	fixed := wordSize + zidSize + 2*wordSize
	if len(body) < fixed {
		return errTruncatedMessage
	}
	h.Version = string(body[:wordSize])
	h.ZID = append([]byte(nil), body[wordSize:wordSize+zidSize]...)

	counts := body[wordSize+zidSize:]
	lists := make([][]string, 5)
	off := fixed
	for i := range lists {
		cnt := int(counts[i])
		if off+cnt*wordSize > len(body) {
			return errTruncatedMessage
		}
		lists[i] = make([]string, cnt)
		for j := 0; j < cnt; j++ {
			lists[i][j] = string(body[off : off+wordSize])
			off += wordSize
		}
	}
	h.Hashes, h.Ciphers, h.AuthTags, h.KeyAgreements, h.SASTypes =
		lists[0], lists[1], lists[2], lists[3], lists[4]
	return nil
}

// HelloACK acknowledges a Hello and stops its retransmission.
type HelloACK struct{}

func (*HelloACK) Type() MessageType   { return TypeHelloACK }
func (*HelloACK) marshalBody() []byte { return nil }
func (*HelloACK) unmarshalBody(b []byte) error {
	if len(b) != 0 {
		return errBadLength
	}
	return nil
}

// Commit announces the initiator role and the chosen algorithm per list,
// committing to the initiator's key half via HVI before DH material flows.
type Commit struct {
	Selected Selected
	HVI      []byte // 32 bytes, SHA-256 of the initiator's public key
}

// Selected names one chosen algorithm per negotiated component, plus the
// committing endpoint's ZID.
type Selected struct {
	ZID          []byte
	Hash         string
	Cipher       string
	AuthTag      string
	KeyAgreement string
	SAS          string
}

func (c *Commit) Type() MessageType { return TypeCommit }

func (c *Commit) marshalBody() []byte {
	out := make([]byte, zidSize+5*wordSize+hviSize)
	copy(out, c.Selected.ZID)
	off := zidSize
	for _, w := range []string{c.Selected.Hash, c.Selected.Cipher, c.Selected.AuthTag, c.Selected.KeyAgreement, c.Selected.SAS} {
		copy(out[off:], w)
		off += wordSize
	}
	copy(out[off:], c.HVI)
	return out
}

func (c *Commit) unmarshalBody(body []byte) error {
	if len(body) != zidSize+5*wordSize+hviSize {
		return errBadLength
	}
	c.Selected.ZID = append([]byte(nil), body[:zidSize]...)
	off := zidSize
	fields := []*string{&c.Selected.Hash, &c.Selected.Cipher, &c.Selected.AuthTag, &c.Selected.KeyAgreement, &c.Selected.SAS}
	for _, f := range fields {
		*f = string(body[off : off+wordSize])
		off += wordSize
	}
	c.HVI = append([]byte(nil), body[off:]...)
	return nil
}

// DHPart carries one endpoint's ephemeral X25519 public key. DHPart1 flows
// responder to initiator, DHPart2 the reverse.
type DHPart struct {
	typ       MessageType
	PublicKey []byte // 32 bytes
}

func (d *DHPart) Type() MessageType { return d.typ }

func (d *DHPart) marshalBody() []byte {
	out := make([]byte, pubKeySize)
	copy(out, d.PublicKey)
	return out
}

func (d *DHPart) unmarshalBody(body []byte) error {
	if len(body) != pubKeySize {
		return errBadLength
	}
	d.PublicKey = append([]byte(nil), body...)
	return nil
}

// Confirm proves possession of the derived confirm key for one direction.
type Confirm struct {
	typ MessageType
	// MAC is a truncated HMAC over the handshake hash, keyed with the
	// sender role's confirm key.
	MAC []byte // 8 bytes
	// SASVerifiedFlag relays the sender's cached SAS verification so a
	// peer that already verified does not re-prompt.
	SASVerifiedFlag bool
}

func (c *Confirm) Type() MessageType { return c.typ }

func (c *Confirm) marshalBody() []byte {
	out := make([]byte, confirmMACSize+wordSize)
	copy(out, c.MAC)
	if c.SASVerifiedFlag {
		out[confirmMACSize] = 1
	}
	return out
}

func (c *Confirm) unmarshalBody(body []byte) error {
	if len(body) != confirmMACSize+wordSize {
		return errBadLength
	}
	c.MAC = append([]byte(nil), body[:confirmMACSize]...)
	c.SASVerifiedFlag = body[confirmMACSize] == 1
	return nil
}

// Conf2ACK closes the handshake from the responder side.
type Conf2ACK struct{}

func (*Conf2ACK) Type() MessageType   { return TypeConf2ACK }
func (*Conf2ACK) marshalBody() []byte { return nil }
func (*Conf2ACK) unmarshalBody(b []byte) error {
	if len(b) != 0 {
		return errBadLength
	}
	return nil
}

// Protocol error codes carried by ErrorMessage.
const (
	ErrCodeMalformed     uint32 = 0x10
	ErrCodeUnsupported   uint32 = 0x51
	ErrCodeHelloMismatch uint32 = 0x52
	ErrCodeDHError       uint32 = 0x61
	ErrCodeBadConfirm    uint32 = 0x70
)

// ErrorMessage aborts the handshake with a protocol error code.
type ErrorMessage struct {
	Code uint32
}

func (*ErrorMessage) Type() MessageType { return TypeError }

func (e *ErrorMessage) marshalBody() []byte {
	out := make([]byte, wordSize)
	binary.BigEndian.PutUint32(out, e.Code)
	return out
}

func (e *ErrorMessage) unmarshalBody(body []byte) error {
	if len(body) != wordSize {
		return errBadLength
	}
	e.Code = binary.BigEndian.Uint32(body)
	return nil
}
