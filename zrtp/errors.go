// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package zrtp

import (
	"errors"
	"fmt"
)

// ErrBadCRC reports a control packet whose trailing CRC does not cover its
// contents. Callers treat it as a droppable warning, never fatal.
var ErrBadCRC = errors.New("control packet CRC mismatch")

var (
	errPacketTooShort   = errors.New("control packet shorter than framing header")
	errNotControlPacket = errors.New("missing control protocol marker")
	errBadPreamble      = errors.New("message preamble mismatch")
	errBadLength        = errors.New("message length field disagrees with body")
	errUnknownMessage   = errors.New("unknown message type")
	errTruncatedMessage = errors.New("message body truncated")
	errNoCommonAlgo     = errors.New("no mutually supported algorithm")
	errBadZID           = errors.New("ZID must be 12 bytes")
)

type errUnexpectedMessage struct {
	State State
	Type  MessageType
}

func (e *errUnexpectedMessage) Error() string {
	return fmt.Sprintf("unexpected %q in state %v", string(e.Type), e.State)
}
